// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package reg

import (
	"unsafe"
)

// As sync/atomic does not provide 8-bit support, note that these functions do
// not necessarily enforce memory ordering.

func Read8(addr uint32) uint8 {
	reg := (*uint8)(unsafe.Pointer(uintptr(addr)))
	return *reg
}

func Write8(addr uint32, val uint8) {
	reg := (*uint8)(unsafe.Pointer(uintptr(addr)))
	*reg = val
}
