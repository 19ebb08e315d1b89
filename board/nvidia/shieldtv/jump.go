// NVIDIA SHIELD TV payload jump
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package shieldtv

// defined in jump_arm64.s
func jumpTo(addr, fdt uint32)

// jump transfers control to addr, passing fdt as the entry argument. It
// never returns.
func jump(addr, fdt uint32) {
	jumpTo(addr, fdt)
}
