// NVIDIA SHIELD TV fastboot ROM loader stage
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package main

import (
	"github.com/usbarmory/tamago/board/nvidia/shieldtv"
)

// parseFDT returns the memory map and /chosen/bootargs string of the
// flattened device tree at addr. As it stands it decodes nothing: it returns
// no memory or memreserve regions and an empty bootargs string.
//
// The FDT binary parser itself is an external collaborator (Non-goals: "the
// flat device-tree parser ... used read-only to obtain the kernel command
// line and memory map"); this function is the seam where it plugs in.
// shieldtv.InitMemory only needs the already-decoded Region slices and
// bootargs string, which is as far as this repository's scope runs.
func parseFDT(addr uint32) (memory, memreserve []shieldtv.Region, bootargs string) {
	return nil, nil, ""
}
