// NVIDIA SHIELD TV fastboot ROM loader stage
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Command loader is the firmware image entry point for the SHIELD TV
// fastboot loader stage: it brings up the board, wires the LMB memory map
// from the FDT handed off by the boot ROM, starts the fastboot command
// server, and polls forever.
package main

import (
	"log"

	"github.com/usbarmory/tamago/board/nvidia/shieldtv"
)

// fdtAddr is the physical address of the FDT passed by the boot ROM. CPU
// bring-up and exception vector setup, which would normally capture this
// from the entry argument register, are out of scope for this repository
// (Non-goals); it is a placeholder until wired up by that external
// collaborator.
var fdtAddr uint32

func main() {
	memory, memreserve, bootargs := parseFDT(fdtAddr)

	shieldtv.InitMemory(memory, memreserve, bootargs)

	if err := shieldtv.InitUSB(fdtAddr); err != nil {
		log.Fatalf("loader: %v", err)
	}

	log.Printf("loader: fastboot server ready on %s speed", shieldtv.UDC.Speed())

	shieldtv.Run()
}
