// NVIDIA SHIELD TV support for tamago/arm64
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package shieldtv provides hardware initialization, automatically on
// import, for the NVIDIA SHIELD TV (Tegra) as a fastboot-protocol ROM
// loader stage: bringing up the EHCI-compatible device controller and the
// fastboot command server, carving the LMB memory map out of the FDT the
// SoC's boot ROM hands off, and providing the platform Reboot/SMC/Jump
// trampolines the fastboot server calls into.
//
// This package is only meant to be used with `GOOS=tamago GOARCH=arm64` as
// supported by the TamaGo framework for bare metal Go, see
// https://github.com/usbarmory/tamago.
package shieldtv

import (
	"log"
	_ "unsafe"

	"github.com/usbarmory/tamago/fastboot"
	"github.com/usbarmory/tamago/lmb"
	"github.com/usbarmory/tamago/soc/nvidia/tegra"
	"github.com/usbarmory/tamago/soc/nvidia/tegra/usb"
)

// Manufacturer/product strings vended in the USB device descriptor (6.2).
const (
	Manufacturer = "NVIDIA"
	Product      = "SHIELD TV"
	SerialNumber = "0"
)

// tdPoolSize is the number of transfer descriptor slots reserved: EP0 OUT,
// EP0 IN, plus the fastboot server's bulk OUT/IN pair.
const tdPoolSize = 4

// tdPoolAlign matches the controller's DMA page granularity, keeping the
// whole pool within a single 32-bit-reachable, 4k-aligned region.
const tdPoolAlign = 0x1000

var (
	// LMB is the board's physical memory allocator, populated by Init
	// from the FDT memory map handed off by the boot ROM.
	LMB = lmb.New()

	// UDC is the Tegra USB device controller instance.
	UDC = &usb.Controller{Base: tegra.EHCI_BASE}

	// Fastboot is the command server bound to UDC.
	Fastboot *fastboot.Server
)

// Init takes care of the lower level SoC initialization triggered early in
// runtime setup.
//
//go:linkname Init runtime.hwinit
func Init() {
	tegra.Init()
}

// InitMemory populates LMB from the FDT memory map and bootargs string
// handed off by the boot ROM (6.4). It must be called before InitUSB.
func InitMemory(memory, memreserve []Region, bootargs string) {
	InitMemoryTo(LMB, memory, memreserve, bootargs)
}

// InitUSB carves the transfer descriptor pool out of LMB and brings up the
// UDC and fastboot server. It must be called after InitMemory.
//
// fdtAddr is the physical address of the FDT handed to this loader stage by
// the boot ROM, passed through unchanged to any flash:run payload (6.4).
func InitUSB(fdtAddr uint32) error {
	tdPoolAddr := LMB.AllocBase(tdPoolSize*uint64(usb.TDSize), tdPoolAlign, lmb.Alloc32Bit, lmb.TypeBoot, lmb.NewTag("USBT"))

	if tdPoolAddr == 0 {
		panic("shieldtv: out of memory allocating USB transfer descriptor pool")
	}

	Fastboot = fastboot.NewServer(UDC, LMB)
	Fastboot.FDT = fdtAddr

	tdPool := make([]usb.TD, tdPoolSize)

	if err := UDC.Init(Fastboot.Endpoints(), tdPool, uint32(tdPoolAddr)); err != nil {
		return err
	}

	UDC.FSDescs = usb.NewDescriptorSet(false, Manufacturer, Product, SerialNumber)
	UDC.HSDescs = usb.NewDescriptorSet(true, Manufacturer, Product, SerialNumber)

	Fastboot.Reboot = func(mode uint32) {
		tegra.Reboot(tegra.RebootType(mode), 0)
	}

	Fastboot.SMC = tegra.SMC

	Fastboot.Jump = jump

	return nil
}

// Run polls the UDC and fastboot server forever. There is no interrupt
// handler on this controller (4.2/9): the caller's main loop drives all
// progress through repeated Poll calls. A reported USBSTS condition is
// logged and polling continues (7.2).
func Run() {
	for {
		if err := UDC.Poll(); err != nil {
			log.Printf("shieldtv: %v", err)
		}
	}
}
