// NVIDIA Tegra configuration and support
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package tegra provides support to Go bare metal unikernels, written using
// the TamaGo framework, on the NVIDIA Tegra family of System-on-Chip (SoC)
// application processors.
//
// The package implements base address definitions and a reboot/SMC
// trampoline for the subset of a Tegra SoC (EHCI-compatible device
// controller, Power Management Controller) exercised by a fastboot-style
// ROM loader stage. It does not attempt a full reference-manual driver set:
// CPU bring-up, the MMU page tables and exception vectors are brought up by
// an earlier boot stage (see Non-goals).
//
// This package is only meant to be used with `GOOS=tamago GOARCH=arm64` as
// supported by the TamaGo framework for bare metal Go, see
// https://github.com/usbarmory/tamago.
package tegra

import (
	"github.com/usbarmory/tamago/arm64"
)

// Peripheral registers (original_source/tegra.h).
const (
	// EHCI-compatible USB device controller
	EHCI_BASE = 0x7d000000

	// Power Management Controller
	PMC_BASE = 0x7000e400
)

// Peripheral instances
var (
	// ARM64 core
	ARM64 = &arm64.CPU{}
)

// Init takes care of the lower level initialization triggered early in
// runtime setup (e.g. runtime.hwinit1).
//
// The exception vector table, MMU page tables and cache enablement are the
// responsibility of whatever brought the core out of reset before Go runtime
// entry (Non-goals: CPU bring-up and exception vectors; MMU/page-table
// setup) — Init only wires the timer so time.Now/time.Sleep work.
func Init() {
	ARM64.InitGenericTimers(0, 19200000)
}
