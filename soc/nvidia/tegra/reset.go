// NVIDIA Tegra Power Management Controller reboot support
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package tegra

import (
	"github.com/usbarmory/tamago/internal/reg"
)

// Power Management Controller registers (original_source/tegra.h).
const (
	PMC_CONFIG  = PMC_BASE + 0
	PMC_SCRATCH0 = PMC_BASE + 0x50

	CONFIG_RESET = 0x10
)

// RebootType selects the reason recorded in PMC_SCRATCH0 before a reset, read
// back by the next boot stage to decide which path to take.
type RebootType uint32

const (
	RebootNormal     RebootType = 0
	RebootBootloader RebootType = 1
	RebootRCM        RebootType = 2
	RebootRecovery   RebootType = 3
)

// Reboot records typ (plus any caller-supplied extra bits) in PMC_SCRATCH0
// and asserts the PMC reset bit, restarting the SoC. It never returns.
//
// The register sequence itself mirrors tegra_reboot() in
// original_source/tegra.h; the RebootType calling convention wired in from
// fastboot's oem reboot/reboot/reboot-bootloader handlers is this
// repository's own.
func Reboot(typ RebootType, extra uint32) {
	reg.Write(PMC_SCRATCH0, uint32(typ)|extra)
	reg.Write(PMC_CONFIG, reg.Read(PMC_CONFIG)|CONFIG_RESET)

	for {
	}
}
