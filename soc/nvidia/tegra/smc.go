// NVIDIA Tegra SMCCC trampoline
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package tegra

// defined in smc_arm64.s
func smc(inout *[8]uint64)

// SMC issues an SMC64 call to firmware, with inout[0..7] loaded into x0..x7
// as input registers, then overwrites inout[0..3] with the call's x0..x3
// return values (the ARM SMC Calling Convention's 4-register result);
// inout[4..7] are left as passed in.
//
// This is the escape hatch fastboot's oem smccc command exposes to the
// host, grounded on original_source/fb.c's do_smccc.
func SMC(inout *[8]uint64) {
	smc(inout)
}
