// NVIDIA SHIELD TV boot-time memory map ingestion
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package shieldtv

import (
	"strconv"
	"strings"

	"github.com/usbarmory/tamago/lmb"
)

// Region is a physical address range, as reported by an FDT memory node or
// memreserve entry.
//
// Parsing the flattened device tree blob itself is out of scope for this
// repository (Non-goals: "the flat device-tree parser ... used read-only to
// obtain the kernel command line and memory map"); Region values and the
// bootargs string are expected to already have been extracted from the FDT
// by that external collaborator before InitMemory is called.
type Region struct {
	Base uint64
	Size uint64
}

// reservedArgs are the bootargs= keys that carve a Tegra-specific
// reservation out of the memory map (6.4).
var reservedArgs = []string{
	"tegra_fbmem=",
	"tsec=",
	"vpr=",
	"lp0_vec=",
	"nvdumper_reserved=",
}

// parseSizeAt parses a "<size>@<addr>" token, both fields accepting C-style
// bases (0x hex, 0 octal, else decimal).
func parseSizeAt(s string) (size, addr uint64, ok bool) {
	parts := strings.SplitN(s, "@", 2)

	if len(parts) != 2 {
		return 0, 0, false
	}

	size, err := strconv.ParseUint(parts[0], 0, 64)

	if err != nil {
		return 0, 0, false
	}

	addr, err = strconv.ParseUint(parts[1], 0, 64)

	if err != nil {
		return 0, 0, false
	}

	return size, addr, true
}

// reserveFromBootargs scans bootargs for each key in reservedArgs and
// reserves the indicated range in l, tagging it with the argument name.
func reserveFromBootargs(l *lmb.LMB, bootargs string) {
	for _, field := range strings.Fields(bootargs) {
		for _, key := range reservedArgs {
			if !strings.HasPrefix(field, key) {
				continue
			}

			size, addr, ok := parseSizeAt(field[len(key):])

			if !ok {
				continue
			}

			tag := strings.ToUpper(strings.TrimSuffix(key, "="))

			if len(tag) > 4 {
				tag = tag[:4]
			}

			l.Reserve(addr, size, lmb.TypeBoot, lmb.NewTag(tag))
		}
	}
}

// InitMemoryTo populates l with memory (FDT memory nodes), memreserve
// (FDT memreserve entries, boot-only), and bootargs-derived reservations
// (6.4).
func InitMemoryTo(l *lmb.LMB, memory, memreserve []Region, bootargs string) {
	for _, r := range memory {
		l.Add(r.Base, r.Size, lmb.NewTag("RAM"))
	}

	for _, r := range memreserve {
		l.Reserve(r.Base, r.Size, lmb.TypeBoot, lmb.NewTag("MEMR"))
	}

	reserveFromBootargs(l, bootargs)
}
