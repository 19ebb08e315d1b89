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
	"testing"

	"github.com/usbarmory/tamago/lmb"
)

func TestParseSizeAt(t *testing.T) {
	size, addr, ok := parseSizeAt("0x800000@0x9f800000")

	if !ok || size != 0x800000 || addr != 0x9f800000 {
		t.Fatalf("got (%#x, %#x, %v)", size, addr, ok)
	}

	if _, _, ok := parseSizeAt("0x800000"); ok {
		t.Error("expected malformed token to be rejected")
	}
}

func TestReserveFromBootargs(t *testing.T) {
	l := lmb.New()
	l.Add(0x80000000, 0x40000000, lmb.NewTag("RAM"))

	bootargs := "console=ttyS0 tegra_fbmem=0x800000@0x9be00000 nvdumper_reserved=0x100000@0x9ff00000 lp0_vec=0x1000@0x9f000000"

	reserveFromBootargs(l, bootargs)

	if !l.IsReserved(0x9be00000) {
		t.Error("expected tegra_fbmem range to be reserved")
	}

	if !l.IsReserved(0x9ff00000) {
		t.Error("expected nvdumper_reserved range to be reserved")
	}

	if !l.IsReserved(0x9f000000) {
		t.Error("expected lp0_vec range to be reserved")
	}

	if l.IsReserved(0x80001000) {
		t.Error("expected unrelated address to be untouched")
	}
}

func TestInitMemoryTo(t *testing.T) {
	l := lmb.New()

	memory := []Region{{Base: 0x80000000, Size: 0x40000000}}
	memreserve := []Region{{Base: 0x80000000, Size: 0x10000}}

	InitMemoryTo(l, memory, memreserve, "tsec=0x100000@0x9fe00000")

	if !l.IsReserved(0x80000000) {
		t.Error("expected memreserve range to be reserved")
	}

	if !l.IsReserved(0x9fe00000) {
		t.Error("expected tsec bootarg range to be reserved")
	}

	addr := l.Alloc(0x1000, 0x1000, lmb.TypeBoot, lmb.NewTag("TEST"))

	if addr == 0 {
		t.Error("expected allocation from ingested memory to succeed")
	}
}
