// Logical memory block allocator
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package lmb

import (
	"testing"
)

func TestTagRoundTrip(t *testing.T) {
	tag := NewTag("RAMR")

	if tag.String() != "RAMR" {
		t.Errorf("got %q, want RAMR", tag.String())
	}

	if short := NewTag("T"); short.String() != "T" {
		t.Errorf("got %q, want T", short.String())
	}
}

func TestAddCoalesce(t *testing.T) {
	l := New()

	if err := l.Add(0x80000000, 0x40000000, NewTag("RAMR")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := l.Add(0xc0000000, 0x40000000, NewTag("RAMR")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	mem, _ := l.Dump()

	if len(mem) != 1 {
		t.Fatalf("expected 1 coalesced memory entry, got %d", len(mem))
	}

	if mem[0].Base != 0x80000000 || mem[0].Size != 0x80000000 {
		t.Errorf("unexpected coalesced region %#v", mem[0])
	}
}

func TestAddOverlapRejected(t *testing.T) {
	l := New()

	if err := l.Add(0x80000000, 0x1000, NewTag("A")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := l.Add(0x80000800, 0x1000, NewTag("B")); err == nil {
		t.Error("expected overlap error")
	}
}

func TestAddDistinctTagNoCoalesce(t *testing.T) {
	l := New()

	if err := l.Add(0x80000000, 0x1000, NewTag("A")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := l.Add(0x80001000, 0x1000, NewTag("B")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	mem, _ := l.Dump()

	if len(mem) != 2 {
		t.Fatalf("expected 2 distinct entries (different tags), got %d", len(mem))
	}
}

func TestReserveInsideRAM(t *testing.T) {
	l := New()
	l.Add(0x80000000, 0x40000000, NewTag("RAMR"))

	if err := l.Reserve(0x82000000, 0x1000, TypeBoot, NewTag("LDRS")); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	if err := l.Reserve(0x82000800, 0x1000, TypeBoot, NewTag("X")); err == nil {
		t.Error("expected overlap error on second reservation")
	}
}

func TestReserveOutsideKnownMemory(t *testing.T) {
	l := New()
	l.Add(0x80000000, 0x1000, NewTag("RAMR"))

	if err := l.Reserve(0x90000000, 0x1000, TypeBoot, NewTag("X")); err == nil {
		t.Error("expected error reserving memory outside any region")
	}
}

func TestAllocBaseTopDownSkipsReservation(t *testing.T) {
	l := New()
	l.Add(0x80000000, 0x40000000, NewTag("RAMR"))
	l.Reserve(0x82000000, 0x1000, TypeBoot, NewTag("LDRS"))

	addr := l.AllocBase(0x1000, 0x1000, 0xffffffff, TypeBoot, NewTag("T"))

	if addr == 0 {
		t.Fatal("allocation failed")
	}

	if addr%0x1000 != 0 {
		t.Errorf("address %#x not aligned", addr)
	}

	if addr+0x1000 > 0x100000000 {
		t.Errorf("address %#x exceeds 32-bit bound", addr)
	}

	if addr >= 0x82000000 && addr < 0x82001000 {
		t.Errorf("allocation %#x overlaps existing reservation", addr)
	}

	// top-down: must be the highest fitting address in the only RAM
	// region, which ends at 0xc0000000, below the bound.
	want := alignDown(0xc0000000-0x1000, 0x1000)
	if addr != want {
		t.Errorf("got %#x, want highest address %#x", addr, want)
	}
}

func TestAllocBaseNoFit(t *testing.T) {
	l := New()
	l.Add(0x80000000, 0x1000, NewTag("RAMR"))

	if addr := l.AllocBase(0x2000, 0x1000, AllocAnywhere, TypeBoot, NewTag("T")); addr != 0 {
		t.Errorf("expected allocation failure, got %#x", addr)
	}
}

func TestAllocFreeRoundTrip(t *testing.T) {
	l := New()
	l.Add(0x80000000, 0x40000000, NewTag("RAMR"))

	before, _ := l.Dump()
	_, reservedBefore := l.Dump()
	_ = before

	addr := l.Alloc(0x1000, 0x1000, TypeBoot, NewTag("T"))

	if addr == 0 {
		t.Fatal("allocation failed")
	}

	if err := l.Free(addr, 0x1000, 0x1000); err != nil {
		t.Fatalf("Free: %v", err)
	}

	_, reservedAfter := l.Dump()

	if len(reservedAfter) != len(reservedBefore) {
		t.Errorf("reserved table not restored: before=%d after=%d", len(reservedBefore), len(reservedAfter))
	}
}

func TestFreeSplit(t *testing.T) {
	l := New()
	l.Add(0x80000000, 0x40000000, NewTag("RAMR"))
	l.Reserve(0x80000000, 0x3000, TypeBoot, NewTag("T"))

	// free the middle page, splitting the reservation into front and back.
	if err := l.Free(0x80001000, 0x1000, 0x1000); err != nil {
		t.Fatalf("Free: %v", err)
	}

	_, reserved := l.Dump()

	if len(reserved) != 2 {
		t.Fatalf("expected split into 2 reservations, got %d", len(reserved))
	}

	if reserved[0].Base != 0x80000000 || reserved[0].Size != 0x1000 {
		t.Errorf("unexpected front split %#v", reserved[0])
	}

	if reserved[1].Base != 0x80002000 || reserved[1].Size != 0x1000 {
		t.Errorf("unexpected back split %#v", reserved[1])
	}
}

func TestFreeUnknownFails(t *testing.T) {
	l := New()
	l.Add(0x80000000, 0x1000, NewTag("RAMR"))

	if err := l.Free(0x80000000, 0x1000, 0x1000); err == nil {
		t.Error("expected error freeing a range with no reservation")
	}
}

func TestMMIONotAllocatableOrFreeable(t *testing.T) {
	l := New()
	l.Add(0x80000000, 0x40000000, NewTag("RAMR"))

	if err := l.AddMMIO(0x7d000000, 0x10000, NewTag("UDC")); err != nil {
		t.Fatalf("AddMMIO: %v", err)
	}

	if addr := l.AllocBase(0x1000, 0x1000, AllocAnywhere, TypeMmio, NewTag("X")); addr != 0 {
		t.Errorf("allocating as Mmio type should always fail, got %#x", addr)
	}

	if err := l.Free(0x7d000000, 0x10000, 0x1000); err == nil {
		t.Error("expected error freeing an mmio range")
	}
}

func TestRegionTableFull(t *testing.T) {
	l := New()

	// every other page, so entries never coalesce, until the table is full.
	base := uint64(0x80000000)

	for i := 0; i < MaxRegions; i++ {
		if err := l.Add(base, 0x1000, NewTag("X")); err != nil {
			t.Fatalf("Add #%d: %v", i, err)
		}

		base += 0x2000
	}

	if err := l.Add(base, 0x1000, NewTag("X")); err == nil {
		t.Error("expected table-full error")
	}
}
