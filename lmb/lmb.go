// Logical memory block allocator
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package lmb implements a logical memory block allocator: a firmware-style
// physical memory map tracker built from two parallel, sorted, coalescing
// region tables ("memory" and "reserved"). It is used to carve
// DMA-reachable, address-bounded buffers out of a boot-time RAM map, in the
// style of the U-Boot/Linux LMB allocator.
//
// This package has no hardware dependency and can be used and tested on any
// GOOS/GOARCH.
package lmb

import (
	"fmt"
)

// MaxRegions is the fixed capacity of each region table. Exceeding it on an
// operation that cannot coalesce is a caller error, not a runtime
// possibility to recover from: the caller's boot-time region or reservation
// count is a property of the board, not user input.
const MaxRegions = 32

// Special max_addr sentinels for AllocBase.
const (
	// AllocAnywhere means "no upper address bound".
	AllocAnywhere uint64 = 0
	// Alloc32Bit requests memory reachable with a 32-bit physical
	// address, as required by the UDC's DMA engine.
	Alloc32Bit uint64 = 0xffffffff
)

// Type classifies a region or reservation.
type Type int

const (
	// TypeFree marks a memory region as available RAM.
	TypeFree Type = iota
	// TypeBoot marks a reservation that does not need to survive past
	// this boot stage.
	TypeBoot
	// TypeRuntime marks a reservation that must be preserved for a
	// later boot stage (e.g. the OS).
	TypeRuntime
	// TypeMmio marks a range as memory-mapped I/O: present in both
	// tables, never allocatable or freeable.
	TypeMmio
	// TypeInvalid is the sentinel zero-sized entry installed by New.
	TypeInvalid
)

func (t Type) String() string {
	switch t {
	case TypeFree:
		return "FREE"
	case TypeBoot:
		return "BOOT"
	case TypeRuntime:
		return "RUNTIME"
	case TypeMmio:
		return "MMIO"
	default:
		return "INVALID"
	}
}

// Tag packs up to four ASCII characters into a uint32 for compact, printable
// region labeling (e.g. "RAMR", "LDRS").
type Tag uint32

// NewTag packs the first four bytes of s (left-aligned, NUL-padded) into a
// Tag.
func NewTag(s string) Tag {
	var b [4]byte

	copy(b[:], s)

	return Tag(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24)
}

// String renders the tag as its four packed ASCII characters, trimming
// trailing NULs.
func (t Tag) String() string {
	b := []byte{byte(t), byte(t >> 8), byte(t >> 16), byte(t >> 24)}

	n := len(b)
	for n > 0 && b[n-1] == 0 {
		n--
	}

	return string(b[:n])
}

// Region is a single entry in a region table.
type Region struct {
	Base uint64
	Size uint64
	Tag  Tag
	Type Type
}

// end returns the exclusive end address of the region.
func (r Region) end() uint64 {
	return r.Base + r.Size
}

// table is a bounded, sorted-by-base, coalescing region list.
type table struct {
	region [MaxRegions]Region
	count  int
}

// LMB is a logical memory block allocator instance: a firmware RAM map
// (memory) plus the reservations carved out of it (reserved).
type LMB struct {
	memory   table
	reserved table
}

// New returns an initialized, empty LMB allocator. Both tables start with a
// single sentinel zero-sized Invalid entry, which is coalesced away by the
// first real Add/AddMMIO/Reserve call; this mirrors lmb_init() in the
// original C implementation and keeps addRegion's "first real entry" case
// simple.
func New() *LMB {
	l := &LMB{}

	l.memory.region[0] = Region{Type: TypeInvalid}
	l.memory.count = 1

	l.reserved.region[0] = Region{Type: TypeInvalid}
	l.reserved.count = 1

	return l
}

func addrsOverlap(base1, size1, base2, size2 uint64) bool {
	return base1 < base2+size2 && base2 < base1+size1
}

// addrsAdjacent returns 1 if region 2 immediately follows region 1, -1 if
// region 1 immediately follows region 2, 0 otherwise.
func addrsAdjacent(base1, size1, base2, size2 uint64) int {
	switch {
	case base2 == base1+size1:
		return 1
	case base1 == base2+size2:
		return -1
	default:
		return 0
	}
}

func (t *table) removeRegion(r int) {
	for i := r; i < t.count-1; i++ {
		t.region[i] = t.region[i+1]
	}

	t.count--
}

// addRegion inserts (base, size, typ, tag) into t, coalescing with adjacent
// entries of identical (tag, type) where possible, and rejecting overlap
// with any existing entry.
func (t *table) addRegion(base, size uint64, typ Type, tag Tag) error {
	if t.count == 1 && t.region[0].Size == 0 {
		t.region[0] = Region{Base: base, Size: size, Tag: tag, Type: typ}
		return nil
	}

	if j := t.overlaps(base, size); j >= 0 {
		rgn := t.region[j]
		return fmt.Errorf("lmb: region [%#x, %#x) overlaps existing entry [%#x, %#x)", base, base+size, rgn.Base, rgn.end())
	}

	coalesced := false
	i := 0

	for ; i < t.count; i++ {
		rgn := t.region[i]

		switch addrsAdjacent(base, size, rgn.Base, rgn.Size) {
		case 1:
			if tag == rgn.Tag && typ == rgn.Type {
				t.region[i].Base -= size
				t.region[i].Size += size
				coalesced = true
			}
		case -1:
			if tag == rgn.Tag && typ == rgn.Type {
				t.region[i].Size += size
				coalesced = true
			}
		}

		if coalesced {
			break
		}
	}

	if i < t.count-1 && addrsAdjacent(t.region[i].Base, t.region[i].Size, t.region[i+1].Base, t.region[i+1].Size) != 0 &&
		t.region[i].Tag == t.region[i+1].Tag && t.region[i].Type == t.region[i+1].Type {
		t.region[i].Size += t.region[i+1].Size
		t.removeRegion(i + 1)
		coalesced = true
	}

	if coalesced {
		return nil
	}

	if t.count >= MaxRegions {
		return fmt.Errorf("lmb: region table full (%d entries)", MaxRegions)
	}

	// Insert in sorted order by shifting entries with a larger base up
	// by one slot.
	j := t.count - 1
	for ; j >= 0; j-- {
		if base < t.region[j].Base {
			t.region[j+1] = t.region[j]
		} else {
			break
		}
	}

	t.region[j+1] = Region{Base: base, Size: size, Tag: tag, Type: typ}
	t.count++

	return nil
}

func (t *table) overlaps(base, size uint64) int {
	for i := 0; i < t.count; i++ {
		if addrsOverlap(base, size, t.region[i].Base, t.region[i].Size) {
			return i
		}
	}

	return -1
}

// isKnown reports whether [base, base+size) lies entirely within a single
// memory region.
func (t *table) isKnown(base, size uint64) bool {
	for i := 0; i < t.count; i++ {
		upper := t.region[i].Base + t.region[i].Size

		if base >= t.region[i].Base && base < upper && base+size >= t.region[i].Base && base+size <= upper {
			return true
		}
	}

	return false
}

// Add appends a Free memory region, e.g. from a firmware-reported RAM map
// entry. It fails if the range overlaps any existing memory entry.
func (l *LMB) Add(base, size uint64, tag Tag) error {
	return l.memory.addRegion(base, size, TypeFree, tag)
}

// AddMMIO records [base, base+size) as memory-mapped I/O in both the memory
// and reserved tables. Mmio ranges can never be allocated from or freed.
func (l *LMB) AddMMIO(base, size uint64, tag Tag) error {
	if err := l.memory.addRegion(base, size, TypeMmio, tag); err != nil {
		return err
	}

	return l.reserved.addRegion(base, size, TypeMmio, tag)
}

// Reserve marks [base, base+size) as reserved with the given type (Boot or
// Runtime). It fails if the range is not wholly contained in a memory
// region, or overlaps an existing reservation.
func (l *LMB) Reserve(base, size uint64, typ Type, tag Tag) error {
	if typ != TypeBoot && typ != TypeRuntime {
		return fmt.Errorf("lmb: invalid reservation type %v", typ)
	}

	if !l.memory.isKnown(base, size) {
		return fmt.Errorf("lmb: range [%#x, %#x) is not known memory", base, base+size)
	}

	return l.reserved.addRegion(base, size, typ, tag)
}

func alignDown(addr, align uint64) uint64 {
	return addr &^ (align - 1)
}

func alignUp(addr, align uint64) uint64 {
	return (addr + align - 1) &^ (align - 1)
}

// AllocBase allocates a range of at least size (rounded up to align) whose
// end address is <= maxAddr+1 (AllocAnywhere removes the upper bound), from
// the highest-base memory region that fits, at the highest address within
// that region, skipping over existing reservations. On success it adds a
// reservation of the given type and tag and returns the base address; on
// failure it returns 0.
func (l *LMB) AllocBase(size, align, maxAddr uint64, typ Type, tag Tag) uint64 {
	if typ == TypeMmio {
		return 0
	}

	size = alignUp(size, align)

	for i := l.memory.count - 1; i >= 0; i-- {
		rgnBase := l.memory.region[i].Base
		rgnSize := l.memory.region[i].Size

		if rgnSize < size {
			continue
		}

		var base uint64

		if maxAddr == AllocAnywhere {
			base = alignDown(rgnBase+rgnSize-size, align)
		} else if rgnBase < maxAddr {
			top := rgnBase + rgnSize
			if maxAddr < top {
				top = maxAddr
			}
			base = alignDown(top-size, align)
		} else {
			continue
		}

		for base != 0 && rgnBase <= base {
			j := l.reserved.overlaps(base, size)

			if j < 0 {
				if err := l.reserved.addRegion(base, size, typ, tag); err != nil {
					return 0
				}

				return base
			}

			resBase := l.reserved.region[j].Base

			if resBase < size {
				break
			}

			base = alignDown(resBase-size, align)
		}
	}

	return 0
}

// Alloc is AllocBase with no upper address bound.
func (l *LMB) Alloc(size, align uint64, typ Type, tag Tag) uint64 {
	return l.AllocBase(size, align, AllocAnywhere, typ, tag)
}

// Free releases the reservation covering exactly [base, base+size) (size
// rounded up to align), shrinking or splitting the owning reservation as
// needed. It fails if no reservation contains the range, or the range is
// Mmio.
func (l *LMB) Free(base, size, align uint64) error {
	size = alignUp(size, align)
	end := base + size

	i := 0
	var rgnBegin, rgnEnd uint64

	for ; i < l.reserved.count; i++ {
		rgnBegin = l.reserved.region[i].Base
		rgnEnd = rgnBegin + l.reserved.region[i].Size

		if rgnBegin <= base && end <= rgnEnd {
			break
		}
	}

	if i == l.reserved.count {
		return fmt.Errorf("lmb: no reservation contains [%#x, %#x)", base, end)
	}

	if l.reserved.region[i].Type == TypeMmio {
		return fmt.Errorf("lmb: range [%#x, %#x) is mmio", base, end)
	}

	switch {
	case rgnBegin == base && rgnEnd == end:
		l.reserved.removeRegion(i)

		if l.reserved.count == 0 {
			l.reserved.region[0] = Region{Type: TypeInvalid}
			l.reserved.count = 1
		}
	case rgnBegin == base:
		l.reserved.region[i].Base = end
		l.reserved.region[i].Size -= size
	case rgnEnd == end:
		l.reserved.region[i].Size -= size
	default:
		typ := l.reserved.region[i].Type
		tag := l.reserved.region[i].Tag

		l.reserved.region[i].Size = base - l.reserved.region[i].Base

		return l.reserved.addRegion(end, rgnEnd-end, typ, tag)
	}

	return nil
}

// IsReserved reports whether addr falls within any reservation.
func (l *LMB) IsReserved(addr uint64) bool {
	for i := 0; i < l.reserved.count; i++ {
		rgn := l.reserved.region[i]

		if addr >= rgn.Base && addr < rgn.end() {
			return true
		}
	}

	return false
}

// Dump returns a snapshot of both tables for diagnostics, memory first then
// reserved.
func (l *LMB) Dump() (memory []Region, reserved []Region) {
	memory = append(memory, l.memory.region[:l.memory.count]...)
	reserved = append(reserved, l.reserved.region[:l.reserved.count]...)

	return
}

// String renders the full allocator state, in the style of lmb_dump_all.
func (l *LMB) String() string {
	s := ""

	for i := 0; i < l.memory.count; i++ {
		r := l.memory.region[i]
		s += fmt.Sprintf("memory.reg[%#x]   = %#016x-%#016x (%s, %s)\n", i, r.Base, r.end()-1, r.Tag, r.Type)
	}

	for i := 0; i < l.reserved.count; i++ {
		r := l.reserved.region[i]
		s += fmt.Sprintf("reserved.reg[%#x] = %#016x-%#016x (%s, %s)\n", i, r.Base, r.end()-1, r.Tag, r.Type)
	}

	return s
}
