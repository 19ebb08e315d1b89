// First-fit memory allocator for DMA buffers
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package dma provides primitives for direct memory allocation and
// alignment, it is primarily used in bare metal device driver operation to
// avoid passing Go pointers for DMA purposes.
//
// This package is only meant to be used with `GOOS=tamago GOARCH=arm64` as
// supported by the TamaGo framework for bare metal Go, see
// https://github.com/usbarmory/tamago.
package dma

import (
	"container/list"
)

// Init initializes the default DMA region, the application must guarantee
// that the passed memory range is never used by the Go runtime (defining
// runtime.ramStart and runtime.ramSize accordingly).
func Init(start uint, size uint) {
	dma = &Region{
		start: start,
		size:  size,
	}

	dma.freeBlocks = list.New()
	dma.freeBlocks.PushFront(&block{addr: start, size: size})
	dma.usedBlocks = make(map[uint]*block)
}

// Reserved returns whether a slice of bytes data is allocated within the
// default DMA region.
func Reserved(buf []byte) (res bool, addr uint) {
	if dma == nil || len(buf) == 0 {
		return false, 0
	}

	return dma.Reserved(buf)
}

// Alloc copies buf into the default DMA region and returns its address.
func Alloc(buf []byte, align int) (addr uint) {
	return dma.Alloc(buf, align)
}

// Reserve allocates size bytes within the default DMA region without
// copying, returning the slice and its address.
func Reserve(size int, align int) (addr uint, buf []byte) {
	return dma.Reserve(size, align)
}

// Read copies len(buf) bytes from the default DMA region at addr+off.
func Read(addr uint, off int, buf []byte) {
	dma.Read(addr, off, buf)
}

// Write copies buf into the default DMA region at addr+off.
func Write(addr uint, off int, buf []byte) {
	dma.Write(addr, off, buf)
}

// Free releases a region previously allocated with Alloc.
func Free(addr uint) {
	dma.Free(addr)
}

// Release releases a region previously allocated with Reserve.
func Release(addr uint) {
	dma.Release(addr)
}
