// ARM64 memory barrier primitives
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package barrier provides the ARMv8-A data synchronization barrier
// primitives required around MMIO and DMA handoff: a store barrier must
// complete before the UDC is handed ownership of a buffer or descriptor (so
// the controller never observes a partially written TD/QH), and a load
// barrier must complete after reading back a completion status (so the CPU
// does not read stale data ordered ahead of the controller's write).
//
// This mirrors the instruction-level primitives the arm64 package already
// provides for cache maintenance (see arm64/cache.go's cache_enable() /
// cache_disable() pattern of thin wrappers around assembly-implemented
// barrier instructions).
package barrier

// defined in barrier_arm64.s
func dsbST()
func dsbLD()

// Store issues a DSB ST (store-only data synchronization barrier),
// ensuring all prior stores are globally observable before the caller
// hands a buffer or descriptor to the controller (e.g. before priming an
// endpoint).
func Store() {
	dsbST()
}

// Load issues a DSB LD (load-only data synchronization barrier), ensuring
// all prior loads have completed before the caller inspects a
// controller-written completion status.
func Load() {
	dsbLD()
}
