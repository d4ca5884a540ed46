// Package cacheops provides the architecture-specific cache-management
// primitives used by the cache tier selector: per-cache-line flush,
// whole-cache write-back-and-invalidate, and a serializing fence.
//
// Mirrors tamago's internal/cache pattern of declaring the operation in Go
// and leaving the instruction sequence to a .s file.
package cacheops

// ClflushLine flushes and invalidates a single cache line containing addr.
//
// defined in ops_amd64.s
func ClflushLine(addr uintptr)

// Wbinvd performs a whole-cache write-back-and-invalidate. Expensive; used
// only as a coarse barrier.
//
// defined in ops_amd64.s
func Wbinvd()

// Fence is a store/load serializing barrier used after self-modifying code
// patches and before the prefetch-serialization branch is executed.
//
// defined in ops_amd64.s
func Fence()

// ClflushAvailable reports whether the CPU exposes a cache-line flush
// instruction (CLFLUSH, CPUID feature bit CLFSH).
//
// defined in ops_amd64.s
func ClflushAvailable() bool

// WbinvdAvailable reports whether the whole-cache write-back-and-invalidate
// instruction is usable in the current privilege mode.
//
// defined in ops_amd64.s
func WbinvdAvailable() bool
