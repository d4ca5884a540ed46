// Package critical provides a brief interrupt-masking discipline for
// foreground-only mutations. Its only callers are registry's Claim and
// Release; the DMA policy record update does not go through it.
//
// Grounded on tamago's internal/reg pattern of wrapping each register
// access with a mutex; here the host has exactly one hardware interrupt
// line to worry about instead of concurrent goroutines, so the guard masks
// and restores that line rather than taking a lock. A process-wide
// sync.Mutex still serializes callers, since the foreground context itself
// may be reentered by nested software-interrupt calls through the
// dispatcher.
package critical

import "sync"

var (
	mu     sync.Mutex
	masked bool
)

// MaskFunc and UnmaskFunc are the interrupt-mask/unmask hooks. They default
// to no-ops and nothing in this module sets them, so Section masks no
// interrupt line and only serializes callers on the mutex.
var (
	MaskFunc   func() = func() {}
	UnmaskFunc func() = func() {}
)

// Section runs fn with the hardware interrupt line masked. Only the
// foreground context may call this; the interrupt context must never mask
// itself out from within its own handler.
func Section(fn func()) {
	mu.Lock()
	defer mu.Unlock()

	MaskFunc()
	masked = true

	defer func() {
		masked = false
		UnmaskFunc()
	}()

	fn()
}

// Masked reports whether a Section is currently executing, for assertions
// in tests that simulate interrupt reentrancy.
func Masked() bool {
	mu.Lock()
	defer mu.Unlock()

	return masked
}
