package platform

import "sync"

var (
	once     sync.Once
	resident Descriptor
)

// Probe inspects the host once and returns the resulting Descriptor. Every
// call after the first returns the same value; the descriptor is
// process-wide and immutable after this call, per §3.
//
// Probe never fails: unrecognized configurations fall back to
// Conservative().
func Probe() Descriptor {
	once.Do(func() {
		resident = probe()
	})

	return resident
}

func probe() Descriptor {
	clflushAvailableFn = cacheopsClflushAvailable
	wbinvdAvailableFn = cacheopsWbinvdAvailable

	f := probeFeatures()
	family := f.classify()

	mgr, vds, upper, upperDMASafe := probeMemMgr(f)

	return Descriptor{
		CPUFamily:                     family,
		MemMgr:                        mgr,
		VirtualizationServicesPresent: vds,
		UpperMemoryAvailable:          upper,
		UpperMemorySafeForDMA:         upperDMASafe,
		BusSnoopConfidence:            f.snoopScore,
	}
}

// cacheopsClflushAvailable and cacheopsWbinvdAvailable are indirected
// through package-level variables (rather than calling internal/cacheops
// directly from cpu.go) so unit tests can probe platform in isolation
// without linking the asm primitives.
var (
	cacheopsClflushAvailable = func() bool { return false }
	cacheopsWbinvdAvailable  = func() bool { return false }
)

// Wire connects the real cache-detection primitives. Called once by the
// load command before the first Probe(); left unwired in tests.
func Wire(clflushAvailable, wbinvdAvailable func() bool) {
	cacheopsClflushAvailable = clflushAvailable
	cacheopsWbinvdAvailable = wbinvdAvailable
}
