package cache

import (
	"unsafe"

	"github.com/jfabienke/3com-packet-driver-sub001/internal/cacheops"
)

const cacheLineSize = 64

// Indirected through package variables so tests can select a tier without
// linking the asm primitives; real callers never override these.
var (
	clflushAvailable = func() bool { return cacheops.ClflushAvailable() }
	wbinvdAvailable  = func() bool { return cacheops.WbinvdAvailable() }
)

func clflushRange(buf []byte) {
	if len(buf) == 0 {
		return
	}

	base := uintptr(unsafe.Pointer(&buf[0]))
	end := base + uintptr(len(buf))

	for addr := base &^ (cacheLineSize - 1); addr < end; addr += cacheLineSize {
		cacheops.ClflushLine(addr)
	}

	cacheops.Fence()
}

func wbinvdWhole(buf []byte) {
	cacheops.Wbinvd()
}

// softwareBarrier performs no cache instruction at all, only the
// serializing fence so ordinary stores are at least visible in program
// order. Copybreak is not raised for the SoftwareBarrier tier:
// dmapolicy.DefaultTier picks copybreak from the CPU family alone.
func softwareBarrier(buf []byte) {
	cacheops.Fence()
}
