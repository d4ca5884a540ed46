// Package cache implements the cache-coherency tier selector (component B):
// given a platform.Descriptor, it picks one of four coherency strategies and
// exposes their flush/invalidate hooks through a small vtable.
//
// Grounded on tamago's arm/cache.go and imx6/internal/cache/cache.go, which
// both expose a cache strategy as a handful of free functions
// (Clean/Enable/Disable/FlushData/FlushInstruction) backed by asm; here the
// four strategies are modeled as Ops values rather than a single global
// function set, since the tier is chosen at runtime instead of compile
// time.
package cache

import (
	"errors"

	"github.com/jfabienke/3com-packet-driver-sub001/platform"
)

// Tier identifies a coherency strategy.
type Tier int

const (
	NoOp Tier = iota
	ClflushLike
	WriteBackInvalidate
	SoftwareBarrier
)

func (t Tier) String() string {
	switch t {
	case NoOp:
		return "no-op"
	case ClflushLike:
		return "clflush-like"
	case WriteBackInvalidate:
		return "write-back-invalidate"
	case SoftwareBarrier:
		return "software-barrier"
	default:
		return "unknown"
	}
}

// Ops is the per-tier vtable: flush a range before the device reads it,
// invalidate a range before the CPU reads what the device wrote.
type Ops struct {
	FlushForDevice    func(buf []byte)
	InvalidateForCPU  func(buf []byte)
}

// ErrCacheIncompatible is returned by Select when the resolved tier is
// SoftwareBarrier but the caller requires DMA.
var ErrCacheIncompatible = errors.New("cache: selected tier is incompatible with required DMA")

// Selection is the result of Select: the chosen tier, its Ops, and the
// confidence score behind the choice.
type Selection struct {
	Tier       Tier
	Ops        Ops
	Confidence int
}

// Select applies the decision table from spec.md §4.B (first match wins),
// then degrades the tier one step toward WriteBackInvalidate if confidence
// is below 50%. If requireDMA is true and the final tier is
// SoftwareBarrier, Select returns ErrCacheIncompatible.
func Select(d platform.Descriptor, requireDMA bool) (Selection, error) {
	tier, confidence := decide(d)

	if confidence < 50 && tier != WriteBackInvalidate {
		tier = degrade(tier)
	}

	if tier == SoftwareBarrier && requireDMA {
		return Selection{}, ErrCacheIncompatible
	}

	return Selection{Tier: tier, Ops: opsFor(tier), Confidence: confidence}, nil
}

func decide(d platform.Descriptor) (Tier, int) {
	switch {
	case d.CPUFamily == platform.Superscalar:
		// Confirmation is the self-test having run at all (platform.Probe
		// only sets BusSnoopConfidence on a CPUID-capable part); how much to trust it is Select's confidence-based
		// degrade rule below, not a floor here.
		return NoOp, d.BusSnoopConfidence
	case d.CPUFamily == platform.Late32 && clflushAvailable():
		return ClflushLike, 80
	case (d.CPUFamily == platform.Early32 || d.CPUFamily == platform.Late32) && wbinvdAvailable():
		return WriteBackInvalidate, 70
	default:
		return SoftwareBarrier, 100
	}
}

// degrade moves a tier one step toward WriteBackInvalidate, the coarse but
// always-safe fallback, when confidence in the decision is low.
func degrade(t Tier) Tier {
	switch t {
	case NoOp:
		return ClflushLike
	case ClflushLike:
		return WriteBackInvalidate
	default:
		return t
	}
}

func opsFor(t Tier) Ops {
	switch t {
	case NoOp:
		return Ops{
			FlushForDevice:   func([]byte) {},
			InvalidateForCPU: func([]byte) {},
		}
	case ClflushLike:
		return Ops{FlushForDevice: clflushRange, InvalidateForCPU: clflushRange}
	case WriteBackInvalidate:
		return Ops{FlushForDevice: wbinvdWhole, InvalidateForCPU: wbinvdWhole}
	default: // SoftwareBarrier
		return Ops{
			FlushForDevice:   softwareBarrier,
			InvalidateForCPU: softwareBarrier,
		}
	}
}
