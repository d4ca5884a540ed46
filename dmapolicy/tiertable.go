package dmapolicy

import "github.com/jfabienke/3com-packet-driver-sub001/platform"

// TransferMode is the default data movement strategy a CPU family starts
// from before any runtime validation has run.
type TransferMode int

const (
	// ProgrammedIO moves every byte through the CPU; always safe, never
	// fast.
	ProgrammedIO TransferMode = iota
	// BusMasterDMA lets the adapter move data directly to/from memory;
	// requires the three-predicate gate in policy.go to be satisfied.
	BusMasterDMA
)

func (m TransferMode) String() string {
	if m == BusMasterDMA {
		return "bus-master-dma"
	}
	return "programmed-io"
}

// TierEntry is one row of the default transfer-mode table.
type TierEntry struct {
	DefaultMode TransferMode
	Copybreak   int
}

// DefaultTier returns the conservative starting point for a CPU family,
// per §4.D: the 16-bit families default to programmed I/O, the 32-bit and
// superscalar families default to attempting DMA. Copybreak shrinks as the
// family gets newer and its caches more trustworthy: 256 bytes for Early16,
// 160 for Early32, 96 for Late32 and 64 for Superscalar. Protected16 uses
// 64.
func DefaultTier(family platform.CPUFamily) TierEntry {
	switch family {
	case platform.Early16:
		return TierEntry{DefaultMode: ProgrammedIO, Copybreak: 256}
	case platform.Protected16:
		return TierEntry{DefaultMode: ProgrammedIO, Copybreak: 64}
	case platform.Early32:
		return TierEntry{DefaultMode: BusMasterDMA, Copybreak: 160}
	case platform.Late32:
		return TierEntry{DefaultMode: BusMasterDMA, Copybreak: 96}
	case platform.Superscalar:
		return TierEntry{DefaultMode: BusMasterDMA, Copybreak: 64}
	default:
		return TierEntry{DefaultMode: ProgrammedIO, Copybreak: 0}
	}
}
