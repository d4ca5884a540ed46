// Package driver defines the Operations contract that every adapter-family
// implementation (pionic, bmnic) satisfies, plus the versioned capability
// descriptor the bridge uses to decide what each implementation can do
// before wiring it up.
//
// Grounded on soc/nxp/enet.ENET's method shape (Init/Reset/EnableRMII-style
// capability setup methods hung off a single device handle) and the
// driver/operations vtable idiom used throughout tamago's soc/ subtree to
// let one registry drive multiple concrete controllers through a single
// interface.
package driver

import "errors"

// TransferMode mirrors dmapolicy.TransferMode without importing it, to
// avoid a dependency cycle (dmapolicy does not need to know about driver
// implementations).
type TransferMode int

const (
	ProgrammedIO TransferMode = iota
	BusMasterDMA
)

// Features is the capability bitset named in §4.F's versioned operations
// record: basic, DMA, bus-master, checksum-offload, power-management,
// wake-on-arrival, VLAN, statistics.
type Features uint16

const (
	FeatureBasic Features = 1 << iota
	FeatureDMA
	FeatureBusMaster
	FeatureChecksumOffload
	FeaturePowerManagement
	FeatureWakeOnArrival
	FeatureVLAN
	FeatureStatistics
)

// Has reports whether f contains every bit set in want.
func (f Features) Has(want Features) bool {
	return f&want == want
}

// Capabilities describes what one adapter implementation supports, so the
// bridge can check compatibility with the current DMA policy and cache
// tier before attaching. This is the Go shape of §4.F's "versioned
// operations record": InterfaceVersion/MinSupportedVersion/MaxSupportedVersion
// replace the single ABI-version-plus-min/max-required-and-supported
// fields, and Features replaces the feature bitset.
type Capabilities struct {
	// InterfaceVersion is the Operations contract version this
	// implementation was built against.
	InterfaceVersion int
	// MinSupportedVersion and MaxSupportedVersion bound the range of
	// caller-required versions this implementation will accept at all
	// (outside the range, CheckCompatibility reports TooOld/TooNew).
	MinSupportedVersion int
	MaxSupportedVersion int

	Features Features

	DriverName string
	VendorName string

	SupportedModes           []TransferMode
	MaxMTU                   int
	RequiresCacheTierAtLeast int // ordinal threshold; see cache.Tier
}

// CurrentInterfaceVersion is incremented whenever the Operations contract
// changes in a way that is not backward compatible.
const CurrentInterfaceVersion = 1

// CompatibilityResult is the outcome of CheckCompatibility, per §4.F: only
// Incompatible, TooOld, TooNew, and MissingFeatures fail the attach;
// MinorDifference and MajorDifference succeed with a logged warning.
type CompatibilityResult int

const (
	FullyCompatible CompatibilityResult = iota
	MinorDifference
	MajorDifference
	Incompatible
	TooOld
	TooNew
	MissingFeatures
)

// String names a CompatibilityResult the way corelog warnings report it.
func (r CompatibilityResult) String() string {
	switch r {
	case FullyCompatible:
		return "fully-compatible"
	case MinorDifference:
		return "minor-difference"
	case MajorDifference:
		return "major-difference"
	case Incompatible:
		return "incompatible"
	case TooOld:
		return "too-old"
	case TooNew:
		return "too-new"
	case MissingFeatures:
		return "missing-features"
	default:
		return "unknown"
	}
}

// Fails reports whether r is one of the results that fails an attach,
// rather than merely warning.
func (r CompatibilityResult) Fails() bool {
	return r == Incompatible || r == TooOld || r == TooNew || r == MissingFeatures
}

// ErrIncompatibleInterface is returned by CheckCompatibility when the
// result fails the attach outright (Incompatible, TooOld, TooNew, or
// MissingFeatures).
var ErrIncompatibleInterface = errors.New("driver: incompatible interface version")

// ErrUnsupportedMode is returned when the requested transfer mode is not
// in the implementation's Capabilities.SupportedModes.
var ErrUnsupportedMode = errors.New("driver: unsupported transfer mode")

// CheckVersionAndFeatures classifies caps against a caller's required
// version and feature set per §4.F's compatibility matrix. It never
// returns an error itself — Fails() on the result tells the caller
// whether to reject the attach.
func CheckVersionAndFeatures(caps Capabilities, requiredVersion int, requiredFeatures Features) CompatibilityResult {
	if requiredVersion > caps.MaxSupportedVersion {
		return TooNew
	}
	if requiredVersion < caps.MinSupportedVersion {
		return TooOld
	}
	if !caps.Features.Has(requiredFeatures) {
		return MissingFeatures
	}

	diff := requiredVersion - caps.InterfaceVersion
	if diff < 0 {
		diff = -diff
	}

	switch {
	case diff == 0:
		return FullyCompatible
	case diff == 1:
		return MinorDifference
	default:
		return MajorDifference
	}
}

// CheckCompatibility validates caps against the running driver core before
// the bridge attaches to it: the transfer mode must be supported, and the
// version/feature compatibility result must not be one of the failing
// results.
func CheckCompatibility(caps Capabilities, wantMode TransferMode) error {
	requiredFeatures := FeatureBasic
	if wantMode == BusMasterDMA {
		requiredFeatures |= FeatureDMA | FeatureBusMaster
	}

	if result := CheckVersionAndFeatures(caps, CurrentInterfaceVersion, requiredFeatures); result.Fails() {
		return ErrIncompatibleInterface
	}

	for _, m := range caps.SupportedModes {
		if m == wantMode {
			return nil
		}
	}

	return ErrUnsupportedMode
}

// Stats is the adapter-family-agnostic counter set the bridge exposes
// through the extension API.
type Stats struct {
	FramesSent     uint32
	FramesReceived uint32
	SendErrors     uint32
	ReceiveErrors  uint32
}

// Operations is the contract every concrete adapter family implements.
// Capabilities may be called at any time; HandleInterrupt is the one
// method called from inside the ISR; every other method may be called from
// the foreground context only.
type Operations interface {
	// Capabilities reports what this implementation supports. Safe to
	// call before Init.
	Capabilities() Capabilities

	// Init brings the adapter out of reset and into a known state at
	// the given I/O base and IRQ, returning the adapter's MAC address.
	Init(ioBase uint16, irq uint8) ([6]byte, error)

	// Send transmits one frame. frame must not exceed
	// Capabilities().MaxMTU.
	Send(frame []byte) error

	// Receive returns the next received frame, if any; ok is false if
	// no frame is pending.
	Receive() (frame []byte, ok bool, err error)

	// HandleInterrupt services one interrupt from this adapter. It is
	// the only method the ISR envelope may call directly; everything it
	// does must be safe in interrupt context (see §5/§7: counters only,
	// no logging, no allocation).
	HandleInterrupt()

	// Stats returns a snapshot of this adapter's counters.
	Stats() Stats

	// Shutdown quiesces the adapter, e.g. on driver unload.
	Shutdown()
}
