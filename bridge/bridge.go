// Package bridge implements the driver bridge (component F): the glue
// between a registry entry, a driver.Operations implementation, and the
// software-interrupt dispatcher, plus the ISR envelope in isr.go.
//
// Grounded on soc/nxp/enet.ENET's single-struct-owns-device-state shape,
// generalized so the struct owns an Operations implementation rather than
// being one itself — the bridge has to work for either driver family.
package bridge

import (
	"errors"
	"fmt"

	"github.com/jfabienke/3com-packet-driver-sub001/dmapolicy"
	"github.com/jfabienke/3com-packet-driver-sub001/driver"
	"github.com/jfabienke/3com-packet-driver-sub001/internal/corelog"
	"github.com/jfabienke/3com-packet-driver-sub001/registry"
)

// ErrNotAttached is returned by Send/Receive/Detach when called before
// Attach.
var ErrNotAttached = errors.New("bridge: not attached")

// ErrAlreadyAttached is returned by Attach when the bridge already owns a
// device.
var ErrAlreadyAttached = errors.New("bridge: already attached")

// ErrDeviceNotFound is returned by Attach when regIndex names no registry
// entry, or when the registry's post-claim Verify step fails to confirm
// the claim it just granted.
var ErrDeviceNotFound = errors.New("bridge: device not found")

// ErrDriverIncompatible is returned by Attach when neither the requested
// transfer mode nor the programmed-I/O fallback is compatible with the
// driver implementation's reported Capabilities.
var ErrDriverIncompatible = errors.New("bridge: driver incompatible with this device")

// ErrIsrUnsafe is returned by Attach when the bridge's ISR envelope is not
// in a quiescent state (no interrupt still nested) at
// attach time. A fresh Bridge always passes this check; it exists to
// refuse re-attaching a Bridge whose previous HandleInterrupt never ran
// its matching isrExit.
var ErrIsrUnsafe = errors.New("bridge: isr envelope not in a safe state to attach")

// Bridge binds one registry entry to one driver.Operations implementation
// and tracks the extension-API statistics the dispatcher exposes.
type Bridge struct {
	reg      *registry.Registry
	regIndex int
	attached bool

	owner string

	ops    driver.Operations
	policy *dmapolicy.Policy
	mac    [6]byte

	isr isrState

	apiCalls uint32
}

// bridgeSeq assigns each Bridge a distinct owner identifier for the
// registry's claim/release/verify owner-equality checks, since a resident
// driver may run more than one bridge (one per attached device).
var bridgeSeq uint32

// New returns an unattached Bridge using reg for claim/release bookkeeping
// and policy for the DMA gate the ISR envelope consults.
func New(reg *registry.Registry, policy *dmapolicy.Policy) *Bridge {
	bridgeSeq++
	return &Bridge{reg: reg, policy: policy, owner: fmt.Sprintf("bridge-%d", bridgeSeq)}
}

// Attach claims regIndex in the registry, verifies the claim, and binds
// ops to it. If the adapter's capabilities don't support the transfer
// mode the current DMA policy wants, Attach falls back to the mode the
// adapter reports support for rather than failing outright, since
// programmed I/O is always a safe fallback per §4.D. Per §4.F, Attach
// fails with registry.ErrDeviceBusy, ErrDeviceNotFound,
// ErrDriverIncompatible, or ErrIsrUnsafe.
func (b *Bridge) Attach(regIndex int, ops driver.Operations) error {
	if b.attached {
		return ErrAlreadyAttached
	}

	if b.isr.nesting != 0 {
		return ErrIsrUnsafe
	}

	if err := b.reg.Claim(regIndex, b.owner); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return fmt.Errorf("%w: %v", ErrDeviceNotFound, err)
		}
		return err
	}

	dev, ok := b.reg.Query(regIndex)
	if !ok {
		b.reg.Release(regIndex, b.owner)
		return ErrDeviceNotFound
	}

	wantMode := driver.ProgrammedIO
	if b.policy != nil && b.policy.AllowDMA() {
		wantMode = driver.BusMasterDMA
	}

	if err := driver.CheckCompatibility(ops.Capabilities(), wantMode); err != nil {
		if wantMode == driver.BusMasterDMA {
			if fallbackErr := driver.CheckCompatibility(ops.Capabilities(), driver.ProgrammedIO); fallbackErr == nil {
				corelog.Warnf("bridge: dma requested but unsupported by this adapter, falling back to programmed i/o")
				wantMode = driver.ProgrammedIO
			} else {
				b.reg.Release(regIndex, b.owner)
				return fmt.Errorf("%w: %v", ErrDriverIncompatible, err)
			}
		} else {
			b.reg.Release(regIndex, b.owner)
			return fmt.Errorf("%w: %v", ErrDriverIncompatible, err)
		}
	}

	mac, err := ops.Init(dev.IOBase, dev.IRQ)
	if err != nil {
		b.reg.Release(regIndex, b.owner)
		return err
	}

	if !b.reg.Verify(regIndex, b.owner) {
		b.reg.Release(regIndex, b.owner)
		return ErrDeviceNotFound
	}

	b.ops = ops
	b.mac = mac
	b.regIndex = regIndex
	b.attached = true
	b.isr = isrState{}

	return nil
}

// MAC returns the attached adapter's station address.
func (b *Bridge) MAC() [6]byte {
	return b.mac
}

// Detach shuts the adapter down and releases its registry claim.
func (b *Bridge) Detach() error {
	if !b.attached {
		return ErrNotAttached
	}

	b.ops.Shutdown()
	b.reg.Release(b.regIndex, b.owner)
	b.attached = false
	b.ops = nil

	return nil
}

// Send transmits one frame through the attached adapter and reports the
// outcome to the DMA policy engine so repeated failures can trip the
// three-strike demotion.
func (b *Bridge) Send(frame []byte) error {
	if !b.attached {
		return ErrNotAttached
	}

	err := b.ops.Send(frame)
	if b.policy != nil {
		b.policy.ReportResult(err == nil)
	}

	return err
}

// Receive returns the next received frame from the attached adapter, if
// any.
func (b *Bridge) Receive() ([]byte, bool, error) {
	if !b.attached {
		return nil, false, ErrNotAttached
	}

	return b.ops.Receive()
}

// APIResult is the response shape for DispatchAPI, mirroring the wire
// format dispatch.wire encodes onto the software-interrupt return
// registers.
type APIResult struct {
	Stats    driver.Stats
	Attached bool
}

// DispatchAPI answers one extension-API query from the software-interrupt
// dispatcher. It is foreground-only: unlike HandleInterrupt, it is free to
// call corelog and allocate.
func (b *Bridge) DispatchAPI() APIResult {
	b.apiCalls++

	if !b.attached {
		return APIResult{Attached: false}
	}

	return APIResult{Stats: b.ops.Stats(), Attached: true}
}

// APICalls returns how many DispatchAPI calls this bridge has answered.
func (b *Bridge) APICalls() uint32 {
	return b.apiCalls
}

// Attached reports whether the bridge currently owns a device.
func (b *Bridge) Attached() bool {
	return b.attached
}

// Owner returns the registry owner identifier this bridge claims devices
// under, for callers (tests, the extension API) that need to verify
// registry state against the exact owner that holds it.
func (b *Bridge) Owner() string {
	return b.owner
}

// Policy exposes the bridge's DMA policy engine, for the dispatcher's
// extension API (get-state, set-runtime-enable, request-revalidation,
// dump-statistics) to act on directly.
func (b *Bridge) Policy() *dmapolicy.Policy {
	return b.policy
}
