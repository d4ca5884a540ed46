// Package registry implements the device registry (component E): a
// fixed-capacity table of discovered adapters, their claim state, and
// lookup by bus location or MAC address.
//
// Grounded on qemu/pci.go's PCIProbe/PCICache pattern (a small fixed-size
// cache of probed device locations, looked up by address rather than
// rebuilt on every query) and internal/critical's interrupt-masking guard
// for the one mutation — claim — that both the foreground load path and a
// later re-entrant software interrupt call could race on.
package registry

import (
	"errors"

	"github.com/jfabienke/3com-packet-driver-sub001/internal/critical"
)

// MaxDevices is the fixed capacity of the registry, per §4.E.
const MaxDevices = 16

// Device describes one discovered adapter.
type Device struct {
	IOBase   uint16
	IRQ      uint8
	DMAChan  uint8
	VendorID uint16
	DeviceID uint16
	MAC      [6]byte
	Claimed  bool
	Owner    string
	Verified bool
}

var (
	// ErrFull is returned by Add when the registry is at capacity.
	ErrFull = errors.New("registry: full")
	// ErrNotFound is returned when an index or lookup key has no entry.
	ErrNotFound = errors.New("registry: not found")
	// ErrDeviceBusy is returned by Claim on an entry already owned by
	// another driver instance — this is the double-attach guard for
	// scenario S3.
	ErrDeviceBusy = errors.New("registry: device busy")
	// ErrAccessDenied is returned by Release when called by an
	// owner string that does not match the entry's current owner.
	ErrAccessDenied = errors.New("registry: access denied")
)

// Registry is a fixed-capacity device table.
type Registry struct {
	entries [MaxDevices]Device
	present [MaxDevices]bool
	count   int
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{}
}

// Add inserts a newly discovered device and returns its index.
func (r *Registry) Add(d Device) (int, error) {
	for i := 0; i < MaxDevices; i++ {
		if !r.present[i] {
			r.entries[i] = d
			r.present[i] = true
			r.count++
			return i, nil
		}
	}

	return -1, ErrFull
}

// Remove deletes an entry entirely, e.g. on driver unload.
func (r *Registry) Remove(index int) error {
	if !r.valid(index) {
		return ErrNotFound
	}

	r.present[index] = false
	r.entries[index] = Device{}
	r.count--

	return nil
}

func (r *Registry) valid(index int) bool {
	return index >= 0 && index < MaxDevices && r.present[index]
}

// Query returns a copy of the entry at index.
func (r *Registry) Query(index int) (Device, bool) {
	if !r.valid(index) {
		return Device{}, false
	}

	return r.entries[index], true
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	return r.count
}

// FindByLocation returns the index of the device at the given I/O base, if
// any.
func (r *Registry) FindByLocation(ioBase uint16) (int, bool) {
	for i := 0; i < MaxDevices; i++ {
		if r.present[i] && r.entries[i].IOBase == ioBase {
			return i, true
		}
	}

	return -1, false
}

// FindByMAC returns the index of the device with the given MAC address, if
// any.
func (r *Registry) FindByMAC(mac [6]byte) (int, bool) {
	for i := 0; i < MaxDevices; i++ {
		if r.present[i] && r.entries[i].MAC == mac {
			return i, true
		}
	}

	return -1, false
}

// Claim atomically marks an entry as owned by owner, masking the
// interrupt line for the transition per §5. It fails with ErrDeviceBusy if
// another driver instance has already claimed the same entry — this is
// the guard against scenario S3 (a second load command attaching to a
// device a resident instance already owns).
func (r *Registry) Claim(index int, owner string) error {
	if !r.valid(index) {
		return ErrNotFound
	}

	var err error

	critical.Section(func() {
		if r.entries[index].Claimed {
			err = ErrDeviceBusy
			return
		}
		r.entries[index].Claimed = true
		r.entries[index].Owner = owner
	})

	return err
}

// Release clears the claim on an entry, e.g. on driver unload or a failed
// attach after Claim but before the bridge finished attaching. It fails
// with ErrAccessDenied if owner does not match the entry's current owner
// — scenario S3's `release(0, owner_B)` case.
func (r *Registry) Release(index int, owner string) error {
	if !r.valid(index) {
		return ErrNotFound
	}

	var err error

	critical.Section(func() {
		if r.entries[index].Claimed && r.entries[index].Owner != owner {
			err = ErrAccessDenied
			return
		}
		r.entries[index].Claimed = false
		r.entries[index].Owner = ""
		r.entries[index].Verified = false
	})

	return err
}

// Verify reports whether an entry is both present and currently claimed by
// owner, per §3: "a verify requires a prior claim by the same owner." A
// passing check latches the entry's Verified flag so Query callers (the
// bridge's attach path, diagnostics) can observe that the claim was
// confirmed rather than merely granted.
func (r *Registry) Verify(index int, owner string) bool {
	if !r.valid(index) {
		return false
	}

	if !r.entries[index].Claimed || r.entries[index].Owner != owner {
		return false
	}

	r.entries[index].Verified = true

	return true
}
