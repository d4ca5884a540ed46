// Package bmnic implements the Operations contract for the bus-master
// adapter family: frames move via descriptor rings the adapter's DMA
// engine walks on its own, with the CPU only touching descriptor status
// words.
//
// Grounded on enet/dma.go's bufferDescriptorRing.init (a fixed-size ring
// of descriptors, each owning one buffer, with an index that wraps) and
// bufferDescriptor.Bytes()'s field-by-field binary encoding of the
// hardware-facing descriptor; the ring here is sized much smaller (ISA
// bus-master adapters of this era carried a handful of descriptors, not
// hundreds) and the buffers themselves come from dmabuf's DmaSafe category
// rather than a single contiguous DMA region.
package bmnic

import (
	"errors"

	"github.com/jfabienke/3com-packet-driver-sub001/dmabuf"
	"github.com/jfabienke/3com-packet-driver-sub001/driver"
)

const (
	ringSize = 8
	maxMTU   = 1514
)

const (
	descOwnAdapter = 1 << 0
	descLast       = 1 << 1
	descError      = 1 << 7
)

// ErrFrameTooLarge is returned by Send when the frame exceeds MaxMTU.
var ErrFrameTooLarge = errors.New("bmnic: frame exceeds MTU")

// ErrRingFull is returned by Send when ringSize-1 transmit descriptors are
// outstanding: one slot is always left empty so that a full ring can be
// told apart from an empty one.
var ErrRingFull = errors.New("bmnic: transmit ring full")

// descriptor mirrors the hardware-facing ring entry: a status byte, the
// buffer's physical address (what the adapter actually reads/writes), and
// the dmabuf handle needed to give the buffer back to the pool.
type descriptor struct {
	status  uint8
	physAddr uint32
	length  uint16
	handle  dmabuf.Handle
	buf     []byte
	valid   bool
}

// Bytes encodes the descriptor into the 8-byte wire form the adapter's DMA
// engine reads, little-endian, mirroring enet/dma.go's
// bufferDescriptor.Bytes().
func (d descriptor) Bytes() [8]byte {
	var b [8]byte
	b[0] = d.status
	b[1] = 0
	b[2] = byte(d.length)
	b[3] = byte(d.length >> 8)
	b[4] = byte(d.physAddr)
	b[5] = byte(d.physAddr >> 8)
	b[6] = byte(d.physAddr >> 16)
	b[7] = byte(d.physAddr >> 24)
	return b
}

// NIC implements driver.Operations for a bus-master adapter.
type NIC struct {
	ioBase uint16
	irq    uint8
	mac    [6]byte

	plane *dmabuf.Plane

	txRing [ringSize]descriptor
	txHead int
	txTail int

	rxRing [ringSize]descriptor
	rxHead int

	stats driver.Stats
}

// New returns an unattached NIC backed by plane for descriptor buffers.
func New(plane *dmabuf.Plane) *NIC {
	return &NIC{plane: plane}
}

// Capabilities reports this family's fixed capability set.
func (n *NIC) Capabilities() driver.Capabilities {
	return driver.Capabilities{
		InterfaceVersion:         driver.CurrentInterfaceVersion,
		MinSupportedVersion:      driver.CurrentInterfaceVersion,
		MaxSupportedVersion:      driver.CurrentInterfaceVersion,
		Features:                 driver.FeatureBasic | driver.FeatureDMA | driver.FeatureBusMaster | driver.FeatureStatistics | driver.FeatureChecksumOffload,
		DriverName:               "bmnic",
		VendorName:               "3Com",
		SupportedModes:           []driver.TransferMode{driver.BusMasterDMA, driver.ProgrammedIO},
		MaxMTU:                   maxMTU,
		RequiresCacheTierAtLeast: 0,
	}
}

// Init records ioBase and irq and seeds the receive ring with fresh
// DMA-safe buffers. It does not touch the adapter's registers: no reset is
// issued and no station address is read, so the returned MAC is all zeros.
func (n *NIC) Init(ioBase uint16, irq uint8) ([6]byte, error) {
	n.ioBase = ioBase
	n.irq = irq

	for i := range n.rxRing {
		if err := n.postRxBuffer(i); err != nil {
			return [6]byte{}, err
		}
	}

	// MAC address acquisition is hardware-specific and out of scope for
	// the family-level stub; n.mac is never set.
	return n.mac, nil
}

func (n *NIC) postRxBuffer(slot int) error {
	buf, h, ok := n.plane.AllocDMA(maxMTU)
	if !ok {
		return errors.New("bmnic: no dma-safe buffer available for rx ring")
	}

	phys, _ := n.plane.PhysicalAddressOf(h)

	n.rxRing[slot] = descriptor{
		status:   descOwnAdapter,
		physAddr: phys,
		length:   uint16(len(buf)),
		handle:   h,
		buf:      buf,
		valid:    true,
	}

	return nil
}

// Send enqueues frame onto the next free transmit descriptor. The data is
// copied into a DMA-safe buffer (the caller's frame may not itself be
// DMA-safe memory) before the descriptor is handed to the adapter.
func (n *NIC) Send(frame []byte) error {
	if len(frame) > maxMTU {
		return ErrFrameTooLarge
	}

	next := (n.txHead + 1) % ringSize
	if next == n.txTail {
		return ErrRingFull
	}

	buf, h, ok := n.plane.AllocDMA(len(frame))
	if !ok {
		n.stats.SendErrors++
		return errors.New("bmnic: no dma-safe buffer available for tx")
	}
	copy(buf, frame)

	phys, _ := n.plane.PhysicalAddressOf(h)

	n.txRing[n.txHead] = descriptor{
		status:   descOwnAdapter | descLast,
		physAddr: phys,
		length:   uint16(len(frame)),
		handle:   h,
		buf:      buf,
		valid:    true,
	}
	n.txHead = next

	return nil
}

// Receive returns the next completed receive descriptor's frame, if any,
// and immediately reposts a fresh buffer to that slot.
func (n *NIC) Receive() ([]byte, bool, error) {
	d := &n.rxRing[n.rxHead]
	if !d.valid || d.status&descOwnAdapter != 0 {
		return nil, false, nil
	}

	if d.status&descError != 0 {
		n.stats.ReceiveErrors++
		n.plane.Free(d.handle)
		if err := n.postRxBuffer(n.rxHead); err != nil {
			return nil, false, err
		}
		n.rxHead = (n.rxHead + 1) % ringSize
		return nil, false, errors.New("bmnic: receive descriptor reported error")
	}

	frame := make([]byte, d.length)
	copy(frame, d.buf[:d.length])

	n.plane.Free(d.handle)
	if err := n.postRxBuffer(n.rxHead); err != nil {
		return nil, false, err
	}
	n.rxHead = (n.rxHead + 1) % ringSize

	return frame, true, nil
}

// HandleInterrupt reclaims completed transmit descriptors and advances the
// transmit tail. Receive completion is discovered lazily by Receive, since
// the adapter itself clears descOwnAdapter without any CPU involvement.
func (n *NIC) HandleInterrupt() {
	for n.txTail != n.txHead {
		d := &n.txRing[n.txTail]
		if !d.valid || d.status&descOwnAdapter != 0 {
			break
		}

		if d.status&descError != 0 {
			n.stats.SendErrors++
		} else {
			n.stats.FramesSent++
		}

		n.plane.Free(d.handle)
		d.valid = false
		n.txTail = (n.txTail + 1) % ringSize
	}
}

// Stats returns a snapshot of the adapter's counters.
func (n *NIC) Stats() driver.Stats {
	return n.stats
}

// Shutdown releases every outstanding DMA-safe buffer back to the plane.
func (n *NIC) Shutdown() {
	for i := range n.rxRing {
		if n.rxRing[i].valid {
			n.plane.Free(n.rxRing[i].handle)
			n.rxRing[i].valid = false
		}
	}
	for i := range n.txRing {
		if n.txRing[i].valid {
			n.plane.Free(n.txRing[i].handle)
			n.txRing[i].valid = false
		}
	}
}
