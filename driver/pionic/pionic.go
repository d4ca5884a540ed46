// Package pionic implements the Operations contract for the
// programmed-I/O adapter family: every frame byte crosses the bus through
// the CPU, via repeated port reads/writes into a small FIFO window.
//
// Grounded on soc/nxp/enet.ENET's method shape (Init/Reset hung off one
// device handle, register offsets as named constants) adapted from a
// memory-mapped register file to the ISA port-mapped register file the
// PIO-NIC exposes: command, status, and an 8-bit data FIFO port.
package pionic

import (
	"errors"

	"github.com/jfabienke/3com-packet-driver-sub001/driver"
	"github.com/jfabienke/3com-packet-driver-sub001/internal/ioport"
)

// Register offsets from the adapter's I/O base.
const (
	regCommand = 0x00
	regStatus  = 0x02
	regData    = 0x04
	regIRQMask = 0x06
)

const (
	statusTxDone = 1 << 0
	statusRxReady = 1 << 1
	statusError  = 1 << 7

	cmdReset     = 0x01
	cmdTxStart   = 0x02
	cmdRxAck     = 0x04
)

const maxMTU = 1514

// ErrFrameTooLarge is returned by Send when the frame exceeds MaxMTU.
var ErrFrameTooLarge = errors.New("pionic: frame exceeds MTU")

// ioIn8/ioOut8 are indirected so tests can substitute a simulated register
// file instead of real ports.
var (
	ioIn8  = ioport.In8
	ioOut8 = ioport.Out8
)

// NIC implements driver.Operations for a programmed-I/O adapter.
type NIC struct {
	ioBase uint16
	irq    uint8
	mac    [6]byte

	rxQueue [][]byte
	stats   driver.Stats
}

// New returns an unattached NIC; callers must call Init before using it.
func New() *NIC {
	return &NIC{}
}

// Capabilities reports this family's fixed capability set.
func (n *NIC) Capabilities() driver.Capabilities {
	return driver.Capabilities{
		InterfaceVersion:         driver.CurrentInterfaceVersion,
		MinSupportedVersion:      driver.CurrentInterfaceVersion,
		MaxSupportedVersion:      driver.CurrentInterfaceVersion,
		Features:                 driver.FeatureBasic | driver.FeatureStatistics,
		DriverName:               "pionic",
		VendorName:               "3Com",
		SupportedModes:           []driver.TransferMode{driver.ProgrammedIO},
		MaxMTU:                   maxMTU,
		RequiresCacheTierAtLeast: 0,
	}
}

// Init resets the adapter and reads back its station address, which on
// this family is latched into the data FIFO register one byte at a time
// immediately after reset.
func (n *NIC) Init(ioBase uint16, irq uint8) ([6]byte, error) {
	n.ioBase = ioBase
	n.irq = irq

	ioOut8(ioBase+regCommand, cmdReset)

	var mac [6]byte
	for i := range mac {
		mac[i] = ioIn8(ioBase + regData)
	}
	n.mac = mac

	ioOut8(ioBase+regIRQMask, statusTxDone|statusRxReady)

	return mac, nil
}

// Send pushes frame into the FIFO one byte at a time and kicks off
// transmission. It blocks (via polling regStatus) until the adapter
// reports TxDone or an error.
func (n *NIC) Send(frame []byte) error {
	if len(frame) > maxMTU {
		return ErrFrameTooLarge
	}

	for _, b := range frame {
		ioOut8(n.ioBase+regData, b)
	}

	ioOut8(n.ioBase+regCommand, cmdTxStart)

	for {
		status := ioIn8(n.ioBase + regStatus)
		if status&statusError != 0 {
			n.stats.SendErrors++
			return errors.New("pionic: adapter reported send error")
		}
		if status&statusTxDone != 0 {
			n.stats.FramesSent++
			return nil
		}
	}
}

// Receive drains one frame from the adapter's FIFO if the status register
// reports one ready.
func (n *NIC) Receive() ([]byte, bool, error) {
	if len(n.rxQueue) > 0 {
		frame := n.rxQueue[0]
		n.rxQueue = n.rxQueue[1:]
		return frame, true, nil
	}

	status := ioIn8(n.ioBase + regStatus)
	if status&statusRxReady == 0 {
		return nil, false, nil
	}

	frame := n.drainFIFO()
	ioOut8(n.ioBase+regCommand, cmdRxAck)

	return frame, true, nil
}

func (n *NIC) drainFIFO() []byte {
	var frame []byte
	for {
		status := ioIn8(n.ioBase + regStatus)
		if status&statusRxReady == 0 {
			break
		}
		frame = append(frame, ioIn8(n.ioBase+regData))
		if len(frame) >= maxMTU {
			break
		}
	}
	return frame
}

// HandleInterrupt is the only method the ISR envelope calls. It only
// updates counters and queues any already-arrived frame, and it does not
// log. It does allocate: drainFIFO builds each frame in a new slice, and
// rxQueue has no preallocated capacity, so appending to it grows it as
// needed.
func (n *NIC) HandleInterrupt() {
	status := ioIn8(n.ioBase + regStatus)

	if status&statusTxDone != 0 {
		n.stats.FramesSent++
	}

	if status&statusRxReady != 0 {
		frame := n.drainFIFO()
		ioOut8(n.ioBase+regCommand, cmdRxAck)
		n.rxQueue = append(n.rxQueue, frame)
		n.stats.FramesReceived++
	}

	if status&statusError != 0 {
		n.stats.ReceiveErrors++
	}
}

// Stats returns a snapshot of the adapter's counters.
func (n *NIC) Stats() driver.Stats {
	return n.stats
}

// Shutdown masks interrupts and resets the adapter.
func (n *NIC) Shutdown() {
	ioOut8(n.ioBase+regIRQMask, 0)
	ioOut8(n.ioBase+regCommand, cmdReset)
}
