// Package selftest implements the bus-master DMA self-test that the
// dispatcher's revalidation request runs before it calls
// dmapolicy.Policy.MarkValidated: a known-pattern Ethernet frame
// is sent through the attached adapter's loopback path and the received
// frame is decoded and compared, confirming the adapter's DMA engine moved
// the bytes correctly before bus-master mode is trusted for real traffic.
//
// Grounded on sandia-minimega's use of gopacket/gopacket-layers to build
// and decode known-pattern Ethernet frames for its own traffic generator,
// adapted here into a loopback self-test rather than a traffic source.
package selftest

import (
	"bytes"
	"errors"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/jfabienke/3com-packet-driver-sub001/bridge"
)

// patternPayload is the known byte pattern embedded in every self-test
// frame, so a successful round trip can be verified byte-for-byte rather
// than merely by frame length.
var patternPayload = []byte("3COM-PACKET-DRIVER-SELFTEST-0123456789ABCDEF")

// ErrPayloadMismatch is returned when the received frame's payload does
// not match what was sent.
var ErrPayloadMismatch = errors.New("selftest: received payload does not match sent pattern")

// ErrNoFrameReceived is returned when the loopback path produced no
// received frame at all.
var ErrNoFrameReceived = errors.New("selftest: no frame received")

// ErrDecodeFailed is returned when the received bytes could not be parsed
// as an Ethernet frame.
var ErrDecodeFailed = errors.New("selftest: failed to decode received frame")

// selftestEtherType is a locally-administered EtherType with no registered
// gopacket decoder, so the payload that follows is not parsed as any
// protocol; Run reads it back from the Ethernet layer's own payload.
const selftestEtherType = layers.EthernetType(0x88B6)

// buildFrame serializes a single Ethernet II frame carrying patternPayload,
// addressed from srcMAC to itself (so any adapter's loopback path, real or
// simulated, will hand it straight back). The serializer zero-pads the
// frame to the 60-byte Ethernet minimum.
func buildFrame(srcMAC [6]byte) ([]byte, error) {
	eth := layers.Ethernet{
		SrcMAC:       macFrom(srcMAC),
		DstMAC:       macFrom(srcMAC),
		EthernetType: selftestEtherType,
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}

	if err := gopacket.SerializeLayers(buf, opts, &eth, gopacket.Payload(patternPayload)); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func macFrom(b [6]byte) (out []byte) {
	out = make([]byte, 6)
	copy(out, b[:])
	return out
}

// Result is the outcome of one self-test run.
type Result struct {
	Passed        bool
	BytesSent     int
	BytesReceived int
}

// Run sends one known-pattern frame through b's attached adapter and
// verifies it comes back unchanged. It is intended to be invoked once,
// from the foreground context, before dmapolicy.Policy.MarkValidated is
// called for this device.
func Run(b *bridge.Bridge) (Result, error) {
	if !b.Attached() {
		return Result{}, bridge.ErrNotAttached
	}

	frame, err := buildFrame(b.MAC())
	if err != nil {
		return Result{}, err
	}

	if err := b.Send(frame); err != nil {
		return Result{}, err
	}

	received, ok, err := b.Receive()
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, ErrNoFrameReceived
	}

	parsed := gopacket.NewPacket(received, layers.LayerTypeEthernet, gopacket.NoCopy)
	ethLayer := parsed.Layer(layers.LayerTypeEthernet)
	if ethLayer == nil {
		return Result{}, ErrDecodeFailed
	}

	// Bytes past the pattern are the minimum-frame padding buildFrame's
	// serializer appended.
	payload := ethLayer.LayerPayload()
	if len(payload) > len(patternPayload) {
		payload = payload[:len(patternPayload)]
	}

	if !bytes.Equal(payload, patternPayload) {
		return Result{BytesSent: len(frame), BytesReceived: len(received)}, ErrPayloadMismatch
	}

	return Result{Passed: true, BytesSent: len(frame), BytesReceived: len(received)}, nil
}
