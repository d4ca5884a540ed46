// Package dispatch implements the entry dispatcher (component H): the
// fixed software-interrupt vector's function-code router, plus the wire
// structs the standard packet-driver API and the extension API exchange
// with callers.
//
// Grounded on amd64/irq.go's ServiceInterrupts/setIDT jump-table model (one
// gate registered at a fixed vector, per-vector dispatch to a handler) and
// on the teacher's repeated binary.Write-style little-endian struct
// encoding (enet/dma.go's bufferDescriptor.Bytes(), amd64/irq.go's
// GateDescriptor.Bytes()) for the parameter/result wire shapes below.
package dispatch

import "encoding/binary"

// FunctionCode identifies one dispatcher operation. The numeric values
// below match the historical packet driver specification so that a real
// DOS TCP/IP stack's INT calls would reach the intended case.
type FunctionCode uint8

const (
	FuncDriverInfo    FunctionCode = 1
	FuncAccessType    FunctionCode = 2
	FuncReleaseType   FunctionCode = 3
	FuncSendPkt       FunctionCode = 4
	FuncTerminate     FunctionCode = 5
	FuncGetAddress    FunctionCode = 6
	FuncReset         FunctionCode = 7
	FuncGetParameters FunctionCode = 0x0A
	FuncASSendPkt     FunctionCode = 0x0B
	FuncSetRcvMode    FunctionCode = 0x14
	FuncGetRcvMode    FunctionCode = 0x15
	FuncGetStatistics FunctionCode = 0x18
	FuncSetAddress    FunctionCode = 0x19
)

// Extension API function codes, in the range the standard API never uses.
const (
	FuncExtGetState           FunctionCode = 0x80
	FuncExtSetRuntimeEnable   FunctionCode = 0x81
	FuncExtRequestRevalidation FunctionCode = 0x82
	FuncExtDumpStatistics     FunctionCode = 0x83
)

// Error codes returned in the one-byte accumulator slot on failure, per
// §6's carry-flag convention.
const (
	ErrNone              uint8 = 0x00
	ErrBadHandle         uint8 = 0x01
	ErrNoClass           uint8 = 0x02
	ErrNoType            uint8 = 0x03
	ErrNoNumber          uint8 = 0x04
	ErrBadType           uint8 = 0x06
	ErrNoMulticast       uint8 = 0x07
	ErrCantTerminate     uint8 = 0x08
	ErrBadMode           uint8 = 0x09
	ErrNoSpace           uint8 = 0x0A
	ErrTypeInuse         uint8 = 0x0B
	ErrNotFound          uint8 = 0x0C
	ErrUnsupportedFunc   uint8 = 0x0D
	ErrNoDataNone        uint8 = 0x0E
	ErrUnknownError      uint8 = 0xFF
)

// GetAddressResult carries the adapter's station address back to the
// caller.
type GetAddressResult struct {
	Address [6]byte
}

// MarshalBinary encodes the result.
func (r GetAddressResult) MarshalBinary() []byte {
	out := make([]byte, 6)
	copy(out, r.Address[:])
	return out
}

// StatisticsResult mirrors driver.Stats for the wire.
type StatisticsResult struct {
	FramesSent     uint32
	FramesReceived uint32
	SendErrors     uint32
	ReceiveErrors  uint32
}

// MarshalBinary encodes the result as four little-endian uint32s.
func (r StatisticsResult) MarshalBinary() []byte {
	out := make([]byte, 16)
	binary.LittleEndian.PutUint32(out[0:4], r.FramesSent)
	binary.LittleEndian.PutUint32(out[4:8], r.FramesReceived)
	binary.LittleEndian.PutUint32(out[8:12], r.SendErrors)
	binary.LittleEndian.PutUint32(out[12:16], r.ReceiveErrors)
	return out
}

// ExtensionStateResult carries the DMA policy engine's three-predicate
// gate state back to the extension API caller.
type ExtensionStateResult struct {
	RuntimeEnable    bool
	ValidationPassed bool
	LastKnownSafe    bool
	FailureCount     uint8
}

// MarshalBinary encodes the result as one flags byte followed by the
// failure count.
func (r ExtensionStateResult) MarshalBinary() []byte {
	var flags uint8
	if r.RuntimeEnable {
		flags |= 1 << 0
	}
	if r.ValidationPassed {
		flags |= 1 << 1
	}
	if r.LastKnownSafe {
		flags |= 1 << 2
	}

	return []byte{flags, r.FailureCount}
}

// SetRuntimeEnableParams is the single-byte payload for
// FuncExtSetRuntimeEnable.
type SetRuntimeEnableParams struct {
	Enable bool
}

// UnmarshalSetRuntimeEnableParams decodes the payload for
// FuncExtSetRuntimeEnable.
func UnmarshalSetRuntimeEnableParams(payload []byte) (SetRuntimeEnableParams, bool) {
	if len(payload) < 1 {
		return SetRuntimeEnableParams{}, false
	}

	return SetRuntimeEnableParams{Enable: payload[0] != 0}, true
}
