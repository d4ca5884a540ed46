package dispatch

import (
	"github.com/jfabienke/3com-packet-driver-sub001/bridge"
	"github.com/jfabienke/3com-packet-driver-sub001/selftest"
)

// Response is the outcome of one Dispatch call: Payload carries the
// function's result bytes (empty on failure or for functions with no
// return value), and Err is the one-byte accumulator error code per §6's
// carry-flag convention (ErrNone means the carry flag would be clear).
type Response struct {
	Payload []byte
	Err     uint8
}

// Dispatcher is the single software-interrupt vector entry point. It
// carries no policy of its own: per §4.H, it is "the narrow bottleneck
// that makes the bridge's ISR envelope effective," only resolving which
// bridge owns the target device and forwarding the function code to it.
type Dispatcher struct {
	vector  uint8
	bridges map[int]*bridge.Bridge
}

// New returns a Dispatcher registered at the given software-interrupt
// vector (conventionally decimal 96, INT 60h).
func New(vector uint8) *Dispatcher {
	return &Dispatcher{vector: vector, bridges: make(map[int]*bridge.Bridge)}
}

// Vector returns the configured software-interrupt vector.
func (d *Dispatcher) Vector() uint8 {
	return d.vector
}

// Register associates a registry index with the bridge that owns it, so
// Dispatch can route calls naming that index.
func (d *Dispatcher) Register(regIndex int, b *bridge.Bridge) {
	d.bridges[regIndex] = b
}

// Unregister removes a previously registered bridge, e.g. on detach.
func (d *Dispatcher) Unregister(regIndex int) {
	delete(d.bridges, regIndex)
}

// Dispatch routes code to the bridge that owns regIndex, translating the
// bridge's typed error, if any, into the one-byte accumulator convention.
// It does not perform the stack switch itself; that is the installed
// image's own entry stub (see StackSwitch).
func (d *Dispatcher) Dispatch(regIndex int, code FunctionCode, payload []byte) Response {
	b, ok := d.bridges[regIndex]
	if !ok {
		return Response{Err: ErrBadHandle}
	}

	switch code {
	case FuncGetAddress:
		if !b.Attached() {
			return Response{Err: ErrBadHandle}
		}
		return Response{Payload: GetAddressResult{Address: b.MAC()}.MarshalBinary()}

	case FuncSendPkt, FuncASSendPkt:
		if err := b.Send(payload); err != nil {
			return Response{Err: ErrNoSpace}
		}
		return Response{}

	case FuncGetStatistics:
		res := b.DispatchAPI()
		stats := StatisticsResult{
			FramesSent:     res.Stats.FramesSent,
			FramesReceived: res.Stats.FramesReceived,
			SendErrors:     res.Stats.SendErrors,
			ReceiveErrors:  res.Stats.ReceiveErrors,
		}
		return Response{Payload: stats.MarshalBinary()}

	case FuncTerminate, FuncReleaseType:
		if err := b.Detach(); err != nil {
			return Response{Err: ErrCantTerminate}
		}
		d.Unregister(regIndex)
		return Response{}

	case FuncExtGetState:
		return d.dispatchExtGetState(b)

	case FuncExtSetRuntimeEnable:
		return d.dispatchExtSetRuntimeEnable(b, payload)

	case FuncExtRequestRevalidation:
		return d.dispatchExtRequestRevalidation(b)

	case FuncExtDumpStatistics:
		res := b.DispatchAPI()
		stats := StatisticsResult{
			FramesSent:     res.Stats.FramesSent,
			FramesReceived: res.Stats.FramesReceived,
			SendErrors:     res.Stats.SendErrors,
			ReceiveErrors:  res.Stats.ReceiveErrors,
		}
		return Response{Payload: stats.MarshalBinary()}

	default:
		return Response{Err: ErrUnsupportedFunc}
	}
}

func (d *Dispatcher) dispatchExtGetState(b *bridge.Bridge) Response {
	rec := b.Policy().Record()
	res := ExtensionStateResult{
		RuntimeEnable:    rec.RuntimeEnable,
		ValidationPassed: rec.ValidationPassed,
		LastKnownSafe:    rec.LastKnownSafe,
		FailureCount:     rec.FailureCount,
	}
	return Response{Payload: res.MarshalBinary()}
}

// dispatchExtRequestRevalidation runs the loopback self-test before
// trusting the policy engine's MarkValidated gate again: per the
// selftest package's doc comment, a caller must confirm the adapter's
// DMA engine actually moves bytes correctly before the three-predicate
// gate is allowed to re-open bus-master mode.
func (d *Dispatcher) dispatchExtRequestRevalidation(b *bridge.Bridge) Response {
	res, err := selftest.Run(b)
	if err != nil || !res.Passed {
		b.Policy().ReportResult(false)
		return Response{Err: ErrNoDataNone}
	}

	b.Policy().MarkValidated()
	return Response{}
}

func (d *Dispatcher) dispatchExtSetRuntimeEnable(b *bridge.Bridge, payload []byte) Response {
	params, ok := UnmarshalSetRuntimeEnableParams(payload)
	if !ok {
		return Response{Err: ErrUnsupportedFunc}
	}

	if params.Enable {
		b.Policy().Enable()
	} else {
		b.Policy().Disable()
	}

	return Response{}
}

// StackSwitch is a placeholder for the real entry stub's register-save
// and private-stack-switch sequence, which lives in the installed image
// itself (written by image.Build's serialization stub and entered via the
// software-interrupt gate), not in this package. It exists so that callers
// modeling the full entry sequence in tests have a named hook to assert
// was reached before Dispatch runs.
var StackSwitch = func() {}
