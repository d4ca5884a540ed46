package bridge

import (
	"errors"
	"testing"

	"github.com/jfabienke/3com-packet-driver-sub001/dmapolicy"
	"github.com/jfabienke/3com-packet-driver-sub001/driver"
	"github.com/jfabienke/3com-packet-driver-sub001/platform"
	"github.com/jfabienke/3com-packet-driver-sub001/registry"
)

type fakeOps struct {
	caps          driver.Capabilities
	sendErr       error
	handleCalls   int
	stats         driver.Stats
	shutdownCalls int
	mac           [6]byte
}

func (f *fakeOps) Capabilities() driver.Capabilities { return f.caps }

func (f *fakeOps) Init(ioBase uint16, irq uint8) ([6]byte, error) {
	return f.mac, nil
}

func (f *fakeOps) Send(frame []byte) error {
	if f.sendErr == nil {
		f.stats.FramesSent++
	} else {
		f.stats.SendErrors++
	}
	return f.sendErr
}

func (f *fakeOps) Receive() ([]byte, bool, error) { return nil, false, nil }

func (f *fakeOps) HandleInterrupt() { f.handleCalls++ }

func (f *fakeOps) Stats() driver.Stats { return f.stats }

func (f *fakeOps) Shutdown() { f.shutdownCalls++ }

func newTestPolicy(t *testing.T, allow bool) *dmapolicy.Policy {
	t.Helper()

	store := dmapolicy.NewStore(t.TempDir() + "/policy.bin")
	p := dmapolicy.Load(store, platform.Descriptor{CPUFamily: platform.Late32}, 0)
	if allow {
		p.MarkValidated()
		p.ReportResult(true)
	} else {
		p.Disable()
	}

	return p
}

func dmaCapableOps() *fakeOps {
	return &fakeOps{caps: driver.Capabilities{
		InterfaceVersion:    driver.CurrentInterfaceVersion,
		MinSupportedVersion: driver.CurrentInterfaceVersion,
		MaxSupportedVersion: driver.CurrentInterfaceVersion,
		Features:            driver.FeatureBasic | driver.FeatureDMA | driver.FeatureBusMaster,
		SupportedModes:      []driver.TransferMode{driver.BusMasterDMA, driver.ProgrammedIO},
		MaxMTU:              1514,
	}}
}

func pioOnlyOps() *fakeOps {
	return &fakeOps{caps: driver.Capabilities{
		InterfaceVersion:    driver.CurrentInterfaceVersion,
		MinSupportedVersion: driver.CurrentInterfaceVersion,
		MaxSupportedVersion: driver.CurrentInterfaceVersion,
		Features:            driver.FeatureBasic,
		SupportedModes:      []driver.TransferMode{driver.ProgrammedIO},
		MaxMTU:              1514,
	}}
}

func TestAttachSendDetach(t *testing.T) {
	reg := registry.New()
	idx, _ := reg.Add(registry.Device{IOBase: 0x300})

	policy := newTestPolicy(t, true)
	b := New(reg, policy)

	ops := dmaCapableOps()
	if err := b.Attach(idx, ops); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reg.Verify(idx, b.Owner()) {
		t.Fatalf("expected registry entry claimed after attach")
	}

	if err := b.Send([]byte{1, 2, 3}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := b.Detach(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reg.Verify(idx, b.Owner()) {
		t.Fatalf("expected registry entry released after detach")
	}
	if ops.shutdownCalls != 1 {
		t.Fatalf("expected exactly one shutdown call")
	}
}

func TestAttachFallsBackToProgrammedIOWhenAdapterCannotDMA(t *testing.T) {
	reg := registry.New()
	idx, _ := reg.Add(registry.Device{IOBase: 0x300})

	policy := newTestPolicy(t, true) // policy wants DMA
	b := New(reg, policy)

	ops := pioOnlyOps() // adapter can't do it
	if err := b.Attach(idx, ops); err != nil {
		t.Fatalf("expected fallback to succeed, got error: %v", err)
	}
}

func TestAttachRejectsDoubleAttach(t *testing.T) {
	reg := registry.New()
	idx, _ := reg.Add(registry.Device{IOBase: 0x300})

	policy := newTestPolicy(t, false)
	b := New(reg, policy)

	if err := b.Attach(idx, pioOnlyOps()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := b.Attach(idx, pioOnlyOps()); err != ErrAlreadyAttached {
		t.Fatalf("expected ErrAlreadyAttached, got %v", err)
	}
}

func TestSendPropagatesFailureToPolicy(t *testing.T) {
	reg := registry.New()
	idx, _ := reg.Add(registry.Device{IOBase: 0x300})

	policy := newTestPolicy(t, true)
	b := New(reg, policy)

	ops := dmaCapableOps()
	ops.sendErr = errors.New("boom")
	b.Attach(idx, ops)

	b.Send([]byte{1})
	b.Send([]byte{1})
	b.Send([]byte{1})

	if policy.AllowDMA() {
		t.Fatalf("expected policy demoted after three consecutive send failures")
	}
}

func TestDispatchAPIReportsAttachmentAndStats(t *testing.T) {
	reg := registry.New()
	idx, _ := reg.Add(registry.Device{IOBase: 0x300})

	policy := newTestPolicy(t, false)
	b := New(reg, policy)

	if res := b.DispatchAPI(); res.Attached {
		t.Fatalf("expected not attached before Attach")
	}

	ops := pioOnlyOps()
	b.Attach(idx, ops)
	b.Send([]byte{1, 2})

	res := b.DispatchAPI()
	if !res.Attached {
		t.Fatalf("expected attached")
	}
	if res.Stats.FramesSent != 1 {
		t.Fatalf("expected FramesSent=1, got %d", res.Stats.FramesSent)
	}
	if b.APICalls() != 2 {
		t.Fatalf("expected 2 api calls recorded, got %d", b.APICalls())
	}
}

// TestISRSlowServiceCounted models scenario S6: an interrupt service whose
// duration exceeds the slow threshold must be counted, without the ISR
// envelope itself logging anything.
func TestISRSlowServiceCounted(t *testing.T) {
	reg := registry.New()
	idx, _ := reg.Add(registry.Device{IOBase: 0x300})

	policy := newTestPolicy(t, false)
	b := New(reg, policy)
	b.Attach(idx, pioOnlyOps())

	prevTick := tickFunc
	defer func() { tickFunc = prevTick }()

	tickFunc = func() uint32 { return 0 }
	if !b.isr.isrEnter() {
		t.Fatalf("expected isrEnter to succeed")
	}

	tickFunc = func() uint32 { return isrSlowThresholdMicros + 50 }
	b.isr.isrExit()

	stats := b.ISRStats()
	if stats.SlowServiceCount != 1 {
		t.Fatalf("expected SlowServiceCount=1, got %d", stats.SlowServiceCount)
	}
}

func TestISRHandlesWraparoundDuration(t *testing.T) {
	s := isrState{}

	prevTick := tickFunc
	defer func() { tickFunc = prevTick }()

	tickFunc = func() uint32 { return 0xFFFFFFF0 }
	s.isrEnter()

	tickFunc = func() uint32 { return 0x20 } // wrapped past 2^32
	s.isrExit()

	// elapsed = 0x20 - 0xFFFFFFF0 (mod 2^32) = 0x30
	if s.lastDuration != 0x30 {
		t.Fatalf("expected wraparound-correct elapsed=0x30, got %#x", s.lastDuration)
	}
}

func TestISRRejectsNestingBeyondMax(t *testing.T) {
	s := isrState{}

	for i := 0; i < maxNesting; i++ {
		if !s.isrEnter() {
			t.Fatalf("expected isrEnter %d to succeed", i)
		}
	}

	if s.isrEnter() {
		t.Fatalf("expected isrEnter beyond maxNesting to fail")
	}
	if s.overNesting != 1 {
		t.Fatalf("expected overNesting=1, got %d", s.overNesting)
	}
}

func TestISRDetectsCanaryCorruption(t *testing.T) {
	s := isrState{}
	s.isrEnter()

	s.canary = 0 // simulate stack corruption

	s.isrExit()

	if s.canaryFaults != 1 {
		t.Fatalf("expected canaryFaults=1, got %d", s.canaryFaults)
	}
}
