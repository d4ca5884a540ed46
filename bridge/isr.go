package bridge

// maxNesting is the deepest the ISR envelope ever expects to be reentered:
// the NIC's own interrupt, possibly interrupted by a higher-priority
// cascade line, possibly interrupted once more by a spurious retrigger.
// A fourth level is treated as a programming error, not a legitimate
// nesting case.
const maxNesting = 3

// stackCanary is written at isr_enter and checked at isr_exit; a mismatch
// means something below the envelope smashed its own stack frame.
const stackCanary = 0xDEAD

// isrSlowThresholdMicros is the duration above which one interrupt
// service is considered to have overstayed its welcome (§4.F): long
// enough to start dropping frames on a bus-master adapter's ring.
const isrSlowThresholdMicros = 100

// tickFunc returns a free-running microsecond counter that wraps at 32
// bits, which isr duration math accounts for. Nothing in this module
// replaces the default, which always returns 0: outside tests that
// substitute a counter, every measured duration is zero and no service is
// counted as slow.
var tickFunc = func() uint32 { return 0 }

// isrState is the ISR envelope's bookkeeping, updated only from interrupt
// context by isrEnter/isrExit. Per §5/§7, nothing in this type may log or
// allocate: violations and slow services are coalesced into counters the
// foreground context reads back out.
type isrState struct {
	nesting      int
	canary       uint32
	enterTick    uint32
	overNesting  uint32
	canaryFaults uint32
	slowCount    uint32
	lastDuration uint32
}

// isrEnter marks entry into the ISR envelope. If nesting would exceed
// maxNesting, the attempt is counted and the envelope refuses to go
// deeper: the caller must not service the interrupt in that case, since
// the stack budget for a fourth level was never reserved.
func (s *isrState) isrEnter() (ok bool) {
	if s.nesting >= maxNesting {
		s.overNesting++
		return false
	}

	s.nesting++
	s.canary = stackCanary
	s.enterTick = tickFunc()

	return true
}

// isrExit marks exit from the ISR envelope entered by a matching isrEnter.
// It validates the stack canary, computes this service's duration
// (wraparound-safe: unsigned subtraction on a wrapped 32-bit counter
// yields the correct elapsed value as long as the real elapsed time
// didn't itself exceed 2^32 microseconds), and counts it as slow if it
// exceeded isrSlowThresholdMicros.
func (s *isrState) isrExit() {
	if s.canary != stackCanary {
		s.canaryFaults++
	}

	elapsed := tickFunc() - s.enterTick
	s.lastDuration = elapsed

	if elapsed > isrSlowThresholdMicros {
		s.slowCount++
	}

	if s.nesting > 0 {
		s.nesting--
	}
}

// ISRStats is the foreground-readable snapshot of the envelope's counters.
type ISRStats struct {
	OverNestingRejections uint32
	CanaryFaults          uint32
	SlowServiceCount      uint32
	LastDurationMicros    uint32
}

// ISRStats returns a snapshot of this bridge's ISR envelope counters. This
// is the only way the foreground context observes what happened inside
// HandleInterrupt; it is free to log whatever it finds interesting here.
func (b *Bridge) ISRStats() ISRStats {
	return ISRStats{
		OverNestingRejections: b.isr.overNesting,
		CanaryFaults:          b.isr.canaryFaults,
		SlowServiceCount:      b.isr.slowCount,
		LastDurationMicros:    b.isr.lastDuration,
	}
}

// HandleInterrupt runs the attached adapter's interrupt service inside the
// ISR envelope: nesting/canary/duration tracking around the one call that
// is actually allowed to touch hardware from interrupt context.
func (b *Bridge) HandleInterrupt() {
	if !b.attached {
		return
	}

	if !b.isr.isrEnter() {
		return
	}
	defer b.isr.isrExit()

	b.ops.HandleInterrupt()
}
