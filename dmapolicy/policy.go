package dmapolicy

import (
	"github.com/jfabienke/3com-packet-driver-sub001/internal/corelog"
	"github.com/jfabienke/3com-packet-driver-sub001/platform"
)

const demotionThreshold = 3

// Policy is the in-memory, persistence-backed DMA policy engine for this
// machine. It owns the three-predicate gate described in §4.D:
// bus-master DMA is only attempted when runtime_enable, validation_passed,
// and last_known_safe are all true.
type Policy struct {
	store *Store
	rec   Record
}

// Load builds a Policy from the store's persisted record, if any, falling
// back to the conservative per-CPU-family default otherwise. desc supplies
// the CPU family (for the default transfer mode) and the VDS/EMS/XMS
// presence bits recorded alongside the policy for diagnostics.
func Load(store *Store, desc platform.Descriptor, cacheTier uint8) *Policy {
	rec, ok := store.Load()
	if !ok {
		tier := DefaultTier(desc.CPUFamily)

		rec = Record{
			RuntimeEnable:    tier.DefaultMode == BusMasterDMA,
			ValidationPassed: false,
			LastKnownSafe:    false,
			VDSPresent:       desc.VirtualizationServicesPresent,
			EMSPresent:       desc.MemMgr == platform.MemMgrEMSPaged || desc.MemMgr == platform.MemMgrCombinedPaged,
			XMSPresent:       desc.MemMgr == platform.MemMgrHostedProtected || desc.MemMgr == platform.MemMgrCombinedPaged || desc.MemMgr == platform.MemMgrHighMemoryOnly,
			FailureCount:     0,
			CacheTier:        cacheTier,
			HWSignature:      0,
		}
	}

	return &Policy{store: store, rec: rec}
}

// Record returns a copy of the policy's current persisted-shape state.
func (p *Policy) Record() Record {
	return p.rec
}

// AllowDMA reports whether the three-predicate gate is currently satisfied.
func (p *Policy) AllowDMA() bool {
	return p.rec.RuntimeEnable && p.rec.ValidationPassed && p.rec.LastKnownSafe
}

// MarkValidated records that the bus-master self-test (selftest package)
// completed successfully at least once this session. It does not by
// itself open the gate — ReportResult(true) still must follow — but
// without it the gate can never open.
func (p *Policy) MarkValidated() {
	p.rec.ValidationPassed = true
	p.persist()
}

// ReportResult feeds the outcome of a single DMA transfer attempt back
// into the policy. A success clears the failure streak and (re)asserts
// last_known_safe. A failure increments the streak; once it reaches
// demotionThreshold consecutive failures, per §4.D the policy demotes
// itself by clearing both runtime_enable and last_known_safe, forcing a
// return to programmed I/O until the next explicit re-enable.
func (p *Policy) ReportResult(success bool) {
	if success {
		p.rec.FailureCount = 0
		p.rec.LastKnownSafe = true
		p.persist()
		return
	}

	p.rec.FailureCount++

	if p.rec.FailureCount >= demotionThreshold {
		corelog.Warnf("dmapolicy: demoting to programmed I/O after %d consecutive DMA failures", p.rec.FailureCount)
		p.rec.RuntimeEnable = false
		p.rec.LastKnownSafe = false
	}

	p.persist()
}

// Enable explicitly (re)asserts runtime_enable, e.g. after an operator
// reissues the load command with a forced dma= option. It does not touch
// validation_passed or last_known_safe: those still have to be earned.
func (p *Policy) Enable() {
	p.rec.RuntimeEnable = true
	p.rec.FailureCount = 0
	p.persist()
}

// Disable clears runtime_enable unconditionally, e.g. when the operator
// specifies pio in the load line.
func (p *Policy) Disable() {
	p.rec.RuntimeEnable = false
	p.persist()
}

func (p *Policy) persist() {
	if err := p.store.Store(p.rec); err != nil {
		corelog.Errorf("dmapolicy: policy record not persisted: %v", err)
	}
}
