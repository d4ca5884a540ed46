package platform

// multiplexProbe stands for one of the documented multiplex-interrupt
// queries and reports whether the handler answered (vs. an unhandled
// interrupt falling through to the default IRET). Implemented as a
// variable so tests can substitute a fake environment; nothing in this
// module replaces the default, which reports every query as unanswered.
//
// Grounded on the teacher's pattern of declaring a hardware-touching
// primitive in Go (e.g. amd64/irq.go's load_idt) and supplying the body
// externally.
type multiplexQuery struct {
	vector uint8
	ax     uint16
}

var multiplexProbe = func(q multiplexQuery) (installed bool, al uint8) { return false, 0 }

const (
	vectorEMS = 0x67
	vectorMux = 0x2F

	axEMSStatus = 0x4600
	axXMSInstalled = 0x4300
	axVDSInstalled = 0x8102
)

func probeMemMgr(f cpuFeatures) (mgr MemMgr, vds, upper, upperDMASafe bool) {
	emsPresent, _ := multiplexProbe(multiplexQuery{vector: vectorEMS, ax: axEMSStatus})
	xmsPresent, _ := multiplexProbe(multiplexQuery{vector: vectorMux, ax: axXMSInstalled})
	vdsPresent, _ := multiplexProbe(multiplexQuery{vector: vectorMux, ax: axVDSInstalled})

	vds = vdsPresent

	switch {
	case emsPresent && xmsPresent:
		mgr = MemMgrCombinedPaged
	case emsPresent:
		mgr = MemMgrEMSPaged
	case xmsPresent && f.protected:
		mgr = MemMgrHostedProtected
	case xmsPresent:
		mgr = MemMgrHighMemoryOnly
	case vdsPresent:
		mgr = MemMgrVDSEnabled
	default:
		mgr = MemMgrNone
	}

	upper = xmsPresent || emsPresent

	// Per the Open Question in spec.md §9 ("upper-memory DMA safety"):
	// upper memory is never optimistically marked DMA-safe. It only
	// becomes usable for DMA when virtualization services can supply a
	// locked, verified below-16MiB physical address — that verification
	// happens in dmabuf, not here. This probe only ever reports whether
	// VDS is present at all.
	upperDMASafe = false

	return mgr, vds, upper, upperDMASafe
}
