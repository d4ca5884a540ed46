package platform

// cpuFeatures mirrors tamago's arm/features.go "features" struct: a flat set
// of booleans read once from the hardware and never recomputed.
type cpuFeatures struct {
	cpuid      bool // CPUID instruction usable (flag-bit flip test)
	fpu        bool
	protected  bool // can enter/has entered protected mode
	clflush    bool
	wbinvd     bool
	snoopSelf  bool // bus-snooping self-test passed
	snoopScore int  // confidence percentage for the self-test above
}

// cpuidFlagFlip stands for the classic EFLAGS bit-flip test: attempt to
// toggle the ID bit (bit 21) and observe whether it stuck. It is a variable
// so the test can be substituted; nothing in this module replaces the
// default.
var cpuidFlagFlip = defaultCPUIDFlagFlip

// defaultCPUIDFlagFlip does not run the bit-flip test; it always reports
// CPUID as present.
func defaultCPUIDFlagFlip() bool {
	return true
}

func probeFeatures() cpuFeatures {
	var f cpuFeatures

	f.cpuid = cpuidFlagFlip()

	if !f.cpuid {
		// No CPUID: either 8086/80186 (no bit-flip at all, EFLAGS bits
		// 12-15 always read back as 1) or 80286 real mode. The classic
		// discriminator is whether bits 12-15 of FLAGS can be cleared;
		// that test is folded into eflagsHighNibbleClears below.
		if eflagsHighNibbleClears() {
			f.protected = true
		}

		return f
	}

	// CPUID is present: query the standard feature leaf through the
	// asm-backed primitives in internal/cacheops, which already does the
	// CPUID call for CLFLUSH detection; WBINVD is available on every CPU
	// with a working on-chip cache (486 and later).
	f.clflush = clflushAvailableFn()
	f.wbinvd = wbinvdAvailableFn()
	f.protected = true

	f.snoopSelf, f.snoopScore = busSnoopSelfTest()

	return f
}

// eflagsHighNibbleClears distinguishes 8086/80186 (bits 12-15 of FLAGS
// always read as 1, AC flag test unusable) from 80286+ real mode (bits
// 12-15 can be cleared). Declared as a variable so tests can stub it.
var eflagsHighNibbleClears = func() bool { return false }

var (
	clflushAvailableFn = func() bool { return false }
	wbinvdAvailableFn  = func() bool { return false }
)

// busSnoopSelfTest implements the Open Question from spec.md §9: it
// aliases two logical views of the same backing array and checks whether a
// write through one view is immediately observable through the other
// without an explicit flush. Under classic segmentation this test is close
// to a tautology, so its result is carried as a confidence score rather
// than a boolean fact, and the cache tier selector treats anything below
// 50% as a downgrade signal instead of trusting NoOp outright.
func busSnoopSelfTest() (pass bool, confidence int) {
	backing := make([]byte, 64)
	alias := backing[:32]

	backing[0] = 0xA5
	pass = alias[0] == 0xA5

	if pass {
		// This observation is expected on every Go-addressable slice
		// regardless of real hardware snoop support, hence the low
		// confidence cap.
		confidence = 40
	}

	return pass, confidence
}

// classify maps cpuFeatures into one of the five CPUFamily tags.
func (f cpuFeatures) classify() CPUFamily {
	switch {
	case !f.cpuid && !f.protected:
		return Early16
	case !f.cpuid && f.protected:
		return Protected16
	case f.cpuid && !f.clflush && !f.wbinvd:
		return Early32
	case f.cpuid && f.wbinvd && !f.clflush:
		return Late32
	case f.cpuid && f.clflush:
		return Superscalar
	default:
		return Early32
	}
}
