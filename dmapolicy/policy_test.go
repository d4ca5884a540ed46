package dmapolicy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jfabienke/3com-packet-driver-sub001/platform"
)

func TestRecordRoundTrip(t *testing.T) {
	rec := Record{
		RuntimeEnable:    true,
		ValidationPassed: true,
		LastKnownSafe:    true,
		VDSPresent:       true,
		FailureCount:     2,
		CacheTier:        3,
		HWSignature:      0xDEADBEEF,
	}

	buf := rec.Marshal()
	got, err := Unmarshal(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got != rec {
		// Version isn't part of the caller-supplied Record, compare
		// field by field excluding it.
		if got.RuntimeEnable != rec.RuntimeEnable ||
			got.ValidationPassed != rec.ValidationPassed ||
			got.LastKnownSafe != rec.LastKnownSafe ||
			got.VDSPresent != rec.VDSPresent ||
			got.FailureCount != rec.FailureCount ||
			got.CacheTier != rec.CacheTier ||
			got.HWSignature != rec.HWSignature {
			t.Fatalf("round trip mismatch: got %+v want %+v", got, rec)
		}
	}
}

// TestUnmarshalDetectsCorruption models scenario S1: a single flipped byte
// in the persisted record must be caught by the CRC rather than silently
// accepted.
func TestUnmarshalDetectsCorruption(t *testing.T) {
	rec := Record{RuntimeEnable: true, ValidationPassed: true, LastKnownSafe: true}
	buf := rec.Marshal()

	buf[9] ^= 0xFF // corrupt a hw_signature byte, outside the CRC field

	if _, err := Unmarshal(buf); err != ErrCRCMismatch {
		t.Fatalf("expected ErrCRCMismatch, got %v", err)
	}
}

func TestUnmarshalRejectsUnknownVersion(t *testing.T) {
	rec := Record{}
	buf := rec.Marshal()
	buf[0] = 99

	if _, err := Unmarshal(buf); err != ErrBadVersion {
		t.Fatalf("expected ErrBadVersion, got %v", err)
	}
}

func TestStoreLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "policy.bin"))

	rec := Record{RuntimeEnable: true, ValidationPassed: true, LastKnownSafe: true, FailureCount: 1}
	if err := store.Store(rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, ok := store.Load()
	if !ok {
		t.Fatalf("expected load to succeed")
	}
	if got.RuntimeEnable != rec.RuntimeEnable || got.FailureCount != rec.FailureCount {
		t.Fatalf("unexpected record after round trip: %+v", got)
	}
}

// TestStoreLoadDetectsOnDiskCorruption models scenario S1 at the store
// layer: a byte flipped directly in the persisted file is rejected on
// load, not just at Unmarshal.
func TestStoreLoadDetectsOnDiskCorruption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.bin")
	store := NewStore(path)

	rec := Record{RuntimeEnable: true, ValidationPassed: true, LastKnownSafe: true}
	if err := store.Store(rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data[9] ^= 0xFF
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := store.Load(); ok {
		t.Fatalf("expected corrupted on-disk record to be rejected")
	}
}

func TestStoreDegradedModeIsNoOp(t *testing.T) {
	os.Setenv(degradedEnvVar, "1")
	defer os.Unsetenv(degradedEnvVar)

	dir := t.TempDir()
	path := filepath.Join(dir, "policy.bin")
	store := NewStore(path)

	rec := Record{RuntimeEnable: true}
	if err := store.Store(rec); err != nil {
		t.Fatalf("expected degraded store to report success, got %v", err)
	}

	if _, err := os.Stat(path); err == nil {
		t.Fatalf("expected no file to be written in degraded mode")
	}

	if _, ok := store.Load(); ok {
		t.Fatalf("expected degraded load to always report no record")
	}
}

// TestStoreDegradesToEnvVarAfterRepeatedFailures models the automatic
// fallback from §4.D/§7: once every on-disk write attempt fails, Store
// stashes the record in fallbackEnvVar instead of giving up, and Load
// recovers it from there when the on-disk file is unusable.
func TestStoreDegradesToEnvVarAfterRepeatedFailures(t *testing.T) {
	prevSleep := sleepFunc
	sleepFunc = func(time.Duration) {}
	t.Cleanup(func() { sleepFunc = prevSleep })
	t.Cleanup(func() { os.Unsetenv(fallbackEnvVar) })

	// A path under a directory that does not exist makes every
	// write-temp-then-rename attempt fail deterministically.
	store := NewStore(filepath.Join(t.TempDir(), "missing-subdir", "policy.bin"))

	rec := Record{RuntimeEnable: true, ValidationPassed: true, LastKnownSafe: true, FailureCount: 3}
	if err := store.Store(rec); err != nil {
		t.Fatalf("expected degraded store to report success, got %v", err)
	}

	if os.Getenv(fallbackEnvVar) == "" {
		t.Fatalf("expected fallback env var to hold the record after repeated write failures")
	}

	got, ok := store.Load()
	if !ok {
		t.Fatalf("expected degraded-persistence record to be recovered from the env var")
	}
	if got.FailureCount != rec.FailureCount || got.RuntimeEnable != rec.RuntimeEnable {
		t.Fatalf("unexpected record recovered from fallback: %+v", got)
	}
}

// TestReportResultThreeStrikeDemotion models scenario S2: three
// consecutive failed DMA attempts must clear both runtime_enable and
// last_known_safe, forcing a fallback to programmed I/O.
func TestReportResultThreeStrikeDemotion(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "policy.bin"))
	desc := platform.Descriptor{CPUFamily: platform.Late32}

	p := Load(store, desc, 0)
	p.MarkValidated()
	p.ReportResult(true)

	if !p.AllowDMA() {
		t.Fatalf("expected gate open after one success")
	}

	p.ReportResult(false)
	if !p.AllowDMA() {
		t.Fatalf("expected gate still open after one failure")
	}

	p.ReportResult(false)
	if !p.AllowDMA() {
		t.Fatalf("expected gate still open after two failures")
	}

	p.ReportResult(false)
	if p.AllowDMA() {
		t.Fatalf("expected gate closed after three consecutive failures")
	}

	rec := p.Record()
	if rec.RuntimeEnable || rec.LastKnownSafe {
		t.Fatalf("expected runtime_enable and last_known_safe both cleared, got %+v", rec)
	}
}

func TestReportResultSuccessResetsFailureStreak(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "policy.bin"))
	desc := platform.Descriptor{CPUFamily: platform.Superscalar}

	p := Load(store, desc, 0)
	p.MarkValidated()
	p.ReportResult(true)

	p.ReportResult(false)
	p.ReportResult(false)
	p.ReportResult(true) // resets streak before the third strike

	if p.Record().FailureCount != 0 {
		t.Fatalf("expected failure count reset to 0, got %d", p.Record().FailureCount)
	}
	if !p.AllowDMA() {
		t.Fatalf("expected gate still open after streak reset by a success")
	}
}

func TestLoadDefaultsToProgrammedIOOnEarlyCPU(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "policy.bin"))
	desc := platform.Descriptor{CPUFamily: platform.Early16}

	p := Load(store, desc, 0)
	if p.AllowDMA() {
		t.Fatalf("expected gate closed by default on an unvalidated machine")
	}
	if p.Record().RuntimeEnable {
		t.Fatalf("expected Early16 default to not request DMA")
	}
}

func TestLoadDefaultsRequestDMAOnLateCPU(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "policy.bin"))
	desc := platform.Descriptor{CPUFamily: platform.Late32}

	p := Load(store, desc, 0)
	if !p.Record().RuntimeEnable {
		t.Fatalf("expected Late32 default to request DMA")
	}
	// Still closed overall: validation/last-known-safe haven't been earned.
	if p.AllowDMA() {
		t.Fatalf("expected gate closed until validation and a successful transfer")
	}
}
