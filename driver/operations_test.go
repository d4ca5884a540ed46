package driver

import "testing"

func baseCaps() Capabilities {
	return Capabilities{
		InterfaceVersion:    CurrentInterfaceVersion,
		MinSupportedVersion: CurrentInterfaceVersion,
		MaxSupportedVersion: CurrentInterfaceVersion,
		Features:            FeatureBasic | FeatureDMA | FeatureBusMaster,
		SupportedModes:      []TransferMode{ProgrammedIO, BusMasterDMA},
	}
}

func TestCheckVersionAndFeaturesFullyCompatible(t *testing.T) {
	caps := baseCaps()

	got := CheckVersionAndFeatures(caps, CurrentInterfaceVersion, FeatureBasic)
	if got != FullyCompatible {
		t.Fatalf("expected FullyCompatible, got %v", got)
	}
	if got.Fails() {
		t.Fatalf("FullyCompatible must not fail the attach")
	}
}

func TestCheckVersionAndFeaturesTooNew(t *testing.T) {
	caps := baseCaps()

	got := CheckVersionAndFeatures(caps, caps.MaxSupportedVersion+1, FeatureBasic)
	if got != TooNew {
		t.Fatalf("expected TooNew, got %v", got)
	}
	if !got.Fails() {
		t.Fatalf("TooNew must fail the attach")
	}
}

func TestCheckVersionAndFeaturesTooOld(t *testing.T) {
	caps := baseCaps()
	caps.MinSupportedVersion = 3
	caps.MaxSupportedVersion = 5
	caps.InterfaceVersion = 4

	got := CheckVersionAndFeatures(caps, 2, FeatureBasic)
	if got != TooOld {
		t.Fatalf("expected TooOld, got %v", got)
	}
	if !got.Fails() {
		t.Fatalf("TooOld must fail the attach")
	}
}

func TestCheckVersionAndFeaturesMissingFeatures(t *testing.T) {
	caps := baseCaps()
	caps.Features = FeatureBasic // no FeatureBusMaster

	got := CheckVersionAndFeatures(caps, CurrentInterfaceVersion, FeatureBasic|FeatureBusMaster)
	if got != MissingFeatures {
		t.Fatalf("expected MissingFeatures, got %v", got)
	}
	if !got.Fails() {
		t.Fatalf("MissingFeatures must fail the attach")
	}
}

func TestCheckVersionAndFeaturesMinorAndMajorDifferenceWarnOnly(t *testing.T) {
	caps := baseCaps()
	caps.InterfaceVersion = 2
	caps.MinSupportedVersion = 1
	caps.MaxSupportedVersion = 5

	minor := CheckVersionAndFeatures(caps, 3, FeatureBasic)
	if minor != MinorDifference || minor.Fails() {
		t.Fatalf("expected non-failing MinorDifference, got %v", minor)
	}

	major := CheckVersionAndFeatures(caps, 5, FeatureBasic)
	if major != MajorDifference || major.Fails() {
		t.Fatalf("expected non-failing MajorDifference, got %v", major)
	}
}

func TestCheckCompatibilityRejectsUnsupportedMode(t *testing.T) {
	caps := baseCaps()
	caps.SupportedModes = []TransferMode{ProgrammedIO}

	if err := CheckCompatibility(caps, BusMasterDMA); err != ErrUnsupportedMode {
		t.Fatalf("expected ErrUnsupportedMode, got %v", err)
	}
}

func TestCheckCompatibilityRejectsMissingDMAFeatures(t *testing.T) {
	caps := baseCaps()
	caps.Features = FeatureBasic // DMA mode requested but FeatureDMA/FeatureBusMaster absent

	if err := CheckCompatibility(caps, BusMasterDMA); err != ErrIncompatibleInterface {
		t.Fatalf("expected ErrIncompatibleInterface, got %v", err)
	}
}

func TestCheckCompatibilityAcceptsCompatibleProgrammedIO(t *testing.T) {
	caps := baseCaps()

	if err := CheckCompatibility(caps, ProgrammedIO); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFeaturesHas(t *testing.T) {
	f := FeatureBasic | FeatureDMA
	if !f.Has(FeatureBasic) {
		t.Fatalf("expected Has(FeatureBasic) true")
	}
	if f.Has(FeatureBusMaster) {
		t.Fatalf("expected Has(FeatureBusMaster) false")
	}
	if !f.Has(FeatureBasic | FeatureDMA) {
		t.Fatalf("expected Has(combined) true")
	}
}
