package registry

import "testing"

func TestAddQueryRoundTrip(t *testing.T) {
	r := New()

	idx, err := r.Add(Device{IOBase: 0x300, IRQ: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, ok := r.Query(idx)
	if !ok || got.IOBase != 0x300 || got.IRQ != 5 {
		t.Fatalf("unexpected query result: %+v, ok=%v", got, ok)
	}
}

func TestAddFailsWhenFull(t *testing.T) {
	r := New()

	for i := 0; i < MaxDevices; i++ {
		if _, err := r.Add(Device{IOBase: uint16(0x300 + i*0x20)}); err != nil {
			t.Fatalf("add %d: unexpected error: %v", i, err)
		}
	}

	if _, err := r.Add(Device{IOBase: 0x999}); err != ErrFull {
		t.Fatalf("expected ErrFull, got %v", err)
	}
}

func TestFindByLocationAndMAC(t *testing.T) {
	r := New()
	mac := [6]byte{0x02, 0x60, 0x8C, 1, 2, 3}

	idx, _ := r.Add(Device{IOBase: 0x300, MAC: mac})

	if found, ok := r.FindByLocation(0x300); !ok || found != idx {
		t.Fatalf("FindByLocation: got %d,%v want %d,true", found, ok, idx)
	}

	if found, ok := r.FindByMAC(mac); !ok || found != idx {
		t.Fatalf("FindByMAC: got %d,%v want %d,true", found, ok, idx)
	}

	if _, ok := r.FindByLocation(0x310); ok {
		t.Fatalf("expected no match for unregistered io base")
	}
}

// TestClaimRejectsDoubleAttach models scenario S3: a second load command
// attempting to claim a device a resident driver instance already owns
// must be rejected, not silently granted.
func TestClaimRejectsDoubleAttach(t *testing.T) {
	r := New()
	idx, _ := r.Add(Device{IOBase: 0x300})

	if err := r.Claim(idx, "owner_A"); err != nil {
		t.Fatalf("unexpected error on first claim: %v", err)
	}

	if err := r.Claim(idx, "owner_B"); err != ErrDeviceBusy {
		t.Fatalf("expected ErrDeviceBusy on second claim, got %v", err)
	}

	if !r.Verify(idx, "owner_A") {
		t.Fatalf("expected entry to remain claimed by owner_A after rejected re-claim")
	}
}

// TestRegistryDoubleAttachScenario is scenario S3 verbatim: add yields id
// 0, claim(0, owner_A) succeeds, claim(0, owner_B) is DeviceBusy,
// release(0, owner_B) is AccessDenied, release(0, owner_A) succeeds, and
// claim(0, owner_B) then succeeds.
func TestRegistryDoubleAttachScenario(t *testing.T) {
	r := New()

	idx, err := r.Add(Device{IOBase: 0x300})
	if err != nil || idx != 0 {
		t.Fatalf("expected id 0, got %d, err %v", idx, err)
	}

	if err := r.Claim(0, "owner_A"); err != nil {
		t.Fatalf("claim(0, owner_A): unexpected error: %v", err)
	}

	if err := r.Claim(0, "owner_B"); err != ErrDeviceBusy {
		t.Fatalf("claim(0, owner_B): expected ErrDeviceBusy, got %v", err)
	}

	if err := r.Release(0, "owner_B"); err != ErrAccessDenied {
		t.Fatalf("release(0, owner_B): expected ErrAccessDenied, got %v", err)
	}

	if err := r.Release(0, "owner_A"); err != nil {
		t.Fatalf("release(0, owner_A): unexpected error: %v", err)
	}

	if err := r.Claim(0, "owner_B"); err != nil {
		t.Fatalf("claim(0, owner_B) after release: unexpected error: %v", err)
	}
}

func TestReleaseThenReclaim(t *testing.T) {
	r := New()
	idx, _ := r.Add(Device{IOBase: 0x300})

	if err := r.Claim(idx, "owner_A"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := r.Release(idx, "owner_A"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if r.Verify(idx, "owner_A") {
		t.Fatalf("expected entry to be unclaimed after release")
	}

	if err := r.Claim(idx, "owner_A"); err != nil {
		t.Fatalf("expected re-claim after release to succeed, got %v", err)
	}
}

func TestRemoveClearsEntry(t *testing.T) {
	r := New()
	idx, _ := r.Add(Device{IOBase: 0x300})

	if err := r.Remove(idx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := r.Query(idx); ok {
		t.Fatalf("expected removed entry to no longer be present")
	}

	if r.Count() != 0 {
		t.Fatalf("expected count 0 after remove, got %d", r.Count())
	}
}

func TestClaimUnknownIndexIsNotFound(t *testing.T) {
	r := New()

	if err := r.Claim(3, "owner_A"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPCIProbeFindsMatchingVendor(t *testing.T) {
	prevIn, prevOut := configIn32, configOut32
	defer func() { configIn32, configOut32 = prevIn, prevOut }()

	const wantVendor = 0x10B7 // 3Com

	var lastAddr uint32
	configOut32 = func(port uint16, val uint32) { lastAddr = val }
	configIn32 = func(port uint16) uint32 {
		device := uint8((lastAddr >> 11) & 0x1F)
		offset := uint8(lastAddr & 0xFC)

		if device == 5 {
			switch offset {
			case 0x00:
				return uint32(0x9055)<<16 | uint32(wantVendor)
			case 0x0C:
				return 0 // header type 0x00: single-function device
			case 0x10:
				return 0x300
			case 0x3C:
				return 10
			}
		}

		return 0xFFFFFFFF
	}

	found := PCIProbe([]uint16{wantVendor})
	if len(found) != 1 {
		t.Fatalf("expected exactly one match, got %d", len(found))
	}
	if found[0].Device != 5 || found[0].VendorID != wantVendor {
		t.Fatalf("unexpected probe result: %+v", found[0])
	}
}

func TestPCIProbeSkipsEmptySlots(t *testing.T) {
	prevIn, prevOut := configIn32, configOut32
	defer func() { configIn32, configOut32 = prevIn, prevOut }()

	configOut32 = func(uint16, uint32) {}
	configIn32 = func(uint16) uint32 { return 0xFFFFFFFF }

	found := PCIProbe([]uint16{0x10B7})
	if len(found) != 0 {
		t.Fatalf("expected no matches on an empty bus, got %d", len(found))
	}
}
