// Command pktdriver is the load command: it wires platform probing,
// cache-tier selection, the DMA buffer plane and policy engine, the
// module image builder, and the entry dispatcher together, then reports
// one of the exit codes from §6.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jfabienke/3com-packet-driver-sub001/bridge"
	"github.com/jfabienke/3com-packet-driver-sub001/cache"
	"github.com/jfabienke/3com-packet-driver-sub001/config"
	"github.com/jfabienke/3com-packet-driver-sub001/dispatch"
	"github.com/jfabienke/3com-packet-driver-sub001/dmabuf"
	"github.com/jfabienke/3com-packet-driver-sub001/dmapolicy"
	"github.com/jfabienke/3com-packet-driver-sub001/driver"
	"github.com/jfabienke/3com-packet-driver-sub001/driver/bmnic"
	"github.com/jfabienke/3com-packet-driver-sub001/driver/pionic"
	"github.com/jfabienke/3com-packet-driver-sub001/image"
	"github.com/jfabienke/3com-packet-driver-sub001/internal/cacheops"
	"github.com/jfabienke/3com-packet-driver-sub001/internal/corelog"
	"github.com/jfabienke/3com-packet-driver-sub001/platform"
	"github.com/jfabienke/3com-packet-driver-sub001/registry"
)

// Exit codes per §6.
const (
	exitLoaded               = 0
	exitAlreadyLoaded        = 1
	exitNoSupportedDevice    = 2
	exitPolicyFileCorrupt    = 3
	exitAllocationFailed     = 4
	exitIncompatiblePlatform = 5
)

const defaultSoftwareInterruptVector = 0x60 // decimal 96

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, err := config.Parse(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitNoSupportedDevice
	}

	corelog.AddSink("console", os.Stderr, corelog.Info)
	if opts.Logging.File != "" {
		f, err := os.OpenFile(opts.Logging.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err == nil {
			corelog.AddSink("file", f, corelog.Info)
		}
	}

	lockPath := filepath.Join(os.TempDir(), "pktdriver.lock")
	if _, err := os.Stat(lockPath); err == nil {
		corelog.Errorf("pktdriver: already loaded (lock file %s present)", lockPath)
		return exitAlreadyLoaded
	}

	platform.Wire(cacheops.ClflushAvailable, cacheops.WbinvdAvailable)
	// dmabuf.WireVDS is intentionally left unwired here: issuing the real
	// INT 4Bh virtual DMA services call requires a real-mode software
	// interrupt trampoline this module does not implement (see DESIGN.md);
	// DmaSafe pools fall back to "never locked," which LockDMASafe already
	// treats as "not proven DMA-safe" rather than a hard failure.

	desc := platform.Probe()

	requireDMA := opts.DMA != config.DMAOff
	sel, err := cache.Select(desc, requireDMA && !opts.ForcePIO)
	if err != nil {
		corelog.Errorf("pktdriver: %v", err)
		return exitIncompatiblePlatform
	}

	reg := registry.New()

	var ioBase uint16 = 0x300
	var irq uint8 = 5
	if opts.HasIOBase {
		ioBase = opts.IOBase
	}
	if opts.HasIRQ {
		irq = opts.IRQ
	}

	found := registry.PCIProbe([]uint16{0x10B7}) // 3Com vendor ID
	isBusMaster := len(found) > 0                // only the PCI-enumerated generation bus-masters; legacy ISA never shows up here
	var devIndex int
	if isBusMaster {
		devIndex, err = reg.Add(registry.Device{
			IOBase:   ioBase,
			IRQ:      irq,
			VendorID: found[0].VendorID,
			DeviceID: found[0].DeviceID,
		})
	} else if opts.HasIOBase {
		// Operator supplied an explicit override: trust it even without a
		// PCI match, for the legacy-ISA case PCIProbe can't see.
		devIndex, err = reg.Add(registry.Device{IOBase: ioBase, IRQ: irq})
	} else {
		corelog.Errorf("pktdriver: no supported device found")
		return exitNoSupportedDevice
	}
	if err != nil {
		corelog.Errorf("pktdriver: %v", err)
		return exitAllocationFailed
	}

	policyStore := dmapolicy.NewStore(filepath.Join(os.TempDir(), "pktdriver-policy.bin"))
	policy := dmapolicy.Load(policyStore, desc, uint8(sel.Tier))
	if opts.ForcePIO {
		policy.Disable()
	} else if opts.DMA == config.DMAOn {
		policy.Enable()
	}

	counts := buffersForProfile(opts.Buffers)
	plane := dmabuf.NewPlaneWithCounts(counts, counts, counts)
	plane.LockDMASafe()

	b := bridge.New(reg, policy)
	var nic driver.Operations
	if isBusMaster {
		nic = bmnic.New(plane)
	} else {
		nic = pionic.New()
	}
	if err := b.Attach(devIndex, nic); err != nil {
		corelog.Errorf("pktdriver: attach failed: %v", err)
		return exitAllocationFailed
	}

	layout, err := buildResidentImage(nic.Capabilities())
	if err != nil {
		corelog.Errorf("pktdriver: image build failed: %v", err)
		return exitAllocationFailed
	}

	d := dispatch.New(defaultSoftwareInterruptVector)
	d.Register(devIndex, b)

	if f, err := os.Create(lockPath); err == nil {
		f.Close()
	}

	corelog.Infof("pktdriver: loaded, image size %d bytes, vector %#x", layout.Header.ImageSize, d.Vector())

	return exitLoaded
}

func buffersForProfile(p config.BufferProfile) dmabuf.PoolCounts {
	base := dmabuf.DefaultCounts(dmabuf.DmaSafe)

	switch p {
	case config.BuffersSmall:
		for i := range base {
			base[i] /= 2
			if base[i] == 0 {
				base[i] = 1
			}
		}
	case config.BuffersLarge:
		for i := range base {
			base[i] *= 2
		}
	}

	return base
}

// buildResidentImage assembles a minimal one-module image around the
// attached driver's entry points. A real build would select modules by
// adapter family and feature set; this wires exactly the one module the
// attached driver needs so the image-coverage invariant is exercised end
// to end at load time.
func buildResidentImage(caps driver.Capabilities) (image.Layout, error) {
	const coreModuleID = 1

	hotSection := make([]byte, 64)

	m := image.Module{
		Header: image.ModuleHeader{
			Magic:      image.HeaderMagic,
			ABIVersion: uint16(caps.InterfaceVersion),
			Class:      image.ClassNIC,
			ID:         coreModuleID,
			APIOffset:  2,
			ISROffset:  4,
		},
		HotSection: hotSection,
	}

	wk := image.WellKnownIDs{
		PktAPI:    coreModuleID,
		Idle:      coreModuleID,
		IRQ:       coreModuleID,
		Uninstall: coreModuleID,
	}

	return image.Build([]image.Module{m}, wk, defaultSoftwareInterruptVector, 5)
}
