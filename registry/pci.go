package registry

import "github.com/jfabienke/3com-packet-driver-sub001/internal/ioport"

// Ports for the PCI configuration mechanism #1, used by the bus-master
// variant of the adapter when it is attached to a PCI-to-ISA bridge rather
// than living directly on the ISA bus. Grounded on qemu/pci.go's PCIProbe,
// which walks every (bus, device, function) triple through the same two
// ports.
const (
	configAddressPort = 0xCF8
	configDataPort    = 0xCFC
)

const (
	maxBus    = 1 // only bus 0 is probed; the driver never expects a bridge cascade.
	maxDevice = 32
	maxFunc   = 8
)

// configIn32/configOut32 are indirected so tests can simulate a
// configuration space without real hardware.
var (
	configIn32  = ioport.In32
	configOut32 = ioport.Out32
)

func configAddress(bus, device, function, offset uint8) uint32 {
	return 1<<31 |
		uint32(bus)<<16 |
		uint32(device)<<11 |
		uint32(function)<<8 |
		uint32(offset&0xFC)
}

// readConfig32 reads one doubleword from PCI configuration space at
// (bus, device, function, offset).
func readConfig32(bus, device, function, offset uint8) uint32 {
	configOut32(configAddressPort, configAddress(bus, device, function, offset))
	return configIn32(configDataPort)
}

// ProbeResult is one device found by PCIProbe.
type ProbeResult struct {
	Bus, Device, Function uint8
	VendorID, DeviceID    uint16
	BAR0                  uint32
	InterruptLine         uint8
}

// PCIProbe walks every (bus, device, function) slot on bus 0 and reports
// every populated one whose vendor ID matches one of wantVendors. An empty
// slot reads back 0xFFFF for the vendor ID, the standard PCI absent-device
// sentinel.
func PCIProbe(wantVendors []uint16) []ProbeResult {
	var found []ProbeResult

	for dev := uint8(0); dev < maxDevice; dev++ {
		for fn := uint8(0); fn < maxFunc; fn++ {
			idReg := readConfig32(0, dev, fn, 0x00)
			vendor := uint16(idReg)
			device := uint16(idReg >> 16)

			if vendor == 0xFFFF {
				if fn == 0 {
					break // no function 0 means no device in this slot
				}
				continue
			}

			if !matches(vendor, wantVendors) {
				if fn == 0 && !isMultiFunction(bar3(dev, fn)) {
					break
				}
				continue
			}

			bar0 := readConfig32(0, dev, fn, 0x10)
			irqReg := readConfig32(0, dev, fn, 0x3C)

			found = append(found, ProbeResult{
				Bus:           0,
				Device:        dev,
				Function:      fn,
				VendorID:      vendor,
				DeviceID:      device,
				BAR0:          bar0,
				InterruptLine: uint8(irqReg),
			})

			if fn == 0 && !isMultiFunction(bar3(dev, fn)) {
				break
			}
		}
	}

	return found
}

func bar3(dev, fn uint8) uint32 {
	return readConfig32(0, dev, fn, 0x0C)
}

func isMultiFunction(headerTypeReg uint32) bool {
	return headerTypeReg&0x00800000 != 0
}

func matches(vendor uint16, want []uint16) bool {
	for _, w := range want {
		if vendor == w {
			return true
		}
	}

	return false
}
