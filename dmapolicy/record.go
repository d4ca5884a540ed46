// Package dmapolicy implements the DMA policy engine (component D): a
// persisted, CRC-protected record of whether this machine has proven safe
// for bus-master DMA, gated by three predicates, plus the per-CPU-family
// default transfer mode table.
//
// The on-disk record's binary.Write-style little-endian encoding is
// grounded on tamago's enet/dma.go bufferDescriptor.Bytes() and
// amd64/irq.go GateDescriptor.Bytes(), both of which lay out a fixed-size
// hardware-facing struct field by field into a byte slice rather than
// relying on encoding/gob or reflection.
package dmapolicy

import "github.com/jfabienke/3com-packet-driver-sub001/internal/crc16"

// RecordSize is the fixed on-disk size of a Record in bytes.
const RecordSize = 16

const recordVersion = 1

// Byte offsets of the §6 wire format:
//   {version:u16, crc16:u16, runtime_enable:u8, validation_passed:u8,
//    last_known_safe:u8, failure_count:u8, hw_signature:u32, cache_tier:u8,
//    vds:u8, ems:u8, xms:u8}, all little-endian.
const (
	offVersion       = 0
	offCRC           = 2
	offRuntimeEnable = 4
	offValidation    = 5
	offLastKnownSafe = 6
	offFailureCount  = 7
	offHWSignature   = 8
	offCacheTier     = 12
	offVDS           = 13
	offEMS           = 14
	offXMS           = 15
)

// Record is the persisted DMA policy state for this machine.
type Record struct {
	Version          uint16
	RuntimeEnable    bool
	ValidationPassed bool
	LastKnownSafe    bool
	VDSPresent       bool
	EMSPresent       bool
	XMSPresent       bool
	FailureCount     uint8
	CacheTier        uint8
	HWSignature      uint32
}

func boolToByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// Marshal encodes r into a RecordSize-byte little-endian buffer matching
// §6's wire format exactly, computing and embedding the CRC-16-CCITT over
// the 12 bytes following the CRC field.
func (r Record) Marshal() [RecordSize]byte {
	var buf [RecordSize]byte

	buf[offVersion] = byte(recordVersion)
	buf[offVersion+1] = byte(recordVersion >> 8)

	buf[offRuntimeEnable] = boolToByte(r.RuntimeEnable)
	buf[offValidation] = boolToByte(r.ValidationPassed)
	buf[offLastKnownSafe] = boolToByte(r.LastKnownSafe)
	buf[offFailureCount] = r.FailureCount

	buf[offHWSignature] = byte(r.HWSignature)
	buf[offHWSignature+1] = byte(r.HWSignature >> 8)
	buf[offHWSignature+2] = byte(r.HWSignature >> 16)
	buf[offHWSignature+3] = byte(r.HWSignature >> 24)

	buf[offCacheTier] = r.CacheTier
	buf[offVDS] = boolToByte(r.VDSPresent)
	buf[offEMS] = boolToByte(r.EMSPresent)
	buf[offXMS] = boolToByte(r.XMSPresent)

	sum := crc16.Checksum(buf[offRuntimeEnable:])
	buf[offCRC] = byte(sum)
	buf[offCRC+1] = byte(sum >> 8)

	return buf
}

// ErrBadVersion is returned by Unmarshal when the record's version field is
// not one this build understands.
var ErrBadVersion = recordError("dmapolicy: unsupported record version")

// ErrCRCMismatch is returned by Unmarshal when the stored checksum does not
// match the recomputed one — the persisted record is corrupt.
var ErrCRCMismatch = recordError("dmapolicy: record checksum mismatch")

type recordError string

func (e recordError) Error() string { return string(e) }

// Unmarshal decodes and validates a RecordSize-byte buffer produced by
// Marshal. A CRC mismatch or unknown version is reported as an error
// rather than a partially-trusted Record; callers treat either as "no
// prior policy," per the persistence design in §4.D.
func Unmarshal(buf [RecordSize]byte) (Record, error) {
	version := uint16(buf[offVersion]) | uint16(buf[offVersion+1])<<8
	if version != recordVersion {
		return Record{}, ErrBadVersion
	}

	storedSum := uint16(buf[offCRC]) | uint16(buf[offCRC+1])<<8

	if crc16.Checksum(buf[offRuntimeEnable:]) != storedSum {
		return Record{}, ErrCRCMismatch
	}

	hw := uint32(buf[offHWSignature]) | uint32(buf[offHWSignature+1])<<8 |
		uint32(buf[offHWSignature+2])<<16 | uint32(buf[offHWSignature+3])<<24

	return Record{
		Version:          version,
		RuntimeEnable:    buf[offRuntimeEnable] != 0,
		ValidationPassed: buf[offValidation] != 0,
		LastKnownSafe:    buf[offLastKnownSafe] != 0,
		FailureCount:     buf[offFailureCount],
		HWSignature:      hw,
		CacheTier:        buf[offCacheTier],
		VDSPresent:       buf[offVDS] != 0,
		EMSPresent:       buf[offEMS] != 0,
		XMSPresent:       buf[offXMS] != 0,
	}, nil
}
