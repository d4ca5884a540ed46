// Package image implements the module image builder (component G): a
// two-pass size/copy-and-patch algorithm that composes the hot sections of
// a selected set of modules into one resident image, patches relocation
// sites, and performs the prefetch-serialization write that marks the
// image immutable.
//
// Grounded on the design note "Confine the SMC to the builder ... the
// prefetch-serialization write is the final act of the builder", and on
// enet/dma.go's bufferDescriptorRing.init for the single-reservation,
// sliced-per-entry allocation style applied here to the image buffer
// itself rather than per-module.
package image

import "encoding/binary"

// ModuleClass identifies what kind of module a header describes.
type ModuleClass uint8

const (
	ClassNIC ModuleClass = iota
	ClassFeature
	ClassCore
)

// Module header flags.
const (
	FlagHasISR      uint8 = 1 << 0
	FlagDiscardCold uint8 = 1 << 1
	FlagUsesSMC     uint8 = 1 << 2
)

// HeaderMagic is the expected magic value of every valid module header.
const HeaderMagic uint32 = 0x33434F4D // "3COM"

// ModuleHeader is the per-module immutable descriptor the builder reads,
// per §3.
type ModuleHeader struct {
	Magic               uint32
	ABIVersion          uint16
	Class               ModuleClass
	Flags               uint8
	TotalParagraphs     uint16
	ResidentParagraphs  uint16
	ColdParagraphs      uint16
	InitOffset          uint16
	APIOffset           uint16
	ISROffset           uint16
	CleanupOffset       uint16
	ExportTableOffset   uint16
	RelocTableOffset    uint16
	BSSSize             uint16
	MinCPU              uint8
	Family              uint8
	ID                  uint16
	HeaderChecksum      uint16
	ImageChecksum       uint16
}

// RelocationEntry is one site inside a module's hot section that must be
// patched with the absolute destination offset of another module (or
// itself) once the image layout is known.
type RelocationEntry struct {
	SiteOffset         uint16
	TargetModuleID     uint16
	TargetInternalOffset uint16
}

// Module is a module header plus the hot-section bytes and relocation
// table the builder needs; it stands in for "resolve header pointer" from
// a real module table.
type Module struct {
	Header      ModuleHeader
	HotSection  []byte
	Relocations []RelocationEntry
}

// ImageHeaderSize is the fixed byte size of Header, the prefix written at
// image offset 0.
const ImageHeaderSize = 26

// Header is the module image header written at offset 0 of every built
// image, per §6. All fields are little-endian.
type Header struct {
	Magic           uint32
	Version         uint16
	ImageSize       uint16
	IntNumber       uint8
	IRQNumber       uint8
	PktAPIOffset    uint16
	IdleOffset      uint16
	IRQOffset       uint16
	UninstallOffset uint16
	DataOffset      uint16
	DataSize        uint16
	StackOffset     uint16
	StackSize       uint16
}

// ImageMagic is the fixed magic value written into every built image's
// header.
const ImageMagic uint32 = 0x474D4933 // "3IMG"

// ImageVersion is the builder's current output format version.
const ImageVersion uint16 = 1

// StackReserve is the fixed stack size reserved past the end of the
// image's data area, per §4.G.
const StackReserve = 512

// Bytes encodes h into its ImageHeaderSize-byte little-endian wire form.
func (h Header) Bytes() [ImageHeaderSize]byte {
	var b [ImageHeaderSize]byte

	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint16(b[4:6], h.Version)
	binary.LittleEndian.PutUint16(b[6:8], h.ImageSize)
	b[8] = h.IntNumber
	b[9] = h.IRQNumber
	binary.LittleEndian.PutUint16(b[10:12], h.PktAPIOffset)
	binary.LittleEndian.PutUint16(b[12:14], h.IdleOffset)
	binary.LittleEndian.PutUint16(b[14:16], h.IRQOffset)
	binary.LittleEndian.PutUint16(b[16:18], h.UninstallOffset)
	binary.LittleEndian.PutUint16(b[18:20], h.DataOffset)
	binary.LittleEndian.PutUint16(b[20:22], h.DataSize)
	binary.LittleEndian.PutUint16(b[22:24], h.StackOffset)
	binary.LittleEndian.PutUint16(b[24:26], h.StackSize)

	return b
}
