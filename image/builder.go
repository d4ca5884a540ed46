package image

import (
	"errors"

	"github.com/jfabienke/3com-packet-driver-sub001/internal/cacheops"
)

// MaxImageSize is the largest a resident image may be: it must fit in one
// real-mode segment, and its size must fit the 16-bit ImageSize header
// field.
const MaxImageSize = 65535

var (
	// ErrZeroHotSize is returned when a selected module's hot section is
	// empty.
	ErrZeroHotSize = errors.New("image: module has zero hot size")
	// ErrBadSignature is returned when a module header's magic does not
	// match HeaderMagic.
	ErrBadSignature = errors.New("image: bad module header signature")
	// ErrOverflow is returned by Build when the accumulated size would
	// exceed MaxImageSize. This is scenario S5: no image buffer is
	// allocated when this error is returned.
	ErrOverflow = errors.New("image: size overflow")
	// ErrUnknownWellKnownModule is returned when one of the four
	// well-known entry-point modules is not present in the selection.
	ErrUnknownWellKnownModule = errors.New("image: well-known module missing from selection")
)

// WellKnownIDs names the module IDs whose entry points populate the four
// fixed offsets in the image header.
type WellKnownIDs struct {
	PktAPI    uint16
	Idle      uint16
	IRQ       uint16
	Uninstall uint16
}

// LayoutEntry is one module's placement inside the built image.
type LayoutEntry struct {
	ID        uint16
	SrcOffset uint16
	SrcSize   uint16
	DstOffset uint16
}

// Layout is the output of a successful Build: the image header, the
// per-module placement table, and the finished image bytes.
type Layout struct {
	Header  Header
	Entries []LayoutEntry
	Image   []byte
}

// fenceFunc is indirected so tests can observe that the prefetch
// serialization step actually ran without linking the real asm primitive.
var fenceFunc = cacheops.Fence

// Build runs the two-pass builder over the given module selection, in
// order, per §4.G. intVector and irq are written into the image header
// verbatim; wellKnown identifies which selected modules own the four
// fixed entry-point offsets.
func Build(modules []Module, wellKnown WellKnownIDs, intVector, irq uint8) (Layout, error) {
	entries, totalSize, err := sizeAndValidate(modules)
	if err != nil {
		return Layout{}, err
	}

	return copyAndPatch(modules, entries, totalSize, wellKnown, intVector, irq)
}

// sizeAndValidate is pass 1: resolve, validate, and accumulate sizes
// without allocating anything.
func sizeAndValidate(modules []Module) ([]LayoutEntry, int, error) {
	entries := make([]LayoutEntry, 0, len(modules))
	total := ImageHeaderSize

	for _, m := range modules {
		if m.Header.Magic != HeaderMagic {
			return nil, 0, ErrBadSignature
		}

		hotSize := len(m.HotSection)
		if hotSize == 0 {
			return nil, 0, ErrZeroHotSize
		}

		if total+hotSize > MaxImageSize {
			return nil, 0, ErrOverflow
		}

		entries = append(entries, LayoutEntry{
			ID:        m.Header.ID,
			SrcOffset: 0,
			SrcSize:   uint16(hotSize),
			DstOffset: uint16(total),
		})

		total += hotSize
	}

	return entries, total, nil
}

// copyAndPatch is pass 2: allocate, copy each module's hot section,
// resolve relocations, write the image header, and perform the
// prefetch-serialization write.
//
// The image buffer is a single one-off allocation outside dmabuf's slab
// pools: at up to 64KiB it dwarfs the largest Metadata size class (the
// 2KiB jumbo slab), and at most one resident image is ever live at a
// time, so a dedicated allocation costs nothing a pool would have saved.
func copyAndPatch(modules []Module, entries []LayoutEntry, totalSize int, wellKnown WellKnownIDs, intVector, irq uint8) (Layout, error) {
	buf := make([]byte, totalSize)

	offsetByID := make(map[uint16]uint16, len(entries))
	for _, e := range entries {
		offsetByID[e.ID] = e.DstOffset
	}

	for i, m := range modules {
		e := entries[i]
		copy(buf[e.DstOffset:e.DstOffset+e.SrcSize], m.HotSection)
	}

	for i, m := range modules {
		e := entries[i]
		for _, r := range m.Relocations {
			targetBase, ok := offsetByID[r.TargetModuleID]
			if !ok {
				return Layout{}, ErrUnknownWellKnownModule
			}

			dest := targetBase + r.TargetInternalOffset
			site := e.DstOffset + r.SiteOffset

			buf[site] = byte(dest)
			buf[site+1] = byte(dest >> 8)
		}
	}

	// Idle shares the API-offset field: the core module's idle poll
	// routine is exposed through the same entry-point slot a NIC module
	// uses for its packet-driver API, distinguished only by which module
	// ID is designated "idle" in wellKnown.
	pktAPI, ok := resolveEntryOffset(entries, modules, wellKnown.PktAPI, func(h ModuleHeader) uint16 { return h.APIOffset })
	if !ok {
		return Layout{}, ErrUnknownWellKnownModule
	}
	idle, ok := resolveEntryOffset(entries, modules, wellKnown.Idle, func(h ModuleHeader) uint16 { return h.APIOffset })
	if !ok {
		return Layout{}, ErrUnknownWellKnownModule
	}
	irqOff, ok := resolveEntryOffset(entries, modules, wellKnown.IRQ, func(h ModuleHeader) uint16 { return h.ISROffset })
	if !ok {
		return Layout{}, ErrUnknownWellKnownModule
	}
	uninstall, ok := resolveEntryOffset(entries, modules, wellKnown.Uninstall, func(h ModuleHeader) uint16 { return h.CleanupOffset })
	if !ok {
		return Layout{}, ErrUnknownWellKnownModule
	}

	hdr := Header{
		Magic:           ImageMagic,
		Version:         ImageVersion,
		ImageSize:       uint16(totalSize),
		IntNumber:       intVector,
		IRQNumber:       irq,
		PktAPIOffset:    pktAPI,
		IdleOffset:      idle,
		IRQOffset:       irqOff,
		UninstallOffset: uninstall,
		DataOffset:      uint16(totalSize),
		DataSize:        0,
		StackOffset:     uint16(totalSize),
		StackSize:       StackReserve,
	}

	hb := hdr.Bytes()
	copy(buf[0:ImageHeaderSize], hb[:])

	writeSerializationStub(buf, entries)

	return Layout{Header: hdr, Entries: entries, Image: buf}, nil
}

func resolveEntryOffset(entries []LayoutEntry, modules []Module, wantID uint16, pick func(ModuleHeader) uint16) (uint16, bool) {
	for i, m := range modules {
		if m.Header.ID == wantID {
			return entries[i].DstOffset + pick(m.Header), true
		}
	}

	return 0, false
}

// writeSerializationStub writes a two-byte short-branch-to-next-
// instruction (EB 00, "JMP $+2") at the first module's entry offset, then
// fences, per §4.G: "the prefetch-serialization write is the final act of
// the builder." After this point the image is immutable. Every module's
// hot section is expected to reserve its first two bytes as a landing pad
// for exactly this purpose when it may be selected first.
func writeSerializationStub(buf []byte, entries []LayoutEntry) {
	if len(entries) == 0 {
		return
	}

	at := entries[0].DstOffset
	buf[at] = 0xEB
	buf[at+1] = 0x00

	fenceFunc()
}
