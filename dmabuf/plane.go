// Package dmabuf implements the DMA-aware buffer plane (component C): see
// category.go for the grounding note on the slab-pool design.
package dmabuf

import (
	"unsafe"

	"github.com/jfabienke/3com-packet-driver-sub001/internal/corelog"
)

// PoolCounts gives the slab count for each size class within one category.
type PoolCounts [4]int

// DefaultCounts is the baseline slab population per category, sized for a
// single NIC's worth of in-flight descriptors plus headroom: DmaSafe pools
// back actual transmit/receive buffers so they carry the most slabs,
// CopyOnly exists mainly for bounce buffers above the ISA ceiling, and
// Metadata only ever holds small control structures.
func DefaultCounts(category Category) PoolCounts {
	switch category {
	case DmaSafe:
		return PoolCounts{16, 12, 20, 8}
	case CopyOnly:
		return PoolCounts{8, 8, 4, 2}
	default: // Metadata
		return PoolCounts{8, 4, 2, 1}
	}
}

// Plane composes the three categories, each split into four size classes,
// for twelve pools total.
type Plane struct {
	pools [3][4]*Pool
}

// NewPlane builds a Plane with the default pool population.
func NewPlane() *Plane {
	return NewPlaneWithCounts(DefaultCounts(DmaSafe), DefaultCounts(CopyOnly), DefaultCounts(Metadata))
}

// NewPlaneWithCounts builds a Plane, allowing the caller to size each
// category's pools explicitly; primarily used by tests that need small
// pools to exercise exhaustion paths.
func NewPlaneWithCounts(dmaSafe, copyOnly, metadata PoolCounts) *Plane {
	pl := &Plane{}

	counts := [3]PoolCounts{dmaSafe, copyOnly, metadata}
	for cat := 0; cat < 3; cat++ {
		for sc := 0; sc < 4; sc++ {
			pl.pools[cat][sc] = NewPool(Category(cat), SizeClass(sc), counts[cat][sc])
		}
	}

	return pl
}

func (pl *Plane) pool(category Category, sizeClass SizeClass) *Pool {
	return pl.pools[category][sizeClass]
}

// LockDMASafe locks all four DmaSafe pools through virtual DMA services,
// verifying each backing region sits below the ISA 16MiB ceiling. A pool
// that cannot be locked below the ceiling stays unlocked: allocations from
// it still succeed (the pool is a normal slab arena either way) but
// PhysicalAddressOf will report not-ok for its buffers, and callers in
// dmapolicy must treat that as "not DMA safe" for this pool.
func (pl *Plane) LockDMASafe() {
	for sc := 0; sc < 4; sc++ {
		p := pl.pool(DmaSafe, SizeClass(sc))
		if len(p.backing) == 0 {
			continue
		}

		linear := uint32(uintptr(unsafe.Pointer(&p.backing[0])))
		handle, phys, ok := lockBelowCeiling(linear, uint32(len(p.backing)))
		if !ok {
			corelog.Warnf("dmabuf: dma-safe pool %s could not be locked below ISA ceiling", SizeClass(sc))
			continue
		}

		p.Lock(handle, phys)
	}
}

// AllocDMA allocates a buffer of at least n bytes from the DmaSafe category.
func (pl *Plane) AllocDMA(n int) ([]byte, Handle, bool) {
	return pl.alloc(DmaSafe, n)
}

// AllocCopy allocates a buffer of at least n bytes from the CopyOnly
// category, for bounce-buffer use when a transfer's source or destination
// cannot be proven DMA-safe.
func (pl *Plane) AllocCopy(n int) ([]byte, Handle, bool) {
	return pl.alloc(CopyOnly, n)
}

// AllocMeta allocates a buffer of at least n bytes from the Metadata
// category, for control structures such as descriptor rings.
func (pl *Plane) AllocMeta(n int) ([]byte, Handle, bool) {
	return pl.alloc(Metadata, n)
}

func (pl *Plane) alloc(category Category, n int) ([]byte, Handle, bool) {
	sc, ok := sizeClassFor(n)
	if !ok {
		return nil, Handle{}, false
	}

	buf, h, ok := pl.pool(category, sc).Alloc()
	if !ok {
		corelog.Warnf("dmabuf: pool %s/%s exhausted", category, sc)
		return nil, Handle{}, false
	}

	return buf[:n], h, true
}

// Free releases a handle back to its owning pool.
func (pl *Plane) Free(h Handle) bool {
	return pl.pool(h.category, h.sizeClass).Free(h)
}

// PhysicalAddressOf returns the physical address backing a DmaSafe handle,
// or ok=false if the handle's pool was never successfully locked below the
// ISA ceiling.
func (pl *Plane) PhysicalAddressOf(h Handle) (uint32, bool) {
	if h.category != DmaSafe {
		return 0, false
	}

	p := pl.pool(h.category, h.sizeClass)
	base, locked := p.PhysicalBase()
	if !locked {
		return 0, false
	}

	linear := p.AddressOf(h)
	poolLinear := uint32(uintptr(unsafe.Pointer(&p.backing[0])))

	return base + (uint32(linear) - poolLinear), true
}

// Pool exposes a single pool directly, for refill and health queries that
// need per-(category,size class) granularity.
func (pl *Plane) Pool(category Category, sizeClass SizeClass) *Pool {
	return pl.pool(category, sizeClass)
}

// RefillNeeded reports every (category, size class) pair currently at or
// below its low watermark.
func (pl *Plane) RefillNeeded() []Handle {
	var needs []Handle

	for cat := 0; cat < 3; cat++ {
		for sc := 0; sc < 4; sc++ {
			if pl.pools[cat][sc].NeedsRefill() {
				needs = append(needs, Handle{category: Category(cat), sizeClass: SizeClass(sc)})
			}
		}
	}

	return needs
}
