package dmabuf

import (
	"sync"
	"unsafe"
)

const (
	lowWatermarkPct  = 25
	highWatermarkPct = 90
)

// Handle identifies a buffer allocated from a Pool; it is opaque to callers
// other than dmabuf itself and is returned alongside the []byte view of the
// buffer.
type Handle struct {
	category  Category
	sizeClass SizeClass
	slot      int
}

// Stats mirrors the per-pool statistics in §4.C: total allocations, frees,
// failures, and peak simultaneous usage.
type Stats struct {
	Allocations uint32
	Frees       uint32
	Failures    uint32
	Peak        int
}

// Pool is a fixed-slab arena for one (category, size class) pair. The free
// list is a stack of slot indices into the backing array, grounded on the
// "arena of fixed-size slabs indexed by (pool, slot)" design note.
type Pool struct {
	mu sync.Mutex

	category  Category
	sizeClass SizeClass
	slabSize  int

	backing []byte
	free    []int // stack of free slot indices
	used    []bool

	totalCount int
	freeCount  int

	stats Stats

	// DMA-safe pools only: set once the pool's backing memory has been
	// locked by virtualization services and verified to sit below the
	// 16MiB ISA ceiling.
	vdsLockHandle uint32
	physicalBase  uint32
	locked        bool
}

// NewPool allocates a pool of n slabs of the given category and size class.
// The backing store is a single contiguous []byte; callers that need the
// pool's memory locked for DMA (category == DmaSafe) must call Lock after
// construction.
func NewPool(category Category, sizeClass SizeClass, n int) *Pool {
	slab := sizeClass.Bytes()

	p := &Pool{
		category:   category,
		sizeClass:  sizeClass,
		slabSize:   slab,
		backing:    make([]byte, slab*n),
		free:       make([]int, n),
		used:       make([]bool, n),
		totalCount: n,
		freeCount:  n,
	}

	for i := 0; i < n; i++ {
		// push in descending order so slot 0 pops first, matching a
		// typical freshly-initialized pool's allocation order.
		p.free[i] = n - 1 - i
	}

	return p
}

// Lock records the virtualization-services lock handle and the physical
// base address obtained for this pool's backing memory. Only meaningful
// for DmaSafe pools.
func (p *Pool) Lock(handle, physicalBase uint32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.vdsLockHandle = handle
	p.physicalBase = physicalBase
	p.locked = true
}

// PhysicalBase returns the pool's physical base address and whether the
// pool is currently locked.
func (p *Pool) PhysicalBase() (uint32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.physicalBase, p.locked
}

// Alloc pops a free slot and returns its buffer and handle. ok is false if
// the pool is exhausted.
func (p *Pool) Alloc() (buf []byte, h Handle, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		p.stats.Failures++
		return nil, Handle{}, false
	}

	slot := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.used[slot] = true
	p.freeCount--

	p.stats.Allocations++

	inUse := p.totalCount - p.freeCount
	if inUse > p.stats.Peak {
		p.stats.Peak = inUse
	}

	off := slot * p.slabSize
	buf = p.backing[off : off+p.slabSize]

	return buf, Handle{category: p.category, sizeClass: p.sizeClass, slot: slot}, true
}

// Free validates and releases a previously allocated handle. A handle from
// another pool, an out-of-range slot, or a double free is rejected: Free
// returns false and leaves the counters untouched. Rejected frees are not
// logged.
func (p *Pool) Free(h Handle) (ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h.category != p.category || h.sizeClass != p.sizeClass {
		return false
	}

	if h.slot < 0 || h.slot >= p.totalCount {
		return false
	}

	if !p.used[h.slot] {
		// double-free: rejected, counters untouched.
		return false
	}

	p.used[h.slot] = false
	p.free = append(p.free, h.slot)
	p.freeCount++
	p.stats.Frees++

	return true
}

// AddressOf returns the address of a handle's slab within the pool's
// backing array, for the free-list-consistency invariant checks in tests
// and for PhysicalAddressOf translation.
func (p *Pool) AddressOf(h Handle) uintptr {
	p.mu.Lock()
	defer p.mu.Unlock()

	off := h.slot * p.slabSize
	return uintptr(unsafe.Pointer(&p.backing[off]))
}

// ValidateFree checks the three conditions from §4.C before Free() is
// applied: the handle's address lies within range, the offset aligns to
// the slab size, and the slot is not already free. Exposed for tests that
// exercise the invariant directly.
func (p *Pool) ValidateFree(h Handle) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if h.slot < 0 || h.slot >= p.totalCount {
		return false
	}

	off := h.slot * p.slabSize
	if off%p.slabSize != 0 {
		return false
	}

	return p.used[h.slot]
}

// Counts returns (free, used, total) for the consistency invariant
// free_count + used_count == total_count.
func (p *Pool) Counts() (free, used, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.freeCount, p.totalCount - p.freeCount, p.totalCount
}

// StatsSnapshot returns a snapshot of the pool's allocation counters.
func (p *Pool) StatsSnapshot() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.stats
}

// NeedsRefill reports whether the pool's free count has fallen to or below
// the low watermark (25% of total).
func (p *Pool) NeedsRefill() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.freeCount*100 <= p.totalCount*lowWatermarkPct
}

// Utilization returns the pool's current utilization as a percentage.
func (p *Pool) Utilization() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.totalCount == 0 {
		return 0
	}

	return (p.totalCount - p.freeCount) * 100 / p.totalCount
}

// HealthScore derives a pool health score from failure rate, utilization,
// and a leak heuristic, per §4.C:
//
//	failure rate >10% -> -2, >5% -> -1
//	utilization  >90% -> -2, >75% -> -1
//	allocations > frees + total -> -3 (leak heuristic)
func (p *Pool) HealthScore() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	score := 0

	if p.stats.Allocations > 0 {
		failurePct := int(p.stats.Failures) * 100 / int(p.stats.Allocations+p.stats.Failures)
		switch {
		case failurePct > 10:
			score -= 2
		case failurePct > 5:
			score -= 1
		}
	}

	util := 0
	if p.totalCount > 0 {
		util = (p.totalCount - p.freeCount) * 100 / p.totalCount
	}
	switch {
	case util > highWatermarkPct:
		score -= 2
	case util > 75:
		score -= 1
	}

	if int(p.stats.Allocations) > int(p.stats.Frees)+p.totalCount {
		score -= 3
	}

	return score
}
