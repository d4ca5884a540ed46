package dmabuf

import "github.com/jfabienke/3com-packet-driver-sub001/internal/corelog"

// isaDMACeiling is the 16MiB physical address ceiling that 8237-compatible
// ISA bus-master and third-party DMA controllers cannot cross.
const isaDMACeiling = 16 * 1024 * 1024

// vdsLockFunc and vdsUnlockFunc are indirected so tests can simulate the
// virtual DMA services API (INT 4Bh) without a real VDS driver resident.
// WireVDS replaces them; the load command does not call it, so the
// defaults stay in place and report VDS as absent.
var (
	vdsLockFunc = func(linearAddr uint32, size uint32) (handle uint32, physAddr uint32, ok bool) {
		return 0, 0, false
	}
	vdsUnlockFunc = func(handle uint32) {}
)

// WireVDS installs the real lock/unlock trampolines. Must be called before
// any DmaSafe pool is locked.
func WireVDS(lock func(linearAddr, size uint32) (uint32, uint32, bool), unlock func(uint32)) {
	vdsLockFunc = lock
	vdsUnlockFunc = unlock
}

// lockBelowCeiling attempts to lock a pool's backing buffer through virtual
// DMA services and verifies the returned physical address plus its extent
// sit entirely below the ISA 16MiB ceiling. If VDS is absent, or the
// returned region crosses the ceiling, lockBelowCeiling releases the lock
// (if one was granted) and reports failure — per the Open Question
// decision, upper memory is never optimistically treated as DMA-safe.
func lockBelowCeiling(linearAddr uint32, size uint32) (handle uint32, physAddr uint32, ok bool) {
	handle, physAddr, granted := vdsLockFunc(linearAddr, size)
	if !granted {
		return 0, 0, false
	}

	end := uint64(physAddr) + uint64(size)
	if end > isaDMACeiling {
		corelog.Warnf("dmabuf: vds granted region [%#x,%#x) above ISA ceiling, releasing", physAddr, end)
		vdsUnlockFunc(handle)
		return 0, 0, false
	}

	return handle, physAddr, true
}
