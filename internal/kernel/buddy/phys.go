package buddy

import (
	"github.com/hmos3/kmazy/internal/kerr"
)

// RangeKind classifies one entry of the firmware-provided memory map
// (the BIOS/UEFI memory map is out of scope per spec.md sec1 -- only
// its effect on block birth-state is modeled here).
type RangeKind int

const (
	Usable RangeKind = iota
	Reserved
	ACPI
	Bad
)

// MemRange is one firmware memory-map entry.
type MemRange struct {
	Base, Length uintptr
	Kind         RangeKind
}

// PhysBuddy is the physical buddy allocator (C2): a contiguous physical
// span partitioned into 4 KiB..1 GiB blocks, each carrying a saturating
// reference count in addition to the shared free-list bookkeeping.
type PhysBuddy struct {
	c *core
}

// NewPhysBuddy walks the firmware memory map and builds a physical
// buddy allocator over [begin, begin+blockCount*4KiB). A block is born
// free iff the full 4 KiB region it represents is entirely contained in
// a Usable range and does not overlap any Reserved/ACPI/Bad range nor
// the manager's own footprint (spec.md sec4.1 "Initialization").
func NewPhysBuddy(begin uintptr, blockCount int, memMap []MemRange, selfFootprint MemRange) *PhysBuddy {
	c := newCore(begin, blockCount)
	pb := &PhysBuddy{c: c}

	for i := 0; i < blockCount; i++ {
		addr := c.addrOf(i)
		if usableRegion(addr, MinBlockSize, memMap) && !overlaps(addr, MinBlockSize, selfFootprint) {
			c.blocks[i].refcnt = 0
		} else {
			c.blocks[i].refcnt = refcntInvalid
		}
	}

	// coalesce consecutive free 4 KiB blocks into the largest possible
	// order by releasing each born-free block through the normal
	// release path, which self-coalesces.
	c.freeSize = 0
	for i := 0; i < blockCount; i++ {
		if c.blocks[i].refcnt == 0 {
			c.blocks[i].sizeOrder = MinOrder
			c.releaseLocked(i)
		}
	}
	return pb
}

func overlaps(addr uintptr, size uintptr, r MemRange) bool {
	if r.Length == 0 {
		return false
	}
	return addr < r.Base+r.Length && r.Base < addr+size
}

func usableRegion(addr, size uintptr, memMap []MemRange) bool {
	for _, r := range memMap {
		if r.Kind != Usable {
			continue
		}
		if addr >= r.Base && addr+size <= r.Base+r.Length {
			return true
		}
	}
	return false
}

// Allocate rounds size up to a power-of-two order and returns the
// aligned physical base address of a freshly split block, or ErrNoMem
// if no order >= the requested one has a free block, or ErrInval if
// the requested order exceeds MaxOrder.
func (pb *PhysBuddy) Allocate(size uintptr) (uintptr, kerr.Err_t) {
	want := ceilOrder(size)
	if want > MaxOrder {
		return 0, kerr.ErrInval
	}
	pb.c.mu.Lock()
	defer pb.c.mu.Unlock()
	idx, ok := pb.c.allocateLocked(want)
	if !ok {
		return 0, kerr.ErrNoMem
	}
	pb.c.blocks[idx].refcnt = 1
	return pb.c.addrOf(idx), kerr.OK
}

// Release returns the block at addr to its free-list, coalescing with
// its buddy while possible.
func (pb *PhysBuddy) Release(addr uintptr) kerr.Err_t {
	pb.c.mu.Lock()
	defer pb.c.mu.Unlock()
	if !pb.c.inRange(addr) {
		return kerr.ErrInval
	}
	idx := pb.c.indexOf(addr)
	pb.c.blocks[idx].refcnt = 0
	pb.c.releaseLocked(idx)
	return kerr.OK
}

// AddRef increments addr's reference count, saturating at refcntMax
// and returning ErrBusy at saturation (spec.md sec4.1).
func (pb *PhysBuddy) AddRef(addr uintptr) kerr.Err_t {
	pb.c.mu.Lock()
	defer pb.c.mu.Unlock()
	if !pb.c.inRange(addr) {
		return kerr.ErrInval
	}
	idx := pb.c.indexOf(addr)
	rc := &pb.c.blocks[idx].refcnt
	if *rc >= refcntMax {
		return kerr.ErrBusy
	}
	*rc++
	return kerr.OK
}

// ReleaseOrUnmap decrements addr's reference count; at zero, releases
// the block back to its free-list (spec.md sec4.1).
func (pb *PhysBuddy) ReleaseOrUnmap(addr uintptr) kerr.Err_t {
	pb.c.mu.Lock()
	if !pb.c.inRange(addr) {
		pb.c.mu.Unlock()
		return kerr.ErrInval
	}
	idx := pb.c.indexOf(addr)
	rc := &pb.c.blocks[idx].refcnt
	if *rc <= 0 {
		pb.c.mu.Unlock()
		return kerr.ErrInval
	}
	*rc--
	zero := *rc == 0
	pb.c.mu.Unlock()
	if zero {
		return pb.Release(addr)
	}
	return kerr.OK
}

// FreeBytes returns the sum over free-lists of (2^order * count), the
// quantity spec.md sec8's core invariant is checked against.
func (pb *PhysBuddy) FreeBytes() uintptr {
	pb.c.mu.Lock()
	defer pb.c.mu.Unlock()
	return pb.c.FreeBytesLocked()
}

// InRange reports whether addr is managed by this allocator.
func (pb *PhysBuddy) InRange(addr uintptr) bool {
	pb.c.mu.Lock()
	defer pb.c.mu.Unlock()
	return pb.c.inRange(addr)
}

// BlockCount reports the number of 4 KiB blocks in the managed span.
func (pb *PhysBuddy) BlockCount() int { return pb.c.blockCount }
