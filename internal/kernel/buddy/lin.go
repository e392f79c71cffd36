package buddy

import (
	"github.com/hmos3/kmazy/internal/kerr"
)

// LinBuddy is the linear (virtual) buddy allocator (C3): identical
// algorithm to PhysBuddy, but each allocated block remembers its own
// order so a later Release(address) needs no size argument, and
// optionally carries a "linked to physical pages" flag so a higher
// layer (paging) knows to tear down backing frames before the linear
// range is returned to the free-list.
type LinBuddy struct {
	c *core
}

// NewLinBuddy creates a linear buddy allocator over
// [begin, begin+blockCount*4KiB), entirely free.
func NewLinBuddy(begin uintptr, blockCount int) *LinBuddy {
	c := newCore(begin, blockCount)
	c.freeSize = 0
	// the whole span starts as free blocks coalesced to the largest
	// possible order, exactly like a physical span with no reservations.
	for i := 0; i < blockCount; i++ {
		c.blocks[i].refcnt = 0
	}
	for i := 0; i < blockCount; i++ {
		if !c.blocks[i].onFreelist {
			c.blocks[i].sizeOrder = MinOrder
			c.releaseLocked(i)
		}
	}
	return &LinBuddy{c: c}
}

// Allocate reserves a linear range of the requested size, optionally
// marked "linked to physical pages" (withPhys), and returns its base
// address.
func (lb *LinBuddy) Allocate(size uintptr, withPhys bool) (uintptr, kerr.Err_t) {
	want := ceilOrder(size)
	if want > MaxOrder {
		return 0, kerr.ErrInval
	}
	lb.c.mu.Lock()
	defer lb.c.mu.Unlock()
	idx, ok := lb.c.allocateLocked(want)
	if !ok {
		return 0, kerr.ErrNoMem
	}
	lb.c.blocks[idx].linkedToPhys = withPhys
	return lb.c.addrOf(idx), kerr.OK
}

// Release returns the block at addr to its free-list, recovering the
// block's recorded order. It reports whether the block was linked to
// physical pages, so callers know whether to tear down backing frames.
func (lb *LinBuddy) Release(addr uintptr) (linkedToPhys bool, err kerr.Err_t) {
	lb.c.mu.Lock()
	defer lb.c.mu.Unlock()
	if !lb.c.inRange(addr) {
		return false, kerr.ErrInval
	}
	idx := lb.c.indexOf(addr)
	linkedToPhys = lb.c.blocks[idx].linkedToPhys
	lb.c.blocks[idx].linkedToPhys = false
	lb.c.releaseLocked(idx)
	return linkedToPhys, kerr.OK
}

// FreeBytes returns the manager's total free bytes.
func (lb *LinBuddy) FreeBytes() uintptr {
	lb.c.mu.Lock()
	defer lb.c.mu.Unlock()
	return lb.c.FreeBytesLocked()
}

// InRange reports whether addr is managed by this allocator.
func (lb *LinBuddy) InRange(addr uintptr) bool {
	lb.c.mu.Lock()
	defer lb.c.mu.Unlock()
	return lb.c.inRange(addr)
}
