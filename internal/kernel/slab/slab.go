// Package slab implements the fixed-size-class object allocator (C5):
// each slab is carved from pages obtained from the linear+physical
// managers into equal objects linked on a per-slab free-list; a
// small table of chains indexed by rounded-up size handles requests,
// and larger requests fall through to raw page allocation (spec.md
// sec4.4).
package slab

import (
	"github.com/hmos3/kmazy/internal/kerr"
	"github.com/hmos3/kmazy/internal/kernel/buddy"
	"github.com/hmos3/kmazy/internal/kernel/lock"
	"github.com/hmos3/kmazy/internal/kernel/paging"
)

// sizeClasses are the rounded-up object sizes this allocator serves
// directly; anything larger falls through to raw page allocation.
// Alignment is at least sizeof(pointer), satisfied by every class here.
var sizeClasses = []uintptr{16, 32, 64, 128, 256, 512, 1024, 2048}

// slabPage is one slab: a page's worth of equal-sized objects with a
// free-list kept in the nextFree index array beside the page; the free
// objects themselves are never written to.
type slabPage struct {
	base      uintptr // linear address of the page
	objSize   uintptr
	free      int
	total     int
	freeHead  int // index of first free object, -1 if full
	nextFree  []int32
	next, prev *slabPage
}

// chain is the set of slabPage's for one size class.
type chain struct {
	mu       lock.Spinlock
	objSize  uintptr
	partial  *slabPage // slabs with at least one free object
}

// Allocator is the slab allocator: one chain per size class, backed by
// a linear allocator (for page addresses) and a page manager (to back
// those addresses with physical frames).
type Allocator struct {
	lin    *buddy.LinBuddy
	pm     *paging.Manager
	phys   *buddy.PhysBuddy
	chains []chain
}

// New constructs a slab allocator over the given linear range, page
// manager, and physical allocator.
func New(lin *buddy.LinBuddy, pm *paging.Manager, phys *buddy.PhysBuddy) *Allocator {
	a := &Allocator{lin: lin, pm: pm, phys: phys, chains: make([]chain, len(sizeClasses))}
	for i, sz := range sizeClasses {
		a.chains[i].objSize = sz
	}
	return a
}

func classFor(size uintptr) int {
	for i, sz := range sizeClasses {
		if size <= sz {
			return i
		}
	}
	return -1
}

// Alloc returns the linear address of a freshly allocated object of the
// given size, and kerr.OK or the error that prevented it. Requests larger than the largest size
// class fall through to a raw page allocation (possibly spanning
// multiple pages, rounded up).
func (a *Allocator) Alloc(size uintptr) (uintptr, kerr.Err_t) {
	if size == 0 {
		return 0, kerr.ErrInval
	}
	ci := classFor(size)
	if ci == -1 {
		return a.allocRaw(size)
	}
	c := &a.chains[ci]
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.partial == nil {
		sp, err := a.newSlab(c.objSize)
		if err != kerr.OK {
			return 0, err
		}
		c.partial = sp
	}
	sp := c.partial
	idx := sp.freeHead
	sp.freeHead = int(sp.nextFree[idx])
	sp.free--
	if sp.free == 0 {
		c.partial = sp.next
		if c.partial != nil {
			c.partial.prev = nil
		}
		sp.next = nil
	}
	return sp.base + uintptr(idx)*sp.objSize, kerr.OK
}

// Free returns obj (originally allocated at the given size) to its
// slab's free-list; a fully empty slab is released back to the
// page/linear managers.
func (a *Allocator) Free(obj uintptr, size uintptr) kerr.Err_t {
	ci := classFor(size)
	if ci == -1 {
		return a.freeRaw(obj, size)
	}
	c := &a.chains[ci]
	c.mu.Lock()
	defer c.mu.Unlock()

	sp := findSlab(c.partial, obj, c.objSize)
	if sp == nil {
		return kerr.ErrInval
	}
	idx := int((obj - sp.base) / sp.objSize)
	sp.nextFree[idx] = int32(sp.freeHead)
	wasFull := sp.free == 0
	sp.freeHead = idx
	sp.free++
	if wasFull {
		sp.next = c.partial
		if c.partial != nil {
			c.partial.prev = sp
		}
		c.partial = sp
	}
	if sp.free == sp.total {
		a.releaseSlab(c, sp)
	}
	return kerr.OK
}

func findSlab(head *slabPage, obj uintptr, objSize uintptr) *slabPage {
	for sp := head; sp != nil; sp = sp.next {
		end := sp.base + uintptr(sp.total)*sp.objSize
		if obj >= sp.base && obj < end {
			return sp
		}
	}
	return nil
}

func (a *Allocator) newSlab(objSize uintptr) (*slabPage, kerr.Err_t) {
	linear, err := a.lin.Allocate(paging.PageSize, true)
	if err != kerr.OK {
		return nil, err
	}
	frame, err := a.phys.Allocate(paging.PageSize)
	if err != kerr.OK {
		a.lin.Release(linear)
		return nil, err
	}
	if err := a.pm.SetPage(linear, frame, paging.KernelPage, true); err != kerr.OK {
		a.phys.Release(frame)
		a.lin.Release(linear)
		return nil, err
	}

	total := int(paging.PageSize / objSize)
	sp := &slabPage{base: linear, objSize: objSize, total: total, free: total, nextFree: make([]int32, total)}
	for i := 0; i < total; i++ {
		sp.nextFree[i] = int32(i + 1)
	}
	sp.nextFree[total-1] = -1
	sp.freeHead = 0
	return sp, kerr.OK
}

func (a *Allocator) releaseSlab(c *chain, sp *slabPage) {
	if sp.prev != nil {
		sp.prev.next = sp.next
	} else if c.partial == sp {
		c.partial = sp.next
	}
	if sp.next != nil {
		sp.next.prev = sp.prev
	}
	a.pm.InvalidatePage(sp.base, nil)
	a.pm.ReleaseInvalidatedPage(sp.base)
	a.lin.Release(sp.base)
}

func (a *Allocator) allocRaw(size uintptr) (uintptr, kerr.Err_t) {
	pages := (size + paging.PageSize - 1) / paging.PageSize
	linear, err := a.lin.Allocate(pages*paging.PageSize, true)
	if err != kerr.OK {
		return 0, err
	}
	for i := uintptr(0); i < pages; i++ {
		frame, err := a.phys.Allocate(paging.PageSize)
		if err != kerr.OK {
			return 0, err
		}
		if err := a.pm.SetPage(linear+i*paging.PageSize, frame, paging.KernelPage, true); err != kerr.OK {
			return 0, err
		}
	}
	return linear, kerr.OK
}

func (a *Allocator) freeRaw(addr uintptr, size uintptr) kerr.Err_t {
	pages := (size + paging.PageSize - 1) / paging.PageSize
	return a.pm.Unmap(addr, int(pages), nil, false)
}
