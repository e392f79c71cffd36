// Package paging implements the page manager (C4): two-level page
// tables translating linear to physical addresses, lazy intermediate
// table allocation/teardown, and cross-processor TLB shootdown.
//
// Grounded on spec.md sec4.3 and on gopher-os's vmm.go walk/PDT shape
// (FlagPresent/FlagRW/FlagCopyOnWrite-style attribute bits, a
// PageDirectoryTable with Map/Activate) generalized to the present-count
// and external-PDE bookkeeping spec.md calls for, which gopher-os (a
// uniprocessor kernel) does not need.
package paging

import (
	"github.com/hmos3/kmazy/internal/kerr"
	"github.com/hmos3/kmazy/internal/kernel/buddy"
	"github.com/hmos3/kmazy/internal/kernel/lock"
)

const (
	// PageSize is the architecture's base page size.
	PageSize = 4096
	// entriesPerTable is 1024 32-bit PTEs per 4 KiB table, the classic
	// 32-bit non-PAE two-level layout spec.md sec1 targets.
	entriesPerTable = 1024
	dirBits         = 10
	tblBits         = 10
	offsetBits      = 12
)

// Attr is a page/heap attribute, the enumerated set from spec.md sec6.
type Attr uint32

const (
	KernelPage          Attr = 1 << iota // kernel-only, read/write
	KernelNonCachedPage                  // same, cache disabled (MMIO)
	UserReadOnlyPage
	UserWritablePage
	UserNonCachedPage
)

func (a Attr) writable() bool { return a&(UserWritablePage) != 0 || a == KernelPage || a == KernelNonCachedPage }
func (a Attr) user() bool     { return a&(UserReadOnlyPage|UserWritablePage|UserNonCachedPage) != 0 }
func (a Attr) nocache() bool  { return a&(KernelNonCachedPage|UserNonCachedPage) != 0 }

// pte is one page-table entry's software-visible state.
type pte struct {
	present     bool
	writable    bool
	user        bool
	dirty       bool
	accessed    bool
	autoRelease bool // OS-reserved bit: release the underlying frame on unmap
	nocache     bool
	phys        uintptr // retained across invalidate so unmap can still find the frame
}

// pageTableSlot is one page-directory slot: the intermediate table it
// points to (lazily allocated) plus the present-count/flags bookkeeping
// spec.md sec3 assigns to it.
type pageTableSlot struct {
	tablePhys        uintptr
	entries          [entriesPerTable]pte
	present          int
	releaseWhenEmpty bool
	external         bool // copied from the kernel directory; never freed here
	allocated        bool
}

// Manager is one address space's page manager (spec.md sec3 "Each
// address space owns a page manager").
type Manager struct {
	mu lock.Spinlock

	phys *buddy.PhysBuddy // backs intermediate table allocation

	dir [entriesPerTable]*pageTableSlot

	// reservedBegin/reservedEnd is the linear range where this
	// manager's own table set lives (spec.md sec3).
	reservedBegin, reservedEnd uintptr

	// kernel is the kernel's own manager, used to source external
	// (shared, never-freed) directory slots for a user manager. nil
	// for the kernel manager itself.
	kernel *Manager
}

// NewKernelManager creates the kernel's page manager: its tables live
// entirely in the kernel-reserved linear window, so physical addresses
// for that window are trivially linear-minus-offset and there is no
// self-reference to another manager.
func NewKernelManager(phys *buddy.PhysBuddy, reservedBegin, reservedEnd uintptr) *Manager {
	return &Manager{phys: phys, reservedBegin: reservedBegin, reservedEnd: reservedEnd}
}

// NewUserManager creates a page manager on top of existing physical
// pages for a new task: kernel-window directory entries are copied from
// the kernel manager with the external bit set (so the user manager
// never frees them) (spec.md sec4.3 "Kernel vs. user page managers").
// The user's reserved range [reservedBegin, reservedEnd) is recorded
// only; nothing is mapped into it.
func NewUserManager(phys *buddy.PhysBuddy, kernel *Manager, reservedBegin, reservedEnd uintptr, kernelDirIndices []int) *Manager {
	m := &Manager{phys: phys, reservedBegin: reservedBegin, reservedEnd: reservedEnd, kernel: kernel}
	kernel.mu.Lock()
	defer kernel.mu.Unlock()
	for _, di := range kernelDirIndices {
		if slot := kernel.dir[di]; slot != nil {
			// real hardware copies the PDE value, so both directories'
			// slot points at the *same* physical table frame; this
			// portable model has no single physical table to alias, so
			// it snapshots the slot's contents instead. The external
			// bit still does its job: the owning (user) manager's
			// ReleaseInvalidatedPage never frees the table frame or
			// touches the kernel's present count for it.
			shared := *slot
			shared.external = true
			m.dir[di] = &shared
		}
	}
	return m
}

func dirIndex(linear uintptr) int { return int((linear >> (tblBits + offsetBits)) & (entriesPerTable - 1)) }
func tblIndex(linear uintptr) int { return int((linear >> offsetBits) & (entriesPerTable - 1)) }

// SetPage maps linear to physical with the given attributes, allocating
// an intermediate page-table frame if the directory slot is absent
// (spec.md sec4.3).
func (m *Manager) SetPage(linear, physAddr uintptr, attr Attr, autoRelease bool) kerr.Err_t {
	m.mu.Lock()
	defer m.mu.Unlock()

	di, ti := dirIndex(linear), tblIndex(linear)
	slot := m.dir[di]
	if slot == nil {
		tphys, err := m.phys.Allocate(PageSize)
		if err != kerr.OK {
			return err
		}
		slot = &pageTableSlot{tablePhys: tphys, releaseWhenEmpty: true, allocated: true}
		m.dir[di] = slot
	}
	// external slots are shared with the kernel directory and are never
	// split further by the owning (user) manager; writing a leaf PTE into
	// them is still allowed since leaf permissions are independent of the PDE.

	e := &slot.entries[ti]
	wasPresent := e.present
	*e = pte{
		present:     true,
		writable:    attr.writable(),
		user:        attr.user(),
		nocache:     attr.nocache(),
		autoRelease: autoRelease,
		phys:        physAddr,
	}
	if !wasPresent && !slot.external {
		slot.present++
	}
	return kerr.OK
}

// Translate returns the physical address linear currently maps to, and
// whether the mapping is present.
func (m *Manager) Translate(linear uintptr) (uintptr, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot := m.dir[dirIndex(linear)]
	if slot == nil {
		return 0, false
	}
	e := &slot.entries[tblIndex(linear)]
	if !e.present {
		return 0, false
	}
	return e.phys + (linear & (PageSize - 1)), true
}

// InvalidatePage clears the PTE's present bit but retains its physical
// address so a later ReleaseInvalidatedPage can still find the frame
// (spec.md sec4.3).
func (m *Manager) InvalidatePage(linear uintptr, backend invalidator) {
	m.mu.Lock()
	slot := m.dir[dirIndex(linear)]
	if slot != nil {
		slot.entries[tblIndex(linear)].present = false
	}
	m.mu.Unlock()
	if backend != nil {
		backend.Invlpg(linear)
	}
}

// invalidator is the subset of arch.Backend paging needs, kept as a
// tiny local interface so this package doesn't import internal/arch
// (which would make the hardware boundary depend on a portable
// package -- backwards from the intended layering).
type invalidator interface {
	Invlpg(linear uintptr)
}

// ReleaseInvalidatedPage reclaims the physical frame if the PTE had
// autoRelease set, and decrements the slot's present count, freeing the
// table itself if it becomes empty and releaseWhenEmpty is set
// (spec.md sec4.3).
func (m *Manager) ReleaseInvalidatedPage(linear uintptr) kerr.Err_t {
	m.mu.Lock()
	defer m.mu.Unlock()

	di, ti := dirIndex(linear), tblIndex(linear)
	slot := m.dir[di]
	if slot == nil {
		return kerr.ErrInval
	}
	e := &slot.entries[ti]
	auto := e.autoRelease
	physAddr := e.phys
	*e = pte{}

	if !slot.external {
		slot.present--
		if slot.present <= 0 && slot.releaseWhenEmpty {
			m.dir[di] = nil
			if slot.allocated {
				m.phys.Release(slot.tablePhys)
			}
		}
	}

	if auto {
		return m.phys.ReleaseOrUnmap(physAddr)
	}
	return kerr.OK
}

// Unmap tears down a linear range of pages in the three-phase sequence
// spec.md sec4.3 requires: invalidate every PTE, shoot down the TLB
// across processors, then -- only after the shootdown completes --
// free frames and empty page-tables. No other processor may
// dereference a freed frame through a stale TLB.
func (m *Manager) Unmap(begin uintptr, pages int, shoot *Shootdown, isGlobal bool) kerr.Err_t {
	cr3 := m.CR3()
	for i := 0; i < pages; i++ {
		linear := begin + uintptr(i)*PageSize
		m.InvalidatePage(linear, nil)
	}
	if shoot != nil {
		shoot.Broadcast(cr3, begin, uintptr(pages)*PageSize, isGlobal)
	}
	var first kerr.Err_t = kerr.OK
	for i := 0; i < pages; i++ {
		linear := begin + uintptr(i)*PageSize
		if err := m.ReleaseInvalidatedPage(linear); err != kerr.OK && first == kerr.OK {
			first = err
		}
	}
	return first
}

// CR3 returns the physical address this manager would program into the
// CR3 control register. In this portable implementation the directory
// itself has no backing physical frame (it is a Go struct, not a 4 KiB
// table), so CR3 is a stable per-manager identity token derived from
// the manager's address -- exactly as much as the shootdown protocol
// needs to compare "is this the sender's address space".
func (m *Manager) CR3() uintptr {
	return uintptr(uintptrOf(m))
}
