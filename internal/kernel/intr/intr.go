// Package intr implements the interrupt table and PIC abstraction (C6):
// vector allocation, handler chains, EOI dispatch, and IPI delivery
// over either a legacy 8259 or a local+IO APIC.
//
// Grounded on the teacher's apic.irq_mask/irq_unmask/INT_KBD/IRQ_BASE
// vector bookkeeping in main.go's trapstub, and on Design Notes sec9's
// explicit instruction to model the PIC as a tagged sum type rather
// than an inheritance hierarchy.
package intr

import (
	"github.com/hmos3/kmazy/internal/kerr"
	"github.com/hmos3/kmazy/internal/kernel/lock"
)

// Handler is a vector's callback: it receives the vector number and the
// opaque argument it was registered with.
type Handler func(vector uint8, arg interface{})

type handlerEntry struct {
	fn  Handler
	arg interface{}
}

// Table is the vector table: RegisterGeneral finds a free vector in a
// sub-range, RegisterAt installs at a fixed vector (syscall/spurious),
// and SetHandler/AddHandler mutate an already-allocated vector (used by
// drivers sharing an IRQ vector).
type Table struct {
	mu       lock.Spinlock
	handlers [256][]handlerEntry
	inUse    [256]bool

	// GeneralLow/GeneralHigh bound the sub-range RegisterGeneral scans,
	// spec.md sec4.5's "usually 0x20..0xef".
	GeneralLow, GeneralHigh uint8
}

// NewTable constructs a vector table with the default general-purpose
// range spec.md sec4.5 names.
func NewTable() *Table {
	return &Table{GeneralLow: 0x20, GeneralHigh: 0xef}
}

// RegisterGeneral finds a free vector in [GeneralLow, GeneralHigh],
// installs handler as its sole entry, and returns the vector.
func (t *Table) RegisterGeneral(h Handler, arg interface{}) (uint8, kerr.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for v := int(t.GeneralLow); v <= int(t.GeneralHigh); v++ {
		if !t.inUse[v] {
			t.inUse[v] = true
			t.handlers[v] = []handlerEntry{{fn: h, arg: arg}}
			return uint8(v), kerr.OK
		}
	}
	return 0, kerr.ErrNoMem
}

// RegisterAt installs handler at a fixed vector number (the syscall and
// spurious vectors are assigned this way).
func (t *Table) RegisterAt(vector uint8, h Handler, arg interface{}) kerr.Err_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.inUse[vector] {
		return kerr.ErrExist
	}
	t.inUse[vector] = true
	t.handlers[vector] = []handlerEntry{{fn: h, arg: arg}}
	return kerr.OK
}

// SetHandler replaces the handler chain for an already-allocated
// vector with a single new handler.
func (t *Table) SetHandler(vector uint8, h Handler, arg interface{}) kerr.Err_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.inUse[vector] {
		return kerr.ErrNoMatch
	}
	t.handlers[vector] = []handlerEntry{{fn: h, arg: arg}}
	return kerr.OK
}

// AddHandler appends a handler to an already-allocated vector's chain,
// used when drivers share an IRQ vector.
func (t *Table) AddHandler(vector uint8, h Handler, arg interface{}) kerr.Err_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.inUse[vector] {
		return kerr.ErrNoMatch
	}
	t.handlers[vector] = append(t.handlers[vector], handlerEntry{fn: h, arg: arg})
	return kerr.OK
}

// Dispatch invokes every handler chained to vector, in registration
// order. Called by the trap entry path; runs with interrupts disabled
// per spec.md sec5.
func (t *Table) Dispatch(vector uint8) {
	t.mu.Lock()
	chain := append([]handlerEntry(nil), t.handlers[vector]...)
	t.mu.Unlock()
	for _, e := range chain {
		e.fn(vector, e.arg)
	}
}
