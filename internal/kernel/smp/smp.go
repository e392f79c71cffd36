// Package smp implements multiprocessor bootstrap (C12): bringing up
// application processors via the STARTUP-IPI sequence, and the
// per-processor "local" structures (ready-queue scheduler, timer event
// list, PIC handle) Design Notes sec9 calls for as "an array indexed
// by processor id" rather than ambient globals.
//
// Grounded on the teacher's cpus_start/acpiinit AP-bringup sequence
// (INIT IPI, a short delay, two STARTUP IPIs at the trampoline page)
// routed through the arch.Backend hardware boundary so it is
// host-testable without real APIC hardware.
package smp

import (
	"sync"

	"github.com/hmos3/kmazy/internal/arch"
	"github.com/hmos3/kmazy/internal/kernel/intr"
	"github.com/hmos3/kmazy/internal/kernel/task"
	"github.com/hmos3/kmazy/internal/kernel/timer"
)

// startupVector is the low page (0x08000 >> 12) real-mode AP trampoline
// code is assembled at, matching the teacher's cpus_start constant.
const startupVector = 0x08

// Processor bundles one processor's thread-local state.
type Processor struct {
	ID    int
	Local *task.Local
	Timer *timer.EventList
	PIC   *intr.PIC
}

// System is the multiprocessor bring-up coordinator and per-processor
// registry.
type System struct {
	mu    sync.Mutex
	procs map[int]*Processor
}

// NewSystem constructs an empty registry.
func NewSystem() *System {
	return &System{procs: make(map[int]*Processor)}
}

// RegisterBSP installs the boot processor's (already-running) local
// state; BootAPs installs every subsequent one.
func (s *System) RegisterBSP(p *Processor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.procs[p.ID] = p
}

// Registry resolves a processor id to its task.Local, the shape
// task.Resume and sync2's primitives need.
func (s *System) Registry(id int) *task.Local {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.procs[id]
	if p == nil {
		return nil
	}
	return p.Local
}

func (s *System) Processor(id int) *Processor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[id]
}

// BootAPs brings up application processors 1..n-1 with the classic
// INIT-then-two-STARTUP IPI sequence (spec.md Design Notes; Intel MP
// spec). idleFactory builds each AP's idle task; newPIC builds its PIC
// handle (APIC on real multiprocessor hardware). onlineInit, if set, is
// called once each AP's Processor is registered, letting the caller
// run that AP's boot-time initialization (GDT/paging/APIC setup on
// real hardware; a no-op in hosted tests).
func (s *System) BootAPs(n int, idleFactory func(id int) *task.Task, newPIC func(id int) *intr.PIC, onlineInit func(id int)) {
	backend := arch.Current()
	for id := 1; id < n; id++ {
		backend.SendIPI(id, 0) // INIT IPI: reset the AP to wait-for-SIPI state
		backend.SendIPI(id, startupVector)
		backend.SendIPI(id, startupVector) // sent twice per the MP spec, in case the first is missed

		p := &Processor{
			ID:    id,
			Local: task.NewLocal(id, idleFactory(id)),
			Timer: &timer.EventList{},
			PIC:   newPIC(id),
		}
		s.mu.Lock()
		s.procs[id] = p
		s.mu.Unlock()

		if onlineInit != nil {
			onlineInit(id)
		}
	}
}

// Count returns the number of registered processors, including the
// BSP.
func (s *System) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}
