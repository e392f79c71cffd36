// Package ctx threads the kernel's singleton managers through an
// explicit value instead of package-level globals, per Design Notes
// sec9: "Model them as an explicit KernelContext value threaded
// through every entry point."
//
// Grounded on the teacher's global mutable `kernel` bag (the various
// package-level *_t managers main.go wires up once at boot) reshaped
// into a value passed to every subsystem instead of referenced as an
// ambient singleton.
package ctx

import (
	"github.com/hmos3/kmazy/internal/kernel/buddy"
	"github.com/hmos3/kmazy/internal/kernel/paging"
	"github.com/hmos3/kmazy/internal/kernel/slab"
	"github.com/hmos3/kmazy/internal/kernel/smp"
	"github.com/hmos3/kmazy/internal/kernel/syscall"
	"github.com/hmos3/kmazy/internal/kernel/task"
)

// KernelContext is the process-wide state created once at boot and
// threaded through every subsystem entry point (spec.md Design Notes
// sec9).
type KernelContext struct {
	Phys    *buddy.PhysBuddy
	Linear  *buddy.LinBuddy
	Pages   *paging.Manager
	Heap    *slab.Allocator
	Syscall *syscall.Table
	SMP     *smp.System
}

// New wires the managers together in boot order: physical buddy first
// (everything else allocates from it), then the kernel's linear range
// and page manager, then the slab heap on top of those, then the
// syscall table and multiprocessor registry.
func New(phys *buddy.PhysBuddy, lin *buddy.LinBuddy, pages *paging.Manager) *KernelContext {
	return &KernelContext{
		Phys:    phys,
		Linear:  lin,
		Pages:   pages,
		Heap:    slab.New(lin, pages, phys),
		Syscall: syscall.NewTable(),
		SMP:     smp.NewSystem(),
	}
}

// Registry adapts SMP's processor lookup to the signature
// task.Resume/sync2's primitives expect.
func (kc *KernelContext) Registry(proc int) *task.Local {
	return kc.SMP.Registry(proc)
}
