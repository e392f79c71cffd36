// Package services provides out-of-scope driver facades (timer,
// netcard, FAT-partition reader) that register with the syscall
// service registry and complete I/O requests against it, enough to
// exercise the syscall dispatch table (C10) and I/O-request lifecycle
// (C11) end to end without implementing any real hardware driver
// (spec.md sec6: "Services publish well-known names like keyboard,
// video, enumeratepci, ahci" -- FAT32/Ethernet/DHCP/VGA/keyboard/PCI
// drivers themselves are explicit non-goals).
//
// Grounded on the teacher's kbd_daemon/network_daemon pattern: a
// driver task owns a queue of pending requests and finishes them from
// its own task rather than from interrupt context, per spec.md sec9
// "interrupt-time allocation is forbidden."
package services

import (
	"github.com/hmos3/kmazy/internal/kerr"
	"github.com/hmos3/kmazy/internal/kernel/ioreq"
	"github.com/hmos3/kmazy/internal/kernel/syscall"
	"github.com/hmos3/kmazy/internal/kernel/task"
)

// TimerFacade stands in for a hardware timer driver that registers
// under the well-known name "timer" and answers a single "read
// uptime tick count" call.
type TimerFacade struct {
	ticks uint64
}

func NewTimerFacade() *TimerFacade { return &TimerFacade{} }

func (f *TimerFacade) Register(tb *syscall.Table) (int, kerr.Err_t) {
	return tb.RegisterService("timer", func(arg interface{}, args [5]uintptr) [6]uintptr {
		self := arg.(*TimerFacade)
		return [6]uintptr{uintptr(self.ticks)}
	}, f)
}

func (f *TimerFacade) Tick() { f.ticks++ }

// NetcardFacade stands in for an Ethernet NIC driver (the real driver
// is a non-goal; spec.md's DHCP/Ethernet layers are explicitly out of
// scope). It accepts one pending receive request at a time and
// finishes it with a fixed-size frame when DeliverFrame is called,
// demonstrating the driver-task-finishes-the-request half of C11.
type NetcardFacade struct {
	pending *ioreq.Request
	frame   []uintptr
}

func NewNetcardFacade() *NetcardFacade { return &NetcardFacade{} }

func (f *NetcardFacade) Register(tb *syscall.Table) (int, kerr.Err_t) {
	return tb.RegisterService("netcard", func(arg interface{}, args [5]uintptr) [6]uintptr {
		return [6]uintptr{}
	}, f)
}

// SubmitReceive pends a request that DeliverFrame later completes.
func (f *NetcardFacade) SubmitReceive(owner *task.Task, registry func(int) *task.Local) *ioreq.Request {
	var r *ioreq.Request
	r = ioreq.New(f, true, func(instance interface{}) {
		instance.(*NetcardFacade).pending = nil
	}, func(instance interface{}, out []uintptr) int {
		return copy(out, instance.(*NetcardFacade).frame)
	}, func() { owner.DeliverIO(r, registry) })
	r.Pend()
	f.pending = r
	return r
}

// DeliverFrame finishes the currently pending receive request with
// frame, if any is outstanding and wasn't already cancelled.
func (f *NetcardFacade) DeliverFrame(frame []uintptr) bool {
	if f.pending == nil {
		return false
	}
	f.frame = frame
	return f.pending.Complete(frame)
}

// FATPartitionFacade stands in for a FAT32 partition reader (FAT32
// itself is an explicit non-goal; only the request-lifecycle interface
// it would use is exercised here). ReadSector pends a request that the
// facade's own driver loop finishes once FinishNextRead is called,
// mirroring a disk driver's IRQ-then-daemon-task completion path.
type FATPartitionFacade struct {
	queue []*ioreq.Request
	data  map[*ioreq.Request][]uintptr
}

func NewFATPartitionFacade() *FATPartitionFacade {
	return &FATPartitionFacade{data: make(map[*ioreq.Request][]uintptr)}
}

func (f *FATPartitionFacade) Register(tb *syscall.Table) (int, kerr.Err_t) {
	return tb.RegisterService("fatreader", func(arg interface{}, args [5]uintptr) [6]uintptr {
		return [6]uintptr{}
	}, f)
}

func (f *FATPartitionFacade) ReadSector(owner *task.Task, registry func(int) *task.Local, sector uintptr) *ioreq.Request {
	var r *ioreq.Request
	r = ioreq.New(f, true, func(instance interface{}) {
		fc := instance.(*FATPartitionFacade)
		delete(fc.data, r)
	}, func(instance interface{}, out []uintptr) int {
		fc := instance.(*FATPartitionFacade)
		return copy(out, fc.data[r])
	}, func() { owner.DeliverIO(r, registry) })
	r.Pend()
	f.queue = append(f.queue, r)
	return r
}

// FinishNextRead pops the oldest outstanding read and completes it
// with sector contents, modeling one disk-IRQ worth of work.
func (f *FATPartitionFacade) FinishNextRead(sectorData []uintptr) bool {
	if len(f.queue) == 0 {
		return false
	}
	r := f.queue[0]
	f.queue = f.queue[1:]
	f.data[r] = sectorData
	return r.Complete(sectorData)
}
