// Package task implements the task manager and preemptive scheduler
// (C8): task state, a per-processor FIFO ready-queue, voluntary
// suspension with a post-switch callback, and wakeup (spec.md sec4.7).
//
// Grounded on the teacher's proc_t/swtch/sched machinery in main.go
// (RUNNABLE/RUNNING/SLEEPING states, a per-cpu run-queue, trapret
// tail-calling sched()) and on Design Notes sec9's explicit
// "suspend-current(cb, arg)" contract. A bare-metal register-level
// context switch has no meaning on a hosted Go process, so this port
// represents "the processor currently running task X" with a blocked
// goroutine per task, handed control by a grant channel -- the same
// goroutines-as-processors test-double approach internal/arch/hosted
// uses for the hardware boundary.
package task

import (
	"sync"
	"sync/atomic"

	"github.com/hmos3/kmazy/internal/kernel/ioreq"
)

// State is a task's scheduling state (spec.md sec3).
type State int32

const (
	Running State = iota
	Ready
	Suspended
	Terminated
)

// Entry is a task's body. It receives itself and the Local scheduler
// it was dispatched on, so it can call l.Schedule()/l.SuspendCurrent
// at its own preemption points the way a real timer tick or syscall
// tail would.
type Entry func(t *Task, l *Local)

// Task is one schedulable unit (spec.md sec3): an opaque stack
// (modeled here as a parked goroutine), a state, intrusive links for
// exactly one queue at a time, a per-task pending-I/O list, and an
// optional shared-memory parent link.
type Task struct {
	ID    int
	Proc  int // processor id this task last ran on; Resume never migrates
	state atomic.Int32

	prev, next *Task // intrusive link for whichever queue currently holds this task

	started atomic.Bool
	grant   chan struct{} // signaled by the scheduler to let this task's goroutine run
	entry   Entry

	Parent *Task
	shared *sharedMem

	ioMu         sync.Mutex
	ioCompleted  []*ioreq.Request
	waitingForIO bool
}

type sharedMem struct {
	refs int32
}

func newShared() *sharedMem          { return &sharedMem{refs: 1} }
func (s *sharedMem) addRef()         { atomic.AddInt32(&s.refs, 1) }
func (s *sharedMem) release() int32  { return atomic.AddInt32(&s.refs, -1) }

// New constructs a task with the given entry point, initially READY.
func New(id int, entry Entry) *Task {
	t := &Task{ID: id, entry: entry, grant: make(chan struct{}, 1)}
	t.state.Store(int32(Ready))
	return t
}

// NewSharedChild creates a "shared-memory child" of parent (spec.md
// sec4.7): parent and child share one reference-counted sharedMem
// record, whose count this increments. Tasks carry no linear-memory
// manager, so nothing beyond that count is shared, and nothing is torn
// down when the count reaches zero.
func NewSharedChild(id int, parent *Task, entry Entry) *Task {
	t := New(id, entry)
	t.Parent = parent
	if parent.shared == nil {
		parent.shared = newShared()
	}
	parent.shared.addRef()
	t.shared = parent.shared
	return t
}

// NewIdle builds the processor's idle task: it holds the CPU whenever
// the ready-queue is empty. Rather than spin calling Schedule (a
// same-task no-op while the queue stays empty, which would busy-loop a
// real OS thread), it parks on the scheduler's wake signal until a
// task is enqueued or resumed, then asks the scheduler to look again.
func NewIdle(id int) *Task {
	return New(id, func(t *Task, l *Local) {
		for t.CurrentState() != Terminated {
			if l.ReadyEmpty() {
				l.ParkIdle()
				continue
			}
			l.Schedule()
		}
	})
}

func (t *Task) setState(s State)    { t.state.Store(int32(s)) }
func (t *Task) CurrentState() State { return State(t.state.Load()) }

// exitTeardown terminates t and decrements its shared-memory record's
// reference count (spec.md sec4.7). The caller must still hand off the
// processor via the owning Local's Exit method.
func (t *Task) exitTeardown() {
	t.setState(Terminated)
	if t.shared != nil {
		t.shared.release()
	}
}

func (t *Task) ensureStarted(l *Local) {
	if t.started.CompareAndSwap(false, true) {
		go func() {
			<-t.grant
			if t.entry != nil {
				t.entry(t, l)
			}
			t.setState(Terminated)
		}()
	}
}

// WaitIO returns a completed-and-not-yet-consumed request if one is
// already queued, otherwise suspends on this task's own wait slot
// until DeliverIO wakes it (spec.md sec4.9).
func (t *Task) WaitIO(l *Local) *ioreq.Request {
	t.ioMu.Lock()
	if len(t.ioCompleted) > 0 {
		r := t.ioCompleted[0]
		t.ioCompleted = t.ioCompleted[1:]
		t.ioMu.Unlock()
		return r
	}
	t.waitingForIO = true
	t.ioMu.Unlock()

	l.SuspendCurrent(nil, nil)

	t.ioMu.Lock()
	r := t.ioCompleted[0]
	t.ioCompleted = t.ioCompleted[1:]
	t.waitingForIO = false
	t.ioMu.Unlock()
	return r
}

// WaitIOReturn blocks until exactly r completes or is cancelled,
// stashing any other completed request this task observes along the
// way back onto its own queue so a subsequent WaitIO still sees it
// (spec.md sec4.9: "callers must not consume the same request twice").
func (t *Task) WaitIOReturn(r *ioreq.Request, l *Local, out []uintptr) int {
	for r.CurrentState() == ioreq.Pending {
		got := t.WaitIO(l)
		if got != r {
			t.ioMu.Lock()
			t.ioCompleted = append(t.ioCompleted, got)
			t.ioMu.Unlock()
		}
	}
	if r.CurrentState() != ioreq.Completed {
		return 0
	}
	return r.ReturnValues(out)
}

// DeliverIO queues a freshly completed or cancelled request onto t's
// completed list and, if t was blocked in WaitIO, resumes it via
// registry (processor id -> Local). This is the wake callback ioreq.New
// is given so ioreq never needs to import task.
func (t *Task) DeliverIO(r *ioreq.Request, registry func(int) *Local) {
	t.ioMu.Lock()
	t.ioCompleted = append(t.ioCompleted, r)
	wasWaiting := t.waitingForIO
	t.ioMu.Unlock()
	if wasWaiting {
		Resume(t, registry)
	}
}
