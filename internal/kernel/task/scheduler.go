package task

import (
	"github.com/hmos3/kmazy/internal/kernel/lock"
)

// Local is one processor's scheduler: a single-level FIFO ready-queue
// plus the task currently running on this processor (spec.md sec4.7,
// Design Notes sec9 "thread-local per-processor state ... array
// indexed by processor id").
type Local struct {
	ID int

	mu         lock.Spinlock
	head, tail *Task
	Current    *Task
	Idle       *Task

	// wake is signaled whenever a task lands on the ready-queue, so the
	// idle task can park instead of spinning while there is nothing to
	// run (see ReadyEmpty/ParkIdle).
	wake chan struct{}
}

// NewLocal constructs a processor's scheduler with the given idle
// task as its initial Current.
func NewLocal(id int, idle *Task) *Local {
	idle.Proc = id
	idle.setState(Ready)
	return &Local{ID: id, Idle: idle, Current: idle, wake: make(chan struct{}, 1)}
}

func (l *Local) notifyWake() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// ReadyEmpty reports whether the ready-queue currently has no task
// waiting, the condition under which the idle task should park rather
// than call Schedule (which would otherwise be a same-task no-op and
// spin a real OS thread).
func (l *Local) ReadyEmpty() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head == nil
}

// ParkIdle blocks the calling (idle) goroutine until a task is
// enqueued or resumed on this processor. The wake channel is buffered
// by one, so a wakeup that arrives between ReadyEmpty's check and this
// call is not lost.
func (l *Local) ParkIdle() {
	<-l.wake
}

func (l *Local) pushTailLocked(t *Task) {
	t.prev, t.next = nil, nil
	if l.tail == nil {
		l.head, l.tail = t, t
		return
	}
	t.prev = l.tail
	l.tail.next = t
	l.tail = t
}

func (l *Local) popHeadLocked() *Task {
	t := l.head
	if t == nil {
		return nil
	}
	l.head = t.next
	if l.head != nil {
		l.head.prev = nil
	} else {
		l.tail = nil
	}
	t.next = nil
	return t
}

// Enqueue places t READY on the tail of the ready-queue (spec.md sec3:
// a READY task is on exactly one processor's ready-queue).
func (l *Local) Enqueue(t *Task) {
	l.mu.Lock()
	t.Proc = l.ID
	t.setState(Ready)
	l.pushTailLocked(t)
	l.mu.Unlock()
	l.notifyWake()
}

// Schedule performs one preemption round (spec.md sec4.7): the
// currently running task goes to the ready-queue tail, the head is
// popped and switched to. If the popped task is Current (queue length
// one) the switch is a no-op. Called tail-wise by the timer handler,
// and by any task voluntarily giving up its slice without suspending.
func (l *Local) Schedule() {
	l.mu.Lock()
	prev := l.Current
	if prev != nil && prev != l.Idle && prev.CurrentState() == Running {
		prev.setState(Ready)
		l.pushTailLocked(prev)
	}
	next := l.popHeadLocked()
	if next == nil {
		next = l.Idle
	}
	l.Current = next
	l.mu.Unlock()
	l.switchTo(prev, next)
}

// SuspendCurrent switches away from the current task without
// enqueueing it anywhere; postSwitch(prev, arg) runs once the switch to
// next has been handed off but before prev's own goroutine parks
// itself waiting to be granted the processor again. Running the
// callback at that point -- not after prev has already been resumable
// again -- is what prevents a concurrent waker from finding prev
// absent from its wait queue and losing the wakeup (spec.md sec4.7,
// Design Notes sec9).
func (l *Local) SuspendCurrent(postSwitch func(prev *Task, arg interface{}), arg interface{}) {
	l.mu.Lock()
	prev := l.Current
	prev.setState(Suspended)
	next := l.popHeadLocked()
	if next == nil {
		next = l.Idle
	}
	l.Current = next
	l.mu.Unlock()
	l.switchToWithCallback(prev, next, postSwitch, arg)
}

// Exit hands the processor to the next ready task and terminates the
// calling task. Must be called from within the exiting task's own
// entry goroutine, as the final thing it does.
func (l *Local) Exit() {
	l.mu.Lock()
	prev := l.Current
	prev.exitTeardown()
	next := l.popHeadLocked()
	if next == nil {
		next = l.Idle
	}
	l.Current = next
	l.mu.Unlock()
	if next != nil {
		next.setState(Running)
		next.ensureStarted(l)
		next.grant <- struct{}{}
	}
}

// switchTo grants the processor to next and, unless prev is exiting or
// nil, blocks the calling goroutine (which is prev's own) until prev
// is granted the processor again by some future Schedule/Resume.
func (l *Local) switchTo(prev, next *Task) {
	l.switchToWithCallback(prev, next, nil, nil)
}

// switchToWithCallback is switchTo plus an optional callback run after
// next has been granted the processor but strictly before prev blocks
// on its own grant channel -- the only point at which it is both safe
// (next is already able to run) and necessary (prev cannot yet be
// resumed by anyone else) to place prev on a blocking/wait queue.
func (l *Local) switchToWithCallback(prev, next *Task, postSwitch func(prev *Task, arg interface{}), arg interface{}) {
	if prev == next {
		if next != nil {
			next.setState(Running)
		}
		if postSwitch != nil {
			postSwitch(prev, arg)
		}
		return
	}
	if next != nil {
		next.setState(Running)
		next.ensureStarted(l)
		next.grant <- struct{}{}
	}
	if postSwitch != nil {
		postSwitch(prev, arg)
	}
	if prev != nil && prev.CurrentState() != Terminated && prev.started.Load() {
		<-prev.grant
	}
}

// Resume atomically changes t from SUSPENDED to READY and appends it
// to the ready-queue of the processor it last ran on; no migration
// (spec.md sec4.7). registry resolves a processor id to its Local.
func Resume(t *Task, registry func(proc int) *Local) {
	if !t.state.CompareAndSwap(int32(Suspended), int32(Ready)) {
		return
	}
	owner := registry(t.Proc)
	owner.mu.Lock()
	owner.pushTailLocked(t)
	owner.mu.Unlock()
	owner.notifyWake()
}
