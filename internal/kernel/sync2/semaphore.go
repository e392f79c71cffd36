// Package sync2 implements blocking synchronization built on the task
// manager's wait queues (C9): a counting semaphore and a reader/writer
// lock (spec.md sec4.8). Named sync2 to avoid shadowing the standard
// library's sync package, which this code deliberately does not use
// for its primitives -- acquire/release here suspend a task through
// the scheduler rather than blocking an OS thread.
//
// Grounded on the teacher's sem_t/cond_t wait-queue pattern in main.go
// (semaphore down/up walking a wait-list under a spinlock) and on
// spec.md sec4.8's acquire/release/acquire-all/get-value operation set.
package sync2

import (
	"github.com/hmos3/kmazy/internal/kernel/lock"
	"github.com/hmos3/kmazy/internal/kernel/task"
)

// Semaphore is a monotone counter plus a FIFO task queue, both guarded
// by an internal spinlock (spec.md sec3).
type Semaphore struct {
	mu       lock.Spinlock
	value    int
	waitHead *waiter
	waitTail *waiter
	registry func(proc int) *task.Local
}

type waiter struct {
	t    *task.Task
	next *waiter
}

// NewSemaphore constructs a semaphore with the given initial count.
// registry resolves a processor id to its scheduler, needed to resume
// a waiter that was parked on a different processor than the one
// calling Release.
func NewSemaphore(initial int, registry func(proc int) *task.Local) *Semaphore {
	return &Semaphore{value: initial, registry: registry}
}

func (s *Semaphore) pushWaiterLocked(w *waiter) {
	if s.waitTail == nil {
		s.waitHead, s.waitTail = w, w
		return
	}
	s.waitTail.next = w
	s.waitTail = w
}

func (s *Semaphore) popWaiterLocked() *waiter {
	w := s.waitHead
	if w == nil {
		return nil
	}
	s.waitHead = w.next
	if s.waitHead == nil {
		s.waitTail = nil
	}
	return w
}

// Acquire decrements the count and returns immediately if it is
// positive; otherwise it enqueues the current task and suspends until
// Release wakes it (spec.md sec4.8). The count check and the enqueue
// happen under the same s.mu critical section -- held across the
// suspend itself, not reacquired afterward -- so a concurrent Release
// can never run between "count was zero" and "task is on the wait
// queue" and bump the count instead of waking the waiter.
func (s *Semaphore) Acquire(l *task.Local) {
	s.mu.Lock()
	if s.value > 0 {
		s.value--
		s.mu.Unlock()
		return
	}
	l.SuspendCurrent(func(prev *task.Task, arg interface{}) {
		s.pushWaiterLocked(&waiter{t: prev})
		s.mu.Unlock()
	}, nil)
}

// Release wakes one waiting task if any are queued; otherwise it
// increments the count (spec.md sec4.8).
func (s *Semaphore) Release() {
	s.mu.Lock()
	w := s.popWaiterLocked()
	if w == nil {
		s.value++
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	task.Resume(w.t, s.registry)
}

// AcquireAll atomically takes the entire positive count and returns it,
// blocking (and retrying) while the count is zero (spec.md sec4.8).
// While zero it reuses Acquire's own wait-queue as the "block until
// released" signal, then immediately gives the single unit it
// acquired back before re-checking the count.
func (s *Semaphore) AcquireAll(l *task.Local) int {
	for {
		s.mu.Lock()
		if s.value >= 1 {
			n := s.value
			s.value = 0
			s.mu.Unlock()
			return n
		}
		s.mu.Unlock()
		s.Acquire(l)
		s.Release()
	}
}

// ReleaseAll wakes every task currently queued on the semaphore rather
// than just one, used by RWLock to admit an entire waiting reader
// cohort at once when a writer releases.
func (s *Semaphore) ReleaseAll() {
	for {
		s.mu.Lock()
		w := s.popWaiterLocked()
		s.mu.Unlock()
		if w == nil {
			return
		}
		task.Resume(w.t, s.registry)
	}
}

// Value is advisory (spec.md sec4.8: "get-value is advisory").
func (s *Semaphore) Value() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}
