package sync2

import (
	"github.com/hmos3/kmazy/internal/kernel/lock"
	"github.com/hmos3/kmazy/internal/kernel/task"
)

// RWLock is a reader/writer lock built from two semaphores and a
// guarded reader count (spec.md sec3, sec4.8). writerFirst selects
// whether a reader arriving while a writer is pending must wait.
type RWLock struct {
	writerFirst bool

	mu            lock.Spinlock
	readers       int
	writerActive  bool
	writerWaiting bool

	readSem  *Semaphore // released to admit the next reader once a writer finishes
	writeSem *Semaphore // count 1: held by whichever writer (or reader cohort) currently owns the lock
}

// NewRWLock constructs an RW-lock. registry is passed through to the
// semaphores it is built from.
func NewRWLock(writerFirst bool, registry func(proc int) *task.Local) *RWLock {
	return &RWLock{
		writerFirst: writerFirst,
		readSem:     NewSemaphore(0, registry),
		writeSem:    NewSemaphore(1, registry),
	}
}

// AcquireReader blocks while a writer holds or (in writer-first mode)
// is waiting for the lock, then joins as a reader.
func (rw *RWLock) AcquireReader(l *task.Local) {
	for {
		rw.mu.Lock()
		blocked := rw.writerActive || (rw.writerFirst && rw.writerWaiting)
		if !blocked {
			rw.readers++
			first := rw.readers == 1
			rw.mu.Unlock()
			if first {
				rw.writeSem.Acquire(l) // first reader locks writers out
			}
			return
		}
		rw.mu.Unlock()
		rw.readSem.Acquire(l)
	}
}

// ReleaseReader leaves the reader cohort, releasing the writer
// semaphore once the last reader departs.
func (rw *RWLock) ReleaseReader() {
	rw.mu.Lock()
	rw.readers--
	last := rw.readers == 0
	rw.mu.Unlock()
	if last {
		rw.writeSem.Release()
	}
}

// AcquireWriter blocks until no reader or writer holds the lock, then
// takes it exclusively.
func (rw *RWLock) AcquireWriter(l *task.Local) {
	rw.mu.Lock()
	rw.writerWaiting = true
	rw.mu.Unlock()

	rw.writeSem.Acquire(l)

	rw.mu.Lock()
	rw.writerWaiting = false
	rw.writerActive = true
	rw.mu.Unlock()
}

// ReleaseWriter releases the lock: it releases the writer semaphore
// (admitting the next queued writer, if any) and wakes every reader
// queued on readSem, in either mode; woken readers re-check the writer
// state before joining.
func (rw *RWLock) ReleaseWriter() {
	rw.mu.Lock()
	rw.writerActive = false
	rw.mu.Unlock()
	rw.writeSem.Release()
	rw.readSem.ReleaseAll()
}
