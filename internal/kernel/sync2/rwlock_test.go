package sync2

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hmos3/kmazy/internal/kernel/task"
)

func TestRWLockMultipleReadersEachAcquire(t *testing.T) {
	l, locals := newTestLocal(0)
	registry := func(proc int) *task.Local { return locals[proc] }
	rw := NewRWLock(false, registry)

	doneA := make(chan struct{})
	doneB := make(chan struct{})

	a := task.New(1, func(self *task.Task, l *task.Local) {
		rw.AcquireReader(l)
		close(doneA)
		rw.ReleaseReader()
		l.Exit()
	})
	b := task.New(2, func(self *task.Task, l *task.Local) {
		rw.AcquireReader(l)
		close(doneB)
		rw.ReleaseReader()
		l.Exit()
	})
	l.Enqueue(a)
	l.Enqueue(b)
	l.Schedule()

	for _, ch := range []chan struct{}{doneA, doneB} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("reader never acquired")
		}
	}
}

func TestRWLockWriterExcludesReader(t *testing.T) {
	l, locals := newTestLocal(0)
	registry := func(proc int) *task.Local { return locals[proc] }
	rw := NewRWLock(false, registry)

	readerAcquired := make(chan struct{})
	writerDone := make(chan struct{})

	writer := task.New(1, func(self *task.Task, l *task.Local) {
		rw.AcquireWriter(l)
		time.Sleep(50 * time.Millisecond)
		rw.ReleaseWriter()
		close(writerDone)
		l.Exit()
	})
	reader := task.New(2, func(self *task.Task, l *task.Local) {
		rw.AcquireReader(l)
		close(readerAcquired)
		rw.ReleaseReader()
		l.Exit()
	})
	l.Enqueue(writer)
	l.Schedule()

	// give the writer a chance to actually take the lock before the
	// reader is enqueued; the reader is dispatched only once the writer
	// gives up the processor
	time.Sleep(10 * time.Millisecond)
	l.Enqueue(reader)

	select {
	case <-readerAcquired:
		t.Fatal("reader should not acquire while writer holds the lock")
	case <-time.After(20 * time.Millisecond):
	}

	select {
	case <-writerDone:
	case <-time.After(time.Second):
		t.Fatal("writer never released")
	}
	select {
	case <-readerAcquired:
	case <-time.After(time.Second):
		t.Fatal("reader never acquired after writer released")
	}
	require.True(t, true)
}
