// Package lock implements the kernel's sole mutual-exclusion primitive:
// a busy-wait spinlock over a single atomic word. Spinlocks never
// suspend the caller (spec.md sec5, "Spinlocks do not suspend") -- the
// acquirer is responsible for disabling interrupts first if the lock
// may also be taken from a handler.
package lock

import (
	"runtime"
	"sync/atomic"
)

// Spinlock is a single atomic word: 0 == free, 1 == held. Zero value is
// an unlocked lock, ready to use.
type Spinlock struct {
	word atomic.Uint32
}

// Lock spins until the lock is acquired. Safe to call with interrupts
// enabled or disabled.
func (s *Spinlock) Lock() {
	spins := 0
	for !s.TryLock() {
		spins++
		if spins&0xff == 0 {
			runtime.Gosched()
		}
		pause()
	}
}

// TryLock attempts to acquire the lock without spinning, returning
// whether it succeeded.
func (s *Spinlock) TryLock() bool {
	return s.word.CompareAndSwap(0, 1)
}

// Unlock releases the lock. Unlocking an already-unlocked spinlock is a
// kernel invariant violation in the original design, but we don't panic
// here since higher layers (paging's implicit lock, buddy free-lists)
// already guarantee paired Lock/Unlock via defer.
func (s *Spinlock) Unlock() {
	s.word.Store(0)
}

// Acquirable is a read-only predicate for assertions ("is-acquirable"
// in spec.md sec3), true iff the lock is currently free. It must never
// be used to decide whether to proceed without actually acquiring the
// lock.
func (s *Spinlock) Acquirable() bool {
	return s.word.Load() == 0
}

// pause issues the architecture's spin-wait hint. The portable build
// has none to issue (there is no arch.Backend method for it -- the
// penalty for a tight spin loop on a host process is negligible
// compared to real hardware contention), so it is a no-op placeholder
// kept as a named call site for where a PAUSE instruction would go.
func pause() {}
