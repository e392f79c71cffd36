package paging

import (
	"github.com/hmos3/kmazy/internal/kernel/lock"
)

// shootRequest is the small shared struct a cross-processor invalidate
// fills before IPIing all other processors (spec.md sec4.3).
type shootRequest struct {
	cr3      uintptr
	start    uintptr
	size     uintptr
	isGlobal bool
}

// Shootdown coordinates cross-processor TLB invalidation. A dedicated
// interrupt vector is registered at boot (internal/kernel/intr) whose
// handler calls Receive on the local processor's Shootdown instance.
type Shootdown struct {
	mu      lock.Spinlock
	req     shootRequest
	sendIPI func(vector uint8)
	vector  uint8

	// invalidate is the local per-processor invlpg hook; installed by
	// whoever wires this Shootdown to an arch.Backend.
	invalidate func(linear uintptr)
}

// NewShootdown constructs a Shootdown bound to the vector the
// multiprocessor bootstrap allocated for it and the IPI-send and local
// invlpg hooks.
func NewShootdown(vector uint8, sendIPI func(vector uint8), invalidate func(linear uintptr)) *Shootdown {
	return &Shootdown{vector: vector, sendIPI: sendIPI, invalidate: invalidate}
}

// Broadcast takes the spinlock, fills the shared request, IPIs all
// other processors, and performs the local invalidate -- the sender
// always applies its own invalidate regardless of CR3 match, since it
// is the one that just unmapped the range.
func (s *Shootdown) Broadcast(cr3, start, size uintptr, isGlobal bool) {
	s.mu.Lock()
	s.req = shootRequest{cr3: cr3, start: start, size: size, isGlobal: isGlobal}
	if s.sendIPI != nil {
		s.sendIPI(s.vector)
	}
	s.localInvalidate(s.req)
	s.mu.Unlock()
}

// Receive is the shootdown interrupt handler: it invlpgs the range if
// isGlobal or if the local CR3 matches the sender's, otherwise it
// drops the request (spec.md sec4.3).
func (s *Shootdown) Receive(localCR3 uintptr) {
	s.mu.Lock()
	req := s.req
	s.mu.Unlock()
	if req.isGlobal || req.cr3 == localCR3 {
		s.localInvalidate(req)
	}
}

func (s *Shootdown) localInvalidate(req shootRequest) {
	if s.invalidate == nil || req.size == 0 {
		return
	}
	for off := uintptr(0); off < req.size; off += PageSize {
		s.invalidate(req.start + off)
	}
}
