// Package ioreq implements the I/O request lifecycle (C11): the
// universal pendable/cancelable/finishable rendezvous object between a
// syscall handler and the driver task that eventually satisfies it
// (spec.md sec4.9).
//
// Grounded on the teacher's bd_req_t/aux_req request objects in
// main.go (a state word plus a small inline return-value array) and on
// spec.md sec9's instruction that try-cancel is the sole atomic
// boundary between a request's two terminal outcomes.
package ioreq

import (
	"sync/atomic"

	"github.com/hmos3/kmazy/internal/kerr"
)

// State is the request's lifecycle state (spec.md sec4.9).
type State int32

const (
	Initial State = iota
	Pending
	Completed
	Cancelled
)

// MaxReturnValues bounds the inline return-value array a request can
// carry, matching the system-call vector's "up to six return-value
// slots" (spec.md sec6).
const MaxReturnValues = 6

// Request is a rendezvous object shared between the issuing task and
// the driver that eventually finishes it. Exactly one of cancel or
// finish ever fires (spec.md sec3). It carries no reference count; its
// lifetime is left to the Go garbage collector.
type Request struct {
	state State // accessed only via atomic compare-and-swap

	cancellable bool
	cancel      func(instance interface{})
	finish      func(instance interface{}, out []uintptr) int
	instance    interface{}

	// wake is called exactly once, after Complete or after a winning
	// TryCancel, so the owning task package can move the owner off its
	// wait slot without ioreq importing task (the same callback-seam
	// pattern paging's invalidator interface uses to avoid a reverse
	// dependency).
	wake func()

	ret  [MaxReturnValues]uintptr
	retN int
}

// New constructs a request in its initial state. instance is the
// subsystem-specific object cancel/finish are invoked with; wake is
// called once the request reaches a terminal state.
func New(instance interface{}, cancellable bool, cancel func(instance interface{}), finish func(instance interface{}, out []uintptr) int, wake func()) *Request {
	return &Request{
		state:       Initial,
		cancellable: cancellable,
		cancel:      cancel,
		finish:      finish,
		instance:    instance,
		wake:        wake,
	}
}

// Pend marks the request pending. Only valid from Initial.
func (r *Request) Pend() kerr.Err_t {
	if !atomic.CompareAndSwapInt32((*int32)(&r.state), int32(Initial), int32(Pending)) {
		return kerr.ErrInval
	}
	return kerr.OK
}

// TryCancel is the sole atomic boundary between cancellation and
// completion (spec.md sec5). It succeeds only if the request is
// Pending, cancellable, and no concurrent Complete has already won the
// race. On success it runs cancel(instance) before returning so the
// caller observes request memory already released when TryCancel
// returns true.
func (r *Request) TryCancel() bool {
	if !r.cancellable {
		return false
	}
	if !atomic.CompareAndSwapInt32((*int32)(&r.state), int32(Pending), int32(Cancelled)) {
		return false
	}
	if r.cancel != nil {
		r.cancel(r.instance)
	}
	if r.wake != nil {
		r.wake()
	}
	return true
}

// Complete transitions Pending to Completed, copies out into the inline
// return-value array, passes those values to the finish callback, and
// wakes the owner.
// Returns false if TryCancel already won the race, in which case the
// caller must not touch the request again.
func (r *Request) Complete(out []uintptr) bool {
	if !atomic.CompareAndSwapInt32((*int32)(&r.state), int32(Pending), int32(Completed)) {
		return false
	}
	n := copy(r.ret[:], out)
	r.retN = n
	if r.finish != nil {
		r.finish(r.instance, r.ret[:n])
	}
	if r.wake != nil {
		r.wake()
	}
	return true
}

// CompleteSelf is Complete for requests whose finish callback computes
// its own return values rather than receiving them from the caller
// (e.g. the timer's one-shot sleep event).
func (r *Request) CompleteSelf() bool {
	if !atomic.CompareAndSwapInt32((*int32)(&r.state), int32(Pending), int32(Completed)) {
		return false
	}
	n := 0
	if r.finish != nil {
		n = r.finish(r.instance, r.ret[:])
		if n > MaxReturnValues {
			n = MaxReturnValues
		}
	}
	r.retN = n
	if r.wake != nil {
		r.wake()
	}
	return true
}

// CurrentState returns the request's current lifecycle state.
func (r *Request) CurrentState() State {
	return State(atomic.LoadInt32((*int32)(&r.state)))
}

// ReturnValues copies up to len(out) return values into out and
// reports how many were copied. Only meaningful once CurrentState
// reports Completed.
func (r *Request) ReturnValues(out []uintptr) int {
	n := copy(out, r.ret[:r.retN])
	return n
}
