// Package timer implements the timer subsystem (C7): a per-processor
// event list driven by the timer interrupt, and the sleep(ms) syscall
// primitive built on top of it (spec.md sec4.6).
//
// Grounded on the teacher's timer interrupt path in main.go (EOI,
// walk pending alarms, tail-call the scheduler) and on spec.md sec9's
// note that the newer of the repo's two divergent timer copies is
// authoritative.
package timer

import (
	"github.com/hmos3/kmazy/internal/kerr"
	"github.com/hmos3/kmazy/internal/kernel/intr"
	"github.com/hmos3/kmazy/internal/kernel/ioreq"
	"github.com/hmos3/kmazy/internal/kernel/lock"
	"github.com/hmos3/kmazy/internal/kernel/task"
)

// maxSleepSeconds bounds sleep(ms) (spec.md sec8: "sleeping more than
// 10^9 seconds returns failure").
const maxSleepSeconds = 1_000_000_000

// Event is one armed timer: a countdown in ticks and a period (0 =
// one-shot) (spec.md sec4.6). A one-shot sleep event carries the I/O
// request it finishes when it fires; a periodic event (the sleep
// primitive never creates one) instead carries a plain callback, since
// ioreq's exactly-once completion contract does not fit a recurring
// fire.
type Event struct {
	ticksLeft  int64
	period     int64
	req        *ioreq.Request
	onFire     func()
	prev, next *Event
}

// EventList is one processor's timer-event list: a doubly linked list
// under its own spinlock (spec.md sec4.6).
type EventList struct {
	mu         lock.Spinlock
	head, tail *Event
}

func (el *EventList) insertLocked(e *Event) {
	e.prev, e.next = nil, nil
	if el.tail == nil {
		el.head, el.tail = e, e
		return
	}
	e.prev = el.tail
	el.tail.next = e
	el.tail = e
}

func (el *EventList) removeLocked(e *Event) {
	if e.prev != nil {
		e.prev.next = e.next
	} else if el.head == e {
		el.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else if el.tail == e {
		el.tail = e.prev
	}
	e.prev, e.next = nil, nil
}

// Tick runs one timer-interrupt round (spec.md sec4.6): issue EOI,
// decrement every event's countdown, finish and (if periodic) re-arm
// any that reach zero, then tail-call the scheduler.
func Tick(el *EventList, pic *intr.PIC, vector uint8, l *task.Local) {
	pic.EndOfInterrupt(vector)

	var fired []*Event
	el.mu.Lock()
	for e := el.head; e != nil; {
		next := e.next
		e.ticksLeft--
		if e.ticksLeft <= 0 {
			el.removeLocked(e)
			fired = append(fired, e)
		}
		e = next
	}
	// re-arm only after the walk, so a re-inserted event is not
	// decremented a second time in the same round
	for _, e := range fired {
		if e.period > 0 {
			e.ticksLeft = e.period
			el.insertLocked(e)
		}
	}
	el.mu.Unlock()

	for _, e := range fired {
		if e.req != nil {
			e.req.CompleteSelf()
		} else if e.onFire != nil {
			e.onFire()
		}
	}
	l.Schedule()
}

// MillisecondsToTicks converts ms to a tick count (ms * ticksPerMS) with
// a floor of 1 (spec.md sec8: "sleeping 0 ms yields a 1-tick delay"), and
// fails if ms exceeds the 10^9-second ceiling.
func MillisecondsToTicks(ms int64, ticksPerMS int64) (int64, kerr.Err_t) {
	if ms/1000 > maxSleepSeconds {
		return 0, kerr.ErrInval
	}
	ticks := ms * ticksPerMS
	if ticks < 1 {
		ticks = 1
	}
	return ticks, kerr.OK
}

// Sleep is the sleep(ms) syscall primitive (spec.md sec4.6): it builds
// a one-shot event, pends its I/O request, inserts the event, and
// blocks self on it via WaitIO. Timer requests are not cancellable
// (spec.md sec5: "timers ... cannot" be cancelled).
func Sleep(el *EventList, self *task.Task, l *task.Local, registry func(int) *task.Local, ms int64, ticksPerMS int64) kerr.Err_t {
	ticks, err := MillisecondsToTicks(ms, ticksPerMS)
	if err != kerr.OK {
		return err
	}

	var req *ioreq.Request
	req = ioreq.New(nil, false, nil, func(interface{}, []uintptr) int { return 0 }, func() {
		self.DeliverIO(req, registry)
	})
	if pendErr := req.Pend(); pendErr != kerr.OK {
		return pendErr
	}

	e := &Event{ticksLeft: ticks, req: req}
	el.mu.Lock()
	el.insertLocked(e)
	el.mu.Unlock()

	self.WaitIO(l)
	return kerr.OK
}
