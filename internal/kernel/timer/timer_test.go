package timer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hmos3/kmazy/internal/kernel/intr"
	"github.com/hmos3/kmazy/internal/kernel/task"
)

func TestMillisecondsToTicksBoundaries(t *testing.T) {
	ticks, err := MillisecondsToTicks(0, 1)
	require.True(t, err.Ok())
	require.Equal(t, int64(1), ticks, "sleep(0) must yield a 1-tick delay")

	ticks, err = MillisecondsToTicks(10, 1)
	require.True(t, err.Ok())
	require.Equal(t, int64(10), ticks)

	_, err = MillisecondsToTicks((maxSleepSeconds+1)*1000, 1)
	require.False(t, err.Ok())
}

func newTestPIC() *intr.PIC {
	return intr.NewLegacy8259(0x20, func(uint16, uint8) {}, func(uint16) uint8 { return 0 })
}

func TestTickFiresOneShotAndWakesSleeper(t *testing.T) {
	el := &EventList{}
	pic := newTestPIC()
	l := task.NewLocal(0, task.NewIdle(-1))
	locals := map[int]*task.Local{0: l}
	registry := func(proc int) *task.Local { return locals[proc] }

	woke := make(chan struct{})
	self := task.New(1, func(self *task.Task, l *task.Local) {
		require.True(t, Sleep(el, self, l, registry, 0, 1).Ok())
		close(woke)
		l.Exit()
	})
	l.Enqueue(self)
	l.Schedule() // dispatch self, which sleeps for exactly 1 tick

	select {
	case <-woke:
		t.Fatal("should not have woken before the tick fires")
	case <-time.After(30 * time.Millisecond):
	}

	Tick(el, pic, 0x20, l)

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("sleeper never woke after its tick fired")
	}
}

func TestTickReArmsPeriodicEvents(t *testing.T) {
	el := &EventList{}
	pic := newTestPIC()
	l := task.NewLocal(0, task.NewIdle(-1))

	fireCount := 0
	e := &Event{ticksLeft: 2, period: 2, onFire: func() { fireCount++ }}
	el.mu.Lock()
	el.insertLocked(e)
	el.mu.Unlock()

	Tick(el, pic, 0x20, l)
	require.Equal(t, 0, fireCount)
	Tick(el, pic, 0x20, l)
	require.Equal(t, 1, fireCount)
	Tick(el, pic, 0x20, l)
	require.Equal(t, 1, fireCount)
	Tick(el, pic, 0x20, l)
	require.Equal(t, 2, fireCount)
}
