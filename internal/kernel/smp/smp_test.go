package smp

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hmos3/kmazy/internal/arch"
	"github.com/hmos3/kmazy/internal/arch/hosted"
	"github.com/hmos3/kmazy/internal/kernel/intr"
	"github.com/hmos3/kmazy/internal/kernel/task"
)

func TestBootAPsRegistersEveryProcessor(t *testing.T) {
	var ipis []struct {
		dest int
		vec  uint8
	}
	backend := hosted.NewBackend(4, func() int { return 0 }, func(dest int, vector uint8) {
		ipis = append(ipis, struct {
			dest int
			vec  uint8
		}{dest, vector})
	})
	arch.Install(backend)

	s := NewSystem()
	s.RegisterBSP(&Processor{ID: 0, Local: task.NewLocal(0, task.NewIdle(-1))})

	s.BootAPs(4, func(id int) *task.Task { return task.NewIdle(-id) }, func(id int) *intr.PIC {
		return intr.NewLegacy8259(0x20, func(uint16, uint8) {}, func(uint16) uint8 { return 0 })
	}, nil)

	require.Equal(t, 4, s.Count())
	require.NotNil(t, s.Processor(3))
	require.Equal(t, 3, s.Processor(3).ID)

	// three IPIs (INIT + two STARTUPs) per AP, 3 APs brought up
	require.Len(t, ipis, 9)
	require.Equal(t, uint8(0), ipis[0].vec)
	require.Equal(t, uint8(startupVector), ipis[1].vec)
}

func TestRegistryResolvesProcessorToLocal(t *testing.T) {
	s := NewSystem()
	l := task.NewLocal(0, task.NewIdle(-1))
	s.RegisterBSP(&Processor{ID: 0, Local: l})
	require.Same(t, l, s.Registry(0))
	require.Nil(t, s.Registry(99))
}
