package intr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLegacy8259IRQToVectorAndMask(t *testing.T) {
	var ports = map[uint16]uint8{0x21: 0, 0xa1: 0}
	outb := func(port uint16, v uint8) { ports[port] = v }
	inb := func(port uint16) uint8 { return ports[port] }

	p := NewLegacy8259(0x20, outb, inb)
	require.Equal(t, Legacy8259, p.Kind)
	require.Equal(t, uint8(0x20), p.IRQToVector(0))
	require.Equal(t, uint8(0x2e), p.IRQToVector(14))

	p.SetMask(1, true)
	require.Equal(t, uint8(0x02), ports[0x21])
	p.SetMask(1, false)
	require.Equal(t, uint8(0x00), ports[0x21])

	p.SetMask(9, true)
	require.Equal(t, uint8(0x02), ports[0xa1])
}

func TestLegacy8259EOICascades(t *testing.T) {
	var acked []uint16
	outb := func(port uint16, v uint8) {
		if v == 0x20 {
			acked = append(acked, port)
		}
	}
	inb := func(uint16) uint8 { return 0 }
	p := NewLegacy8259(0x20, outb, inb)

	p.EndOfInterrupt(0x20) // IRQ 0, no cascade
	require.Equal(t, []uint16{0x20}, acked)

	acked = nil
	p.EndOfInterrupt(0x29) // IRQ 9, cascades through the slave
	require.Equal(t, []uint16{0xa0, 0x20}, acked)
}

func TestAPICInterruptAllOtherSendsIPIToAllButSelf(t *testing.T) {
	var gotDest int
	var gotVector uint8
	sendIPI := func(dest int, vector uint8) { gotDest = dest; gotVector = vector }
	eoiCalled := false
	p := NewAPIC(0x20, sendIPI, func() { eoiCalled = true }, func(int, bool) {})

	p.InterruptAllOther(0xfd)
	require.Equal(t, -3, gotDest)
	require.Equal(t, uint8(0xfd), gotVector)

	p.EndOfInterrupt(0x30)
	require.True(t, eoiCalled)
}

func TestAPICCalibration(t *testing.T) {
	p := NewAPIC(0x20, func(int, uint8) {}, func() {}, func(int, bool) {})
	require.Equal(t, uint64(0), p.TicksPerSchedTick())
	p.CalibrateTimer(12345)
	require.Equal(t, uint64(12345), p.TicksPerSchedTick())
}
