package syscall

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hmos3/kmazy/internal/kerr"
)

func noopHandler(arg interface{}, args [5]uintptr) [6]uintptr { return [6]uintptr{} }

// TestServiceRegistryScenario is the S6 scenario (spec.md sec8):
// register "ahci" then "keyboard" then "ahci" again; observe {16, 17,
// already-exists}; querying an unregistered name fails.
func TestServiceRegistryScenario(t *testing.T) {
	tb := NewTable()

	slot, err := tb.RegisterService("ahci", noopHandler, nil)
	require.True(t, err.Ok())
	require.Equal(t, firstDynamicSlot, slot)

	slot, err = tb.RegisterService("keyboard", noopHandler, nil)
	require.True(t, err.Ok())
	require.Equal(t, firstDynamicSlot+1, slot)

	_, err = tb.RegisterService("ahci", noopHandler, nil)
	require.Equal(t, kerr.ErrExist, err)

	_, err = tb.QueryService("mouse")
	require.Equal(t, kerr.ErrNoMatch, err)

	found, err := tb.QueryService("ahci")
	require.True(t, err.Ok())
	require.Equal(t, firstDynamicSlot, found)
}

func TestServiceNameLengthBoundaries(t *testing.T) {
	tb := NewTable()
	_, err := tb.RegisterService("", noopHandler, nil)
	require.False(t, err.Ok())

	_, err = tb.RegisterService("0123456789abcdef", noopHandler, nil) // 16 chars
	require.False(t, err.Ok())

	_, err = tb.RegisterService("0123456789abcde", noopHandler, nil) // 15 chars
	require.True(t, err.Ok())
}

func TestRegisterServiceTooMany(t *testing.T) {
	tb := NewTable()
	for i := 0; i < maxSlots-firstDynamicSlot; i++ {
		name := string(rune('a' + i))
		_, err := tb.RegisterService(name, noopHandler, nil)
		require.True(t, err.Ok())
	}
	_, err := tb.RegisterService("overflow", noopHandler, nil)
	require.False(t, err.Ok())
}

func TestDispatchReenablesInterruptsBeforeCalling(t *testing.T) {
	tb := NewTable()
	order := []string{}
	_ = tb.SetFixed(AcquireSemaphore, func(arg interface{}, args [5]uintptr) [6]uintptr {
		order = append(order, "handler")
		return [6]uintptr{}
	}, nil)

	_, err := tb.Dispatch(AcquireSemaphore, [5]uintptr{}, func() { order = append(order, "sti") })
	require.True(t, err.Ok())
	require.Equal(t, []string{"sti", "handler"}, order)
}
