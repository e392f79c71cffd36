package buddy

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// snapshot captures one allocator's externally observable state after a
// sequence of operations, for cmp.Diff-based determinism checks.
type snapshot struct {
	FreeBytes uintptr
	Allocated []uintptr
}

func runAllocSequence(pb *PhysBuddy, sizes []uintptr) snapshot {
	var allocated []uintptr
	for _, sz := range sizes {
		a, err := pb.Allocate(sz)
		if err.Ok() {
			allocated = append(allocated, a)
		}
	}
	return snapshot{FreeBytes: pb.FreeBytes(), Allocated: allocated}
}

// TestAllocationSequenceIsDeterministic runs the same fixed sequence of
// allocations against two freshly built allocators over identical memory
// maps and requires the resulting snapshots to be identical: the buddy
// allocator's split order depends only on its inputs, never on incidental
// state like map iteration order.
func TestAllocationSequenceIsDeterministic(t *testing.T) {
	const span = 1 << 20
	sizes := []uintptr{4 << 10, 16 << 10, 4 << 10, 32 << 10, 4 << 10}

	pb1 := NewPhysBuddy(0, span/MinBlockSize, fullRangeMap(span), MemRange{})
	pb2 := NewPhysBuddy(0, span/MinBlockSize, fullRangeMap(span), MemRange{})

	got1 := runAllocSequence(pb1, sizes)
	got2 := runAllocSequence(pb2, sizes)

	if diff := cmp.Diff(got1, got2); diff != "" {
		t.Errorf("allocator snapshots diverged on an identical input sequence (-first +second):\n%s", diff)
	}
}

func fullRangeMap(size uintptr) []MemRange {
	return []MemRange{{Base: 0, Length: size, Kind: Usable}}
}

// S1 from spec.md sec8: buddy round-trip over a 1 GiB range.
func TestS1BuddyRoundTrip(t *testing.T) {
	const span = 1 << 30
	pb := NewPhysBuddy(0, span/MinBlockSize, fullRangeMap(span), MemRange{})

	require.Equal(t, uintptr(span), pb.FreeBytes())

	a1, err := pb.Allocate(4 << 10)
	require.True(t, err.Ok())
	a2, err := pb.Allocate(8 << 10)
	require.True(t, err.Ok())
	a3, err := pb.Allocate(16 << 10)
	require.True(t, err.Ok())
	a4, err := pb.Allocate(4 << 10)
	require.True(t, err.Ok())

	require.True(t, pb.FreeBytes() < uintptr(span))

	require.True(t, pb.Release(a4).Ok())
	require.True(t, pb.Release(a3).Ok())
	require.True(t, pb.Release(a2).Ok())
	require.True(t, pb.Release(a1).Ok())

	require.Equal(t, uintptr(span), pb.FreeBytes(), "single top-level block must be free again")
}

func TestAllocateBoundary(t *testing.T) {
	const span = 1 << 30
	pb := NewPhysBuddy(0, span/MinBlockSize, fullRangeMap(span), MemRange{})

	addr, err := pb.Allocate(MaxBlockSize)
	require.True(t, err.Ok())
	require.Equal(t, uintptr(0), addr)
	require.Equal(t, uintptr(0), pb.FreeBytes())

	require.True(t, pb.Release(addr).Ok())

	_, err = pb.Allocate(MaxBlockSize + 1)
	require.False(t, err.Ok())
}

func TestAddRefAndReleaseOrUnmap(t *testing.T) {
	const span = 1 << 20
	pb := NewPhysBuddy(0, span/MinBlockSize, fullRangeMap(span), MemRange{})

	addr, err := pb.Allocate(MinBlockSize)
	require.True(t, err.Ok())

	require.True(t, pb.AddRef(addr).Ok())
	require.True(t, pb.ReleaseOrUnmap(addr).Ok()) // back down to 1
	before := pb.FreeBytes()
	require.True(t, pb.ReleaseOrUnmap(addr).Ok()) // down to 0: actually released
	require.True(t, pb.FreeBytes() > before)
}

func TestReservedRangeNeverAllocated(t *testing.T) {
	const span = 1 << 20 // 256 blocks
	mm := []MemRange{
		{Base: 0, Length: span / 2, Kind: Usable},
		{Base: span / 2, Length: span / 2, Kind: Reserved},
	}
	pb := NewPhysBuddy(0, span/MinBlockSize, mm, MemRange{})
	require.Equal(t, uintptr(span/2), pb.FreeBytes())

	// allocating the whole free half should succeed, but never cross
	// into the reserved half.
	seen := map[uintptr]bool{}
	for {
		a, err := pb.Allocate(MinBlockSize)
		if !err.Ok() {
			break
		}
		require.Less(t, a, uintptr(span/2))
		require.False(t, seen[a])
		seen[a] = true
	}
	require.Equal(t, span/2/MinBlockSize, len(seen))
}

// Fuzz-style round trip per spec.md sec8: one seeded random sequence of
// 10^4 allocate/release operations (random sizes and order) must not
// lose or double-count bytes.
func TestLinBuddyRandomRoundTrip(t *testing.T) {
	const span = 1 << 24 // 16 MiB linear range
	lb := NewLinBuddy(0, span/MinBlockSize)
	start := lb.FreeBytes()
	require.Equal(t, uintptr(span), start)

	rng := rand.New(rand.NewSource(1))
	var live []uintptr
	for i := 0; i < 10000; i++ {
		if len(live) == 0 || rng.Intn(2) == 0 {
			sz := uintptr(MinBlockSize) << uintptr(rng.Intn(6))
			a, err := lb.Allocate(sz, rng.Intn(2) == 0)
			if err.Ok() {
				live = append(live, a)
			}
		} else {
			j := rng.Intn(len(live))
			addr := live[j]
			live = append(live[:j], live[j+1:]...)
			_, err := lb.Release(addr)
			require.True(t, err.Ok())
		}
	}
	for _, a := range live {
		_, err := lb.Release(a)
		require.True(t, err.Ok())
	}
	require.Equal(t, start, lb.FreeBytes(), "manager must return to the same free-byte count")
}

func TestCeilOrder(t *testing.T) {
	require.Equal(t, MinOrder, ceilOrder(1))
	require.Equal(t, MinOrder, ceilOrder(MinBlockSize))
	require.Equal(t, MinOrder+1, ceilOrder(MinBlockSize+1))
	require.Equal(t, MaxOrder+1, ceilOrder(MaxBlockSize+1))
}
