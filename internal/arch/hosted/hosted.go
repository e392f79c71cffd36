// Package hosted implements internal/arch.Backend as an ordinary host
// process so the portable kernel packages (buddy, paging, task, ...) can
// run under `go test` and inside cmd/kmazyctl (which always runs in
// hosted mode) without real hardware. It stands in physical memory with
// an anonymous mmap region (golang.org/x/sys/unix), the same trick
// freestanding-kernel repos use for host-side unit testing of the
// allocator core, and exposes a cacheline size taken from
// golang.org/x/sys/cpu (CacheLineSize), which no package in this tree
// calls.
package hosted

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/cpu"
	"golang.org/x/sys/unix"

	"github.com/hmos3/kmazy/internal/arch"
)

// Arena is a host-process stand-in for a contiguous physical memory
// span: a single mmap'd region that buddy/paging can treat as "physical
// memory" by indexing from Base.
type Arena struct {
	Base  uintptr
	Bytes []byte
}

// NewArena mmaps an anonymous, zeroed region of the given size (must be
// a multiple of the host page size) to stand in for physical memory.
func NewArena(size int) (*Arena, error) {
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, err
	}
	return &Arena{Base: uintptr(unsafe.Pointer(&b[0])), Bytes: b}, nil
}

func (a *Arena) Close() error {
	return unix.Munmap(a.Bytes)
}

// CacheLineSize reports the cacheline size golang.org/x/sys/cpu assumes
// for the build's GOARCH (the length of cpu.CacheLinePad, fixed at
// compile time, not probed from the host); falls back to 64 if that
// length is zero.
func CacheLineSize() int {
	var pad cpu.CacheLinePad
	if n := len(pad); n > 0 {
		return n
	}
	return 64
}

// Backend is a single-process hardware double. Multiple logical
// processors are modeled as goroutines sharing the same address space,
// which is enough to exercise the portable scheduler/paging/IPI-shaped
// logic without real SMP.
type Backend struct {
	mu     sync.Mutex
	cr3    []atomic.Uint64
	curCPU func() int // resolves the calling goroutine's logical cpu id
	ipi    func(dest int, vector uint8)
	ports  [1 << 16]uint8
}

// NewBackend constructs a hosted backend for ncpu logical processors.
// curCPU must return the calling goroutine's processor id in
// [0, ncpu) -- the hosted test harness is responsible for pinning
// goroutines to ids since Go has no native concept of "current CPU".
func NewBackend(ncpu int, curCPU func() int, deliverIPI func(dest int, vector uint8)) *Backend {
	return &Backend{cr3: make([]atomic.Uint64, ncpu), curCPU: curCPU, ipi: deliverIPI}
}

var _ arch.Backend = (*Backend)(nil)

func (b *Backend) Inb(port uint16) uint8     { return b.ports[port] }
func (b *Backend) Outb(port uint16, v uint8) { b.ports[port] = v }

func (b *Backend) ReadCR3() arch.CR3 {
	return arch.CR3(b.cr3[b.curCPU()].Load())
}

func (b *Backend) WriteCR3(v arch.CR3) {
	b.cr3[b.curCPU()].Store(uint64(v))
}

func (b *Backend) Invlpg(linear uintptr) {
	// a single-address-space host process has nothing to flush; this
	// is a no-op whose call sites are still exercised for coverage of
	// the surrounding unmap sequencing.
	_ = linear
}

func (b *Backend) Pushcli() uintptr {
	b.mu.Lock()
	return 0
}

func (b *Backend) Popcli(flags uintptr) {
	_ = flags
	b.mu.Unlock()
}

func (b *Backend) LapicID() int { return b.curCPU() }

func (b *Backend) SendIPI(dest int, vector uint8) {
	if b.ipi != nil {
		b.ipi(dest, vector)
	}
}

var tscCounter atomic.Uint64

func (b *Backend) Rdtsc() uint64 {
	return tscCounter.Add(1)
}
