// Package arch is the hardware boundary: every primitive that talks to
// real x86 state (ports, control registers, the local APIC, cacheline
// flushes, cross-processor IPIs) lives behind the Backend interface
// installed in this package, the same way the teacher isolates hardware
// access behind runtime.Inb/Wrmsr/Cpuid/Pushcli/Popcli and gopher-os
// isolates it behind kernel/cpu. Portable kernel logic (buddy, paging,
// task, ...) never touches hardware directly -- it calls through the
// installed Backend or takes the narrow hook it needs as a parameter,
// which lets internal/arch/hosted swap in a host-process double for
// tests.
package arch

// CR3 is the physical address of the current page directory, as the
// processor's control register would hold it.
type CR3 uintptr

// Backend is the full hardware boundary. Exactly one implementation is
// installed at process start: the freestanding one (built under a
// kernel build tag, not present in this host-testable tree) or
// internal/arch/hosted.Backend for tests and the hosted CLI.
type Backend interface {
	// Inb/Outb are single-byte port I/O.
	Inb(port uint16) uint8
	Outb(port uint16, v uint8)

	// ReadCR3/WriteCR3 get/set the active page directory.
	ReadCR3() CR3
	WriteCR3(CR3)

	// Invlpg invalidates one TLB entry for a linear address.
	Invlpg(linear uintptr)

	// Pushcli/Popcli disable/restore interrupts, returning the prior
	// flag word so callers can nest correctly (the teacher's
	// runtime.Pushcli/Popcli pair).
	Pushcli() uintptr
	Popcli(flags uintptr)

	// LapicID returns this processor's local APIC id.
	LapicID() int

	// SendIPI delivers an inter-processor interrupt. dest identifies a
	// target processor id, or AllButSelf/AllIncludingSelf.
	SendIPI(dest int, vector uint8)

	// Rdtsc reads the timestamp counter, used for APIC timer
	// calibration against the 8254.
	Rdtsc() uint64
}

// Destination shorthands for SendIPI, matching the ICR "destination
// shorthand" encoding the teacher's cpus_start uses (1=self, 2=all,
// 3=all-but-self).
const (
	DestSelf        = -1
	DestAllIncluding = -2
	DestAllButSelf  = -3
)

var backend Backend

// Install registers the active hardware backend. Called exactly once,
// at boot (or at the start of a hosted-mode test/CLI run).
func Install(b Backend) { backend = b }

func Current() Backend {
	if backend == nil {
		panic("arch: no backend installed")
	}
	return backend
}
