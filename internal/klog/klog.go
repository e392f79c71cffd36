// Package klog is the kernel console logger. It stays a thin printf-style
// wrapper -- a reflective, structured logger cannot run before the heap
// and GC are up, which is the window this sink is meant to cover.
package klog

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

var (
	mu  sync.Mutex
	std = log.New(os.Stdout, "", 0)
)

// SetOutput redirects the console sink; tests use this to capture output
// instead of writing to stdout.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	std.SetOutput(w)
}

// Printf writes one console line. Safe to call concurrently, but must
// never be called from a context where allocation is forbidden (trap
// stubs) -- use a pre-sized stack buffer there instead.
func Printf(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	std.Printf(format, args...)
}

// Panicf logs and then panics with the same message, used at kernel
// invariant violations per spec.md's error taxonomy ("unconditional
// panic with source location; halts the offending processor").
func Panicf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	mu.Lock()
	std.Print(msg)
	mu.Unlock()
	panic(msg)
}
