// Command kmazyctl is a host-side diagnostic CLI for the kernel core:
// it drives the physical buddy allocator (buddy-dump) and the syscall
// service registry (services) in hosted mode (over internal/arch/hosted, no real
// hardware) for interactive exploration outside of QEMU.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hmos3/kmazy/internal/arch"
	"github.com/hmos3/kmazy/internal/arch/hosted"
	"github.com/hmos3/kmazy/internal/kernel/buddy"
	"github.com/hmos3/kmazy/internal/kernel/ctx"
	"github.com/hmos3/kmazy/internal/kernel/paging"
	"github.com/hmos3/kmazy/internal/kernel/syscall"
)

var log zerolog.Logger

func main() {
	log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()

	root := &cobra.Command{
		Use:   "kmazyctl",
		Short: "diagnostic CLI for the kmazy kernel core, running in hosted (simulated) mode",
	}
	root.PersistentFlags().Int("cpus", 1, "number of simulated processors")
	root.PersistentFlags().Int("arena-mb", 16, "size of the simulated physical memory arena, in MiB")
	viper.BindPFlag("cpus", root.PersistentFlags().Lookup("cpus"))
	viper.BindPFlag("arena-mb", root.PersistentFlags().Lookup("arena-mb"))
	viper.SetEnvPrefix("KMAZYCTL")
	viper.AutomaticEnv()

	root.AddCommand(newBuddyDumpCmd())
	root.AddCommand(newServicesCmd())

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// newSimulatedKernel brings up a hosted backend, a physical buddy
// allocator over a single mmap'd arena, and a KernelContext, the same
// boot order the freestanding kernel would follow.
func newSimulatedKernel() (*ctx.KernelContext, func(), error) {
	arenaMB := viper.GetInt("arena-mb")
	ncpus := viper.GetInt("cpus")

	arena, err := hosted.NewArena(arenaMB << 20)
	if err != nil {
		return nil, nil, fmt.Errorf("mmap simulated arena: %w", err)
	}
	backend := hosted.NewBackend(ncpus, func() int { return 0 }, func(dest int, vector uint8) {
		log.Debug().Int("dest", dest).Uint8("vector", vector).Msg("simulated IPI")
	})
	arch.Install(backend)

	span := arena.Base + uintptr(len(arena.Bytes))
	phys := buddy.NewPhysBuddy(arena.Base, uintptr(len(arena.Bytes))/buddy.MinBlockSize,
		[]buddy.MemRange{{Base: arena.Base, Length: uintptr(len(arena.Bytes)), Kind: buddy.Usable}},
		buddy.MemRange{})
	lin := buddy.NewLinBuddy(span, uintptr(len(arena.Bytes))/buddy.MinBlockSize)
	pages := paging.NewKernelManager(phys, 0, 0)

	kc := ctx.New(phys, lin, pages)
	cleanup := func() { arena.Close() }
	return kc, cleanup, nil
}

func newBuddyDumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "buddy-dump",
		Short: "allocate a few pages from the simulated physical allocator and print its free-byte accounting",
		RunE: func(cmd *cobra.Command, args []string) error {
			kc, cleanup, err := newSimulatedKernel()
			if err != nil {
				return err
			}
			defer cleanup()

			before := kc.Phys.FreeBytes()
			a, aerr := kc.Phys.Allocate(paging.PageSize)
			if !aerr.Ok() {
				return fmt.Errorf("allocate: %s", aerr)
			}
			log.Info().
				Uint64("free_bytes_before", uint64(before)).
				Uint64("free_bytes_after", uint64(kc.Phys.FreeBytes())).
				Uint64("allocated_at", uint64(a)).
				Msg("buddy allocation")
			if rerr := kc.Phys.Release(a); !rerr.Ok() {
				return fmt.Errorf("release: %s", rerr)
			}
			return nil
		},
	}
}

func newServicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "services",
		Short: "register a couple of sample services and dump the resulting slot assignments",
		RunE: func(cmd *cobra.Command, args []string) error {
			tb := syscall.NewTable()
			for _, name := range []string{"ahci", "keyboard"} {
				slot, err := tb.RegisterService(name, func(interface{}, [5]uintptr) [6]uintptr { return [6]uintptr{} }, nil)
				if !err.Ok() {
					return fmt.Errorf("register %q: %s", name, err)
				}
				log.Info().Str("service", name).Int("slot", slot).Msg("registered")
			}
			return nil
		},
	}
}
