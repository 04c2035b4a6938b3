package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"

	"github.com/cheriprobe/caparena/arena"
	"github.com/cheriprobe/caparena/memutils"
	"github.com/cheriprobe/caparena/memutils/bounds"
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

var (
	encodingName = flag.String("encoding", "morello", "bounds encoding: morello, riscv128 or plain")
	capacity     = flag.Uint64("capacity", arena.DefaultCapacity, "arena capacity in bytes")
	tries        = flag.Int("tries", 100, "iterations of the overlap probe")
	seed         = flag.Int64("seed", 1, "random seed for the overlap probe")
	verbose      = flag.Bool("v", false, "log allocator debug records")
	stats        = flag.Bool("stats", false, "print the allocator's json statistics after the checks")
	heap         = flag.Bool("heap", false, "reserve arenas from the Go heap instead of an anonymous mapping")
)

type check struct {
	name string
	run  func(allocator *arena.Allocator) error
}

var checks = []check{
	{"unrepresentable", checkUnrepresentable},
	{"narrow-realloc", checkNarrowRealloc},
	{"overlap", checkOverlap},
	{"copy", checkCopy},
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: capprobe [flags] [probe...]\n\nprobes:")
		for _, p := range checks {
			fmt.Fprintf(flag.CommandLine.Output(), " %s", p.name)
		}
		fmt.Fprintf(flag.CommandLine.Output(), "\n\nflags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(logger, flag.Args()); err != nil {
		logger.Error("capprobe failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func policyFor(name string) (bounds.Policy, error) {
	switch name {
	case "morello":
		return bounds.NewExactPolicy(bounds.Morello)
	case "riscv128":
		return bounds.NewExactPolicy(bounds.RISCV128)
	case "plain":
		return bounds.NewPlainPolicy(0)
	}

	return nil, errors.Newf("unknown encoding %q", name)
}

func run(logger *slog.Logger, selected []string) error {
	policy, err := policyFor(*encodingName)
	if err != nil {
		return err
	}

	reserver := arena.MmapReserver
	if *heap {
		reserver = arena.HeapReserver
	}

	toRun := checks
	if len(selected) > 0 {
		byName := make(map[string]check, len(checks))
		for _, p := range checks {
			byName[p.name] = p
		}

		toRun = nil
		for _, name := range selected {
			p, ok := byName[name]
			if !ok {
				return errors.Newf("unknown probe %q", name)
			}
			toRun = append(toRun, p)
		}
	}

	for _, p := range toRun {
		// Each check gets a fresh arena so earlier checks cannot exhaust it
		allocator, err := arena.New(logger, arena.CreateOptions{
			Capacity: *capacity,
			Policy:   policy,
			Flags:    arena.CreateTrackCarves,
			Reserver: reserver,
		})
		if err != nil {
			return err
		}

		err = p.run(allocator)
		if err == nil && *stats {
			fmt.Println(allocator.BuildStatsString(true))
		}
		if err == nil {
			err = allocator.Validate()
		}

		destroyErr := allocator.Destroy()
		if err = errors.CombineErrors(err, destroyErr); err != nil {
			return errors.Wrapf(err, "probe %s", p.name)
		}
		logger.Info("probe passed", slog.String("Probe", p.name), slog.String("Policy", policy.String()))
	}

	return nil
}

func checkUnrepresentable(allocator *arena.Allocator) error {
	length, rounded, found := bounds.FirstInexactLength(allocator.Policy(), 1<<32)
	if !found {
		fmt.Printf("%s: every length is precisely representable\n", allocator.Policy())
		return nil
	}

	fmt.Printf("%s: the first unrepresentable length is %d: it has been rounded up to %d\n",
		allocator.Policy(), length, rounded)
	return nil
}

func checkNarrowRealloc(allocator *arena.Allocator) error {
	length, rounded, found := bounds.FirstInexactLength(allocator.Policy(), 1<<32)
	if !found {
		fmt.Printf("%s: nothing to narrow\n", allocator.Policy())
		return nil
	}

	// Start above the rounded length, shrink to it, then shrink to the length that rounds to it
	sizes := []uint64{rounded + 8, rounded, length}
	capability, err := allocator.Allocate(sizes[0])
	if err != nil {
		return err
	}

	for _, size := range sizes[1:] {
		capability, err = allocator.Resize(capability, size)
		if err != nil {
			return err
		}
		fmt.Printf("resize to %d: %s length %d\n", size, capability, capability.Length())
	}

	if capability.Length() != rounded {
		return errors.Newf("resize to %d has length %d, expected %d", length, capability.Length(), rounded)
	}
	return nil
}

func checkOverlap(allocator *arena.Allocator) error {
	policy := allocator.Policy()

	var lengths []uint64
	for length := uint64(1); len(lengths) < 512 && length < 1<<24; length++ {
		rep, err := policy.Representable(length)
		if err != nil {
			return err
		}
		if rep.Length > length {
			lengths = append(lengths, length)
			length = rep.Length
		}
	}
	if len(lengths) == 0 {
		fmt.Printf("%s: no unrepresentable lengths to probe with\n", policy)
		return nil
	}

	rng := rand.New(rand.NewSource(*seed))
	var issued []arena.Capability
	for i := 0; i < *tries; i++ {
		size := lengths[rng.Intn(len(lengths))]
		capability, err := allocator.Allocate(size)
		if errors.Is(err, memutils.ErrOutOfMemory) {
			break
		}
		if err != nil {
			return err
		}
		if capability.Length() <= size {
			return errors.Newf("allocation of %d has length %d", size, capability.Length())
		}
		issued = append(issued, capability)
	}

	sort.Slice(issued, func(i, j int) bool {
		return issued[i].Address() < issued[j].Address()
	})
	for i := 1; i < len(issued); i++ {
		if issued[i-1].Overlaps(issued[i]) {
			return errors.Newf("%s overlaps %s", issued[i-1], issued[i])
		}
	}

	fmt.Printf("%s: %d allocations of unrepresentable lengths, none overlap\n", policy, len(issued))
	return nil
}

func checkCopy(allocator *arena.Allocator) error {
	message := []byte("Hello world\x00")

	capability, err := allocator.Allocate(uint64(len(message)))
	if err != nil {
		return err
	}
	if _, err := capability.WriteAt(message, 0); err != nil {
		return err
	}

	fmt.Printf("Copy: %s\n", capability.Bytes()[:len(message)-1])

	rep, err := allocator.Policy().Representable(uint64(len(message)))
	if err != nil {
		return err
	}
	if capability.Length() != rep.Length {
		return errors.Newf("copy has length %d, expected %d", capability.Length(), rep.Length)
	}
	return nil
}
