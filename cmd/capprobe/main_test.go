package main

import (
	"io"
	"testing"

	"github.com/cheriprobe/caparena/arena"
	"github.com/cheriprobe/caparena/memutils/bounds"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func useFlags(t *testing.T, encoding string, printStats bool) {
	oldEncoding, oldHeap, oldStats, oldCapacity := *encodingName, *heap, *stats, *capacity
	t.Cleanup(func() {
		*encodingName, *heap, *stats, *capacity = oldEncoding, oldHeap, oldStats, oldCapacity
	})

	*encodingName = encoding
	*heap = true
	*stats = printStats
	*capacity = 4 * 1024 * 1024
}

func TestRunEveryScenario(t *testing.T) {
	for _, encoding := range []string{"morello", "riscv128", "plain"} {
		t.Run(encoding, func(t *testing.T) {
			useFlags(t, encoding, true)
			require.NoError(t, run(testLogger(), nil))
		})
	}
}

func TestRunSelectedScenario(t *testing.T) {
	useFlags(t, "morello", false)

	for _, p := range checks {
		t.Run(p.name, func(t *testing.T) {
			require.NoError(t, run(testLogger(), []string{p.name}))
		})
	}
}

func TestRunRejectsUnknownNames(t *testing.T) {
	useFlags(t, "morello", false)
	require.Error(t, run(testLogger(), []string{"overlap", "no-such-scenario"}))

	useFlags(t, "cheri256", false)
	require.Error(t, run(testLogger(), nil))
}

func heapAllocator(t *testing.T, encoding bounds.Encoding) *arena.Allocator {
	policy, err := bounds.NewExactPolicy(encoding)
	require.NoError(t, err)

	allocator, err := arena.New(testLogger(), arena.CreateOptions{
		Capacity: 4 * 1024 * 1024,
		Policy:   policy,
		Reserver: arena.HeapReserver,
		Flags:    arena.CreateTrackCarves,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, allocator.Destroy())
	})
	return allocator
}

func TestNarrowReallocKeepsRoundedLength(t *testing.T) {
	allocator := heapAllocator(t, bounds.Morello)
	require.NoError(t, checkNarrowRealloc(allocator))

	// The last resize asks for 16385 bytes and gets the 16392 it rounds to
	var sizes []uint64
	var requested []uint64
	for offset := allocator.Arena().Base(); offset < allocator.Arena().Cursor(); {
		carve, found := allocator.Arena().FindCarve(offset)
		if !found {
			offset++
			continue
		}
		sizes = append(sizes, carve.Size)
		requested = append(requested, carve.Requested)
		offset = allocator.Arena().Base() + carve.End()
	}
	require.Equal(t, []uint64{16400, 16392, 16392}, sizes)
	require.Equal(t, []uint64{16400, 16392, 16385}, requested)
}

func TestOverlapFindsNoOverlap(t *testing.T) {
	for name, encoding := range map[string]bounds.Encoding{"Morello": bounds.Morello, "RISCV128": bounds.RISCV128} {
		t.Run(name, func(t *testing.T) {
			allocator := heapAllocator(t, encoding)
			require.NoError(t, checkOverlap(allocator))
			require.NoError(t, allocator.Validate())
		})
	}
}
