package arena_test

import (
	"io"
	"math"
	"testing"

	"github.com/cheriprobe/caparena/arena"
	mock_arena "github.com/cheriprobe/caparena/arena/mocks"
	"github.com/cheriprobe/caparena/memutils"
	"github.com/cheriprobe/caparena/memutils/bounds"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/exp/slog"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func plainPolicy(t testing.TB, granularity uint64) bounds.Policy {
	policy, err := bounds.NewPlainPolicy(granularity)
	require.NoError(t, err)
	return policy
}

func exactPolicy(t testing.TB, encoding bounds.Encoding) bounds.ExactPolicy {
	policy, err := bounds.NewExactPolicy(encoding)
	require.NoError(t, err)
	return policy
}

func readyAllocator(t testing.TB, capacity uint64, policy bounds.Policy, flags arena.CreateFlags) *arena.Allocator {
	allocator, err := arena.New(testLogger(), arena.CreateOptions{
		Flags:    flags,
		Capacity: capacity,
		Policy:   policy,
		Reserver: arena.HeapReserver,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, allocator.Destroy())
	})
	return allocator
}

func TestArenaInitOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	reserver := mock_arena.NewMockReserver(ctrl)
	reserver.EXPECT().Reserve(1024).DoAndReturn(arena.HeapReserver.Reserve).Times(1)

	a := arena.NewArena(testLogger(), reserver, 1024, 0)
	require.False(t, a.Initialized())
	require.Equal(t, uint64(0), a.Base())
	require.Equal(t, uint64(1024), a.Remaining())

	require.NoError(t, a.Init())
	require.NoError(t, a.Init())
	require.NoError(t, a.Init())

	require.True(t, a.Initialized())
	require.NotZero(t, a.Base())
	require.Equal(t, a.Base(), a.Cursor())
	require.Equal(t, a.Base()+1024, a.End())
	require.Equal(t, uint64(1024), a.Capacity())
}

func TestArenaReservationFailureIsSticky(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	reserver := mock_arena.NewMockReserver(ctrl)
	reserver.EXPECT().Reserve(4096).Return(nil, errors.New("no memory for you")).Times(1)

	allocator, err := arena.New(testLogger(), arena.CreateOptions{
		Capacity: 4096,
		Reserver: reserver,
	})
	require.NoError(t, err)

	_, err = allocator.Allocate(10)
	require.Error(t, err)
	require.True(t, errors.Is(err, memutils.ErrReservation))
	require.False(t, errors.Is(err, memutils.ErrOutOfMemory))

	// No retry: the reserver is not called again
	_, err = allocator.Allocate(1)
	require.True(t, errors.Is(err, memutils.ErrReservation))
	_, err = allocator.Resize(arena.Capability{}, 1)
	require.True(t, errors.Is(err, memutils.ErrReservation))

	require.False(t, allocator.Arena().Initialized())
	require.NoError(t, allocator.Destroy())
}

func TestArenaShortReservation(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	short := make([]byte, 512)
	reserver := mock_arena.NewMockReserver(ctrl)
	reserver.EXPECT().Reserve(1024).Return(short, nil).Times(1)
	reserver.EXPECT().Release(gomock.Any()).Return(nil).Times(1)

	a := arena.NewArena(testLogger(), reserver, 1024, 0)
	err := a.Init()
	require.True(t, errors.Is(err, memutils.ErrReservation))
	require.Equal(t, err, a.Init())
}

func TestArenaInvalidCapacity(t *testing.T) {
	capacities := map[string]uint64{
		"Zero":            0,
		"Past MaxInt":     math.MaxInt + 1,
		"MaxInt":          math.MaxInt,
		"Heap Page Short": math.MaxInt - 100,
	}

	for name, capacity := range capacities {
		t.Run(name, func(t *testing.T) {
			a := arena.NewArena(nil, arena.HeapReserver, capacity, 0)
			require.NotPanics(t, func() {
				require.True(t, errors.Is(a.Init(), memutils.ErrReservation))
			})
			require.False(t, a.Initialized())
		})
	}
}

func TestArenaDestroyReleases(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	reserver := mock_arena.NewMockReserver(ctrl)
	reserver.EXPECT().Reserve(1024).DoAndReturn(arena.HeapReserver.Reserve).Times(1)
	reserver.EXPECT().Release(gomock.Any()).Return(nil).Times(1)

	allocator, err := arena.New(testLogger(), arena.CreateOptions{Capacity: 1024, Reserver: reserver})
	require.NoError(t, err)

	_, err = allocator.Allocate(10)
	require.NoError(t, err)

	require.NoError(t, allocator.Destroy())
	require.False(t, allocator.Arena().Initialized())

	_, err = allocator.Allocate(10)
	require.Error(t, err)
	require.False(t, errors.Is(err, memutils.ErrOutOfMemory))

	// Destroying twice releases nothing more
	require.NoError(t, allocator.Destroy())
}

func TestArenaCarveExhaustion(t *testing.T) {
	a := arena.NewArena(testLogger(), arena.HeapReserver, 1024, arena.CreateTrackCarves)
	defer func() { require.NoError(t, a.Destroy()) }()

	_, err := a.Carve(1025, 1, 1025)
	require.True(t, errors.Is(err, memutils.ErrOutOfMemory))
	require.Equal(t, a.Base(), a.Cursor())

	region, err := a.Carve(1, 1, 1)
	require.NoError(t, err)
	require.Equal(t, a.Base(), region.Address)
	require.Len(t, region.Bytes(), 1)
	require.Equal(t, 1, cap(region.Bytes()))

	region, err = a.Carve(1023, 1, 1000)
	require.NoError(t, err)
	require.Equal(t, uint64(1), region.Offset)
	require.Equal(t, a.End(), a.Cursor())
	require.Zero(t, a.Remaining())

	_, err = a.Carve(1, 1, 1)
	require.True(t, errors.Is(err, memutils.ErrOutOfMemory))

	// Empty carves still fit at the very end
	region, err = a.Carve(0, 1, 0)
	require.NoError(t, err)
	require.Empty(t, region.Bytes())

	carve, found := a.FindCarve(a.Base() + 500)
	require.True(t, found)
	require.Equal(t, uint64(1000), carve.Requested)
	require.NoError(t, a.Validate())
}

func TestArenaCarveAlignment(t *testing.T) {
	a := arena.NewArena(testLogger(), arena.HeapReserver, 8192, 0)
	defer func() { require.NoError(t, a.Destroy()) }()

	first, err := a.Carve(3, 1, 3)
	require.NoError(t, err)

	second, err := a.Carve(64, 64, 64)
	require.NoError(t, err)
	require.Zero(t, second.Address%64)
	require.Equal(t, uint64(61), second.Padding)
	require.GreaterOrEqual(t, second.Address, first.Address+first.Length)

	_, err = a.Carve(16, 24, 16)
	require.True(t, errors.Is(err, memutils.PowerOfTwoError))
	require.Equal(t, second.Address+64, a.Cursor())
}
