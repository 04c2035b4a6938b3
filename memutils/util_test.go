package memutils_test

import (
	"math"
	"testing"

	"github.com/cheriprobe/caparena/memutils"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestCheckPow2(t *testing.T) {
	require.NoError(t, memutils.CheckPow2(uint64(1), "one"))
	require.NoError(t, memutils.CheckPow2(16, "sixteen"))

	err := memutils.CheckPow2(uint64(24), "granularity")
	require.Error(t, err)
	require.True(t, errors.Is(err, memutils.PowerOfTwoError))
	require.Contains(t, err.Error(), "granularity is 24")

	require.Error(t, memutils.CheckPow2(0, "zero"))
}

func TestAlignUp(t *testing.T) {
	value, ok := memutils.AlignUp(uint64(10), 16)
	require.True(t, ok)
	require.Equal(t, uint64(16), value)

	value, ok = memutils.AlignUp(uint64(32), 16)
	require.True(t, ok)
	require.Equal(t, uint64(32), value)

	value, ok = memutils.AlignUp(uint64(0), 4096)
	require.True(t, ok)
	require.Equal(t, uint64(0), value)

	_, ok = memutils.AlignUp(uint64(math.MaxUint64-3), 16)
	require.False(t, ok)
}

func TestAlignDown(t *testing.T) {
	require.Equal(t, uint64(16), memutils.AlignDown(uint64(31), 16))
	require.Equal(t, uint64(0), memutils.AlignDown(uint64(7), 8))
}

func TestMinUint(t *testing.T) {
	require.Equal(t, uint64(3), memutils.MinUint(uint64(9), 3, 12))
	require.Equal(t, uint64(5), memutils.MinUint(uint64(5)))
}

func TestDetailedStatisticsAdd(t *testing.T) {
	var stats memutils.DetailedStatistics
	stats.Clear()

	stats.AddAllocation(16, 10)
	stats.AddAllocation(16400, 16400)
	stats.AddUnusedRange(6)

	var total memutils.DetailedStatistics
	total.Clear()
	total.AddDetailedStatistics(&stats)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			AllocationCount: 2,
			AllocationBytes: 16416,
			RequestedBytes:  16410,
		},
		UnusedRangeCount:   1,
		AllocationSizeMin:  16,
		AllocationSizeMax:  16400,
		UnusedRangeSizeMin: 6,
		UnusedRangeSizeMax: 6,
	}, total)
	require.Equal(t, uint64(6), total.RoundingBytes())
}
