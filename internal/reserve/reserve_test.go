package reserve

import (
	"math"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestHeapReserveIsPageAligned(t *testing.T) {
	for _, size := range []int{1, 1024, 4096, 100000} {
		memory, err := Heap{}.Reserve(size)
		require.NoError(t, err)
		require.Len(t, memory, size)
		require.Equal(t, size, cap(memory))
		require.Zero(t, uintptr(unsafe.Pointer(&memory[0]))%heapPageSize)
		require.NoError(t, Heap{}.Release(memory))
	}

	_, err := Heap{}.Reserve(0)
	require.Error(t, err)
}

func TestHeapReserveTooLarge(t *testing.T) {
	for _, size := range []int{math.MaxInt, math.MaxInt - heapPageSize + 1} {
		require.NotPanics(t, func() {
			_, err := Heap{}.Reserve(size)
			require.Error(t, err)
		})
	}
}

func TestMmapReserve(t *testing.T) {
	memory, err := Mmap{}.Reserve(1 << 20)
	if err == ErrNotSupported {
		t.Skip("no anonymous mappings on this platform")
	}
	require.NoError(t, err)
	require.Len(t, memory, 1<<20)
	require.Zero(t, uintptr(unsafe.Pointer(&memory[0]))%uintptr(PageSize()))

	// Fresh mappings are zeroed and writable
	require.Equal(t, byte(0), memory[12345])
	memory[12345] = 0xAB
	require.Equal(t, byte(0xAB), memory[12345])

	require.NoError(t, Mmap{}.Release(memory))

	_, err = Mmap{}.Reserve(-1)
	require.Error(t, err)
}
