package arena

import "github.com/cheriprobe/caparena/internal/reserve"

//go:generate mockgen -source reserver.go -destination ./mocks/reserver.go -package mock_arena

// Reserver obtains the single contiguous range of memory an Arena carves from
type Reserver interface {
	// Reserve returns size bytes of zeroed, readable and writable memory
	Reserve(size int) ([]byte, error)
	// Release returns memory obtained from Reserve
	Release(memory []byte) error
}

var (
	// MmapReserver reserves memory with a private anonymous mapping. It is the default.
	MmapReserver Reserver = reserve.Mmap{}
	// HeapReserver reserves page-aligned memory from the Go heap
	HeapReserver Reserver = reserve.Heap{}
)
