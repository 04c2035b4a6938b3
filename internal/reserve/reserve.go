// Package reserve obtains the backing memory for arenas from the operating environment.
package reserve

import (
	"math"
	"unsafe"

	"github.com/cockroachdb/errors"
)

// ErrNotSupported is returned by Mmap on platforms with no anonymous mapping support
var ErrNotSupported = errors.New("anonymous memory reservation is not supported on this platform")

// Mmap reserves memory with a private, anonymous, read/write mapping. It is the default for arenas.
type Mmap struct{}

// Heap reserves memory from the Go heap. The returned slice starts on a page boundary so that
// carving from it behaves like carving from a mapping.
type Heap struct{}

const heapPageSize = 4096

func (Heap) Reserve(size int) ([]byte, error) {
	if size <= 0 || size > math.MaxInt-heapPageSize {
		return nil, errors.Newf("cannot reserve %d bytes", size)
	}

	backing := make([]byte, size+heapPageSize)
	skip := int(-uintptr(unsafe.Pointer(&backing[0])) & (heapPageSize - 1))

	return backing[skip : skip+size : skip+size], nil
}

// Release does nothing; the garbage collector takes the memory back once nothing refers to it
func (Heap) Release(memory []byte) error {
	return nil
}
