//go:build unix

package reserve

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// Reserve maps size bytes of zeroed memory not backed by any file
func (Mmap) Reserve(size int) ([]byte, error) {
	if size <= 0 {
		return nil, errors.Newf("cannot reserve %d bytes", size)
	}

	memory, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Wrapf(err, "mmap %d bytes", size)
	}

	return memory, nil
}

// Release unmaps memory returned from Reserve
func (Mmap) Release(memory []byte) error {
	return errors.Wrap(unix.Munmap(memory), "munmap")
}

// PageSize returns the size of a virtual memory page
func PageSize() int {
	return unix.Getpagesize()
}
