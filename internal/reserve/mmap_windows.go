//go:build windows

package reserve

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/windows"
)

// Reserve reserves and commits size bytes of zeroed read/write memory
func (Mmap) Reserve(size int) ([]byte, error) {
	if size <= 0 {
		return nil, errors.Newf("cannot reserve %d bytes", size)
	}

	address, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_RESERVE|windows.MEM_COMMIT, windows.PAGE_READWRITE)
	if err != nil {
		return nil, errors.Wrapf(err, "VirtualAlloc %d bytes", size)
	}

	return unsafe.Slice((*byte)(unsafe.Pointer(address)), size), nil
}

// Release frees memory returned from Reserve
func (Mmap) Release(memory []byte) error {
	if len(memory) == 0 {
		return nil
	}

	address := uintptr(unsafe.Pointer(&memory[0]))
	return errors.Wrap(windows.VirtualFree(address, 0, windows.MEM_RELEASE), "VirtualFree")
}

// PageSize returns the size of a virtual memory page
func PageSize() int {
	return windows.Getpagesize()
}
