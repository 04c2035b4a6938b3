//go:build !unix && !windows

package reserve

func (Mmap) Reserve(size int) ([]byte, error) {
	return nil, ErrNotSupported
}

func (Mmap) Release(memory []byte) error {
	return nil
}

// PageSize returns the page size Heap aligns to
func PageSize() int {
	return heapPageSize
}
