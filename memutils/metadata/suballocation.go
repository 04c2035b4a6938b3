package metadata

import "math"

type BlockAllocationHandle uint64

const (
	NoAllocation BlockAllocationHandle = math.MaxUint64
)

// Suballocation is one carve recorded in a block's ledger
type Suballocation struct {
	Offset uint64
	Size   uint64
	// Requested is the length the caller asked for before bounds rounding
	Requested uint64
	// Alignment is the base-address alignment the carve was made with
	Alignment uint64
	// Padding is the number of bytes skipped between the previous cursor and Offset
	Padding uint64
}

// End returns the offset one past the last byte of the suballocation
func (s Suballocation) End() uint64 {
	return s.Offset + s.Size
}
