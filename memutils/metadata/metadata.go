package metadata

import (
	"fmt"

	"github.com/cheriprobe/caparena/memutils"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// BlockMetadata represents a single large reservation of memory that is carved into suballocations.
// Offsets are relative to the start of the block, but alignment is always applied to the absolute
// address (BaseAddress + offset), since that is what bounds encodings care about.
type BlockMetadata interface {
	// Init must be called before the BlockMetadata is used. It informs the implementation of the size in
	// bytes of the block of memory it will be managing.
	Init(size uint64)
	// Size retrieves the size in bytes that the block was initialized with
	Size() uint64
	// BaseAddress is the absolute address of offset 0
	BaseAddress() uint64
	// Cursor returns the offset of the first byte that has never been carved
	Cursor() uint64

	// Validate performs internal consistency checks on the metadata. When the implementation is functioning
	// correctly, it should not be possible for this method to return an error.
	Validate() error
	// AllocationCount returns the number of suballocations carved so far
	AllocationCount() int
	// SumFreeSize returns the number of bytes that can still be carved
	SumFreeSize() uint64
	// IsEmpty will return true if nothing has been carved from this block
	IsEmpty() bool

	// VisitAllRegions will call the provided callback once for each allocation and unused region in
	// the block, in address order.
	VisitAllRegions(handleBlock func(handle BlockAllocationHandle, offset uint64, size uint64, free bool) error) error
	// AllocationOffset accepts a BlockAllocationHandle that maps to a carve within the block
	// and returns its offset.
	AllocationOffset(allocHandle BlockAllocationHandle) (uint64, error)
	// FindAllocation returns the carve containing the provided offset, if any
	FindAllocation(offset uint64) (Suballocation, bool)

	// AddDetailedStatistics sums this block's allocation statistics into the provided object
	AddDetailedStatistics(stats *memutils.DetailedStatistics)
	// AddStatistics sums this block's allocation statistics into the provided object
	AddStatistics(stats *memutils.Statistics)
	// BlockJsonData populates a json object with information about this block
	BlockJsonData(json *jwriter.ObjectState)

	// CreateAllocationRequest computes where a carve of allocSize bytes aligned to allocAlignment would
	// land, without changing the metadata. The bool return is false when it does not fit. requested is
	// the pre-rounding length, kept for statistics.
	CreateAllocationRequest(allocSize, allocAlignment, requested uint64) (bool, AllocationRequest, error)
	// Alloc commits an AllocationRequest. The implementation must return an error if the request was
	// computed against a state the metadata is no longer in.
	Alloc(request AllocationRequest) error
	// Free accepts a handle for a previous carve. Implementations are free to never reclaim memory.
	Free(allocHandle BlockAllocationHandle) error
}

// BlockMetadataBase is a simple struct that provides a few shared utilities for BlockMetadata
// implementations in the memutils module.
type BlockMetadataBase struct {
	size        uint64
	baseAddress uint64
}

// NewBlockMetadata creates a new BlockMetadataBase for a block whose first byte lives at baseAddress
func NewBlockMetadata(baseAddress uint64) BlockMetadataBase {
	return BlockMetadataBase{
		baseAddress: baseAddress,
	}
}

// Init prepares this structure for allocations and sizes the block in bytes based on the parameter size.
func (m *BlockMetadataBase) Init(size uint64) {
	m.size = size
}

// Size returns the size of the block in bytes
func (m *BlockMetadataBase) Size() uint64 { return m.size }

// BaseAddress returns the absolute address of the start of the block
func (m *BlockMetadataBase) BaseAddress() uint64 { return m.baseAddress }

// WriteBlockJson populates a json object with the fields every block reports
func (m *BlockMetadataBase) WriteBlockJson(json *jwriter.ObjectState, unusedBytes uint64, allocationCount, unusedRangeCount int) {
	json.Name("BaseAddress").String(formatAddress(m.baseAddress))
	json.Name("TotalBytes").Int(int(m.Size()))
	json.Name("UnusedBytes").Int(int(unusedBytes))
	json.Name("Allocations").Int(allocationCount)
	json.Name("UnusedRanges").Int(unusedRangeCount)
}

func formatAddress(address uint64) string {
	return fmt.Sprintf("%#x", address)
}
