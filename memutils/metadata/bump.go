package metadata

import (
	"sort"

	"github.com/cheriprobe/caparena/memutils"
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

var errCarvesNotTracked = errors.New("carve tracking is disabled for this block")

// BumpBlockMetadata is a BlockMetadata implementation for a forward-only arena. Every carve is placed
// at the cursor, aligned up to the requested alignment, and the cursor only ever moves forward. Free
// never reclaims anything, so a byte range is handed out at most once for the life of the block.
//
// Aggregate counters are always kept. When carve tracking is enabled the metadata additionally keeps
// a ledger of every non-empty carve, which allows VisitAllRegions, FindAllocation and a full overlap
// check in Validate. The ledger grows with every allocation, so it is meant for diagnostics.
type BumpBlockMetadata struct {
	BlockMetadataBase

	cursor     uint64
	emptyCount int
	// carved holds every committed carve and padding gap. The uncarved tail is added when
	// statistics are requested.
	carved memutils.DetailedStatistics

	trackCarves    bool
	suballocations []Suballocation
	handleKey      *swiss.Map[BlockAllocationHandle, int]
}

var _ BlockMetadata = &BumpBlockMetadata{}

// NewBumpBlockMetadata creates a new BumpBlockMetadata for a block starting at baseAddress. Init must
// be called before use.
func NewBumpBlockMetadata(baseAddress uint64, trackCarves bool) *BumpBlockMetadata {
	return &BumpBlockMetadata{
		BlockMetadataBase: NewBlockMetadata(baseAddress),
		trackCarves:       trackCarves,
	}
}

// Init prepares this structure for allocations and sizes the block in bytes based on the parameter size.
func (m *BumpBlockMetadata) Init(size uint64) {
	m.BlockMetadataBase.Init(size)
	m.cursor = 0
	m.emptyCount = 0
	m.carved.Clear()

	if m.trackCarves {
		m.suballocations = []Suballocation{}
		m.handleKey = swiss.NewMap[BlockAllocationHandle, int](42)
	}
}

// TracksCarves returns true if this block keeps a ledger of every carve
func (m *BumpBlockMetadata) TracksCarves() bool { return m.trackCarves }

// Cursor returns the offset of the first byte that has never been carved
func (m *BumpBlockMetadata) Cursor() uint64 { return m.cursor }

// SumFreeSize returns the number of bytes between the cursor and the end of the block
func (m *BumpBlockMetadata) SumFreeSize() uint64 { return m.size - m.cursor }

// AllocationCount returns the number of carves committed so far, including empty ones
func (m *BumpBlockMetadata) AllocationCount() int { return m.carved.AllocationCount }

// IsEmpty will return true if nothing has been carved from this block
func (m *BumpBlockMetadata) IsEmpty() bool { return m.carved.AllocationCount == 0 }

// Validate performs internal consistency checks on the metadata. With carve tracking enabled this
// walks the whole ledger and proves that no two carves overlap.
func (m *BumpBlockMetadata) Validate() error {
	if m.cursor > m.size {
		return errors.Errorf("cursor %d is past the end of the block, which is size %d", m.cursor, m.size)
	}

	if m.carved.AllocationBytes+m.carved.PaddingBytes != m.cursor {
		return errors.Errorf("%d allocated bytes and %d padding bytes do not add up to cursor %d", m.carved.AllocationBytes, m.carved.PaddingBytes, m.cursor)
	}

	if m.carved.RequestedBytes > m.carved.AllocationBytes {
		return errors.Errorf("%d bytes were requested but only %d were carved", m.carved.RequestedBytes, m.carved.AllocationBytes)
	}

	if !m.trackCarves {
		return nil
	}

	if len(m.suballocations)+m.emptyCount != m.carved.AllocationCount {
		return errors.Errorf("ledger holds %d carves and %d empty carves, but metadata indicates there should be %d", len(m.suballocations), m.emptyCount, m.carved.AllocationCount)
	}

	if m.handleKey.Count() != len(m.suballocations) {
		return errors.Errorf("handle index holds %d entries, but the ledger holds %d carves", m.handleKey.Count(), len(m.suballocations))
	}

	var offset, sumSize uint64
	for suballocIndex, suballoc := range m.suballocations {
		if suballoc.Offset < offset {
			return errors.Errorf("suballoc at index %d has offset %d- this collides with previous suballocations, expected offset %d", suballocIndex, suballoc.Offset, offset)
		}

		if (m.baseAddress+suballoc.Offset)%suballoc.Alignment != 0 {
			return errors.Errorf("suballoc at index %d has address %#x, which is not aligned to %d", suballocIndex, m.baseAddress+suballoc.Offset, suballoc.Alignment)
		}

		if suballoc.Size < suballoc.Requested {
			return errors.Errorf("suballoc at index %d has size %d, smaller than the requested %d", suballocIndex, suballoc.Size, suballoc.Requested)
		}

		index, ok := m.handleKey.Get(BlockAllocationHandle(suballoc.Offset + 1))
		if !ok || index != suballocIndex {
			return errors.Errorf("suballoc at index %d is not indexed by its handle", suballocIndex)
		}

		sumSize += suballoc.Size
		offset = suballoc.End()
	}

	if offset > m.cursor {
		return errors.Errorf("ledger ends at offset %d, past the cursor %d", offset, m.cursor)
	}

	if sumSize != m.carved.AllocationBytes {
		return errors.Errorf("ledger holds %d bytes, but metadata indicates %d were carved", sumSize, m.carved.AllocationBytes)
	}

	return nil
}

// CreateAllocationRequest computes where a carve would land without changing the metadata. The
// alignment is applied to the absolute address of the cursor.
func (m *BumpBlockMetadata) CreateAllocationRequest(allocSize, allocAlignment, requested uint64) (bool, AllocationRequest, error) {
	if err := memutils.CheckPow2(allocAlignment, "allocAlignment"); err != nil {
		return false, AllocationRequest{}, err
	}
	if requested > allocSize {
		return false, AllocationRequest{}, errors.Newf("requested size %d is larger than the carve size %d", requested, allocSize)
	}
	memutils.DebugValidate(m)

	address, ok := memutils.AlignUp(m.baseAddress+m.cursor, allocAlignment)
	if !ok {
		return false, AllocationRequest{}, nil
	}

	offset := address - m.baseAddress
	if offset > m.size || allocSize > m.size-offset {
		return false, AllocationRequest{}, nil
	}

	handle := NoAllocation
	if allocSize > 0 {
		handle = BlockAllocationHandle(offset + 1)
	}

	return true, AllocationRequest{
		BlockAllocationHandle: handle,
		Item: Suballocation{
			Offset:    offset,
			Size:      allocSize,
			Requested: requested,
			Alignment: allocAlignment,
			Padding:   offset - m.cursor,
		},
		CursorBefore: m.cursor,
	}, nil
}

// Alloc commits an AllocationRequest, moving the cursor past it
func (m *BumpBlockMetadata) Alloc(request AllocationRequest) error {
	item := request.Item
	if request.CursorBefore != m.cursor {
		return errors.Errorf("allocation request was created at cursor %d, but the block is at cursor %d", request.CursorBefore, m.cursor)
	}

	if item.Offset < m.cursor || item.Offset-m.cursor != item.Padding {
		return errors.Errorf("allocation request at offset %d with padding %d does not start from cursor %d", item.Offset, item.Padding, m.cursor)
	}

	if item.End() > m.size || item.End() < item.Offset {
		return errors.Errorf("allocation request at offset %d with size %d does not fit in a block of size %d", item.Offset, item.Size, m.size)
	}

	m.cursor = item.End()
	m.carved.AddAllocation(item.Size, item.Requested)
	if item.Padding > 0 {
		m.carved.PaddingBytes += item.Padding
		m.carved.AddUnusedRange(item.Padding)
	}

	if m.trackCarves {
		if item.Size == 0 {
			m.emptyCount++
		} else {
			m.suballocations = append(m.suballocations, item)
			m.handleKey.Put(request.BlockAllocationHandle, len(m.suballocations)-1)
		}
	}

	memutils.DebugValidate(m)
	return nil
}

// Free does nothing: carved memory is never reclaimed
func (m *BumpBlockMetadata) Free(allocHandle BlockAllocationHandle) error {
	return nil
}

// AllocationOffset accepts a BlockAllocationHandle that maps to a carve within the block and
// returns its offset.
func (m *BumpBlockMetadata) AllocationOffset(allocHandle BlockAllocationHandle) (uint64, error) {
	if allocHandle == NoAllocation || allocHandle == 0 {
		return 0, errors.New("handle does not map to a carve")
	}

	if m.trackCarves {
		if _, ok := m.handleKey.Get(allocHandle); !ok {
			return 0, errors.Errorf("handle %d does not map to a carve", allocHandle)
		}
	}

	return uint64(allocHandle) - 1, nil
}

// FindAllocation returns the carve containing the provided offset. It always fails when carve
// tracking is disabled.
func (m *BumpBlockMetadata) FindAllocation(offset uint64) (Suballocation, bool) {
	if !m.trackCarves {
		return Suballocation{}, false
	}

	index := sort.Search(len(m.suballocations), func(i int) bool {
		return m.suballocations[i].End() > offset
	})
	if index == len(m.suballocations) || m.suballocations[index].Offset > offset {
		return Suballocation{}, false
	}

	return m.suballocations[index], true
}

// VisitAllRegions will call the provided callback once for each carve and unused region in the block.
// Unused regions are alignment padding, which is never reused, and the uncarved tail.
func (m *BumpBlockMetadata) VisitAllRegions(handleBlock func(handle BlockAllocationHandle, offset uint64, size uint64, free bool) error) error {
	if !m.trackCarves {
		return errCarvesNotTracked
	}

	var lastOffset uint64
	for _, suballoc := range m.suballocations {
		if lastOffset < suballoc.Offset {
			err := handleBlock(NoAllocation, lastOffset, suballoc.Offset-lastOffset, true)
			if err != nil {
				return err
			}
		}

		err := handleBlock(BlockAllocationHandle(suballoc.Offset+1), suballoc.Offset, suballoc.Size, false)
		if err != nil {
			return err
		}

		lastOffset = suballoc.End()
	}

	if lastOffset < m.size {
		return handleBlock(NoAllocation, lastOffset, m.size-lastOffset, true)
	}

	return nil
}

// AddStatistics sums this block's allocation statistics into the statistics currently present in the
// provided memutils.Statistics object.
func (m *BumpBlockMetadata) AddStatistics(stats *memutils.Statistics) {
	stats.BlockCount++
	stats.BlockBytes += m.size
	stats.AddStatistics(&m.carved.Statistics)
}

// AddDetailedStatistics sums this block's allocation statistics into the statistics currently present
// in the provided memutils.DetailedStatistics object. Every padding gap counts as an unused range, as
// does the uncarved tail.
func (m *BumpBlockMetadata) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	block := m.carved
	block.BlockCount = 1
	block.BlockBytes = m.size
	if tail := m.SumFreeSize(); tail > 0 {
		block.AddUnusedRange(tail)
	}

	stats.AddDetailedStatistics(&block)
}

// BlockJsonData populates a json object with information about this block
func (m *BumpBlockMetadata) BlockJsonData(json *jwriter.ObjectState) {
	unusedRangeCount := m.carved.UnusedRangeCount
	if m.SumFreeSize() > 0 {
		unusedRangeCount++
	}

	m.WriteBlockJson(json, m.size-m.carved.AllocationBytes, m.carved.AllocationCount, unusedRangeCount)
	json.Name("Cursor").Int(int(m.cursor))
	json.Name("RequestedBytes").Int(int(m.carved.RequestedBytes))
	json.Name("PaddingBytes").Int(int(m.carved.PaddingBytes))
}
