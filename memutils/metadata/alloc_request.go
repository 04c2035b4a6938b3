package metadata

// AllocationRequest is a type returned from BlockMetadata.CreateAllocationRequest which indicates where and how
// the metadata intends to carve new memory. Creating a request never changes the metadata; it is committed
// with BlockMetadata.Alloc.
type AllocationRequest struct {
	// BlockAllocationHandle is a numeric handle used to identify individual allocations within the metadata.
	// Zero-length requests occupy no bytes and receive NoAllocation.
	BlockAllocationHandle BlockAllocationHandle
	// Item is the suballocation that will be recorded on commit
	Item Suballocation
	// CursorBefore is the cursor the request was computed against. Alloc refuses requests whose
	// CursorBefore no longer matches the block.
	CursorBefore uint64
}

// CursorAfter returns where the cursor will sit once the request is committed
func (r AllocationRequest) CursorAfter() uint64 {
	return r.Item.End()
}
