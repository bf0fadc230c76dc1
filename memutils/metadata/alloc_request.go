package metadata

// AllocationRequest is a type returned from MemoryMap.CreateAllocationRequest which indicates which block
// the placement policy chose and how the map intends to carve the allocation out of it. The request can be
// committed with MemoryMap.Alloc as long as the map has not been mutated in between.
type AllocationRequest struct {
	// BlockIndex is the position of the chosen free block within the map
	BlockIndex int
	// Size is the number of address units requested
	Size int
	// Owner is the process that will own the allocated block
	Owner OwnerID
	// Item is the free block as it appeared when the request was created
	Item Block
	// Strategy identifies the placement policy that produced this request
	Strategy AllocationStrategy
	// Split is true when Item is larger than Size, meaning a free remainder block will be inserted
	// directly after the allocation
	Split bool
}

// Allocated returns the block that Alloc will produce for this request
func (r AllocationRequest) Allocated() Block {
	return newBlock(r.Item.Start, r.Size, r.Owner)
}

// Remainder returns the free block that Alloc will insert after the allocation, or NullBlock if the
// request is an exact fit
func (r AllocationRequest) Remainder() Block {
	if !r.Split {
		return NullBlock
	}

	return newBlock(r.Item.Start+r.Size, r.Item.Size-r.Size, FreeOwner)
}
