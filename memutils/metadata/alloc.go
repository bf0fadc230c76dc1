package metadata

import (
	cerrors "github.com/cockroachdb/errors"
	"github.com/mm7655/MemoryDisk/memutils"
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// CreateAllocationRequest asks policy to choose a free block for an allocation of allocSize units on
// behalf of owner, and returns an AllocationRequest describing how the map would carve it. The map is not
// modified; pass the request to Alloc to commit it.
//
// The boolean return value is false when no free block is large enough. An error is returned for invalid
// arguments, or when the chosen block would need to be split while the map is already at capacity.
func (m *MemoryMap) CreateAllocationRequest(allocSize int, owner OwnerID, policy PlacementPolicy) (bool, AllocationRequest, error) {
	var allocRequest AllocationRequest

	err := memutils.CheckPositive(allocSize, "allocSize")
	if err != nil {
		return false, allocRequest, err
	}

	if owner <= FreeOwner {
		return false, allocRequest, errors.Errorf("invalid owner %d: owners must be positive", owner)
	}

	if policy == nil {
		return false, allocRequest, errors.New("a placement policy is required")
	}

	memutils.DebugValidate(m)

	// Is the map big enough?
	if allocSize > m.SumFreeSize() {
		return false, allocRequest, nil
	}

	index, found := policy.Select(m, allocSize)
	if !found {
		return false, allocRequest, nil
	}

	if index < 0 || index >= len(m.blocks) {
		return false, allocRequest, errors.Errorf("policy %s selected block index %d, but the map only has %d blocks", policy.Strategy(), index, len(m.blocks))
	}

	block := m.blocks[index]
	if !fits(block, allocSize) {
		return false, allocRequest, errors.Errorf("policy %s selected block %s, which cannot hold %d units", policy.Strategy(), block, allocSize)
	}

	allocRequest.BlockIndex = index
	allocRequest.Size = allocSize
	allocRequest.Owner = owner
	allocRequest.Item = block
	allocRequest.Strategy = policy.Strategy()
	allocRequest.Split = block.Size > allocSize

	if allocRequest.Split && m.isFull() {
		return false, allocRequest, cerrors.Wrapf(memutils.ErrCapacityExceeded, "splitting %s requires %d blocks", block, len(m.blocks)+1)
	}

	return true, allocRequest, nil
}

// Alloc commits an AllocationRequest. The allocated block takes the lower end of the chosen free block; if
// anything is left over, the free remainder is inserted immediately after it so the map stays sorted.
// An error is returned, and the map left untouched, if the request no longer matches the map.
func (m *MemoryMap) Alloc(request AllocationRequest) (Block, error) {
	if request.BlockIndex < 0 || request.BlockIndex >= len(m.blocks) {
		return NullBlock, errors.Errorf("allocation request refers to block index %d, but the map only has %d blocks", request.BlockIndex, len(m.blocks))
	}

	current := m.blocks[request.BlockIndex]
	if current != request.Item || !fits(current, request.Size) {
		return NullBlock, errors.Errorf("allocation request expected %s at index %d, but found %s", request.Item, request.BlockIndex, current)
	}

	if current.Size == request.Size {
		m.blocks[request.BlockIndex].Owner = request.Owner
		memutils.DebugValidate(m)
		return m.blocks[request.BlockIndex], nil
	}

	if m.isFull() {
		return NullBlock, cerrors.Wrapf(memutils.ErrCapacityExceeded, "splitting %s requires %d blocks", current, len(m.blocks)+1)
	}

	allocated := request.Allocated()
	m.blocks[request.BlockIndex] = allocated
	m.blocks = slices.Insert(m.blocks, request.BlockIndex+1, request.Remainder())

	memutils.DebugValidate(m)
	return allocated, nil
}

// Allocate finds and commits an allocation in one step. NullBlock is returned whenever the allocation
// could not be made: with a nil error when no free block was large enough, or alongside the error that
// prevented it otherwise.
func (m *MemoryMap) Allocate(policy PlacementPolicy, allocSize int, owner OwnerID) (Block, error) {
	success, request, err := m.CreateAllocationRequest(allocSize, owner, policy)
	if err != nil || !success {
		return NullBlock, err
	}

	return m.Alloc(request)
}

// Free returns the block whose bounds exactly match block to the free pool, and merges it with a free
// predecessor and/or successor. memutils.ErrBlockNotFound is returned if no block has those bounds and
// memutils.ErrBlockAlreadyFree if the block is not owned. The map is unchanged on error.
func (m *MemoryMap) Free(block Block) error {
	index := m.indexOf(block.Start, block.End)
	if index < 0 {
		return cerrors.Wrapf(memutils.ErrBlockNotFound, "%d..%d", block.Start, block.End)
	}

	if m.blocks[index].IsFree() {
		return cerrors.Wrapf(memutils.ErrBlockAlreadyFree, "%d..%d", block.Start, block.End)
	}

	m.release(index)

	memutils.DebugValidate(m)
	return nil
}

// FreeOwner frees every block owned by owner and returns how many blocks were released
func (m *MemoryMap) FreeOwner(owner OwnerID) int {
	if owner <= FreeOwner {
		return 0
	}

	var released int
	for index := 0; index < len(m.blocks); index++ {
		if m.blocks[index].Owner == owner {
			index = m.release(index)
			released++
		}
	}

	memutils.DebugValidate(m)
	return released
}

// release marks the block at index as free and coalesces it with free neighbours. It returns the index
// of the resulting free block.
func (m *MemoryMap) release(index int) int {
	m.blocks[index].Owner = FreeOwner

	if index > 0 && m.blocks[index-1].IsFree() {
		m.blocks[index].Start = m.blocks[index-1].Start
		m.blocks[index].Size += m.blocks[index-1].Size
		m.blocks = slices.Delete(m.blocks, index-1, index)
		index--
	}

	if index+1 < len(m.blocks) && m.blocks[index+1].IsFree() {
		m.blocks[index].End = m.blocks[index+1].End
		m.blocks[index].Size += m.blocks[index+1].Size
		m.blocks = slices.Delete(m.blocks, index+1, index+2)
	}

	return index
}

func (m *MemoryMap) isFull() bool {
	return m.maxBlocks > 0 && len(m.blocks) >= m.maxBlocks
}

// Rebuild replaces the contents of the map with the provided owned blocks, filling every gap between them
// with free blocks. owned must be sorted by start address, must not overlap and must lie within the
// map's range. The map is unchanged on error.
func (m *MemoryMap) Rebuild(owned []Block) error {
	rebuilt := make([]Block, 0, len(owned)*2+1)
	next := m.base
	end := m.base + m.size

	for _, block := range owned {
		if block.IsFree() || block.IsNull() {
			return errors.Errorf("cannot rebuild with unowned block %s", block)
		}
		if block.Start < next {
			return errors.Errorf("block %s overlaps the previous block or the start of the map", block)
		}
		if block.End >= end || block.End-block.Start+1 != block.Size {
			return errors.Errorf("block %s does not fit within the map", block)
		}

		if block.Start > next {
			rebuilt = append(rebuilt, newBlock(next, block.Start-next, FreeOwner))
		}
		rebuilt = append(rebuilt, block)
		next = block.End + 1
	}

	if next < end {
		rebuilt = append(rebuilt, newBlock(next, end-next, FreeOwner))
	}

	if m.maxBlocks > 0 && len(rebuilt) > m.maxBlocks {
		return cerrors.Wrapf(memutils.ErrCapacityExceeded, "rebuilt map requires %d blocks", len(rebuilt))
	}

	m.blocks = rebuilt
	memutils.DebugValidate(m)
	return nil
}
