package metadata

import (
	cerrors "github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/mm7655/MemoryDisk/memutils"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"
)

// MemoryMap is the ledger for a single contiguous address range. The range is covered by an ordered list
// of blocks with no gaps or overlaps, sorted by start address. Every block is either free or owned by a
// single process, and no two free blocks are ever adjacent.
//
// MemoryMap performs no synchronization of its own. Callers that share a map between goroutines must
// serialize every allocation and release, since splits and merges are multi-step mutations.
type MemoryMap struct {
	base      int
	size      int
	maxBlocks int
	blocks    []Block
}

// NewMemoryMap creates a map covering addresses 0 through size-1 as a single free block.
//
// maxBlocks bounds the number of blocks the map may hold; splitting a block when the map is full fails
// with memutils.ErrCapacityExceeded. A maxBlocks of 0 leaves the map unbounded.
func NewMemoryMap(size int, maxBlocks int) (*MemoryMap, error) {
	err := memutils.CheckPositive(size, "size")
	if err != nil {
		return nil, err
	}
	if maxBlocks < 0 {
		return nil, cerrors.Wrapf(memutils.ErrInvalidMap, "maxBlocks is %d", maxBlocks)
	}

	m := &MemoryMap{
		size:      size,
		maxBlocks: maxBlocks,
	}
	m.Clear()

	return m, nil
}

// NewMemoryMapFromBlocks creates a map from a caller-provided set of blocks, which must be contiguous and
// sorted by start address. The range begins at the first block's start address. Adjacent free blocks
// are merged before the map is validated. The provided slice is not retained.
func NewMemoryMapFromBlocks(blocks []Block, maxBlocks int) (*MemoryMap, error) {
	if len(blocks) == 0 {
		return nil, cerrors.Wrap(memutils.ErrInvalidMap, "no blocks were provided")
	}
	if maxBlocks < 0 {
		return nil, cerrors.Wrapf(memutils.ErrInvalidMap, "maxBlocks is %d", maxBlocks)
	}

	m := &MemoryMap{
		base:      blocks[0].Start,
		size:      lo.SumBy(blocks, func(b Block) int { return b.Size }),
		maxBlocks: maxBlocks,
		blocks:    make([]Block, 0, len(blocks)),
	}

	for _, block := range blocks {
		last := len(m.blocks) - 1
		if last >= 0 && block.IsFree() && m.blocks[last].IsFree() && m.blocks[last].End+1 == block.Start {
			m.blocks[last].End = block.End
			m.blocks[last].Size += block.Size
			continue
		}

		m.blocks = append(m.blocks, block)
	}

	err := m.Validate()
	if err != nil {
		return nil, cerrors.Mark(cerrors.Wrap(err, "seeding memory map"), memutils.ErrInvalidMap)
	}

	return m, nil
}

// Base returns the first address in the managed range
func (m *MemoryMap) Base() int { return m.base }

// Size returns the number of address units in the managed range
func (m *MemoryMap) Size() int { return m.size }

// Capacity returns the maximum number of blocks this map may hold, or 0 if it is unbounded
func (m *MemoryMap) Capacity() int { return m.maxBlocks }

// BlockCount returns the number of blocks, free and owned, currently in the map
func (m *MemoryMap) BlockCount() int { return len(m.blocks) }

// Block returns the block at the provided index. It panics if the index is out of range.
func (m *MemoryMap) Block(index int) Block { return m.blocks[index] }

// Blocks returns a copy of the map's blocks in address order
func (m *MemoryMap) Blocks() []Block {
	return slices.Clone(m.blocks)
}

// Clear instantly frees all allocations, leaving a single free block spanning the whole range
func (m *MemoryMap) Clear() {
	m.blocks = append(m.blocks[:0], newBlock(m.base, m.size, FreeOwner))
}

// AllocationCount returns the number of blocks owned by a process
func (m *MemoryMap) AllocationCount() int {
	return lo.CountBy(m.blocks, func(b Block) bool { return !b.IsFree() })
}

// FreeRegionsCount returns the number of free blocks. Because free neighbours are always merged,
// this is also the number of distinct free regions.
func (m *MemoryMap) FreeRegionsCount() int {
	return len(m.blocks) - m.AllocationCount()
}

// SumFreeSize returns the number of address units not owned by any process
func (m *MemoryMap) SumFreeSize() int {
	return lo.SumBy(m.blocks, func(b Block) int {
		if b.IsFree() {
			return b.Size
		}
		return 0
	})
}

// LargestFreeRegion returns the size of the largest free block, or 0 if the map is fully allocated
func (m *MemoryMap) LargestFreeRegion() int {
	var largest int
	for _, block := range m.blocks {
		if block.IsFree() && block.Size > largest {
			largest = block.Size
		}
	}
	return largest
}

// IsEmpty will return true if no process owns any part of the map
func (m *MemoryMap) IsEmpty() bool {
	return m.AllocationCount() == 0
}

// AllocationsOf returns every block owned by owner, in address order
func (m *MemoryMap) AllocationsOf(owner OwnerID) []Block {
	return lo.Filter(m.blocks, func(b Block, _ int) bool { return b.Owner == owner })
}

// FindBlock returns the block whose bounds are exactly start..end
func (m *MemoryMap) FindBlock(start, end int) (Block, bool) {
	index := m.indexOf(start, end)
	if index < 0 {
		return NullBlock, false
	}
	return m.blocks[index], true
}

func (m *MemoryMap) indexOf(start, end int) int {
	index, found := slices.BinarySearchFunc(m.blocks, start, func(b Block, target int) int {
		return b.Start - target
	})
	if !found || m.blocks[index].End != end {
		return -1
	}
	return index
}

// VisitAllRegions will call the provided callback once for each block in the map, in address order.
// Iteration stops at the first error, which is returned.
func (m *MemoryMap) VisitAllRegions(handleBlock func(index int, block Block) error) error {
	for index, block := range m.blocks {
		err := handleBlock(index, block)
		if err != nil {
			return err
		}
	}

	return nil
}

// Validate performs internal consistency checks on the map. When the map is functioning correctly, it
// should not be possible for this method to return an error.
func (m *MemoryMap) Validate() error {
	if len(m.blocks) == 0 {
		return errors.New("the memory map has no blocks")
	}

	if m.maxBlocks > 0 && len(m.blocks) > m.maxBlocks {
		return errors.Errorf("the memory map holds %d blocks, but its capacity is %d", len(m.blocks), m.maxBlocks)
	}

	if m.blocks[0].Start != m.base {
		return errors.Errorf("the first block should start at address %d, but instead it starts at %d", m.base, m.blocks[0].Start)
	}

	var calculatedSize int
	for index, block := range m.blocks {
		if block.IsNull() {
			return errors.Errorf("block at index %d is the null block", index)
		}

		if block.Size < 1 {
			return errors.Errorf("block at index %d has invalid size %d", index, block.Size)
		}

		if block.End-block.Start+1 != block.Size {
			return errors.Errorf("block at index %d spans %d..%d but reports a size of %d", index, block.Start, block.End, block.Size)
		}

		if block.Owner < FreeOwner {
			return errors.Errorf("block at index %d has invalid owner %d", index, block.Owner)
		}

		if index > 0 {
			prev := m.blocks[index-1]
			if prev.End+1 != block.Start {
				return errors.Errorf("block at index %d starts at %d, but the previous block ends at %d", index, block.Start, prev.End)
			}

			if prev.IsFree() && block.IsFree() {
				return errors.Errorf("blocks at index %d and %d are both free and should have been merged", index-1, index)
			}
		}

		calculatedSize += block.Size
	}

	if calculatedSize != m.size {
		return errors.Errorf("the full size of the memory map is %d, but the blocks only added up to %d", m.size, calculatedSize)
	}

	return nil
}

// AddStatistics sums this map's statistics into the statistics currently present in the provided
// memutils.Statistics object.
func (m *MemoryMap) AddStatistics(stats *memutils.Statistics) {
	stats.MapCount++
	stats.SegmentCount += len(m.blocks)
	stats.AllocationCount += m.AllocationCount()
	stats.TotalSize += m.size
	stats.AllocatedSize += m.size - m.SumFreeSize()
}

// AddDetailedStatistics sums this map's statistics into the statistics currently present in the provided
// memutils.DetailedStatistics object.
func (m *MemoryMap) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.MapCount++
	stats.TotalSize += m.size

	for _, block := range m.blocks {
		if block.IsFree() {
			stats.AddFreeRange(block.Size)
		} else {
			stats.AddAllocation(block.Size)
		}
	}
}

// BlockJsonData populates a json object with summary information about this map
func (m *MemoryMap) BlockJsonData(json *jwriter.ObjectState) {
	freeSize := m.SumFreeSize()

	json.Name("Base").Int(m.base)
	json.Name("TotalSize").Int(m.size)
	json.Name("FreeSize").Int(freeSize)
	json.Name("Blocks").Int(len(m.blocks))
	json.Name("Capacity").Int(m.maxBlocks)
	json.Name("Allocations").Int(m.AllocationCount())
	json.Name("FreeRegions").Int(m.FreeRegionsCount())
	json.Name("LargestFreeRegion").Int(m.LargestFreeRegion())
}

// PrintDetailedMap populates a json object with summary information about this map followed by a
// "Segments" array describing every block
func (m *MemoryMap) PrintDetailedMap(json *jwriter.ObjectState) {
	m.BlockJsonData(json)

	segments := json.Name("Segments").Array()
	for _, block := range m.blocks {
		obj := segments.Object()
		obj.Name("Start").Int(block.Start)
		obj.Name("End").Int(block.End)
		obj.Name("Size").Int(block.Size)
		if block.IsFree() {
			obj.Name("Type").String("FREE")
		} else {
			obj.Name("Type").String("OWNED")
			obj.Name("Owner").Int(int(block.Owner))
		}
		obj.End()
	}
	segments.End()
}

// DebugLogAllAllocations calls logFunc once for every owned block in the map
func (m *MemoryMap) DebugLogAllAllocations(logger *slog.Logger, logFunc func(log *slog.Logger, block Block)) {
	for _, block := range m.blocks {
		if !block.IsFree() {
			logFunc(logger, block)
		}
	}
}
