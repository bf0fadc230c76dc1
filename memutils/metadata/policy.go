package metadata

import (
	cerrors "github.com/cockroachdb/errors"
	"github.com/mm7655/MemoryDisk/memutils"
)

//go:generate mockgen -destination ./mocks/placement_policy.go -package mock_metadata github.com/mm7655/MemoryDisk/memutils/metadata PlacementPolicy

// PlacementPolicy chooses the free block that a new allocation will be carved from. Implementations
// only inspect the map; splitting and insertion are performed by MemoryMap.Alloc so that every
// strategy shares the same ordering guarantees.
type PlacementPolicy interface {
	// Strategy identifies the policy in allocation requests and logs
	Strategy() AllocationStrategy
	// Select returns the index of the chosen block within the map, or false if no free block
	// of at least size units exists
	Select(m *MemoryMap, size int) (int, bool)
}

func fits(block Block, size int) bool {
	return block.IsFree() && block.Size >= size
}

// BestFitPolicy selects the free block with the smallest surplus. Ties go to the lowest address.
type BestFitPolicy struct{}

var _ PlacementPolicy = BestFitPolicy{}

func (BestFitPolicy) Strategy() AllocationStrategy { return AllocationStrategyBestFit }

func (BestFitPolicy) Select(m *MemoryMap, size int) (int, bool) {
	bestIndex := -1
	bestSurplus := 0

	for i, block := range m.blocks {
		if !fits(block, size) {
			continue
		}

		surplus := block.Size - size
		if bestIndex < 0 || surplus < bestSurplus {
			bestIndex = i
			bestSurplus = surplus
		}
	}

	return bestIndex, bestIndex >= 0
}

// FirstFitPolicy selects the lowest-addressed free block that is large enough
type FirstFitPolicy struct{}

var _ PlacementPolicy = FirstFitPolicy{}

func (FirstFitPolicy) Strategy() AllocationStrategy { return AllocationStrategyFirstFit }

func (FirstFitPolicy) Select(m *MemoryMap, size int) (int, bool) {
	for i, block := range m.blocks {
		if fits(block, size) {
			return i, true
		}
	}

	return -1, false
}

// WorstFitPolicy selects the free block with the largest surplus. Ties go to the lowest address.
type WorstFitPolicy struct{}

var _ PlacementPolicy = WorstFitPolicy{}

func (WorstFitPolicy) Strategy() AllocationStrategy { return AllocationStrategyWorstFit }

func (WorstFitPolicy) Select(m *MemoryMap, size int) (int, bool) {
	worstIndex := -1
	worstSurplus := 0

	for i, block := range m.blocks {
		if !fits(block, size) {
			continue
		}

		surplus := block.Size - size
		if worstIndex < 0 || surplus > worstSurplus {
			worstIndex = i
			worstSurplus = surplus
		}
	}

	return worstIndex, worstIndex >= 0
}

// NextFitPolicy scans like FirstFitPolicy, but begins at the first block whose start address is at or
// after Cursor. If the end of the map is reached without a fit, the scan wraps to the first block and
// stops just before the block it started from. The policy does not move the cursor: the caller is
// expected to set Cursor to the start of the returned block before the next request.
type NextFitPolicy struct {
	Cursor int
}

var _ PlacementPolicy = NextFitPolicy{}

func (NextFitPolicy) Strategy() AllocationStrategy { return AllocationStrategyNextFit }

func (p NextFitPolicy) Select(m *MemoryMap, size int) (int, bool) {
	count := len(m.blocks)
	startIndex := 0
	for i, block := range m.blocks {
		if block.Start >= p.Cursor {
			startIndex = i
			break
		}
	}

	for step := 0; step < count; step++ {
		i := (startIndex + step) % count
		if fits(m.blocks[i], size) {
			return i, true
		}
	}

	return -1, false
}

// PolicyFor builds the PlacementPolicy for a strategy. cursor is only used by next fit.
func PolicyFor(strategy AllocationStrategy, cursor int) (PlacementPolicy, error) {
	switch strategy {
	case AllocationStrategyBestFit:
		return BestFitPolicy{}, nil
	case AllocationStrategyFirstFit:
		return FirstFitPolicy{}, nil
	case AllocationStrategyWorstFit:
		return WorstFitPolicy{}, nil
	case AllocationStrategyNextFit:
		return NextFitPolicy{Cursor: cursor}, nil
	}

	return nil, cerrors.Wrapf(memutils.ErrUnknownStrategy, "strategy value %d", uint32(strategy))
}
