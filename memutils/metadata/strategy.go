package metadata

import (
	"strings"

	cerrors "github.com/cockroachdb/errors"
	"github.com/mm7655/MemoryDisk/memutils"
)

// AllocationStrategy selects which free block satisfies a new allocation
type AllocationStrategy uint32

const (
	// AllocationStrategyBestFit chooses the smallest free block that can hold the request, keeping
	// large blocks intact at the cost of leaving small slivers behind
	AllocationStrategyBestFit AllocationStrategy = iota + 1
	// AllocationStrategyFirstFit chooses the free block with the lowest address that can hold the request
	AllocationStrategyFirstFit
	// AllocationStrategyWorstFit chooses the largest free block, so that the remainder stays as useful
	// as possible
	AllocationStrategyWorstFit
	// AllocationStrategyNextFit behaves like first fit, but begins scanning at a caller-held cursor and
	// wraps around to the start of the map
	AllocationStrategyNextFit
)

var allocationStrategyMapping = map[AllocationStrategy]string{
	AllocationStrategyBestFit:  "best-fit",
	AllocationStrategyFirstFit: "first-fit",
	AllocationStrategyWorstFit: "worst-fit",
	AllocationStrategyNextFit:  "next-fit",
}

func (s AllocationStrategy) String() string {
	return allocationStrategyMapping[s]
}

// AllocationStrategies lists every supported strategy in declaration order
func AllocationStrategies() []AllocationStrategy {
	return []AllocationStrategy{
		AllocationStrategyBestFit,
		AllocationStrategyFirstFit,
		AllocationStrategyWorstFit,
		AllocationStrategyNextFit,
	}
}

// ParseAllocationStrategy accepts names such as "best-fit", "best_fit", "bestfit" or "BestFit"
func ParseAllocationStrategy(name string) (AllocationStrategy, error) {
	normalized := strings.ToLower(strings.NewReplacer("-", "", "_", "", " ", "").Replace(name))
	for strategy, str := range allocationStrategyMapping {
		if strings.ReplaceAll(str, "-", "") == normalized {
			return strategy, nil
		}
	}

	return 0, cerrors.Wrapf(memutils.ErrUnknownStrategy, "%q", name)
}
