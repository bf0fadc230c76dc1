package memory

import (
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/mm7655/MemoryDisk/memory/internal/utils"
	"github.com/mm7655/MemoryDisk/memutils"
	"github.com/mm7655/MemoryDisk/memutils/metadata"
	"github.com/samber/lo"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific allocator behaviors to activate or deactivate
type CreateFlags int32

var allocatorCreateFlagsMapping = make(map[CreateFlags]string)

func (f CreateFlags) String() string {
	if f == 0 {
		return "None"
	}

	var names []string
	for bit := CreateFlags(1); bit != 0 && bit <= f; bit <<= 1 {
		if f&bit == 0 {
			continue
		}

		name, ok := allocatorCreateFlagsMapping[bit]
		if !ok {
			name = "Unknown"
		}
		names = append(names, name)
	}

	return strings.Join(names, "|")
}

const (
	// AllocatorCreateExternallySynchronized ensures that this allocator will not be synchronized
	// internally. The consumer must guarantee it is used from only one goroutine at a time or is
	// synchronized by some other mechanism.
	AllocatorCreateExternallySynchronized CreateFlags = 1 << iota
	// AllocatorCreateReclaimOnFailure causes an allocation that cannot be placed to release every
	// block held by the requesting process and try exactly once more
	AllocatorCreateReclaimOnFailure
)

func init() {
	allocatorCreateFlagsMapping[AllocatorCreateExternallySynchronized] = "AllocatorCreateExternallySynchronized"
	allocatorCreateFlagsMapping[AllocatorCreateReclaimOnFailure] = "AllocatorCreateReclaimOnFailure"
}

// CreateOptions contains settings used when creating an allocator
type CreateOptions struct {
	// Flags indicates specific allocator behaviors to activate or deactivate
	Flags CreateFlags
	// Size is the number of address units managed by the allocator, starting at address 0. It may be
	// left as 0 when InitialBlocks is provided.
	Size int
	// MaxBlocks bounds the number of blocks the memory map may hold. 0 leaves the map unbounded.
	MaxBlocks int
	// InitialBlocks is an optional pre-seeded layout. The blocks must be contiguous and sorted, and
	// owned blocks are counted toward their owner's statistics.
	InitialBlocks []metadata.Block
}

// New creates a new Allocator
//
// logger - The logger that allocation activity will be written to. If nil, output is discarded.
//
// options - Size or InitialBlocks must be provided; all other fields may be left blank
func New(logger *slog.Logger, options CreateOptions) (*Allocator, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var memoryMap *metadata.MemoryMap
	var err error

	if len(options.InitialBlocks) > 0 {
		seededSize := lo.SumBy(options.InitialBlocks, func(block metadata.Block) int { return block.Size })
		if options.Size != 0 && options.Size != seededSize {
			return nil, errors.Wrapf(memutils.ErrInvalidMap, "memory.CreateOptions.Size is %d, but InitialBlocks cover %d units", options.Size, seededSize)
		}

		memoryMap, err = metadata.NewMemoryMapFromBlocks(options.InitialBlocks, options.MaxBlocks)
	} else {
		memoryMap, err = metadata.NewMemoryMap(options.Size, options.MaxBlocks)
	}
	if err != nil {
		return nil, err
	}

	allocator := &Allocator{
		logger:      logger,
		createFlags: options.Flags,
		mutex:       utils.NewOptionalRWMutex(options.Flags&AllocatorCreateExternallySynchronized == 0),
		memoryMap:   memoryMap,
		processes:   swiss.NewMap[metadata.OwnerID, *ProcessStatistics](8),
	}

	for _, block := range memoryMap.Blocks() {
		if !block.IsFree() {
			allocator.recordAllocation(block)
		}
	}

	logger.Debug("created allocator",
		slog.Int("size", memoryMap.Size()),
		slog.Int("maxBlocks", memoryMap.Capacity()),
		slog.String("flags", options.Flags.String()),
	)

	return allocator, nil
}
