package memory

import (
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/mm7655/MemoryDisk/memory/internal/utils"
	"github.com/mm7655/MemoryDisk/memutils"
	"github.com/mm7655/MemoryDisk/memutils/defrag"
	"github.com/mm7655/MemoryDisk/memutils/metadata"
	"github.com/samber/lo"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"
)

// ProcessStatistics is the running account of a single owner's use of the allocator
type ProcessStatistics struct {
	// AllocationCount is the number of blocks the process currently owns
	AllocationCount int
	// AllocatedSize is the number of address units the process currently owns
	AllocatedSize int
	// PeakAllocatedSize is the largest AllocatedSize the process has reached
	PeakAllocatedSize int
	// Reclaims is the number of times the process's blocks were released to make room for one of its
	// own allocations
	Reclaims int
	// FailedAllocations is the number of allocations that returned NullBlock, including those refused
	// with an error
	FailedAllocations int
}

// PrintJson populates a json object with this process's accounting
func (s *ProcessStatistics) PrintJson(json *jwriter.ObjectState) {
	json.Name("AllocationCount").Int(s.AllocationCount)
	json.Name("AllocatedSize").Int(s.AllocatedSize)
	json.Name("PeakAllocatedSize").Int(s.PeakAllocatedSize)
	json.Name("Reclaims").Int(s.Reclaims)
	json.Name("FailedAllocations").Int(s.FailedAllocations)
}

// Allocator places allocations for many processes into a single MemoryMap. It holds the next-fit cursor
// between calls, keeps per-process accounting, and serializes access to the map unless it was created
// with AllocatorCreateExternallySynchronized.
type Allocator struct {
	logger      *slog.Logger
	createFlags CreateFlags
	mutex       *utils.OptionalRWMutex

	memoryMap     *metadata.MemoryMap
	nextFitCursor int
	processes     *swiss.Map[metadata.OwnerID, *ProcessStatistics]
	defragStats   defrag.DefragmentationStats
}

// Allocate places a block of size units for owner using the requested strategy. When no free block is
// large enough, metadata.NullBlock is returned with a nil error. If the allocator was created with
// AllocatorCreateReclaimOnFailure, every block owned by owner is released before a single retry.
//
// A successful next-fit allocation moves the cursor to the start of the returned block. Every call by a
// valid owner that returns metadata.NullBlock, with or without an error, counts toward that owner's
// FailedAllocations.
func (a *Allocator) Allocate(strategy metadata.AllocationStrategy, size int, owner metadata.OwnerID) (metadata.Block, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	block, err := a.allocate(strategy, size, owner)
	if block.IsNull() && owner > metadata.FreeOwner {
		a.process(owner).FailedAllocations++
	}

	return block, err
}

func (a *Allocator) allocate(strategy metadata.AllocationStrategy, size int, owner metadata.OwnerID) (metadata.Block, error) {
	attempts := 1
	if a.createFlags&AllocatorCreateReclaimOnFailure != 0 {
		attempts = 2
	}

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 && a.reclaim(owner) == 0 {
			// Nothing was released, so the retry would see the same map
			break
		}

		policy, err := metadata.PolicyFor(strategy, a.nextFitCursor)
		if err != nil {
			return metadata.NullBlock, err
		}

		block, err := a.memoryMap.Allocate(policy, size, owner)
		if err != nil {
			a.logger.Debug("allocation refused",
				slog.String("strategy", strategy.String()),
				slog.Int("owner", int(owner)),
				slog.Int("size", size),
				slog.String("error", err.Error()),
			)
			return metadata.NullBlock, err
		}

		if block.IsNull() {
			continue
		}

		a.recordAllocation(block)
		if strategy == metadata.AllocationStrategyNextFit {
			a.nextFitCursor = block.Start
		}

		a.logger.Debug("allocated block",
			slog.String("strategy", strategy.String()),
			slog.Int("owner", int(owner)),
			slog.Int("start", block.Start),
			slog.Int("end", block.End),
			slog.Int("size", block.Size),
			slog.Int("attempt", attempt),
		)
		return block, nil
	}

	a.logger.Debug("no free block fits",
		slog.String("strategy", strategy.String()),
		slog.Int("owner", int(owner)),
		slog.Int("size", size),
		slog.Int("freeSize", a.memoryMap.SumFreeSize()),
		slog.Int("largestFreeRegion", a.memoryMap.LargestFreeRegion()),
	)
	return metadata.NullBlock, nil
}

// Release frees the block whose bounds exactly match block and merges it with any free neighbours
func (a *Allocator) Release(block metadata.Block) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	current, _ := a.memoryMap.FindBlock(block.Start, block.End)

	err := a.memoryMap.Free(block)
	if err != nil {
		return err
	}

	a.recordRelease(current)
	a.logger.Debug("released block",
		slog.Int("owner", int(current.Owner)),
		slog.Int("start", current.Start),
		slog.Int("end", current.End),
	)
	return nil
}

// ReleaseProcess frees every block owned by owner and returns the number of blocks released
func (a *Allocator) ReleaseProcess(owner metadata.OwnerID) (int, error) {
	if owner <= metadata.FreeOwner {
		return 0, errors.Newf("invalid owner %d: owners must be positive", owner)
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	released := a.releaseOwner(owner)
	a.logger.Debug("released process",
		slog.Int("owner", int(owner)),
		slog.Int("blocks", released),
	)
	return released, nil
}

func (a *Allocator) reclaim(owner metadata.OwnerID) int {
	released := a.releaseOwner(owner)
	if released > 0 {
		a.process(owner).Reclaims++
	}

	a.logger.Debug("reclaimed process blocks before retry",
		slog.Int("owner", int(owner)),
		slog.Int("blocks", released),
	)
	return released
}

func (a *Allocator) releaseOwner(owner metadata.OwnerID) int {
	owned := a.memoryMap.AllocationsOf(owner)
	released := a.memoryMap.FreeOwner(owner)

	for _, block := range owned {
		a.recordRelease(block)
	}

	return released
}

func (a *Allocator) process(owner metadata.OwnerID) *ProcessStatistics {
	stats, ok := a.processes.Get(owner)
	if !ok {
		stats = &ProcessStatistics{}
		a.processes.Put(owner, stats)
	}

	return stats
}

func (a *Allocator) recordAllocation(block metadata.Block) {
	stats := a.process(block.Owner)
	stats.AllocationCount++
	stats.AllocatedSize += block.Size
	if stats.AllocatedSize > stats.PeakAllocatedSize {
		stats.PeakAllocatedSize = stats.AllocatedSize
	}
}

func (a *Allocator) recordRelease(block metadata.Block) {
	stats := a.process(block.Owner)
	stats.AllocationCount--
	stats.AllocatedSize -= block.Size
}

// Allocations returns every block currently owned by owner, in address order
func (a *Allocator) Allocations(owner metadata.OwnerID) []metadata.Block {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.memoryMap.AllocationsOf(owner)
}

// NextFitCursor returns the address at which the next next-fit search will begin
func (a *Allocator) NextFitCursor() int {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.nextFitCursor
}

// SetNextFitCursor moves the address at which the next next-fit search will begin
func (a *Allocator) SetNextFitCursor(cursor int) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.nextFitCursor = cursor
}

// Blocks returns a copy of every block in the map, in address order
func (a *Allocator) Blocks() []metadata.Block {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.memoryMap.Blocks()
}

// Validate checks the map's invariants and confirms that the per-process accounting agrees with the
// blocks actually present in the map
func (a *Allocator) Validate() error {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	err := a.memoryMap.Validate()
	if err != nil {
		return err
	}

	var accountedCount int
	a.processes.Iter(func(owner metadata.OwnerID, stats *ProcessStatistics) bool {
		owned := a.memoryMap.AllocationsOf(owner)
		ownedSize := lo.SumBy(owned, func(block metadata.Block) int { return block.Size })

		if len(owned) != stats.AllocationCount {
			err = errors.Newf("process %d is recorded with %d allocations but owns %d blocks", owner, stats.AllocationCount, len(owned))
			return true
		}
		if ownedSize != stats.AllocatedSize {
			err = errors.Newf("process %d is recorded with %d allocated units but owns %d", owner, stats.AllocatedSize, ownedSize)
			return true
		}

		accountedCount += stats.AllocationCount
		return false
	})
	if err != nil {
		return err
	}

	if accountedCount != a.memoryMap.AllocationCount() {
		return errors.Newf("processes account for %d allocations but the map holds %d", accountedCount, a.memoryMap.AllocationCount())
	}

	return nil
}

// CalculateStatistics clears stats and fills it with the current state of the map
func (a *Allocator) CalculateStatistics(stats *memutils.DetailedStatistics) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	stats.Clear()
	a.memoryMap.AddDetailedStatistics(stats)
}

// ProcessStatistics returns the accounting for owner. The boolean return value is false if owner has
// never allocated through this allocator.
func (a *Allocator) ProcessStatistics(owner metadata.OwnerID) (ProcessStatistics, bool) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	stats, ok := a.processes.Get(owner)
	if !ok {
		return ProcessStatistics{}, false
	}

	return *stats, true
}

// DefragmentationStats returns the totals accumulated by every call to Defragment
func (a *Allocator) DefragmentationStats() defrag.DefragmentationStats {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.defragStats
}

// Owners returns every owner that has allocated through this allocator, in ascending order
func (a *Allocator) Owners() []metadata.OwnerID {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.owners()
}

func (a *Allocator) owners() []metadata.OwnerID {
	owners := make([]metadata.OwnerID, 0, a.processes.Count())
	a.processes.Iter(func(owner metadata.OwnerID, _ *ProcessStatistics) bool {
		owners = append(owners, owner)
		return false
	})
	slices.Sort(owners)

	return owners
}

// BuildStatsString returns a json document describing the allocator: totals for the map, the accounting
// for every process, and the map itself. When detailedMap is true, every block in the map is listed.
func (a *Allocator) BuildStatsString(detailedMap bool) string {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	var stats memutils.DetailedStatistics
	stats.Clear()
	a.memoryMap.AddDetailedStatistics(&stats)

	writer := jwriter.NewWriter()
	obj := writer.Object()

	total := obj.Name("Total").Object()
	stats.PrintJson(&total)
	total.End()

	processes := obj.Name("Processes").Object()
	for _, owner := range a.owners() {
		processStats, _ := a.processes.Get(owner)

		p := processes.Name(strconv.Itoa(int(owner))).Object()
		processStats.PrintJson(&p)
		p.End()
	}
	processes.End()

	defragObj := obj.Name("Defragmentation").Object()
	a.defragStats.PrintJson(&defragObj)
	defragObj.End()

	mapObj := obj.Name("MemoryMap").Object()
	if detailedMap {
		a.memoryMap.PrintDetailedMap(&mapObj)
	} else {
		a.memoryMap.BlockJsonData(&mapObj)
	}
	mapObj.End()

	obj.End()
	return string(writer.Bytes())
}

// Defragment compacts the map by sliding owned blocks toward address 0. handler may pin individual
// blocks by returning defrag.DefragmentationMoveIgnore; it is called while the allocator is locked and
// must not call back into it. The moves that were applied are returned along with this run's stats.
func (a *Allocator) Defragment(info defrag.DefragmentationInfo, handler defrag.DefragmentOperationHandler) ([]defrag.DefragmentationMove, defrag.DefragmentationStats, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	defragContext := defrag.MetadataDefragContext{
		Info:    info,
		Handler: handler,
	}

	moves, stats, err := defragContext.Defragment(a.memoryMap)
	if err != nil {
		return nil, stats, err
	}

	a.defragStats.Add(stats)
	a.logger.Debug("defragmented memory map",
		slog.Int("allocationsMoved", stats.AllocationsMoved),
		slog.Int("bytesMoved", stats.BytesMoved),
		slog.Int("freeRegionsMerged", stats.FreeRegionsMerged),
	)

	return slices.Clone(moves), stats, nil
}

// Destroy tears down the allocator. If any blocks are still owned, each one is logged at error level and
// an error is returned without clearing the map.
func (a *Allocator) Destroy() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if !a.memoryMap.IsEmpty() {
		a.memoryMap.DebugLogAllAllocations(a.logger, func(log *slog.Logger, block metadata.Block) {
			log.Error("[UNRELEASED MEMORY] unfreed allocation",
				slog.Int("owner", int(block.Owner)),
				slog.Int("start", block.Start),
				slog.Int("end", block.End),
				slog.Int("size", block.Size),
			)
		})

		return errors.Newf("%d allocations were not released before the allocator was destroyed", a.memoryMap.AllocationCount())
	}

	a.memoryMap.Clear()
	a.processes = swiss.NewMap[metadata.OwnerID, *ProcessStatistics](8)
	a.nextFitCursor = 0
	a.defragStats = defrag.DefragmentationStats{}
	return nil
}
