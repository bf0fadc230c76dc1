package defrag

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/mm7655/MemoryDisk/memutils"
	"github.com/mm7655/MemoryDisk/memutils/metadata"
	"github.com/pkg/errors"
)

// DefragmentationStats contains basic metrics for compaction over time
type DefragmentationStats struct {
	// BytesMoved is the number of address units that have been successfully relocated
	BytesMoved int
	// AllocationsMoved is the number of successful relocations
	AllocationsMoved int
	// FreeRegionsMerged is how many fewer free regions the map has after the pass than before it
	FreeRegionsMerged int
}

func (s *DefragmentationStats) Add(stats DefragmentationStats) {
	s.BytesMoved += stats.BytesMoved
	s.AllocationsMoved += stats.AllocationsMoved
	s.FreeRegionsMerged += stats.FreeRegionsMerged
}

// PrintJson populates a json object with these stats
func (s *DefragmentationStats) PrintJson(json *jwriter.ObjectState) {
	json.Name("BytesMoved").Int(s.BytesMoved)
	json.Name("AllocationsMoved").Int(s.AllocationsMoved)
	json.Name("FreeRegionsMerged").Int(s.FreeRegionsMerged)
}

// MetadataDefragContext compacts a MemoryMap by sliding owned blocks toward the start of the range, in
// address order, so that free space collects into as few regions as possible. A run consists of
// CollectMoves, which plans relocations without touching the map, followed by CompletePass, which applies
// them. Between the two calls the consumer may change the Operation of any planned move to
// DefragmentationMoveIgnore to pin that block.
type MetadataDefragContext struct {
	// Info bounds the work performed per pass
	Info DefragmentationInfo
	// Handler is consulted for each block that could be moved. It may be nil, in which case every
	// block is movable.
	Handler DefragmentOperationHandler

	moves []DefragmentationMove
}

// Init sets up this MetadataDefragContext to be used in a fresh run. MetadataDefragContext can
// be reused for multiple runs, as long as this method is called prior to beginning each run.
func (c *MetadataDefragContext) Init() error {
	c.moves = c.moves[:0]
	return c.Info.Validate()
}

// Moves returns the relocations planned by CollectMoves, or applied by CompletePass
func (c *MetadataDefragContext) Moves() []DefragmentationMove {
	return c.moves
}

// CollectMoves plans the relocations for one pass over m and returns them. Blocks already packed against
// their predecessor, blocks pinned by the Handler and blocks that would exceed the pass budget stay
// where they are.
func (c *MetadataDefragContext) CollectMoves(m *metadata.MemoryMap) []DefragmentationMove {
	c.moves = c.moves[:0]
	pass := newPassContext(c.Info)
	next := m.Base()

	for index := 0; index < m.BlockCount(); index++ {
		block := m.Block(index)
		if block.IsFree() {
			continue
		}

		if block.Start == next {
			next = block.End + 1
			continue
		}

		if c.Handler != nil && c.Handler(block) == DefragmentationMoveIgnore {
			next = block.End + 1
			continue
		}

		status := pass.checkCounters(block.Size)
		if status == defragCounterEnd {
			break
		} else if status == defragCounterIgnore {
			next = block.End + 1
			continue
		}

		dst := metadata.Block{
			Start: next,
			End:   memutils.LastAddress(next, block.Size),
			Size:  block.Size,
			Owner: block.Owner,
		}
		c.moves = append(c.moves, DefragmentationMove{
			Size:      block.Size,
			Src:       block,
			Dst:       dst,
			Operation: DefragmentationMoveCopy,
		})
		next = dst.End + 1

		if pass.incrementCounters(block.Size) {
			break
		}
	}

	return c.moves
}

// CompletePass applies every planned move whose Operation is still DefragmentationMoveCopy. Blocks whose
// moves were switched to DefragmentationMoveIgnore stay in place, and the destinations of the moves that
// follow them are recalculated so nothing overlaps. Moves() afterward reports the relocations that were
// actually performed.
func (c *MetadataDefragContext) CompletePass(m *metadata.MemoryMap) (DefragmentationStats, error) {
	var stats DefragmentationStats

	pending := make(map[int]DefragmentationMove, len(c.moves))
	for _, move := range c.moves {
		if move.Operation == DefragmentationMoveCopy {
			pending[move.Src.Start] = move
		}
	}

	freeRegionsBefore := m.FreeRegionsCount()
	owned := make([]metadata.Block, 0, m.AllocationCount())
	applied := make([]DefragmentationMove, 0, len(pending))
	next := m.Base()

	err := m.VisitAllRegions(func(_ int, block metadata.Block) error {
		if block.IsFree() {
			return nil
		}

		placed := block
		move, ok := pending[block.Start]
		if ok && move.Src == block && next < block.Start {
			placed.Start = next
			placed.End = memutils.LastAddress(next, block.Size)

			move.Dst = placed
			applied = append(applied, move)
			stats.BytesMoved += block.Size
			stats.AllocationsMoved++
		}

		owned = append(owned, placed)
		next = placed.End + 1
		return nil
	})
	if err != nil {
		return stats, err
	}

	err = m.Rebuild(owned)
	if err != nil {
		return stats, errors.Wrap(err, "applying compaction moves")
	}

	stats.FreeRegionsMerged = freeRegionsBefore - m.FreeRegionsCount()
	c.moves = applied

	return stats, nil
}

// Defragment runs Init, CollectMoves and CompletePass against m and returns the moves that were applied
func (c *MetadataDefragContext) Defragment(m *metadata.MemoryMap) ([]DefragmentationMove, DefragmentationStats, error) {
	err := c.Init()
	if err != nil {
		return nil, DefragmentationStats{}, err
	}

	c.CollectMoves(m)

	stats, err := c.CompletePass(m)
	if err != nil {
		return nil, stats, err
	}

	return c.Moves(), stats, nil
}
