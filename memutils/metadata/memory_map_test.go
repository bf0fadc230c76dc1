package metadata_test

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/mm7655/MemoryDisk/memutils"
	"github.com/mm7655/MemoryDisk/memutils/metadata"
	mock_metadata "github.com/mm7655/MemoryDisk/memutils/metadata/mocks"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func ownedBlock(start, size int, owner metadata.OwnerID) metadata.Block {
	return metadata.Block{Start: start, End: start + size - 1, Size: size, Owner: owner}
}

func freeBlock(start, size int) metadata.Block {
	return ownedBlock(start, size, metadata.FreeOwner)
}

func seedMap(t *testing.T, maxBlocks int, blocks ...metadata.Block) *metadata.MemoryMap {
	m, err := metadata.NewMemoryMapFromBlocks(blocks, maxBlocks)
	require.NoError(t, err)
	return m
}

func requireBlocks(t *testing.T, m *metadata.MemoryMap, expected ...metadata.Block) {
	require.NoError(t, m.Validate())
	if diff := cmp.Diff(expected, m.Blocks()); diff != "" {
		t.Fatalf("unexpected memory map (-want +got):\n%s", diff)
	}
}

func TestMemoryMapInit(t *testing.T) {
	m, err := metadata.NewMemoryMap(1000, 0)
	require.NoError(t, err)
	requireBlocks(t, m, freeBlock(0, 1000))

	var stats memutils.DetailedStatistics
	stats.Clear()
	m.AddDetailedStatistics(&stats)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			MapCount:        1,
			SegmentCount:    1,
			AllocationCount: 0,
			TotalSize:       1000,
			AllocatedSize:   0,
		},
		FreeRangeCount:    1,
		AllocationSizeMin: math.MaxInt,
		AllocationSizeMax: 0,
		FreeRangeSizeMin:  1000,
		FreeRangeSizeMax:  1000,
	}, stats)
	require.True(t, m.IsEmpty())
	require.Equal(t, 0.0, stats.ExternalFragmentation())
}

func TestMemoryMapInvalidArguments(t *testing.T) {
	_, err := metadata.NewMemoryMap(0, 0)
	require.ErrorIs(t, err, memutils.ErrInvalidSize)

	_, err = metadata.NewMemoryMap(100, -1)
	require.ErrorIs(t, err, memutils.ErrInvalidMap)

	_, err = metadata.NewMemoryMapFromBlocks(nil, 0)
	require.ErrorIs(t, err, memutils.ErrInvalidMap)

	_, err = metadata.NewMemoryMapFromBlocks([]metadata.Block{freeBlock(0, 10), ownedBlock(20, 10, 1)}, 0)
	require.ErrorIs(t, err, memutils.ErrInvalidMap)

	_, err = metadata.NewMemoryMapFromBlocks([]metadata.Block{{Start: 0, End: 9, Size: 5}}, 0)
	require.ErrorIs(t, err, memutils.ErrInvalidMap)

	_, err = metadata.NewMemoryMapFromBlocks([]metadata.Block{freeBlock(0, 10), ownedBlock(10, 10, 1)}, 1)
	require.ErrorIs(t, err, memutils.ErrInvalidMap)
}

func TestMemoryMapSeedMergesFreeNeighbours(t *testing.T) {
	m := seedMap(t, 0,
		freeBlock(100, 10),
		freeBlock(110, 20),
		ownedBlock(130, 10, 4),
		freeBlock(140, 10),
	)

	require.Equal(t, 100, m.Base())
	require.Equal(t, 50, m.Size())
	requireBlocks(t, m,
		freeBlock(100, 30),
		ownedBlock(130, 10, 4),
		freeBlock(140, 10),
	)
}

func TestFirstFitSplitsLowestFreeBlock(t *testing.T) {
	m := seedMap(t, 0,
		ownedBlock(0, 100, 9),
		freeBlock(100, 50),
		ownedBlock(150, 50, 9),
		freeBlock(200, 30),
	)

	block, err := m.Allocate(metadata.FirstFitPolicy{}, 20, 1)
	require.NoError(t, err)
	require.Equal(t, ownedBlock(100, 20, 1), block)

	requireBlocks(t, m,
		ownedBlock(0, 100, 9),
		ownedBlock(100, 20, 1),
		freeBlock(120, 30),
		ownedBlock(150, 50, 9),
		freeBlock(200, 30),
	)
}

func TestPlacementPolicies(t *testing.T) {
	// Free blocks of 50, 30 and 80 units separated by owned blocks
	seed := []metadata.Block{
		freeBlock(0, 50),
		ownedBlock(50, 10, 9),
		freeBlock(60, 30),
		ownedBlock(90, 10, 9),
		freeBlock(100, 80),
	}

	testCases := []struct {
		name          string
		policy        metadata.PlacementPolicy
		expectedStart int
	}{
		{name: "BestFit", policy: metadata.BestFitPolicy{}, expectedStart: 60},
		{name: "FirstFit", policy: metadata.FirstFitPolicy{}, expectedStart: 0},
		{name: "WorstFit", policy: metadata.WorstFitPolicy{}, expectedStart: 100},
		{name: "NextFitFromStart", policy: metadata.NextFitPolicy{Cursor: 0}, expectedStart: 0},
		{name: "NextFitFromMiddle", policy: metadata.NextFitPolicy{Cursor: 55}, expectedStart: 60},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := seedMap(t, 0, seed...)
			count := m.BlockCount()

			block, err := m.Allocate(tc.policy, 25, 1)
			require.NoError(t, err)
			require.Equal(t, ownedBlock(tc.expectedStart, 25, 1), block)
			require.Equal(t, count+1, m.BlockCount())
			require.NoError(t, m.Validate())
		})
	}
}

func TestPlacementTiesGoToLowestAddress(t *testing.T) {
	seed := []metadata.Block{
		freeBlock(0, 30),
		ownedBlock(30, 10, 9),
		freeBlock(40, 30),
		ownedBlock(70, 10, 9),
	}

	for _, policy := range []metadata.PlacementPolicy{metadata.BestFitPolicy{}, metadata.WorstFitPolicy{}} {
		t.Run(policy.Strategy().String(), func(t *testing.T) {
			m := seedMap(t, 0, seed...)
			block, err := m.Allocate(policy, 25, 2)
			require.NoError(t, err)
			require.Equal(t, 0, block.Start)
		})
	}
}

func TestNextFitCursor(t *testing.T) {
	seed := []metadata.Block{
		ownedBlock(0, 100, 9),
		freeBlock(100, 50),
		ownedBlock(150, 50, 9),
		freeBlock(200, 30),
	}

	t.Run("SkipsBlocksBeforeCursor", func(t *testing.T) {
		m := seedMap(t, 0, seed...)
		block, err := m.Allocate(metadata.NextFitPolicy{Cursor: 150}, 20, 1)
		require.NoError(t, err)
		require.Equal(t, ownedBlock(200, 20, 1), block)
		requireBlocks(t, m,
			ownedBlock(0, 100, 9),
			freeBlock(100, 50),
			ownedBlock(150, 50, 9),
			ownedBlock(200, 20, 1),
			freeBlock(220, 10),
		)
	})

	t.Run("WrapsWhenTailCannotFit", func(t *testing.T) {
		m := seedMap(t, 0, seed...)
		block, err := m.Allocate(metadata.NextFitPolicy{Cursor: 150}, 40, 1)
		require.NoError(t, err)
		require.Equal(t, ownedBlock(100, 40, 1), block)
	})

	t.Run("CursorInsideBlockStartsAtFollowingBlock", func(t *testing.T) {
		m := seedMap(t, 0, seed...)
		block, err := m.Allocate(metadata.NextFitPolicy{Cursor: 120}, 20, 1)
		require.NoError(t, err)
		require.Equal(t, 200, block.Start)
	})

	t.Run("CursorPastEndStartsAtFirstBlock", func(t *testing.T) {
		m := seedMap(t, 0, seed...)
		block, err := m.Allocate(metadata.NextFitPolicy{Cursor: 5000}, 20, 1)
		require.NoError(t, err)
		require.Equal(t, 100, block.Start)
	})

	t.Run("NoFitAfterFullCycle", func(t *testing.T) {
		m := seedMap(t, 0, seed...)
		block, err := m.Allocate(metadata.NextFitPolicy{Cursor: 150}, 60, 1)
		require.NoError(t, err)
		require.True(t, block.IsNull())
		requireBlocks(t, m, seed...)
	})
}

func TestExactFitKeepsBlockCount(t *testing.T) {
	m := seedMap(t, 0,
		freeBlock(0, 40),
		ownedBlock(40, 60, 9),
	)

	block, err := m.Allocate(metadata.BestFitPolicy{}, 40, 3)
	require.NoError(t, err)
	require.Equal(t, ownedBlock(0, 40, 3), block)
	requireBlocks(t, m,
		ownedBlock(0, 40, 3),
		ownedBlock(40, 60, 9),
	)
}

func TestAllocationFailures(t *testing.T) {
	m, err := metadata.NewMemoryMap(100, 0)
	require.NoError(t, err)

	block, err := m.Allocate(metadata.FirstFitPolicy{}, 101, 1)
	require.NoError(t, err)
	require.Equal(t, metadata.NullBlock, block)

	block, err = m.Allocate(metadata.FirstFitPolicy{}, 0, 1)
	require.ErrorIs(t, err, memutils.ErrInvalidSize)
	require.True(t, block.IsNull())

	block, err = m.Allocate(metadata.FirstFitPolicy{}, -5, 1)
	require.ErrorIs(t, err, memutils.ErrInvalidSize)
	require.True(t, block.IsNull())

	_, err = m.Allocate(metadata.FirstFitPolicy{}, 10, metadata.FreeOwner)
	require.Error(t, err)

	_, err = m.Allocate(nil, 10, 1)
	require.Error(t, err)

	block, err = m.Allocate(metadata.WorstFitPolicy{}, 100, 1)
	require.NoError(t, err)
	require.Equal(t, ownedBlock(0, 100, 1), block)

	block, err = m.Allocate(metadata.WorstFitPolicy{}, 1, 2)
	require.NoError(t, err)
	require.True(t, block.IsNull())

	requireBlocks(t, m, ownedBlock(0, 100, 1))
}

func TestCapacityExceeded(t *testing.T) {
	m, err := metadata.NewMemoryMap(100, 2)
	require.NoError(t, err)

	block, err := m.Allocate(metadata.FirstFitPolicy{}, 10, 1)
	require.NoError(t, err)
	require.Equal(t, ownedBlock(0, 10, 1), block)

	block, err = m.Allocate(metadata.FirstFitPolicy{}, 10, 1)
	require.ErrorIs(t, err, memutils.ErrCapacityExceeded)
	require.Equal(t, metadata.NullBlock, block)
	requireBlocks(t, m, ownedBlock(0, 10, 1), freeBlock(10, 90))

	// Exact fits do not need a new block
	block, err = m.Allocate(metadata.FirstFitPolicy{}, 90, 2)
	require.NoError(t, err)
	require.Equal(t, ownedBlock(10, 90, 2), block)
	require.Equal(t, 2, m.BlockCount())
}

func TestStaleAllocationRequest(t *testing.T) {
	m, err := metadata.NewMemoryMap(100, 0)
	require.NoError(t, err)

	success, request, err := m.CreateAllocationRequest(30, 1, metadata.FirstFitPolicy{})
	require.NoError(t, err)
	require.True(t, success)
	require.True(t, request.Split)
	require.Equal(t, metadata.AllocationStrategyFirstFit, request.Strategy)
	require.Equal(t, ownedBlock(0, 30, 1), request.Allocated())
	require.Equal(t, freeBlock(30, 70), request.Remainder())

	_, err = m.Allocate(metadata.FirstFitPolicy{}, 10, 2)
	require.NoError(t, err)

	block, err := m.Alloc(request)
	require.Error(t, err)
	require.True(t, block.IsNull())
	requireBlocks(t, m, ownedBlock(0, 10, 2), freeBlock(10, 90))
}

func TestFreeCoalescesBothNeighbours(t *testing.T) {
	m, err := metadata.NewMemoryMap(300, 0)
	require.NoError(t, err)

	a, err := m.Allocate(metadata.FirstFitPolicy{}, 100, 1)
	require.NoError(t, err)
	b, err := m.Allocate(metadata.FirstFitPolicy{}, 100, 2)
	require.NoError(t, err)
	c, err := m.Allocate(metadata.FirstFitPolicy{}, 100, 3)
	require.NoError(t, err)
	requireBlocks(t, m, a, b, c)

	require.NoError(t, m.Free(a))
	require.NoError(t, m.Free(c))
	requireBlocks(t, m, freeBlock(0, 100), b, freeBlock(200, 100))

	require.NoError(t, m.Free(b))
	requireBlocks(t, m, freeBlock(0, 300))
}

func TestFreeSingleNeighbour(t *testing.T) {
	m := seedMap(t, 0,
		freeBlock(0, 10),
		ownedBlock(10, 10, 1),
		ownedBlock(20, 10, 2),
		ownedBlock(30, 10, 3),
		freeBlock(40, 10),
	)

	require.NoError(t, m.Free(ownedBlock(10, 10, 1)))
	requireBlocks(t, m,
		freeBlock(0, 20),
		ownedBlock(20, 10, 2),
		ownedBlock(30, 10, 3),
		freeBlock(40, 10),
	)

	require.NoError(t, m.Free(ownedBlock(30, 10, 3)))
	requireBlocks(t, m,
		freeBlock(0, 20),
		ownedBlock(20, 10, 2),
		freeBlock(30, 20),
	)
}

func TestFreeInvalidRelease(t *testing.T) {
	m := seedMap(t, 0,
		ownedBlock(0, 50, 1),
		freeBlock(50, 50),
	)

	err := m.Free(ownedBlock(0, 20, 1))
	require.ErrorIs(t, err, memutils.ErrBlockNotFound)

	err = m.Free(metadata.NullBlock)
	require.ErrorIs(t, err, memutils.ErrBlockNotFound)

	err = m.Free(freeBlock(50, 50))
	require.ErrorIs(t, err, memutils.ErrBlockAlreadyFree)

	requireBlocks(t, m, ownedBlock(0, 50, 1), freeBlock(50, 50))
}

func TestAllocateReleaseRoundTrip(t *testing.T) {
	seed := []metadata.Block{
		ownedBlock(0, 100, 9),
		freeBlock(100, 50),
		ownedBlock(150, 50, 9),
		freeBlock(200, 30),
		ownedBlock(230, 20, 8),
	}

	for _, strategy := range metadata.AllocationStrategies() {
		for _, size := range []int{1, 20, 30, 50} {
			m := seedMap(t, 0, seed...)
			before := m.Blocks()

			policy, err := metadata.PolicyFor(strategy, 150)
			require.NoError(t, err)

			block, err := m.Allocate(policy, size, 4)
			require.NoError(t, err)
			require.False(t, block.IsNull())

			require.NoError(t, m.Free(block))
			if diff := cmp.Diff(before, m.Blocks()); diff != "" {
				t.Fatalf("%s size %d did not round trip (-want +got):\n%s", strategy, size, diff)
			}
		}
	}
}

func TestFreeOwner(t *testing.T) {
	m := seedMap(t, 0,
		ownedBlock(0, 10, 1),
		ownedBlock(10, 10, 2),
		ownedBlock(20, 10, 1),
		freeBlock(30, 10),
		ownedBlock(40, 10, 1),
	)

	require.Equal(t, []metadata.Block{ownedBlock(0, 10, 1), ownedBlock(20, 10, 1), ownedBlock(40, 10, 1)}, m.AllocationsOf(1))
	require.Equal(t, 3, m.FreeOwner(1))
	requireBlocks(t, m,
		freeBlock(0, 10),
		ownedBlock(10, 10, 2),
		freeBlock(20, 30),
	)
	require.Equal(t, 0, m.FreeOwner(1))
	require.Equal(t, 0, m.FreeOwner(metadata.FreeOwner))
}

func TestRebuild(t *testing.T) {
	m, err := metadata.NewMemoryMap(100, 0)
	require.NoError(t, err)

	err = m.Rebuild([]metadata.Block{ownedBlock(0, 10, 1), ownedBlock(10, 20, 2), ownedBlock(50, 10, 3)})
	require.NoError(t, err)
	requireBlocks(t, m,
		ownedBlock(0, 10, 1),
		ownedBlock(10, 20, 2),
		freeBlock(30, 20),
		ownedBlock(50, 10, 3),
		freeBlock(60, 40),
	)

	err = m.Rebuild([]metadata.Block{ownedBlock(0, 10, 1), ownedBlock(5, 10, 2)})
	require.Error(t, err)

	err = m.Rebuild([]metadata.Block{ownedBlock(95, 10, 1)})
	require.Error(t, err)

	err = m.Rebuild([]metadata.Block{freeBlock(0, 10)})
	require.Error(t, err)

	m.Clear()
	requireBlocks(t, m, freeBlock(0, 100))
}

func TestRandomOperationsKeepInvariants(t *testing.T) {
	const size = 1000
	rng := rand.New(rand.NewSource(42))
	strategies := metadata.AllocationStrategies()

	m, err := metadata.NewMemoryMap(size, 0)
	require.NoError(t, err)

	cursor := 0
	for i := 0; i < 2000; i++ {
		if rng.Intn(3) != 0 {
			strategy := strategies[rng.Intn(len(strategies))]
			policy, err := metadata.PolicyFor(strategy, cursor)
			require.NoError(t, err)

			owner := metadata.OwnerID(rng.Intn(5) + 1)
			count := m.BlockCount()

			success, request, err := m.CreateAllocationRequest(rng.Intn(120)+1, owner, policy)
			require.NoError(t, err)
			if success {
				block, err := m.Alloc(request)
				require.NoError(t, err)
				require.Equal(t, owner, block.Owner)
				require.Equal(t, request.Size, block.Size)

				if request.Split {
					require.Equal(t, count+1, m.BlockCount())
				} else {
					require.Equal(t, count, m.BlockCount())
				}

				if strategy == metadata.AllocationStrategyNextFit {
					cursor = block.Start
				}
			}
		} else {
			owner := metadata.OwnerID(rng.Intn(5) + 1)
			allocations := m.AllocationsOf(owner)
			if len(allocations) > 0 {
				require.NoError(t, m.Free(allocations[rng.Intn(len(allocations))]))
			}
		}

		require.NoError(t, m.Validate())

		var stats memutils.Statistics
		m.AddStatistics(&stats)
		require.Equal(t, size, stats.TotalSize)
		require.Equal(t, size-m.SumFreeSize(), stats.AllocatedSize)
	}
}

func TestDetailedStatistics(t *testing.T) {
	m := seedMap(t, 0,
		ownedBlock(0, 40, 1),
		freeBlock(40, 10),
		ownedBlock(50, 25, 2),
		freeBlock(75, 25),
	)

	var stats memutils.DetailedStatistics
	stats.Clear()
	m.AddDetailedStatistics(&stats)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			MapCount:        1,
			SegmentCount:    4,
			AllocationCount: 2,
			TotalSize:       100,
			AllocatedSize:   65,
		},
		FreeRangeCount:    2,
		AllocationSizeMin: 25,
		AllocationSizeMax: 40,
		FreeRangeSizeMin:  10,
		FreeRangeSizeMax:  25,
	}, stats)
	require.InDelta(t, 1-25.0/35.0, stats.ExternalFragmentation(), 0.0001)

	require.Equal(t, 2, m.AllocationCount())
	require.Equal(t, 2, m.FreeRegionsCount())
	require.Equal(t, 35, m.SumFreeSize())
	require.Equal(t, 25, m.LargestFreeRegion())
}

func TestPrintDetailedMap(t *testing.T) {
	m, err := metadata.NewMemoryMap(100, 0)
	require.NoError(t, err)

	_, err = m.Allocate(metadata.FirstFitPolicy{}, 40, 7)
	require.NoError(t, err)

	writer := jwriter.NewWriter()
	obj := writer.Object()
	m.PrintDetailedMap(&obj)
	obj.End()
	require.NoError(t, writer.Error())

	require.JSONEq(t, `{
		"Base": 0,
		"TotalSize": 100,
		"FreeSize": 60,
		"Blocks": 2,
		"Capacity": 0,
		"Allocations": 1,
		"FreeRegions": 1,
		"LargestFreeRegion": 60,
		"Segments": [
			{"Start": 0, "End": 39, "Size": 40, "Type": "OWNED", "Owner": 7},
			{"Start": 40, "End": 99, "Size": 60, "Type": "FREE"}
		]
	}`, string(writer.Bytes()))
}

func TestVisitAllRegionsStopsOnError(t *testing.T) {
	m := seedMap(t, 0,
		ownedBlock(0, 10, 1),
		freeBlock(10, 10),
		ownedBlock(20, 10, 2),
	)

	var visited []int
	stop := memutils.ErrInvalidMap
	err := m.VisitAllRegions(func(index int, block metadata.Block) error {
		visited = append(visited, index)
		if block.IsFree() {
			return stop
		}
		return nil
	})
	require.ErrorIs(t, err, stop)
	require.Equal(t, []int{0, 1}, visited)

	found, ok := m.FindBlock(20, 29)
	require.True(t, ok)
	require.Equal(t, ownedBlock(20, 10, 2), found)

	_, ok = m.FindBlock(20, 25)
	require.False(t, ok)
}

func TestParseAllocationStrategy(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected metadata.AllocationStrategy
	}{
		{name: "Kebab", input: "best-fit", expected: metadata.AllocationStrategyBestFit},
		{name: "Snake", input: "first_fit", expected: metadata.AllocationStrategyFirstFit},
		{name: "Camel", input: "WorstFit", expected: metadata.AllocationStrategyWorstFit},
		{name: "Flat", input: "nextfit", expected: metadata.AllocationStrategyNextFit},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			strategy, err := metadata.ParseAllocationStrategy(tc.input)
			require.NoError(t, err)
			require.Equal(t, tc.expected, strategy)
		})
	}

	_, err := metadata.ParseAllocationStrategy("buddy")
	require.ErrorIs(t, err, memutils.ErrUnknownStrategy)

	_, err = metadata.PolicyFor(metadata.AllocationStrategy(99), 0)
	require.ErrorIs(t, err, memutils.ErrUnknownStrategy)
}

func TestAllocateRejectsUnusableSelection(t *testing.T) {
	ctrl := gomock.NewController(t)

	blocks := []metadata.Block{
		freeBlock(0, 30),
		ownedBlock(30, 20, 1),
		freeBlock(50, 50),
	}
	m := seedMap(t, 0, blocks...)

	policy := mock_metadata.NewMockPlacementPolicy(ctrl)
	policy.EXPECT().Strategy().Return(metadata.AllocationStrategyBestFit).AnyTimes()

	testCases := []struct {
		name  string
		size  int
		index int
	}{
		{name: "OwnedBlock", size: 10, index: 1},
		{name: "UndersizedBlock", size: 40, index: 0},
		{name: "IndexPastEnd", size: 10, index: 7},
		{name: "NegativeIndex", size: 10, index: -1},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			policy.EXPECT().Select(m, testCase.size).Return(testCase.index, true)

			block, err := m.Allocate(policy, testCase.size, 2)
			require.Error(t, err)
			require.True(t, block.IsNull())
			requireBlocks(t, m, blocks...)
		})
	}

	// A policy that finds nothing is not an error
	policy.EXPECT().Select(m, 10).Return(-1, false)
	block, err := m.Allocate(policy, 10, 2)
	require.NoError(t, err)
	require.True(t, block.IsNull())
	requireBlocks(t, m, blocks...)

	// Requests larger than the total free space never reach the policy
	block, err = m.Allocate(policy, 81, 2)
	require.NoError(t, err)
	require.True(t, block.IsNull())
}
