package scenario

import (
	"context"
	"io"

	"github.com/cockroachdb/errors"
	"github.com/mm7655/MemoryDisk/memory"
	"github.com/mm7655/MemoryDisk/memutils/defrag"
	"github.com/mm7655/MemoryDisk/memutils/metadata"
	"golang.org/x/exp/slog"
)

// Run replays every step of s against a fresh allocator and returns what happened. A step that the
// allocator refuses, such as releasing a block that does not exist or splitting past the map's capacity,
// is recorded in its StepResult and the run continues. Run stops early with an error if ctx is cancelled
// or if the map's invariants are ever violated.
func Run(ctx context.Context, logger *slog.Logger, s *Scenario) (*Report, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	flags := memory.AllocatorCreateExternallySynchronized
	if s.ReclaimOnFailure {
		flags |= memory.AllocatorCreateReclaimOnFailure
	}

	allocator, err := memory.New(logger, memory.CreateOptions{
		Flags:         flags,
		Size:          s.Size,
		MaxBlocks:     s.MaxBlocks,
		InitialBlocks: s.seedBlocks(),
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating allocator")
	}

	report := &Report{
		Strategy:  s.Strategy.AllocationStrategy(),
		MaxBlocks: s.MaxBlocks,
		Initial:   allocator.Blocks(),
	}

	for index, step := range s.Steps {
		err = ctx.Err()
		if err != nil {
			return report, errors.Wrapf(err, "scenario interrupted before step %d", index)
		}

		result := StepResult{
			Index:    index,
			Step:     step,
			Block:    metadata.NullBlock,
			Strategy: s.Strategy.AllocationStrategy(),
		}
		if step.Strategy != 0 {
			result.Strategy = step.Strategy.AllocationStrategy()
		}

		result.Err = runStep(allocator, step, &result)
		if result.Err != nil {
			logger.Warn("scenario step failed",
				slog.Int("step", index),
				slog.String("op", string(step.Op)),
				slog.Int("owner", int(step.Owner)),
				slog.String("error", result.Err.Error()),
			)
		}

		result.Blocks = allocator.Blocks()
		report.Steps = append(report.Steps, result)

		err = allocator.Validate()
		if err != nil {
			return report, errors.Wrapf(err, "memory map is inconsistent after step %d", index)
		}
	}

	allocator.CalculateStatistics(&report.Statistics)
	report.Defragmentation = allocator.DefragmentationStats()
	for _, owner := range allocator.Owners() {
		stats, _ := allocator.ProcessStatistics(owner)
		report.Processes = append(report.Processes, ProcessReport{Owner: owner, Statistics: stats})
	}

	return report, nil
}

func runStep(allocator *memory.Allocator, step Step, result *StepResult) error {
	switch step.Op {
	case OperationAllocate:
		block, err := allocator.Allocate(result.Strategy, step.Size, step.Owner)
		if err != nil {
			return err
		}
		result.Block = block
		return nil

	case OperationRelease:
		owned := allocator.Allocations(step.Owner)
		if step.Index >= len(owned) {
			return errors.Newf("owner %d holds %d blocks, so there is no block %d to release", step.Owner, len(owned), step.Index)
		}

		err := allocator.Release(owned[step.Index])
		if err != nil {
			return err
		}
		result.Block = owned[step.Index]
		result.Released = 1
		return nil

	case OperationReleaseProcess:
		released, err := allocator.ReleaseProcess(step.Owner)
		if err != nil {
			return err
		}
		result.Released = released
		return nil

	case OperationDefragment:
		moves, _, err := allocator.Defragment(defrag.DefragmentationInfo{
			MaxBytesPerPass:       step.MaxBytes,
			MaxAllocationsPerPass: step.MaxAllocations,
		}, nil)
		if err != nil {
			return err
		}
		result.Moves = moves
		return nil

	case OperationSetCursor:
		allocator.SetNextFitCursor(step.Cursor)
		return nil
	}

	return errors.Newf("unknown op %q", step.Op)
}
