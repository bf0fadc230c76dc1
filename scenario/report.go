package scenario

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/mm7655/MemoryDisk/memory"
	"github.com/mm7655/MemoryDisk/memutils"
	"github.com/mm7655/MemoryDisk/memutils/defrag"
	"github.com/mm7655/MemoryDisk/memutils/metadata"
	"github.com/samber/lo"
)

// StepResult records the outcome of a single step and the map as it stood afterward
type StepResult struct {
	Index int
	Step  Step
	// Strategy is the strategy actually used for an allocate step
	Strategy metadata.AllocationStrategy
	// Block is the allocated or released block, or metadata.NullBlock
	Block metadata.Block
	// Released is the number of blocks freed by a release or release-process step
	Released int
	// Moves are the relocations applied by a defragment step
	Moves []defrag.DefragmentationMove
	// Err is set when the allocator refused the step
	Err error
	// Blocks is a snapshot of the map after the step
	Blocks []metadata.Block
}

// ProcessReport is the final accounting for one owner
type ProcessReport struct {
	Owner      metadata.OwnerID
	Statistics memory.ProcessStatistics
}

// Report is the result of replaying a scenario
type Report struct {
	Strategy        metadata.AllocationStrategy
	MaxBlocks       int
	Initial         []metadata.Block
	Steps           []StepResult
	Statistics      memutils.DetailedStatistics
	Processes       []ProcessReport
	Defragmentation defrag.DefragmentationStats
}

// FailedAllocations returns the number of allocate steps that produced no block
func (r *Report) FailedAllocations() int {
	return lo.CountBy(r.Steps, func(step StepResult) bool {
		return step.Step.Op == OperationAllocate && step.Block.IsNull()
	})
}

// Errors returns the number of steps the allocator refused
func (r *Report) Errors() int {
	return lo.CountBy(r.Steps, func(step StepResult) bool { return step.Err != nil })
}

func formatBlocks(blocks []metadata.Block) string {
	return strings.Join(lo.Map(blocks, func(block metadata.Block, _ int) string { return block.String() }), "")
}

func printBlockFields(obj *jwriter.ObjectState, block metadata.Block) {
	obj.Name("Start").Int(block.Start)
	obj.Name("End").Int(block.End)
	obj.Name("Size").Int(block.Size)
	obj.Name("Owner").Int(int(block.Owner))
}

func printBlock(json *jwriter.Writer, block metadata.Block) {
	if block.IsNull() {
		json.Null()
		return
	}

	obj := json.Object()
	printBlockFields(&obj, block)
	obj.End()
}

func printBlocks(json *jwriter.Writer, blocks []metadata.Block) {
	arr := json.Array()
	for _, block := range blocks {
		obj := arr.Object()
		printBlockFields(&obj, block)
		obj.End()
	}
	arr.End()
}

// JSON renders the report as a json document
func (r *Report) JSON() []byte {
	writer := jwriter.NewWriter()
	obj := writer.Object()

	obj.Name("Strategy").String(r.Strategy.String())
	obj.Name("MaxBlocks").Int(r.MaxBlocks)
	printBlocks(obj.Name("Initial"), r.Initial)

	steps := obj.Name("Steps").Array()
	for _, result := range r.Steps {
		s := steps.Object()
		s.Name("Index").Int(result.Index)
		s.Name("Op").String(string(result.Step.Op))

		switch result.Step.Op {
		case OperationAllocate:
			s.Name("Owner").Int(int(result.Step.Owner))
			s.Name("Size").Int(result.Step.Size)
			s.Name("Strategy").String(result.Strategy.String())
			printBlock(s.Name("Block"), result.Block)
		case OperationRelease:
			s.Name("Owner").Int(int(result.Step.Owner))
			printBlock(s.Name("Block"), result.Block)
			s.Name("Released").Int(result.Released)
		case OperationReleaseProcess:
			s.Name("Owner").Int(int(result.Step.Owner))
			s.Name("Released").Int(result.Released)
		case OperationDefragment:
			moves := s.Name("Moves").Array()
			for _, move := range result.Moves {
				m := moves.Object()
				m.Name("Owner").Int(int(move.Src.Owner))
				m.Name("From").Int(move.Src.Start)
				m.Name("To").Int(move.Dst.Start)
				m.Name("Size").Int(move.Size)
				m.End()
			}
			moves.End()
		case OperationSetCursor:
			s.Name("Cursor").Int(result.Step.Cursor)
		}

		if result.Err != nil {
			s.Name("Error").String(result.Err.Error())
		}
		printBlocks(s.Name("Map"), result.Blocks)
		s.End()
	}
	steps.End()

	total := obj.Name("Statistics").Object()
	r.Statistics.PrintJson(&total)
	total.End()

	processes := obj.Name("Processes").Object()
	for _, process := range r.Processes {
		p := processes.Name(strconv.Itoa(int(process.Owner))).Object()
		process.Statistics.PrintJson(&p)
		p.End()
	}
	processes.End()

	defragObj := obj.Name("Defragmentation").Object()
	r.Defragmentation.PrintJson(&defragObj)
	defragObj.End()

	obj.End()
	return writer.Bytes()
}

// WriteText writes a human-readable line for every step followed by a summary. When showMaps is true,
// the map after each step is printed as well.
func (r *Report) WriteText(w io.Writer, showMaps bool) error {
	_, err := fmt.Fprintf(w, "strategy %s, %d units, initial map %s\n", r.Strategy, r.Statistics.TotalSize, formatBlocks(r.Initial))
	if err != nil {
		return err
	}

	for _, result := range r.Steps {
		_, err = fmt.Fprintf(w, "step %d: %s\n", result.Index, describeStep(result))
		if err != nil {
			return err
		}

		if showMaps {
			_, err = fmt.Fprintf(w, "    %s\n", formatBlocks(result.Blocks))
			if err != nil {
				return err
			}
		}
	}

	stats := r.Statistics
	_, err = fmt.Fprintf(w,
		"allocations=%d allocated=%d free=%d free_regions=%d largest_free=%d fragmentation=%.3f failed=%d errors=%d\n",
		stats.AllocationCount,
		stats.AllocatedSize,
		stats.FreeSize(),
		stats.FreeRangeCount,
		stats.FreeRangeSizeMax,
		stats.ExternalFragmentation(),
		r.FailedAllocations(),
		r.Errors(),
	)
	return err
}

func describeStep(result StepResult) string {
	var desc string
	step := result.Step

	switch step.Op {
	case OperationAllocate:
		desc = fmt.Sprintf("allocate owner=%d size=%d strategy=%s -> %s", step.Owner, step.Size, result.Strategy, result.Block)
	case OperationRelease:
		desc = fmt.Sprintf("release owner=%d index=%d -> %s", step.Owner, step.Index, result.Block)
	case OperationReleaseProcess:
		desc = fmt.Sprintf("release-process owner=%d -> %d blocks", step.Owner, result.Released)
	case OperationDefragment:
		desc = fmt.Sprintf("defragment -> %d moves", len(result.Moves))
	case OperationSetCursor:
		desc = fmt.Sprintf("set-cursor %d", step.Cursor)
	default:
		desc = string(step.Op)
	}

	if result.Err != nil {
		desc += " (error: " + result.Err.Error() + ")"
	}

	return desc
}
