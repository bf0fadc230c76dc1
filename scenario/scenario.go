// Package scenario replays a scripted sequence of allocations and releases against a memory.Allocator.
// Scenarios are written in YAML:
//
//	size: 1000
//	max_blocks: 64
//	strategy: best-fit
//	reclaim_on_failure: false
//	steps:
//	  - {op: allocate, owner: 1, size: 100, strategy: first-fit}
//	  - {op: release, owner: 1, index: 0}
//	  - {op: release-process, owner: 1}
//	  - {op: defragment}
package scenario

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/mm7655/MemoryDisk/memutils"
	"github.com/mm7655/MemoryDisk/memutils/metadata"
	"gopkg.in/yaml.v3"
)

// Operation names a single scenario step
type Operation string

const (
	// OperationAllocate places a block of Size units for Owner
	OperationAllocate Operation = "allocate"
	// OperationRelease frees the Index-th block, in address order, currently held by Owner
	OperationRelease Operation = "release"
	// OperationReleaseProcess frees every block held by Owner
	OperationReleaseProcess Operation = "release-process"
	// OperationDefragment compacts the map, bounded by MaxBytes and MaxAllocations
	OperationDefragment Operation = "defragment"
	// OperationSetCursor moves the next-fit cursor to Cursor
	OperationSetCursor Operation = "set-cursor"
)

var operations = map[Operation]struct{}{
	OperationAllocate:       {},
	OperationRelease:        {},
	OperationReleaseProcess: {},
	OperationDefragment:     {},
	OperationSetCursor:      {},
}

func (o *Operation) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return errors.Newf("line %d: op must be a string", value.Line)
	}

	op := Operation(value.Value)
	if _, ok := operations[op]; !ok {
		return errors.Newf("line %d: unknown op %q", value.Line, value.Value)
	}

	*o = op
	return nil
}

// Strategy is an allocation strategy written by name, such as "best-fit" or "next_fit". The zero value
// means the scenario's default strategy.
type Strategy metadata.AllocationStrategy

func (s *Strategy) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return errors.Newf("line %d: strategy must be a string", value.Line)
	}

	strategy, err := metadata.ParseAllocationStrategy(value.Value)
	if err != nil {
		return errors.Wrapf(err, "line %d", value.Line)
	}

	*s = Strategy(strategy)
	return nil
}

func (s Strategy) AllocationStrategy() metadata.AllocationStrategy {
	return metadata.AllocationStrategy(s)
}

// BlockSpec describes one pre-seeded block. An Owner of 0 marks the block free.
type BlockSpec struct {
	Start int              `yaml:"start"`
	Size  int              `yaml:"size"`
	Owner metadata.OwnerID `yaml:"owner"`
}

// Step is a single scripted operation. Only the fields relevant to Op are read.
type Step struct {
	Op       Operation        `yaml:"op"`
	Owner    metadata.OwnerID `yaml:"owner,omitempty"`
	Size     int              `yaml:"size,omitempty"`
	Strategy Strategy         `yaml:"strategy,omitempty"`
	Index    int              `yaml:"index,omitempty"`
	Cursor   int              `yaml:"cursor,omitempty"`

	MaxBytes       int `yaml:"max_bytes,omitempty"`
	MaxAllocations int `yaml:"max_allocations,omitempty"`
}

// Scenario is a memory map configuration followed by the steps to replay against it
type Scenario struct {
	Size             int         `yaml:"size"`
	MaxBlocks        int         `yaml:"max_blocks"`
	Strategy         Strategy    `yaml:"strategy"`
	ReclaimOnFailure bool        `yaml:"reclaim_on_failure"`
	InitialBlocks    []BlockSpec `yaml:"initial_blocks"`
	Steps            []Step      `yaml:"steps"`
}

// Load decodes and validates a scenario. Unknown keys are rejected. When no strategy is named, best-fit
// is used.
func Load(r io.Reader) (*Scenario, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var s Scenario
	err := decoder.Decode(&s)
	if err != nil {
		return nil, errors.Wrap(err, "decoding scenario")
	}

	if s.Strategy == 0 {
		s.Strategy = Strategy(metadata.AllocationStrategyBestFit)
	}

	err = s.Validate()
	if err != nil {
		return nil, err
	}

	return &s, nil
}

// Validate checks the map configuration and every step for missing or out-of-range fields
func (s *Scenario) Validate() error {
	if len(s.InitialBlocks) == 0 {
		err := memutils.CheckPositive(s.Size, "size")
		if err != nil {
			return err
		}
	}

	if s.MaxBlocks < 0 {
		return errors.Newf("max_blocks must not be negative, but it is %d", s.MaxBlocks)
	}

	for _, block := range s.InitialBlocks {
		err := memutils.CheckPositive(block.Size, "initial_blocks.size")
		if err != nil {
			return err
		}
		if block.Owner < metadata.FreeOwner {
			return errors.Newf("initial block at %d has invalid owner %d", block.Start, block.Owner)
		}
	}

	for index, step := range s.Steps {
		err := step.validate()
		if err != nil {
			return errors.Wrapf(err, "step %d", index)
		}
	}

	return nil
}

func (s Step) validate() error {
	switch s.Op {
	case OperationAllocate:
		if s.Owner <= metadata.FreeOwner {
			return errors.Newf("allocate requires a positive owner, but it is %d", s.Owner)
		}
		return memutils.CheckPositive(s.Size, "size")
	case OperationRelease:
		if s.Owner <= metadata.FreeOwner {
			return errors.Newf("release requires a positive owner, but it is %d", s.Owner)
		}
		if s.Index < 0 {
			return errors.Newf("release index must not be negative, but it is %d", s.Index)
		}
	case OperationReleaseProcess:
		if s.Owner <= metadata.FreeOwner {
			return errors.Newf("release-process requires a positive owner, but it is %d", s.Owner)
		}
	case OperationDefragment:
		if s.MaxBytes < 0 || s.MaxAllocations < 0 {
			return errors.New("defragment limits must not be negative")
		}
	case OperationSetCursor:
	case "":
		return errors.New("op is required")
	default:
		return errors.Newf("unknown op %q", s.Op)
	}

	return nil
}

func (s *Scenario) seedBlocks() []metadata.Block {
	if len(s.InitialBlocks) == 0 {
		return nil
	}

	blocks := make([]metadata.Block, 0, len(s.InitialBlocks))
	for _, spec := range s.InitialBlocks {
		blocks = append(blocks, metadata.Block{
			Start: spec.Start,
			End:   memutils.LastAddress(spec.Start, spec.Size),
			Size:  spec.Size,
			Owner: spec.Owner,
		})
	}

	return blocks
}
