package defrag

import (
	"github.com/pkg/errors"
)

// DefragmentationInfo bounds the work performed by a single compaction pass. Zero values mean no limit.
type DefragmentationInfo struct {
	// MaxBytesPerPass is the maximum number of address units to relocate in one pass
	MaxBytesPerPass int
	// MaxAllocationsPerPass is the maximum number of blocks to relocate in one pass
	MaxAllocationsPerPass int
}

// Validate returns an error if either limit is negative
func (i DefragmentationInfo) Validate() error {
	if i.MaxBytesPerPass < 0 {
		return errors.Errorf("MaxBytesPerPass must not be negative, but it is %d", i.MaxBytesPerPass)
	}
	if i.MaxAllocationsPerPass < 0 {
		return errors.Errorf("MaxAllocationsPerPass must not be negative, but it is %d", i.MaxAllocationsPerPass)
	}
	return nil
}

type defragCounterStatus uint32

const (
	defragCounterPass defragCounterStatus = iota
	defragCounterIgnore
	defragCounterEnd
)

var defragCounterStatusMapping = map[defragCounterStatus]string{
	defragCounterPass:   "defragCounterPass",
	defragCounterIgnore: "defragCounterIgnore",
	defragCounterEnd:    "defragCounterEnd",
}

func (s defragCounterStatus) String() string {
	return defragCounterStatusMapping[s]
}
