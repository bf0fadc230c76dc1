package memutils

import (
	"math"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// Statistics summarizes one or more memory maps: how many address units they cover and how many
// of those are currently owned by a process
type Statistics struct {
	MapCount        int
	SegmentCount    int
	AllocationCount int
	TotalSize       int
	AllocatedSize   int
}

func (s *Statistics) Clear() {
	s.MapCount = 0
	s.SegmentCount = 0
	s.AllocationCount = 0
	s.TotalSize = 0
	s.AllocatedSize = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.MapCount += other.MapCount
	s.SegmentCount += other.SegmentCount
	s.AllocationCount += other.AllocationCount
	s.TotalSize += other.TotalSize
	s.AllocatedSize += other.AllocatedSize
}

// FreeSize is the number of address units not owned by any process
func (s *Statistics) FreeSize() int {
	return s.TotalSize - s.AllocatedSize
}

// DetailedStatistics extends Statistics with per-segment size extremes for both owned and free ranges
type DetailedStatistics struct {
	Statistics
	FreeRangeCount    int
	AllocationSizeMin int
	AllocationSizeMax int
	FreeRangeSizeMin  int
	FreeRangeSizeMax  int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.FreeRangeCount = 0
	s.AllocationSizeMin = math.MaxInt
	s.AllocationSizeMax = 0
	s.FreeRangeSizeMin = math.MaxInt
	s.FreeRangeSizeMax = 0
}

func (s *DetailedStatistics) AddFreeRange(size int) {
	s.SegmentCount++
	s.FreeRangeCount++

	if size < s.FreeRangeSizeMin {
		s.FreeRangeSizeMin = size
	}

	if size > s.FreeRangeSizeMax {
		s.FreeRangeSizeMax = size
	}
}

func (s *DetailedStatistics) AddAllocation(size int) {
	s.SegmentCount++
	s.AllocationCount++
	s.AllocatedSize += size

	if size < s.AllocationSizeMin {
		s.AllocationSizeMin = size
	}

	if size > s.AllocationSizeMax {
		s.AllocationSizeMax = size
	}
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.FreeRangeCount += other.FreeRangeCount

	if other.FreeRangeSizeMin < s.FreeRangeSizeMin {
		s.FreeRangeSizeMin = other.FreeRangeSizeMin
	}

	if other.FreeRangeSizeMax > s.FreeRangeSizeMax {
		s.FreeRangeSizeMax = other.FreeRangeSizeMax
	}

	if other.AllocationSizeMin < s.AllocationSizeMin {
		s.AllocationSizeMin = other.AllocationSizeMin
	}

	if other.AllocationSizeMax > s.AllocationSizeMax {
		s.AllocationSizeMax = other.AllocationSizeMax
	}
}

// ExternalFragmentation returns 1 - (largest free range / total free size), which is 0 when all free
// space is a single range and approaches 1 as free space splinters. A map with no free space reports 0.
func (s *DetailedStatistics) ExternalFragmentation() float64 {
	free := s.FreeSize()
	if free <= 0 || s.FreeRangeCount == 0 {
		return 0
	}

	return 1 - float64(s.FreeRangeSizeMax)/float64(free)
}

// PrintJson populates a json object with these statistics. Size extremes are omitted when there are no
// segments of the corresponding kind.
func (s *DetailedStatistics) PrintJson(json *jwriter.ObjectState) {
	json.Name("MapCount").Int(s.MapCount)
	json.Name("SegmentCount").Int(s.SegmentCount)
	json.Name("TotalSize").Int(s.TotalSize)
	json.Name("AllocationCount").Int(s.AllocationCount)
	json.Name("AllocatedSize").Int(s.AllocatedSize)
	json.Name("FreeRangeCount").Int(s.FreeRangeCount)
	json.Name("FreeSize").Int(s.FreeSize())

	if s.AllocationCount > 0 {
		json.Name("AllocationSizeMin").Int(s.AllocationSizeMin)
		json.Name("AllocationSizeMax").Int(s.AllocationSizeMax)
	}
	if s.FreeRangeCount > 0 {
		json.Name("FreeRangeSizeMin").Int(s.FreeRangeSizeMin)
		json.Name("FreeRangeSizeMax").Int(s.FreeRangeSizeMax)
	}
	json.Name("ExternalFragmentation").Float64(s.ExternalFragmentation())
}
