package defrag

import "math"

// passContext tracks the budget for the current compaction pass across multiple relocations
type passContext struct {
	maxPassBytes       int
	maxPassAllocations int
	stats              DefragmentationStats
	ignoredAllocs      int
}

const defragMaxAllocsToIgnore = 16

func newPassContext(info DefragmentationInfo) passContext {
	pass := passContext{
		maxPassBytes:       info.MaxBytesPerPass,
		maxPassAllocations: info.MaxAllocationsPerPass,
	}
	if pass.maxPassBytes == 0 {
		pass.maxPassBytes = math.MaxInt
	}
	if pass.maxPassAllocations == 0 {
		pass.maxPassAllocations = math.MaxInt
	}
	return pass
}

func (p *passContext) checkCounters(bytes int) defragCounterStatus {
	// Ignore allocation if it will exceed max size for copy
	if bytes > p.maxPassBytes-p.stats.BytesMoved {
		p.ignoredAllocs++
		if p.ignoredAllocs < defragMaxAllocsToIgnore {
			return defragCounterIgnore
		}
		return defragCounterEnd
	}

	p.ignoredAllocs = 0
	return defragCounterPass
}

// incrementCounters records a relocation and returns true once either budget is exhausted
func (p *passContext) incrementCounters(bytes int) bool {
	p.stats.BytesMoved += bytes
	p.stats.AllocationsMoved++

	return p.stats.AllocationsMoved >= p.maxPassAllocations || p.stats.BytesMoved >= p.maxPassBytes
}
