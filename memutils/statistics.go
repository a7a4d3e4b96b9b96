package memutils

import (
	"math"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// Statistics is a snapshot of a pool's block and handle population. BlockCount and
// BlockBytes describe arena memory owned by the pool (dedicated heap mappings count
// as single-handle blocks); HandleCount and HandleBytes describe live, unreleased
// handles carved from that memory.
type Statistics struct {
	BlockCount  int
	HandleCount int
	BlockBytes  int
	HandleBytes int
}

func (s *Statistics) Clear() {
	s.BlockCount = 0
	s.HandleCount = 0
	s.BlockBytes = 0
	s.HandleBytes = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.BlockCount += other.BlockCount
	s.HandleCount += other.HandleCount
	s.BlockBytes += other.BlockBytes
	s.HandleBytes += other.HandleBytes
}

// DetailedStatistics extends Statistics with data about the unallocated tail ranges of
// blocks. A bump allocator has at most one free range per block, so UnusedRangeCount
// also counts unsealed blocks with room left.
type DetailedStatistics struct {
	Statistics
	UnusedRangeCount   int
	UnusedRangeSizeMin int
	UnusedRangeSizeMax int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.UnusedRangeCount = 0
	s.UnusedRangeSizeMin = math.MaxInt
	s.UnusedRangeSizeMax = 0
}

func (s *DetailedStatistics) AddUnusedRange(size int) {
	if size == 0 {
		return
	}

	s.UnusedRangeCount++

	if size < s.UnusedRangeSizeMin {
		s.UnusedRangeSizeMin = size
	}

	if size > s.UnusedRangeSizeMax {
		s.UnusedRangeSizeMax = size
	}
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.UnusedRangeCount += other.UnusedRangeCount

	if other.UnusedRangeSizeMin < s.UnusedRangeSizeMin {
		s.UnusedRangeSizeMin = other.UnusedRangeSizeMin
	}

	if other.UnusedRangeSizeMax > s.UnusedRangeSizeMax {
		s.UnusedRangeSizeMax = other.UnusedRangeSizeMax
	}
}

// PrintJson writes this object's contents to the provided ObjectState
func (s *DetailedStatistics) PrintJson(json *jwriter.ObjectState) {
	json.Name("BlockCount").Int(s.BlockCount)
	json.Name("BlockBytes").Int(s.BlockBytes)
	json.Name("HandleCount").Int(s.HandleCount)
	json.Name("HandleBytes").Int(s.HandleBytes)
	json.Name("UnusedRangeCount").Int(s.UnusedRangeCount)

	if s.HandleCount > 1 {
		json.Name("HandleBytesAvg").Float64(float64(s.HandleBytes) / float64(s.HandleCount))
	}

	if s.UnusedRangeCount > 1 {
		json.Name("UnusedRangeSizeMin").Int(s.UnusedRangeSizeMin)
		json.Name("UnusedRangeSizeMax").Int(s.UnusedRangeSizeMax)
	}
}
