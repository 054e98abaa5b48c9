package metrics

import (
	"sort"

	"github.com/natssync/mstress/pkg/types"
)

// NewStatsCollection orders results by ascending mps and summarizes them.
// Ties keep their input order. An empty input yields zero stats and an
// empty, non-nil result list.
func NewStatsCollection(results []types.ThroughputResult) types.StatsCollection {
	if len(results) == 0 {
		return types.StatsCollection{Results: []types.ThroughputResult{}}
	}

	sorted := make([]types.ThroughputResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MPS < sorted[j].MPS
	})

	var sum float64
	for _, r := range sorted {
		sum += r.MPS
	}

	return types.StatsCollection{
		Results: sorted,
		Min:     sorted[0].MPS,
		Max:     sorted[len(sorted)-1].MPS,
		Average: sum / float64(len(sorted)),
	}
}
