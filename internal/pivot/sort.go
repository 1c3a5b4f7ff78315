package pivot

import (
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/rpattn/reportql/internal/domain"
)

// dimensionSorter orders nodes of one arena by the configured sort spec.
// A collator is not safe for concurrent use, so each build owns one.
type dimensionSorter struct {
	arena       *levelArena
	spec        domain.SortSpec
	totals      map[nodeMetric]*bucket
	metrics     []domain.Metric
	metricIndex map[string]int
	collator    *collate.Collator
}

func newDimensionSorter(arena *levelArena, spec domain.SortSpec, totals map[nodeMetric]*bucket, metrics []domain.Metric) *dimensionSorter {
	index := make(map[string]int, len(metrics))
	for i, metric := range metrics {
		index[metric.ID] = i
	}
	return &dimensionSorter{
		arena:       arena,
		spec:        spec,
		totals:      totals,
		metrics:     metrics,
		metricIndex: index,
		collator:    collate.New(language.English, collate.IgnoreCase, collate.Numeric),
	}
}

func (s *dimensionSorter) active() bool {
	if len(s.spec) == 0 {
		return false
	}
	for _, field := range s.arena.fields {
		if _, ok := s.spec[field]; ok {
			return true
		}
	}
	return false
}

// sortLeaves orders full paths, comparing ancestors depth by depth.
func (s *dimensionSorter) sortLeaves(leaves []int) []int {
	sorted := append([]int(nil), leaves...)
	if !s.active() {
		return sorted
	}
	paths := make(map[int][]int, len(sorted))
	for _, leaf := range sorted {
		paths[leaf] = s.arena.path(leaf)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		left, right := paths[sorted[i]], paths[sorted[j]]
		for depth := range s.arena.fields {
			if c := s.compareAt(left[depth], right[depth], depth); c != 0 {
				return c < 0
			}
		}
		return false
	})
	return sorted
}

// sortSiblings orders nodes that share a parent using only their own field.
func (s *dimensionSorter) sortSiblings(nodes []int, depth int) []int {
	sorted := append([]int(nil), nodes...)
	if !s.active() {
		return sorted
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return s.compareAt(sorted[i], sorted[j], depth) < 0
	})
	return sorted
}

func (s *dimensionSorter) compareAt(left, right, depth int) int {
	if left == right {
		return 0
	}
	cfg, ok := s.spec[s.arena.fields[depth]]
	if !ok {
		return 0
	}
	if cfg.MetricDirection != nil {
		if mi, ok := s.resolveMetric(cfg.MetricID); ok {
			if c := compareAggregates(s.aggregate(left, mi), s.aggregate(right, mi), cfg.MetricDirection.Sign()); c != 0 {
				return c
			}
		}
	}
	if cfg.ValueDirection != nil {
		c := s.collator.CompareString(s.arena.nodes[left].value, s.arena.nodes[right].value)
		return c * cfg.ValueDirection.Sign()
	}
	return 0
}

func (s *dimensionSorter) resolveMetric(id string) (int, bool) {
	if id == "" {
		return 0, len(s.metrics) > 0
	}
	mi, ok := s.metricIndex[id]
	return mi, ok
}

func (s *dimensionSorter) aggregate(node, mi int) any {
	return s.totals[nodeMetric{node: node, metric: mi}].finalize(s.metrics[mi].Aggregator)
}

// compareAggregates puts non-numeric aggregates after numbers in either direction.
func compareAggregates(left, right any, sign int) int {
	lv, lok := ToFloat(left)
	rv, rok := ToFloat(right)
	switch {
	case !lok && !rok:
		return 0
	case !lok:
		return 1
	case !rok:
		return -1
	case lv < rv:
		return -sign
	case lv > rv:
		return sign
	}
	return 0
}
