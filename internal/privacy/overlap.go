package privacy

import (
	"fmt"
	"sort"
)

// OverlapStrategy decides what happens when spans found by different rules
// (or the same rule) overlap.
type OverlapStrategy string

const (
	// OverlapKeepAll keeps every match, duplicates and overlaps included.
	OverlapKeepAll OverlapStrategy = "keep_all"
	// OverlapFirstMatch lets the highest priority rule claim a span first.
	OverlapFirstMatch OverlapStrategy = "first_match"
	// OverlapLongestMatch lets the longest span win, ties broken by priority.
	OverlapLongestMatch OverlapStrategy = "longest_match"
)

// ParseOverlapStrategy validates a configured strategy name. Empty means keep_all.
func ParseOverlapStrategy(s string) (OverlapStrategy, error) {
	switch OverlapStrategy(s) {
	case "":
		return OverlapKeepAll, nil
	case OverlapKeepAll, OverlapFirstMatch, OverlapLongestMatch:
		return OverlapStrategy(s), nil
	default:
		return "", fmt.Errorf("unknown overlap strategy: %s (must be keep_all, first_match, or longest_match)", s)
	}
}

// match is a located entity. Positions never leave the package.
type match struct {
	start, end int
	order      int // index of the rule in scan order
	priority   int
	entity     Entity
}

func (m match) overlaps(o match) bool {
	return m.start < o.end && o.start < m.end
}

// resolve applies the strategy and returns survivors in detection order.
func resolve(matches []match, strategy OverlapStrategy) []match {
	if strategy == OverlapKeepAll || strategy == "" || len(matches) < 2 {
		return matches
	}

	ranked := make([]match, len(matches))
	copy(ranked, matches)

	switch strategy {
	case OverlapFirstMatch:
		sort.SliceStable(ranked, func(i, j int) bool {
			if ranked[i].priority != ranked[j].priority {
				return ranked[i].priority > ranked[j].priority
			}
			return ranked[i].start < ranked[j].start
		})
	case OverlapLongestMatch:
		sort.SliceStable(ranked, func(i, j int) bool {
			li := ranked[i].end - ranked[i].start
			lj := ranked[j].end - ranked[j].start
			if li != lj {
				return li > lj
			}
			if ranked[i].priority != ranked[j].priority {
				return ranked[i].priority > ranked[j].priority
			}
			return ranked[i].start < ranked[j].start
		})
	default:
		return matches
	}

	kept := make([]match, 0, len(ranked))
	for _, candidate := range ranked {
		claimed := false
		for _, k := range kept {
			if candidate.overlaps(k) {
				claimed = true
				break
			}
		}
		if !claimed {
			kept = append(kept, candidate)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].order != kept[j].order {
			return kept[i].order < kept[j].order
		}
		return kept[i].start < kept[j].start
	})
	return kept
}
