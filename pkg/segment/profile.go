package segment

import (
	"strconv"

	"github.com/hed1ad/custsegml/pkg/features"
)

// NotApplicable is shown for statistics that cannot be computed because the
// segment has no members.
const NotApplicable = "N/A"

// Stat is a profile statistic that may be undefined. A zero Stat is not the
// same as a computed 0.
type Stat struct {
	Value float64
	Valid bool
}

// String formats the statistic, or NotApplicable when undefined.
func (s Stat) String() string {
	if !s.Valid {
		return NotApplicable
	}
	return strconv.FormatFloat(s.Value, 'f', 4, 64)
}

// Profile summarizes one segment for reporting.
type Profile struct {
	Segment         int
	Size            int
	Columns         []string
	Means           []Stat
	PreferredMethod string
}

// Mean returns the profile mean of a column.
func (p Profile) Mean(column string) Stat {
	for i, c := range p.Columns {
		if c == column {
			return p.Means[i]
		}
	}
	return Stat{}
}

// Profiles computes the per-segment mean of every column and the modal
// preferred payment method. include, when non-nil, filters segments out as if
// deselected; empty segments report NotApplicable instead of dividing by zero.
func Profiles(table *features.Table, labels []int, k int, columns []string, include func(segment int) bool) []Profile {
	idx := make([]int, len(columns))
	for i, c := range columns {
		idx[i], _ = table.Index(c)
	}

	sums := make([][]float64, k)
	methods := make([][]string, k)
	sizes := make([]int, k)
	for s := 0; s < k; s++ {
		sums[s] = make([]float64, len(columns))
	}
	for i, row := range table.Rows {
		s := labels[i]
		if s < 0 || s >= k || (include != nil && !include(s)) {
			continue
		}
		sizes[s]++
		for c, j := range idx {
			sums[s][c] += row.Values[j]
		}
		methods[s] = append(methods[s], row.PreferredMethod)
	}

	out := make([]Profile, k)
	for s := 0; s < k; s++ {
		p := Profile{
			Segment:         s,
			Size:            sizes[s],
			Columns:         columns,
			Means:           make([]Stat, len(columns)),
			PreferredMethod: NotApplicable,
		}
		if sizes[s] > 0 {
			for c := range columns {
				p.Means[c] = Stat{Value: sums[s][c] / float64(sizes[s]), Valid: true}
			}
			p.PreferredMethod = modeSorted(methods[s])
		}
		out[s] = p
	}
	return out
}

// modeSorted returns the most frequent value, breaking ties by the smallest
// value.
func modeSorted(values []string) string {
	counts := make(map[string]int)
	for _, v := range values {
		counts[v]++
	}
	best, bestCount := features.UnknownMethod, 0
	for v, c := range counts {
		if c > bestCount || (c == bestCount && v < best) {
			best, bestCount = v, c
		}
	}
	return best
}
