package cluster

import (
	"math"
)

// Silhouette returns the mean silhouette coefficient of a labeling.
// Samples in singleton clusters contribute 0. It returns 0 when fewer than two
// clusters are present.
func Silhouette(data [][]float64, labels []int) float64 {
	n := len(data)
	if n == 0 {
		return 0
	}

	counts := make(map[int]int)
	for _, l := range labels {
		counts[l]++
	}
	if len(counts) < 2 || len(counts) >= n {
		return 0
	}

	var total float64
	sums := make(map[int]float64, len(counts))
	for i := 0; i < n; i++ {
		clear(sums)
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			sums[labels[j]] += math.Sqrt(sqDist(data[i], data[j]))
		}

		own := labels[i]
		if counts[own] == 1 {
			continue
		}
		a := sums[own] / float64(counts[own]-1)
		b := math.Inf(1)
		for l, s := range sums {
			if l == own {
				continue
			}
			if mean := s / float64(counts[l]); mean < b {
				b = mean
			}
		}
		if denom := math.Max(a, b); denom > 0 {
			total += (b - a) / denom
		}
	}
	return total / float64(n)
}

// SweepPoint is the diagnostic for one cluster count.
type SweepPoint struct {
	K          int
	Inertia    float64
	Silhouette float64
}

// Sweep fits k-means for every k in [minK, maxK] that the data can support
// (2 <= k < n) and records inertia and silhouette. The result is diagnostic
// only. The progress callback, when non-nil, is invoked after each k.
func Sweep(data [][]float64, minK, maxK int, progress func(SweepPoint), opts ...Option) ([]SweepPoint, error) {
	var out []SweepPoint
	for k := max(minK, 2); k <= maxK && k < len(data); k++ {
		m := NewKMeans(k, opts...)
		if err := m.Fit(data); err != nil {
			return nil, err
		}
		p := SweepPoint{
			K:          k,
			Inertia:    m.Inertia,
			Silhouette: Silhouette(data, m.Labels),
		}
		out = append(out, p)
		if progress != nil {
			progress(p)
		}
	}
	return out, nil
}
