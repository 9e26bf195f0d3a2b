// Package cluster implements centroid-based partitioning and the diagnostics
// used to compare cluster counts.
package cluster

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// ErrTooFewSamples is returned when there are fewer samples than clusters.
var ErrTooFewSamples = errors.New("fewer samples than clusters")

// KMeans partitions samples into k clusters with Lloyd iterations seeded by
// k-means++. The best of several restarts (lowest inertia) is kept.
type KMeans struct {
	k       int
	nInit   int
	maxIter int
	tol     float64
	seed    int64

	Centroids [][]float64
	Labels    []int
	Inertia   float64
	Iter      int
}

// Option configures a KMeans.
type Option func(*KMeans)

// WithRestarts sets the number of independent k-means++ initializations.
func WithRestarts(n int) Option {
	return func(m *KMeans) {
		m.nInit = n
	}
}

// WithMaxIter sets the maximum number of Lloyd iterations per restart.
func WithMaxIter(n int) Option {
	return func(m *KMeans) {
		m.maxIter = n
	}
}

// WithTolerance sets the relative centroid-shift tolerance for convergence.
func WithTolerance(tol float64) Option {
	return func(m *KMeans) {
		m.tol = tol
	}
}

// WithSeed sets the random seed for reproducibility.
func WithSeed(seed int64) Option {
	return func(m *KMeans) {
		m.seed = seed
	}
}

// NewKMeans creates a KMeans for k clusters.
func NewKMeans(k int, opts ...Option) *KMeans {
	m := &KMeans{
		k:       k,
		nInit:   10,
		maxIter: 300,
		tol:     1e-4,
		seed:    42,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// K returns the configured cluster count.
func (m *KMeans) K() int {
	return m.k
}

// Fit clusters data. Every label in [0, k) is used by at least one sample.
func (m *KMeans) Fit(data [][]float64) error {
	if m.k < 1 {
		return fmt.Errorf("invalid cluster count %d", m.k)
	}
	if len(data) < m.k {
		return fmt.Errorf("%w: %d samples, k=%d", ErrTooFewSamples, len(data), m.k)
	}

	rng := rand.New(rand.NewSource(m.seed))
	tol := m.tol * meanVariance(data)

	m.Inertia = math.Inf(1)
	for run := 0; run < max(m.nInit, 1); run++ {
		centroids := initPlusPlus(data, m.k, rng)
		labels, inertia, iter := lloyd(data, centroids, m.maxIter, tol)
		if inertia < m.Inertia {
			m.Centroids = centroids
			m.Labels = labels
			m.Inertia = inertia
			m.Iter = iter
		}
	}
	return nil
}

// Predict returns the nearest centroid for each sample.
func (m *KMeans) Predict(data [][]float64) ([]int, error) {
	if m.Centroids == nil {
		return nil, errors.New("model not fitted")
	}
	out := make([]int, len(data))
	for i, x := range data {
		out[i], _ = nearest(x, m.Centroids)
	}
	return out, nil
}

// initPlusPlus picks k initial centroids with greedy k-means++: each step
// draws several candidates proportionally to squared distance and keeps the
// one that lowers the potential most.
func initPlusPlus(data [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(data)
	trials := 2 + int(math.Log(float64(k)))

	centroids := make([][]float64, 0, k)
	centroids = append(centroids, clone(data[rng.Intn(n)]))

	closest := make([]float64, n)
	var potential float64
	for i, x := range data {
		closest[i] = sqDist(x, centroids[0])
		potential += closest[i]
	}

	for len(centroids) < k {
		bestIdx := -1
		bestPot := math.Inf(1)
		var bestClosest []float64

		for t := 0; t < trials; t++ {
			idx := sample(closest, potential, rng)
			cand := make([]float64, n)
			var pot float64
			for i, x := range data {
				cand[i] = math.Min(closest[i], sqDist(x, data[idx]))
				pot += cand[i]
			}
			if pot < bestPot {
				bestIdx, bestPot, bestClosest = idx, pot, cand
			}
		}
		centroids = append(centroids, clone(data[bestIdx]))
		closest, potential = bestClosest, bestPot
	}
	return centroids
}

// sample draws an index with probability proportional to weights.
func sample(weights []float64, total float64, rng *rand.Rand) int {
	if total <= 0 {
		return rng.Intn(len(weights))
	}
	r := rng.Float64() * total
	var acc float64
	for i, w := range weights {
		acc += w
		if r < acc {
			return i
		}
	}
	return len(weights) - 1
}

func lloyd(data [][]float64, centroids [][]float64, maxIter int, tol float64) ([]int, float64, int) {
	n, k := len(data), len(centroids)
	d := len(data[0])
	labels := make([]int, n)
	dists := make([]float64, n)

	iter := 0
	for iter < maxIter {
		iter++
		assign(data, centroids, labels, dists)
		relocateEmpty(data, centroids, labels, dists, k)

		next := make([][]float64, k)
		counts := make([]int, k)
		for c := range next {
			next[c] = make([]float64, d)
		}
		for i, x := range data {
			c := labels[i]
			counts[c]++
			for j, v := range x {
				next[c][j] += v
			}
		}
		var shift float64
		for c := range next {
			for j := range next[c] {
				next[c][j] /= float64(counts[c])
			}
			shift += sqDist(next[c], centroids[c])
			centroids[c] = next[c]
		}
		if shift <= tol {
			break
		}
	}

	assign(data, centroids, labels, dists)
	relocateEmpty(data, centroids, labels, dists, k)
	var inertia float64
	for _, v := range dists {
		inertia += v
	}
	return labels, inertia, iter
}

func assign(data, centroids [][]float64, labels []int, dists []float64) {
	for i, x := range data {
		labels[i], dists[i] = nearest(x, centroids)
	}
}

// relocateEmpty moves the sample farthest from its centroid into every empty
// cluster so that all k labels stay in use.
func relocateEmpty(data, centroids [][]float64, labels []int, dists []float64, k int) {
	for {
		counts := make([]int, k)
		for _, l := range labels {
			counts[l]++
		}
		empty := -1
		for c, cnt := range counts {
			if cnt == 0 {
				empty = c
				break
			}
		}
		if empty < 0 {
			return
		}
		far := -1
		for i, dist := range dists {
			if counts[labels[i]] > 1 && (far < 0 || dist > dists[far]) {
				far = i
			}
		}
		if far < 0 {
			return
		}
		centroids[empty] = clone(data[far])
		labels[far] = empty
		dists[far] = 0
	}
}

func nearest(x []float64, centroids [][]float64) (int, float64) {
	best, bestDist := 0, math.Inf(1)
	for c, cen := range centroids {
		if dist := sqDist(x, cen); dist < bestDist {
			best, bestDist = c, dist
		}
	}
	return best, bestDist
}

func meanVariance(data [][]float64) float64 {
	n := float64(len(data))
	d := len(data[0])
	var total float64
	for j := 0; j < d; j++ {
		var sum, sumSq float64
		for _, x := range data {
			sum += x[j]
			sumSq += x[j] * x[j]
		}
		mean := sum / n
		total += sumSq/n - mean*mean
	}
	return total / float64(d)
}

func sqDist(a, b []float64) float64 {
	var s float64
	for i := range a {
		diff := a[i] - b[i]
		s += diff * diff
	}
	return s
}

func clone(x []float64) []float64 {
	return append([]float64(nil), x...)
}
