package cluster

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blobs(seed int64, centers [][]float64, perCenter int, spread float64) ([][]float64, []int) {
	rng := rand.New(rand.NewSource(seed))
	var data [][]float64
	var truth []int
	for c, center := range centers {
		for i := 0; i < perCenter; i++ {
			row := make([]float64, len(center))
			for j, v := range center {
				row[j] = v + rng.NormFloat64()*spread
			}
			data = append(data, row)
			truth = append(truth, c)
		}
	}
	return data, truth
}

func TestKMeansRecoversBlobs(t *testing.T) {
	centers := [][]float64{{0, 0}, {10, 10}, {-10, 10}}
	data, truth := blobs(1, centers, 30, 0.5)

	m := NewKMeans(3, WithSeed(7))
	require.NoError(t, m.Fit(data))

	// same partition up to label permutation
	mapping := map[int]int{}
	for i, l := range m.Labels {
		if want, ok := mapping[truth[i]]; ok {
			assert.Equal(t, want, l)
		} else {
			mapping[truth[i]] = l
		}
	}
	assert.Len(t, mapping, 3)
	assert.Greater(t, Silhouette(data, m.Labels), 0.8)
}

func TestKMeansDeterministic(t *testing.T) {
	data, _ := blobs(3, [][]float64{{0, 0, 0}, {4, 4, 4}}, 40, 2)

	a := NewKMeans(4, WithSeed(42))
	b := NewKMeans(4, WithSeed(42))
	require.NoError(t, a.Fit(data))
	require.NoError(t, b.Fit(data))

	assert.Equal(t, a.Labels, b.Labels)
	assert.Equal(t, a.Centroids, b.Centroids)
	assert.Equal(t, a.Inertia, b.Inertia)
}

func TestKMeansUsesEveryLabel(t *testing.T) {
	tests := []struct {
		name string
		data [][]float64
		k    int
	}{
		{name: "identical points", data: [][]float64{{1, 1}, {1, 1}, {1, 1}, {1, 1}}, k: 3},
		{name: "n equals k", data: [][]float64{{0}, {1}, {2}, {3}}, k: 4},
		{name: "duplicates", data: [][]float64{{0}, {0}, {0}, {5}, {5}, {9}}, k: 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewKMeans(tt.k, WithSeed(1))
			require.NoError(t, m.Fit(tt.data))

			seen := map[int]bool{}
			for _, l := range m.Labels {
				assert.GreaterOrEqual(t, l, 0)
				assert.Less(t, l, tt.k)
				seen[l] = true
			}
			assert.Len(t, seen, tt.k)
			assert.Len(t, m.Labels, len(tt.data))
		})
	}
}

func TestKMeansTooFewSamples(t *testing.T) {
	m := NewKMeans(5)
	err := m.Fit([][]float64{{1}, {2}})
	assert.ErrorIs(t, err, ErrTooFewSamples)
}

func TestPredict(t *testing.T) {
	data := [][]float64{{0}, {0.1}, {10}, {10.1}}
	m := NewKMeans(2, WithSeed(1))
	require.NoError(t, m.Fit(data))

	got, err := m.Predict([][]float64{{0.05}, {9.9}})
	require.NoError(t, err)
	assert.Equal(t, m.Labels[0], got[0])
	assert.Equal(t, m.Labels[2], got[1])

	_, err = NewKMeans(2).Predict(data)
	assert.Error(t, err)
}

func TestSilhouette(t *testing.T) {
	data := [][]float64{{0}, {1}, {10}, {11}}

	s := Silhouette(data, []int{0, 0, 1, 1})
	want := (2*(9.5/10.5) + 2*(8.5/9.5)) / 4
	assert.InDelta(t, want, s, 1e-12)

	assert.Equal(t, 0.0, Silhouette(data, []int{0, 0, 0, 0}))
	assert.Equal(t, 0.0, Silhouette(nil, nil))

	// singleton cluster contributes zero
	withSingleton := Silhouette(data, []int{0, 0, 0, 1})
	assert.Less(t, withSingleton, s)
}

func TestSweep(t *testing.T) {
	data, _ := blobs(5, [][]float64{{0, 0}, {8, 0}, {0, 8}, {8, 8}}, 15, 0.4)

	var seen []int
	points, err := Sweep(data, 2, 10, func(p SweepPoint) { seen = append(seen, p.K) }, WithSeed(42), WithRestarts(3))
	require.NoError(t, err)
	require.Len(t, points, 9)
	assert.Equal(t, []int{2, 3, 4, 5, 6, 7, 8, 9, 10}, seen)

	assert.Less(t, points[len(points)-1].Inertia, points[0].Inertia)
	best := points[0]
	for _, p := range points {
		if p.Silhouette > best.Silhouette {
			best = p
		}
	}
	assert.Equal(t, 4, best.K)
}

func TestSweepBoundedBySamples(t *testing.T) {
	data := [][]float64{{0}, {1}, {2}, {3}}
	points, err := Sweep(data, 2, 10, nil)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 3, points[1].K)
}

func BenchmarkKMeans(b *testing.B) {
	data, _ := blobs(1, [][]float64{{0, 0, 0, 0}, {5, 5, 5, 5}, {-5, 5, -5, 5}}, 300, 1)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m := NewKMeans(4)
		_ = m.Fit(data)
	}
}
