package ocsvm

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/custsegml/pkg/detectors"
)

var _ detectors.Detector = (*OneClassSVM)(nil)

func TestFitErrors(t *testing.T) {
	m := New()
	assert.ErrorIs(t, m.Fit(nil), detectors.ErrEmptyData)

	_, err := m.ScoreSamples([][]float64{{1}})
	assert.ErrorIs(t, err, detectors.ErrNotFitted)
	_, err = m.Predict([][]float64{{1}})
	assert.ErrorIs(t, err, detectors.ErrNotFitted)

	assert.Error(t, New(WithNu(0)).Fit([][]float64{{1}}))
	assert.Error(t, New(WithNu(1.5)).Fit([][]float64{{1}}))
}

func TestDualConstraints(t *testing.T) {
	data := generateTestData(150, 3)
	m := New(WithNu(0.1))
	require.NoError(t, m.Fit(data))

	c := 1 / (0.1 * float64(len(data)))
	var sum float64
	for _, a := range m.alpha {
		assert.Greater(t, a, 0.0)
		assert.LessOrEqual(t, a, c+1e-12)
		sum += a
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.InDelta(t, 1.0/3, m.gammaFt, 1e-12)
}

func TestOutlierFraction(t *testing.T) {
	data := generateTestData(200, 4)
	res, err := detectors.FitPredict(New(WithNu(0.1)), data)
	require.NoError(t, err)

	assert.Equal(t, Name, res.Method)
	assert.Greater(t, res.Count(), 0)
	assert.LessOrEqual(t, res.Count(), 40)
}

func TestFarPointsFlagged(t *testing.T) {
	m := New(WithNu(0.1))
	require.NoError(t, m.Fit(generateTestData(200, 3)))

	far := [][]float64{{50, 50, 50}, {-40, 0, 40}}
	flags, err := m.Predict(far)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true}, flags)

	scores, err := m.ScoreSamples(far)
	require.NoError(t, err)
	for _, s := range scores {
		assert.Less(t, s, m.rho)
	}

	center, err := m.ScoreSamples([][]float64{{0, 0, 0}})
	require.NoError(t, err)
	assert.Greater(t, center[0], m.rho)
}

func TestSingleSample(t *testing.T) {
	m := New(WithNu(0.5))
	require.NoError(t, m.Fit([][]float64{{1, 2}}))
	scores, err := m.ScoreSamples([][]float64{{1, 2}})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, scores[0], 1e-12)
	assert.False(t, math.IsNaN(m.rho))
}

func TestSaveLoad(t *testing.T) {
	data := generateTestData(120, 3)
	original := New(WithNu(0.2))
	require.NoError(t, original.Fit(data))

	blob, err := original.Save()
	require.NoError(t, err)

	loaded := New()
	require.NoError(t, loaded.Load(blob))

	want, err := original.ScoreSamples(data)
	require.NoError(t, err)
	got, err := loaded.ScoreSamples(data)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, original.rho, loaded.rho)

	_, err = New().Save()
	assert.ErrorIs(t, err, detectors.ErrNotFitted)
	assert.Error(t, New().Load([]byte{0x01, 0x02}))
}

func BenchmarkFit(b *testing.B) {
	data := generateTestData(500, 8)
	for i := 0; i < b.N; i++ {
		New().Fit(data)
	}
}

func generateTestData(n, features int) [][]float64 {
	rng := rand.New(rand.NewSource(int64(n*17 + features)))
	data := make([][]float64, n)
	for i := range data {
		data[i] = make([]float64, features)
		for j := range data[i] {
			data[i][j] = rng.NormFloat64()
		}
	}
	return data
}
