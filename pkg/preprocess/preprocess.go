// Package preprocess holds the numeric preparation steps shared by the
// segmentation, training, anomaly and prediction stages.
package preprocess

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ErrShape is returned when a matrix row does not match the fitted width.
var ErrShape = errors.New("feature width mismatch")

// Sanitize replaces ±Inf with NaN and then every NaN with 0, in place.
func Sanitize(data [][]float64) [][]float64 {
	for _, row := range data {
		for j, v := range row {
			if math.IsInf(v, 0) || math.IsNaN(v) {
				row[j] = 0
			}
		}
	}
	return data
}

// Finite returns v, or 0 when v is NaN or infinite.
func Finite(v float64) float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0
	}
	return v
}

// Reconcile builds the ordered feature vector a model expects from an
// arbitrary mapping. Names absent from the mapping, and non-finite values,
// become 0. Extra keys are ignored.
func Reconcile(names []string, in map[string]float64) []float64 {
	out := make([]float64, len(names))
	for i, name := range names {
		if v, ok := in[name]; ok {
			out[i] = Finite(v)
		}
	}
	return out
}

// StandardScaler rescales every column to zero mean and unit variance.
// Columns with zero variance keep a scale of 1.
type StandardScaler struct {
	Means  []float64
	Scales []float64
}

// FitScaler fits a StandardScaler on data using the population standard
// deviation.
func FitScaler(data [][]float64) (*StandardScaler, error) {
	if len(data) == 0 {
		return nil, errors.New("empty data")
	}
	nFeatures := len(data[0])
	s := &StandardScaler{
		Means:  make([]float64, nFeatures),
		Scales: make([]float64, nFeatures),
	}
	col := make([]float64, len(data))
	for j := 0; j < nFeatures; j++ {
		for i, row := range data {
			if len(row) != nFeatures {
				return nil, fmt.Errorf("row %d: %w", i, ErrShape)
			}
			col[i] = row[j]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		s.Means[j] = mean
		s.Scales[j] = std
	}
	return s, nil
}

// Width returns the number of features the scaler was fitted on.
func (s *StandardScaler) Width() int {
	return len(s.Means)
}

// Transform returns a standardized copy of data.
func (s *StandardScaler) Transform(data [][]float64) ([][]float64, error) {
	out := make([][]float64, len(data))
	for i, row := range data {
		r, err := s.TransformOne(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = r
	}
	return out, nil
}

// TransformOne returns a standardized copy of a single row.
func (s *StandardScaler) TransformOne(row []float64) ([]float64, error) {
	if len(row) != len(s.Means) {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrShape, len(row), len(s.Means))
	}
	out := make([]float64, len(row))
	for j, v := range row {
		out[j] = (v - s.Means[j]) / s.Scales[j]
	}
	return out, nil
}

// FitTransform fits a scaler on data and returns the standardized data.
func FitTransform(data [][]float64) (*StandardScaler, [][]float64, error) {
	s, err := FitScaler(data)
	if err != nil {
		return nil, nil, err
	}
	out, err := s.Transform(data)
	if err != nil {
		return nil, nil, err
	}
	return s, out, nil
}

// Median returns the median of x, averaging the two middle values for even
// lengths. It returns NaN for empty input.
func Median(x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	return Percentile(x, 50)
}

// Percentile returns the p-th percentile (0..100) of x with linear
// interpolation between closest ranks. This is numpy's default method;
// stat.Quantile offers no equivalent.
func Percentile(x []float64, p float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)
	pos := float64(len(sorted)-1) * p / 100
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo < 0 {
		lo = 0
	}
	if hi >= len(sorted) {
		hi = len(sorted) - 1
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// SampleStdDev returns the n-1 standard deviation of x, or 0 when fewer than
// two observations are available.
func SampleStdDev(x []float64) float64 {
	if len(x) < 2 {
		return 0
	}
	return Finite(stat.StdDev(x, nil))
}

// Column extracts column j of data.
func Column(data [][]float64, j int) []float64 {
	out := make([]float64, len(data))
	for i, row := range data {
		out[i] = row[j]
	}
	return out
}
