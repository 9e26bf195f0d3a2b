// Package detectors provides unsupervised outlier detection algorithms.
package detectors

import (
	"errors"

	"github.com/hed1ad/custsegml/pkg/preprocess"
)

var (
	// ErrNotFitted is returned when scoring with an untrained detector.
	ErrNotFitted = errors.New("model not trained")
	// ErrEmptyData is returned when fitting on no samples.
	ErrEmptyData = errors.New("empty training data")
)

// Detector is the common interface for all outlier detection algorithms.
type Detector interface {
	// Name identifies the method, e.g. "iso_forest".
	Name() string

	// Fit trains the detector on historical data.
	// data is a 2D slice where each row is a sample and each column is a feature.
	Fit(data [][]float64) error

	// ScoreSamples returns a continuous score per sample. Lower values are
	// more anomalous.
	ScoreSamples(data [][]float64) ([]float64, error)

	// Predict reports which samples are outliers.
	Predict(data [][]float64) ([]bool, error)

	// Save serializes the trained model to bytes.
	Save() ([]byte, error)

	// Load deserializes a trained model from bytes.
	Load(data []byte) error
}

// Result is the outcome of running one detector over a dataset.
type Result struct {
	Method  string
	Scores  []float64
	Outlier []bool
}

// Count returns the number of flagged samples.
func (r Result) Count() int {
	n := 0
	for _, f := range r.Outlier {
		if f {
			n++
		}
	}
	return n
}

// FitPredict trains d on data and scores the same data.
func FitPredict(d Detector, data [][]float64) (Result, error) {
	if err := d.Fit(data); err != nil {
		return Result{}, err
	}
	return Score(d, data)
}

// Score runs an already fitted detector over data.
func Score(d Detector, data [][]float64) (Result, error) {
	scores, err := d.ScoreSamples(data)
	if err != nil {
		return Result{}, err
	}
	flags, err := d.Predict(data)
	if err != nil {
		return Result{}, err
	}
	return Result{Method: d.Name(), Scores: scores, Outlier: flags}, nil
}

// Config holds common configuration for detectors.
type Config struct {
	// Contamination is the expected proportion of outliers in training data.
	Contamination float64 `yaml:"contamination"`
	// Trees is the ensemble size for tree-based detectors.
	Trees int `yaml:"trees"`
	// RandomSeed for reproducibility.
	RandomSeed int64 `yaml:"-"`
}

// DefaultConfig returns sensible defaults for detector configuration.
func DefaultConfig() Config {
	return Config{
		Contamination: 0.1,
		Trees:         100,
		RandomSeed:    42,
	}
}

// Offset returns the score below which a sample is an outlier so that about
// a contamination fraction of scores falls under it.
func Offset(scores []float64, contamination float64) float64 {
	return preprocess.Percentile(scores, 100*contamination)
}

// Flag marks every score strictly below offset.
func Flag(scores []float64, offset float64) []bool {
	out := make([]bool, len(scores))
	for i, s := range scores {
		out[i] = s < offset
	}
	return out
}
