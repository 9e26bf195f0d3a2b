// Package envelope implements an elliptic envelope outlier detector: a
// Gaussian fit on a robust (minimum covariance determinant) estimate, with
// squared Mahalanobis distance as the outlyingness measure.
package envelope

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/hed1ad/custsegml/pkg/detectors"
	"github.com/hed1ad/custsegml/pkg/preprocess"
)

// Name is the method identifier used in reports.
const Name = "elliptic"

// maxRidge bounds diagonal loading before falling back to the identity.
const maxRidge = 20

// EllipticEnvelope flags samples far from a robust location under a robust
// covariance.
type EllipticEnvelope struct {
	contamination float64
	starts        int
	maxSteps      int
	seed          int64

	trained   bool
	dim       int
	location  []float64
	precision []float64 // row-major dim×dim
	offset    float64
}

// Option configures an EllipticEnvelope.
type Option func(*EllipticEnvelope)

// WithContamination sets the expected proportion of outliers.
func WithContamination(c float64) Option {
	return func(e *EllipticEnvelope) {
		e.contamination = c
	}
}

// WithStarts sets the number of random elemental starts of FAST-MCD.
func WithStarts(n int) Option {
	return func(e *EllipticEnvelope) {
		e.starts = n
	}
}

// WithSeed sets the random seed for reproducibility.
func WithSeed(seed int64) Option {
	return func(e *EllipticEnvelope) {
		e.seed = seed
	}
}

// FromConfig maps the shared detector configuration onto options.
func FromConfig(cfg detectors.Config) []Option {
	return []Option{WithContamination(cfg.Contamination), WithSeed(cfg.RandomSeed)}
}

// New creates an EllipticEnvelope.
func New(opts ...Option) *EllipticEnvelope {
	e := &EllipticEnvelope{
		contamination: 0.1,
		starts:        30,
		maxSteps:      30,
		seed:          42,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements detectors.Detector.
func (e *EllipticEnvelope) Name() string {
	return Name
}

type estimate struct {
	mean   []float64
	cov    *mat.SymDense
	prec   *mat.SymDense
	logDet float64
}

// Fit runs FAST-MCD over h = ⌈(n+p+1)/2⌉ point subsets, corrects the raw
// estimate for consistency under normality and reweights it using the 97.5%
// chi-square cutoff.
func (e *EllipticEnvelope) Fit(data [][]float64) error {
	n := len(data)
	if n == 0 || len(data[0]) == 0 {
		return detectors.ErrEmptyData
	}
	p := len(data[0])

	x := mat.NewDense(n, p, nil)
	for i, row := range data {
		if len(row) != p {
			return fmt.Errorf("%w: row %d has %d features, want %d", preprocess.ErrShape, i, len(row), p)
		}
		x.SetRow(i, row)
	}

	h := min(int(math.Ceil(float64(n+p+1)/2)), n)
	rng := rand.New(rand.NewSource(e.seed))

	var best *estimate
	for s := 0; s < max(e.starts, 1); s++ {
		start := rng.Perm(n)[:min(p+1, n)]
		est := e.concentrate(x, fitSubset(x, start), h)
		if best == nil || est.logDet < best.logDet {
			best = est
		}
	}

	chi := distuv.ChiSquared{K: float64(p)}
	d2 := best.distances(x)

	if med := preprocess.Median(d2); med > 0 {
		corr := med / chi.Quantile(0.5)
		best.cov.ScaleSym(corr, best.cov)
		best.prec.ScaleSym(1/corr, best.prec)
		for i := range d2 {
			d2[i] /= corr
		}
	}

	cutoff := chi.Quantile(0.975)
	var keep []int
	for i, d := range d2 {
		if d < cutoff {
			keep = append(keep, i)
		}
	}
	final := best
	if len(keep) > p && len(keep) >= 2 {
		final = fitSubset(x, keep)
	}

	e.dim = p
	e.location = final.mean
	e.precision = make([]float64, p*p)
	for i := 0; i < p; i++ {
		for j := 0; j < p; j++ {
			e.precision[i*p+j] = final.prec.At(i, j)
		}
	}
	e.trained = true

	scores := e.scoreSamples(data)
	e.offset = detectors.Offset(scores, e.contamination)
	return nil
}

// concentrate applies C-steps until the covariance determinant stops
// decreasing.
func (e *EllipticEnvelope) concentrate(x *mat.Dense, est *estimate, h int) *estimate {
	est = fitSubset(x, smallest(est.distances(x), h))
	for step := 0; step < e.maxSteps; step++ {
		next := fitSubset(x, smallest(est.distances(x), h))
		if next.logDet >= est.logDet-1e-12 {
			if next.logDet < est.logDet {
				est = next
			}
			break
		}
		est = next
	}
	return est
}

// fitSubset estimates location and maximum-likelihood covariance of the
// given rows, ridging the covariance until it is positive definite.
func fitSubset(x *mat.Dense, rows []int) *estimate {
	_, p := x.Dims()
	sub := mat.NewDense(len(rows), p, nil)
	for i, r := range rows {
		sub.SetRow(i, x.RawRowView(r))
	}

	mean := make([]float64, p)
	col := make([]float64, len(rows))
	for j := 0; j < p; j++ {
		mat.Col(col, j, sub)
		mean[j] = stat.Mean(col, nil)
	}

	cov := mat.NewSymDense(p, nil)
	if len(rows) > 1 {
		stat.CovarianceMatrix(cov, sub, nil)
		k := float64(len(rows))
		cov.ScaleSym((k-1)/k, cov)
	}

	var chol mat.Cholesky
	ridge := 1e-9
	var trace float64
	for j := 0; j < p; j++ {
		trace += cov.At(j, j)
	}
	if trace > 0 {
		ridge = 1e-6 * trace / float64(p)
	}
	for attempt := 0; !chol.Factorize(cov); attempt++ {
		if attempt == maxRidge {
			cov = mat.NewSymDense(p, nil)
			for j := 0; j < p; j++ {
				cov.SetSym(j, j, 1)
			}
			continue
		}
		for j := 0; j < p; j++ {
			cov.SetSym(j, j, cov.At(j, j)+ridge)
		}
		ridge *= 10
	}

	prec := mat.NewSymDense(p, nil)
	if err := chol.InverseTo(prec); err != nil {
		// Factorized but numerically unstable; fall back to a diagonal inverse.
		for j := 0; j < p; j++ {
			prec.SetSym(j, j, 1/cov.At(j, j))
		}
	}
	return &estimate{mean: mean, cov: cov, prec: prec, logDet: chol.LogDet()}
}

func (est *estimate) distances(x *mat.Dense) []float64 {
	n, p := x.Dims()
	out := make([]float64, n)
	diff := make([]float64, p)
	for i := 0; i < n; i++ {
		row := x.RawRowView(i)
		for j := range diff {
			diff[j] = row[j] - est.mean[j]
		}
		out[i] = quadForm(diff, est.prec.At, p)
	}
	return out
}

func quadForm(diff []float64, at func(i, j int) float64, p int) float64 {
	var s float64
	for i := 0; i < p; i++ {
		var row float64
		for j := 0; j < p; j++ {
			row += at(i, j) * diff[j]
		}
		s += diff[i] * row
	}
	return s
}

// smallest returns the indices of the h smallest values, ties by index.
func smallest(values []float64, h int) []int {
	idx := make([]int, len(values))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return values[idx[a]] < values[idx[b]] })
	return idx[:h]
}

// ScoreSamples returns the negated squared Mahalanobis distance.
func (e *EllipticEnvelope) ScoreSamples(data [][]float64) ([]float64, error) {
	if !e.trained {
		return nil, detectors.ErrNotFitted
	}
	return e.scoreSamples(data), nil
}

func (e *EllipticEnvelope) scoreSamples(data [][]float64) []float64 {
	p := e.dim
	at := func(i, j int) float64 { return e.precision[i*p+j] }
	out := make([]float64, len(data))
	diff := make([]float64, p)
	for i, row := range data {
		for j := range diff {
			diff[j] = row[j] - e.location[j]
		}
		out[i] = -quadForm(diff, at, p)
	}
	return out
}

// Predict flags samples scoring below the fitted offset.
func (e *EllipticEnvelope) Predict(data [][]float64) ([]bool, error) {
	if !e.trained {
		return nil, detectors.ErrNotFitted
	}
	return detectors.Flag(e.scoreSamples(data), e.offset), nil
}

type snapshot struct {
	Contamination float64
	Dim           int
	Location      []float64
	Precision     []float64
	Offset        float64
}

// Save serializes the trained model.
func (e *EllipticEnvelope) Save() ([]byte, error) {
	if !e.trained {
		return nil, detectors.ErrNotFitted
	}
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(snapshot{
		Contamination: e.contamination,
		Dim:           e.dim,
		Location:      e.location,
		Precision:     e.precision,
		Offset:        e.offset,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load deserializes a trained model.
func (e *EllipticEnvelope) Load(data []byte) error {
	var s snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return fmt.Errorf("decode elliptic envelope: %w", err)
	}
	if len(s.Location) != s.Dim || len(s.Precision) != s.Dim*s.Dim {
		return fmt.Errorf("decode elliptic envelope: %w", preprocess.ErrShape)
	}
	e.contamination = s.Contamination
	e.dim = s.Dim
	e.location = s.Location
	e.precision = s.Precision
	e.offset = s.Offset
	e.trained = true
	return nil
}
