// Package ocsvm implements a one-class support vector machine with an RBF
// kernel, trained with sequential minimal optimization.
package ocsvm

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"

	"github.com/hed1ad/custsegml/pkg/detectors"
)

// Name is the method identifier used in reports.
const Name = "svm"

// OneClassSVM estimates the support of the training distribution. Samples
// whose decision value is negative lie outside the learned boundary.
type OneClassSVM struct {
	nu      float64
	gamma   float64 // 0 means 1/n_features
	tol     float64
	maxIter int

	trained bool
	support [][]float64
	alpha   []float64
	rho     float64
	gammaFt float64
}

// Option configures a OneClassSVM.
type Option func(*OneClassSVM)

// WithNu sets the upper bound on the training outlier fraction.
func WithNu(nu float64) Option {
	return func(m *OneClassSVM) {
		m.nu = nu
	}
}

// WithGamma sets the RBF kernel coefficient.
func WithGamma(g float64) Option {
	return func(m *OneClassSVM) {
		m.gamma = g
	}
}

// WithTolerance sets the KKT violation tolerance used as stopping criterion.
func WithTolerance(tol float64) Option {
	return func(m *OneClassSVM) {
		m.tol = tol
	}
}

// WithMaxIter bounds the number of SMO steps.
func WithMaxIter(n int) Option {
	return func(m *OneClassSVM) {
		m.maxIter = n
	}
}

// FromConfig maps the shared detector configuration onto options; the
// contamination fraction becomes nu.
func FromConfig(cfg detectors.Config) []Option {
	return []Option{WithNu(cfg.Contamination)}
}

// New creates a OneClassSVM.
func New(opts ...Option) *OneClassSVM {
	m := &OneClassSVM{
		nu:      0.1,
		tol:     1e-3,
		maxIter: 100000,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name implements detectors.Detector.
func (m *OneClassSVM) Name() string {
	return Name
}

// Fit solves the one-class dual
//
//	min ½ αᵀQα  s.t. 0 ≤ αᵢ ≤ 1/(νn), Σαᵢ = 1
//
// where Q is the RBF kernel matrix.
func (m *OneClassSVM) Fit(data [][]float64) error {
	n := len(data)
	if n == 0 {
		return detectors.ErrEmptyData
	}
	if m.nu <= 0 || m.nu > 1 {
		return fmt.Errorf("nu must be in (0, 1], got %v", m.nu)
	}

	m.gammaFt = m.gamma
	if m.gammaFt <= 0 {
		m.gammaFt = 1 / float64(len(data[0]))
	}

	q := make([][]float64, n)
	for i := range q {
		q[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		q[i][i] = 1
		for j := i + 1; j < n; j++ {
			k := rbf(data[i], data[j], m.gammaFt)
			q[i][j], q[j][i] = k, k
		}
	}

	c := 1 / (m.nu * float64(n))
	alpha := initialAlpha(n, c)

	grad := make([]float64, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if alpha[j] != 0 {
				grad[i] += q[i][j] * alpha[j]
			}
		}
	}

	for iter := 0; iter < m.maxIter; iter++ {
		// i: steepest ascent among variables that can grow,
		// j: steepest descent among variables that can shrink.
		i, j := -1, -1
		gMin, gMax := math.Inf(1), math.Inf(-1)
		for t := 0; t < n; t++ {
			if alpha[t] < c && grad[t] < gMin {
				i, gMin = t, grad[t]
			}
			if alpha[t] > 0 && grad[t] > gMax {
				j, gMax = t, grad[t]
			}
		}
		if i < 0 || j < 0 || i == j || gMax-gMin < m.tol {
			break
		}

		quad := q[i][i] + q[j][j] - 2*q[i][j]
		if quad <= 0 {
			quad = 1e-12
		}
		step := (gMax - gMin) / quad
		step = math.Min(step, c-alpha[i])
		step = math.Min(step, alpha[j])

		alpha[i] += step
		alpha[j] -= step
		for t := 0; t < n; t++ {
			grad[t] += step * (q[t][i] - q[t][j])
		}
	}

	m.rho = computeRho(alpha, grad, c)
	m.support = m.support[:0]
	m.alpha = m.alpha[:0]
	for i, a := range alpha {
		if a > 0 {
			m.support = append(m.support, append([]float64(nil), data[i]...))
			m.alpha = append(m.alpha, a)
		}
	}
	m.trained = true
	return nil
}

// initialAlpha spreads the unit mass over the first ⌈νn⌉ samples.
func initialAlpha(n int, c float64) []float64 {
	alpha := make([]float64, n)
	remaining := 1.0
	for i := 0; i < n && remaining > 0; i++ {
		a := math.Min(c, remaining)
		alpha[i] = a
		remaining -= a
	}
	return alpha
}

// computeRho averages the gradient over free variables, falling back to the
// midpoint of the feasible interval when every variable is at a bound.
func computeRho(alpha, grad []float64, c float64) float64 {
	ub, lb := math.Inf(1), math.Inf(-1)
	var sum float64
	free := 0
	const eps = 1e-12
	for i, a := range alpha {
		switch {
		case a >= c-eps:
			lb = math.Max(lb, grad[i])
		case a <= eps:
			ub = math.Min(ub, grad[i])
		default:
			sum += grad[i]
			free++
		}
	}
	if free > 0 {
		return sum / float64(free)
	}
	if math.IsInf(ub, 0) || math.IsInf(lb, 0) {
		if !math.IsInf(ub, 0) {
			return ub
		}
		if !math.IsInf(lb, 0) {
			return lb
		}
		return 0
	}
	return (ub + lb) / 2
}

// ScoreSamples returns Σαᵢ K(xᵢ, x); lower is more anomalous.
func (m *OneClassSVM) ScoreSamples(data [][]float64) ([]float64, error) {
	if !m.trained {
		return nil, detectors.ErrNotFitted
	}
	out := make([]float64, len(data))
	for i, x := range data {
		out[i] = m.kernelSum(x)
	}
	return out, nil
}

// Predict flags samples with a negative decision value.
func (m *OneClassSVM) Predict(data [][]float64) ([]bool, error) {
	if !m.trained {
		return nil, detectors.ErrNotFitted
	}
	scores, err := m.ScoreSamples(data)
	if err != nil {
		return nil, err
	}
	return detectors.Flag(scores, m.rho), nil
}

func (m *OneClassSVM) kernelSum(x []float64) float64 {
	var s float64
	for i, sv := range m.support {
		s += m.alpha[i] * rbf(sv, x, m.gammaFt)
	}
	return s
}

func rbf(a, b []float64, gamma float64) float64 {
	var d float64
	for i := range a {
		diff := a[i] - b[i]
		d += diff * diff
	}
	return math.Exp(-gamma * d)
}

type snapshot struct {
	Nu      float64
	Gamma   float64
	Support [][]float64
	Alpha   []float64
	Rho     float64
}

// Save serializes the trained model.
func (m *OneClassSVM) Save() ([]byte, error) {
	if !m.trained {
		return nil, detectors.ErrNotFitted
	}
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(snapshot{
		Nu:      m.nu,
		Gamma:   m.gammaFt,
		Support: m.support,
		Alpha:   m.alpha,
		Rho:     m.rho,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load deserializes a trained model.
func (m *OneClassSVM) Load(data []byte) error {
	var s snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return fmt.Errorf("decode one-class svm: %w", err)
	}
	m.nu = s.Nu
	m.gammaFt = s.Gamma
	m.support = s.Support
	m.alpha = s.Alpha
	m.rho = s.Rho
	m.trained = true
	return nil
}
