package classify

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
)

// LogisticRegression is a multinomial linear model with L2 penalty, fitted by
// L-BFGS. The objective is ½‖W‖² + C·Σ cross-entropy; intercepts are not
// penalized.
type LogisticRegression struct {
	p params

	enc     encoding
	width   int
	coef    [][]float64 // [class][feature]
	bias    []float64
	trained bool
}

// NewLogisticRegression creates a LogisticRegression with C = 1.
func NewLogisticRegression(opts ...Option) *LogisticRegression {
	return &LogisticRegression{p: buildParams(params{c: 1, maxIter: 1000, seed: 42}, opts)}
}

// Kind implements Classifier.
func (m *LogisticRegression) Kind() Kind { return KindLogisticRegression }

// Classes implements Classifier.
func (m *LogisticRegression) Classes() []int { return m.enc.Classes }

// Fit minimizes the penalized multinomial deviance.
func (m *LogisticRegression) Fit(x [][]float64, y []int) error {
	if err := checkFit(x, y); err != nil {
		return err
	}
	m.enc = newEncoding(y)
	m.width = len(x[0])
	yc := m.enc.encode(y)
	k := len(m.enc.Classes)
	p := m.width
	stride := p + 1 // weights then intercept, per class

	objective := func(grad, w []float64) float64 {
		if grad != nil {
			for i := range grad {
				grad[i] = 0
			}
		}
		var loss float64
		z := make([]float64, k)
		for i, row := range x {
			for c := 0; c < k; c++ {
				off := c * stride
				s := w[off+p]
				for j, v := range row {
					s += w[off+j] * v
				}
				z[c] = s
			}
			prob := softmax(z)
			loss -= math.Log(math.Max(prob[yc[i]], 1e-300))
			if grad == nil {
				continue
			}
			for c := 0; c < k; c++ {
				d := prob[c]
				if c == yc[i] {
					d--
				}
				d *= m.p.c
				off := c * stride
				for j, v := range row {
					grad[off+j] += d * v
				}
				grad[off+p] += d
			}
		}
		loss *= m.p.c
		for c := 0; c < k; c++ {
			off := c * stride
			for j := 0; j < p; j++ {
				wj := w[off+j]
				loss += 0.5 * wj * wj
				if grad != nil {
					grad[off+j] += wj
				}
			}
		}
		return loss
	}

	problem := optimize.Problem{
		Func: func(w []float64) float64 { return objective(nil, w) },
		Grad: func(grad, w []float64) { objective(grad, w) },
	}
	settings := &optimize.Settings{
		MajorIterations:   m.p.maxIter,
		GradientThreshold: 1e-6,
	}
	w0 := make([]float64, k*stride)
	result, err := optimize.Minimize(problem, w0, settings, &optimize.LBFGS{})
	if result == nil {
		return fmt.Errorf("logistic regression: %w", err)
	}
	// A non-nil result with an error means the line search stalled; the
	// last iterate is still the best point found.
	w := result.X
	for _, v := range w {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("logistic regression diverged: %v", err)
		}
	}

	m.coef = make([][]float64, k)
	m.bias = make([]float64, k)
	for c := 0; c < k; c++ {
		off := c * stride
		m.coef[c] = append([]float64(nil), w[off:off+p]...)
		m.bias[c] = w[off+p]
	}
	m.trained = true
	return nil
}

// PredictProba returns the softmax of the linear class scores.
func (m *LogisticRegression) PredictProba(x [][]float64) ([][]float64, error) {
	if !m.trained {
		return nil, ErrNotTrained
	}
	if err := checkWidth(x, m.width); err != nil {
		return nil, err
	}
	out := make([][]float64, len(x))
	z := make([]float64, len(m.coef))
	for i, row := range x {
		for c, coef := range m.coef {
			s := m.bias[c]
			for j, v := range row {
				s += coef[j] * v
			}
			z[c] = s
		}
		out[i] = softmax(z)
	}
	return out, nil
}

// Predict returns the most probable class per row.
func (m *LogisticRegression) Predict(x [][]float64) ([]int, error) {
	proba, err := m.PredictProba(x)
	if err != nil {
		return nil, err
	}
	return argmaxRows(proba, m.enc.Classes), nil
}

// FeatureImportance returns the mean absolute coefficient across classes.
func (m *LogisticRegression) FeatureImportance() []float64 {
	out := make([]float64, m.width)
	if len(m.coef) == 0 {
		return out
	}
	for _, coef := range m.coef {
		for j, v := range coef {
			out[j] += math.Abs(v)
		}
	}
	for j := range out {
		out[j] /= float64(len(m.coef))
	}
	return out
}

// Coefficients returns a copy of the per-class weights.
func (m *LogisticRegression) Coefficients() [][]float64 {
	out := make([][]float64, len(m.coef))
	for c, coef := range m.coef {
		out[c] = append([]float64(nil), coef...)
	}
	return out
}

type logisticSnapshot struct {
	C       float64
	MaxIter int
	Classes []int
	Width   int
	Coef    [][]float64
	Bias    []float64
}

// Save serializes the trained model.
func (m *LogisticRegression) Save() ([]byte, error) {
	if !m.trained {
		return nil, ErrNotTrained
	}
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(logisticSnapshot{
		C:       m.p.c,
		MaxIter: m.p.maxIter,
		Classes: m.enc.Classes,
		Width:   m.width,
		Coef:    m.coef,
		Bias:    m.bias,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load restores a model saved with Save.
func (m *LogisticRegression) Load(data []byte) error {
	var s logisticSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return fmt.Errorf("decode logistic regression: %w", err)
	}
	m.p.c, m.p.maxIter = s.C, s.MaxIter
	m.enc = restoreEncoding(s.Classes)
	m.width = s.Width
	m.coef = s.Coef
	m.bias = s.Bias
	m.trained = true
	return nil
}
