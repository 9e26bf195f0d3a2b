package classify

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
)

// GradientBoosting fits one regression tree per class and stage on the
// multinomial deviance gradient, with Newton-step leaf values.
type GradientBoosting struct {
	p params

	enc        encoding
	width      int
	init       []float64        // log class priors
	stages     [][]decisionTree // [stage][class]
	importance []float64
	trained    bool
}

// NewGradientBoosting creates a GradientBoosting model with 100 stages of
// depth-5 trees and learning rate 0.1.
func NewGradientBoosting(opts ...Option) *GradientBoosting {
	return &GradientBoosting{p: buildParams(params{trees: 100, maxDepth: 5, learningRate: 0.1, seed: 42}, opts)}
}

// Kind implements Classifier.
func (m *GradientBoosting) Kind() Kind { return KindGradientBoosting }

// Classes implements Classifier.
func (m *GradientBoosting) Classes() []int { return m.enc.Classes }

// Fit runs the boosting stages. Training is deterministic; the seed is kept
// only for symmetry with the other families.
func (m *GradientBoosting) Fit(x [][]float64, y []int) error {
	if err := checkFit(x, y); err != nil {
		return err
	}
	m.enc = newEncoding(y)
	m.width = len(x[0])
	yc := m.enc.encode(y)
	k := len(m.enc.Classes)
	n := len(x)

	m.init = make([]float64, k)
	for _, c := range yc {
		m.init[c]++
	}
	for c := range m.init {
		m.init[c] = math.Log(m.init[c] / float64(n))
	}

	raw := make([][]float64, n)
	for i := range raw {
		raw[i] = append([]float64(nil), m.init...)
	}

	all := make([]int, n)
	for i := range all {
		all[i] = i
	}

	m.importance = make([]float64, m.width)
	m.stages = make([][]decisionTree, 0, m.p.trees)
	if k < 2 {
		m.trained = true
		return nil
	}

	scale := float64(k-1) / float64(k)
	residual := make([]float64, n)
	for stage := 0; stage < m.p.trees; stage++ {
		proba := make([][]float64, n)
		for i := range raw {
			proba[i] = softmax(raw[i])
		}

		trees := make([]decisionTree, k)
		for c := 0; c < k; c++ {
			for i := range residual {
				target := 0.0
				if yc[i] == c {
					target = 1
				}
				residual[i] = target - proba[i][c]
			}
			b := regTreeBuilder{
				x:        x,
				target:   residual,
				maxDepth: m.p.maxDepth,
				leafValue: func(idx []int) float64 {
					var num, den float64
					for _, i := range idx {
						r := residual[i]
						num += r
						den += math.Abs(r) * (1 - math.Abs(r))
					}
					if den < 1e-150 {
						return 0
					}
					return scale * num / den
				},
				importance: m.importance,
			}
			b.build(all, 0)
			trees[c] = decisionTree{Nodes: b.nodes}

			for i, row := range x {
				raw[i][c] += m.p.learningRate * trees[c].leaf(row)[0]
			}
		}
		m.stages = append(m.stages, trees)
	}
	normalize(m.importance)
	m.trained = true
	return nil
}

func (m *GradientBoosting) rawScore(row []float64) []float64 {
	f := append([]float64(nil), m.init...)
	for _, trees := range m.stages {
		for c := range trees {
			f[c] += m.p.learningRate * trees[c].leaf(row)[0]
		}
	}
	return f
}

// PredictProba returns the softmax of the additive class scores.
func (m *GradientBoosting) PredictProba(x [][]float64) ([][]float64, error) {
	if !m.trained {
		return nil, ErrNotTrained
	}
	if err := checkWidth(x, m.width); err != nil {
		return nil, err
	}
	out := make([][]float64, len(x))
	for i, row := range x {
		out[i] = softmax(m.rawScore(row))
	}
	return out, nil
}

// Predict returns the most probable class per row.
func (m *GradientBoosting) Predict(x [][]float64) ([]int, error) {
	proba, err := m.PredictProba(x)
	if err != nil {
		return nil, err
	}
	return argmaxRows(proba, m.enc.Classes), nil
}

// FeatureImportance returns the total squared-error reduction per feature,
// summing to 1.
func (m *GradientBoosting) FeatureImportance() []float64 {
	return append([]float64(nil), m.importance...)
}

func softmax(z []float64) []float64 {
	out := make([]float64, len(z))
	hi := math.Inf(-1)
	for _, v := range z {
		hi = math.Max(hi, v)
	}
	var sum float64
	for i, v := range z {
		out[i] = math.Exp(v - hi)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

type boostingSnapshot struct {
	Stages       int
	MaxDepth     int
	LearningRate float64
	Seed         int64
	Classes      []int
	Width        int
	Init         []float64
	Trees        [][]decisionTree
	Importance   []float64
}

// Save serializes the trained model.
func (m *GradientBoosting) Save() ([]byte, error) {
	if !m.trained {
		return nil, ErrNotTrained
	}
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(boostingSnapshot{
		Stages:       m.p.trees,
		MaxDepth:     m.p.maxDepth,
		LearningRate: m.p.learningRate,
		Seed:         m.p.seed,
		Classes:      m.enc.Classes,
		Width:        m.width,
		Init:         m.init,
		Trees:        m.stages,
		Importance:   m.importance,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load restores a model saved with Save.
func (m *GradientBoosting) Load(data []byte) error {
	var s boostingSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return fmt.Errorf("decode gradient boosting: %w", err)
	}
	m.p.trees, m.p.maxDepth, m.p.learningRate, m.p.seed = s.Stages, s.MaxDepth, s.LearningRate, s.Seed
	m.enc = restoreEncoding(s.Classes)
	m.width = s.Width
	m.init = s.Init
	m.stages = s.Trees
	m.importance = s.Importance
	m.trained = true
	return nil
}
