package classify

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"
)

// RandomForest is a bagged ensemble of gini classification trees with
// √p candidate features per split.
type RandomForest struct {
	p params

	enc        encoding
	width      int
	trees      []decisionTree
	importance []float64
	trained    bool
}

// NewRandomForest creates a RandomForest with 100 trees of depth at most 10.
func NewRandomForest(opts ...Option) *RandomForest {
	return &RandomForest{p: buildParams(params{trees: 100, maxDepth: 10, seed: 42}, opts)}
}

// Kind implements Classifier.
func (m *RandomForest) Kind() Kind { return KindRandomForest }

// Classes implements Classifier.
func (m *RandomForest) Classes() []int { return m.enc.Classes }

// Fit grows every tree on a bootstrap sample.
func (m *RandomForest) Fit(x [][]float64, y []int) error {
	if err := checkFit(x, y); err != nil {
		return err
	}
	m.enc = newEncoding(y)
	m.width = len(x[0])
	yc := m.enc.encode(y)
	rng := rand.New(rand.NewSource(m.p.seed))
	maxFeatures := max(1, int(math.Sqrt(float64(m.width))))

	m.trees = make([]decisionTree, m.p.trees)
	m.importance = make([]float64, m.width)
	n := len(x)
	for t := range m.trees {
		sample := make([]int, n)
		for i := range sample {
			sample[i] = rng.Intn(n)
		}
		b := classTreeBuilder{
			x:           x,
			y:           yc,
			nClasses:    len(m.enc.Classes),
			maxDepth:    m.p.maxDepth,
			maxFeatures: maxFeatures,
			rng:         rng,
			importance:  make([]float64, m.width),
		}
		b.build(sample, 0)
		m.trees[t] = decisionTree{Nodes: b.nodes}

		// each tree contributes a normalized importance vector
		normalize(b.importance)
		for j, v := range b.importance {
			m.importance[j] += v
		}
	}
	normalize(m.importance)
	m.trained = true
	return nil
}

// PredictProba averages the leaf class proportions of all trees.
func (m *RandomForest) PredictProba(x [][]float64) ([][]float64, error) {
	if !m.trained {
		return nil, ErrNotTrained
	}
	if err := checkWidth(x, m.width); err != nil {
		return nil, err
	}
	k := len(m.enc.Classes)
	out := make([][]float64, len(x))
	for i, row := range x {
		p := make([]float64, k)
		for t := range m.trees {
			for c, v := range m.trees[t].leaf(row) {
				p[c] += v
			}
		}
		for c := range p {
			p[c] /= float64(len(m.trees))
		}
		out[i] = p
	}
	return out, nil
}

// Predict returns the most probable class per row.
func (m *RandomForest) Predict(x [][]float64) ([]int, error) {
	proba, err := m.PredictProba(x)
	if err != nil {
		return nil, err
	}
	return argmaxRows(proba, m.enc.Classes), nil
}

// FeatureImportance returns the mean decrease in impurity, summing to 1.
func (m *RandomForest) FeatureImportance() []float64 {
	return append([]float64(nil), m.importance...)
}

type forestSnapshot struct {
	Trees      int
	MaxDepth   int
	Seed       int64
	Classes    []int
	Width      int
	Forest     []decisionTree
	Importance []float64
}

// Save serializes the trained forest.
func (m *RandomForest) Save() ([]byte, error) {
	if !m.trained {
		return nil, ErrNotTrained
	}
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(forestSnapshot{
		Trees:      m.p.trees,
		MaxDepth:   m.p.maxDepth,
		Seed:       m.p.seed,
		Classes:    m.enc.Classes,
		Width:      m.width,
		Forest:     m.trees,
		Importance: m.importance,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load restores a forest saved with Save.
func (m *RandomForest) Load(data []byte) error {
	var s forestSnapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return fmt.Errorf("decode random forest: %w", err)
	}
	m.p.trees, m.p.maxDepth, m.p.seed = s.Trees, s.MaxDepth, s.Seed
	m.enc = restoreEncoding(s.Classes)
	m.width = s.Width
	m.trees = s.Forest
	m.importance = s.Importance
	m.trained = true
	return nil
}
