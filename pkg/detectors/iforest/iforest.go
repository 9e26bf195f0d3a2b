// Package iforest implements the Isolation Forest algorithm for anomaly detection.
package iforest

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/hed1ad/custsegml/pkg/detectors"
)

// Name is the method identifier used in reports.
const Name = "iso_forest"

// IsolationForest implements unsupervised anomaly detection using isolation trees.
type IsolationForest struct {
	mu sync.RWMutex

	// Configuration
	nTrees        int
	sampleSize    int
	contamination float64
	seed          int64

	// Trained model
	trees   []tree
	trained bool

	// offset is the ScoreSamples value below which a sample is an outlier.
	offset float64
	// avgPathLength normalizes path lengths for the effective sample size.
	avgPathLength float64
}

// tree is an isolation tree stored as a flat node slice; node 0 is the root.
type tree struct {
	Nodes []node
}

// node is a node in the isolation tree. Leaves have Left == -1.
type node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Size      int // number of samples that reached this leaf
}

// Option configures an IsolationForest.
type Option func(*IsolationForest)

// WithTrees sets the number of isolation trees.
func WithTrees(n int) Option {
	return func(f *IsolationForest) {
		f.nTrees = n
	}
}

// WithSampleSize sets the subsample size for each tree.
func WithSampleSize(n int) Option {
	return func(f *IsolationForest) {
		f.sampleSize = n
	}
}

// WithContamination sets the expected proportion of anomalies.
func WithContamination(c float64) Option {
	return func(f *IsolationForest) {
		f.contamination = c
	}
}

// WithSeed sets the random seed for reproducibility.
func WithSeed(seed int64) Option {
	return func(f *IsolationForest) {
		f.seed = seed
	}
}

// FromConfig maps the shared detector configuration onto options.
func FromConfig(cfg detectors.Config) []Option {
	opts := []Option{WithContamination(cfg.Contamination), WithSeed(cfg.RandomSeed)}
	if cfg.Trees > 0 {
		opts = append(opts, WithTrees(cfg.Trees))
	}
	return opts
}

// New creates a new IsolationForest with the given options.
func New(opts ...Option) *IsolationForest {
	f := &IsolationForest{
		nTrees:        100,
		sampleSize:    256,
		contamination: 0.1,
		seed:          42,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Name implements detectors.Detector.
func (f *IsolationForest) Name() string {
	return Name
}

// Fit trains the Isolation Forest on the provided data and derives the
// outlier offset from the contamination fraction.
func (f *IsolationForest) Fit(data [][]float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(data) == 0 {
		return detectors.ErrEmptyData
	}

	nSamples := len(data)
	nFeatures := len(data[0])
	rng := rand.New(rand.NewSource(f.seed))

	// Adjust sample size if needed
	sampleSize := min(f.sampleSize, nSamples)
	maxDepth := int(math.Ceil(math.Log2(float64(max(sampleSize, 2)))))

	f.trees = make([]tree, f.nTrees)
	for i := 0; i < f.nTrees; i++ {
		// Sample without replacement
		indices := rng.Perm(nSamples)[:sampleSize]
		sample := make([][]float64, sampleSize)
		for j, idx := range indices {
			sample[j] = data[idx]
		}

		b := builder{rng: rng, nFeatures: nFeatures, maxDepth: maxDepth}
		b.build(sample, 0)
		f.trees[i] = tree{Nodes: b.nodes}
	}

	f.avgPathLength = averagePathLength(float64(sampleSize))
	f.trained = true

	f.offset = math.Inf(-1)
	if f.contamination > 0 {
		f.offset = detectors.Offset(f.scoreSamples(data), f.contamination)
	}

	return nil
}

type builder struct {
	rng       *rand.Rand
	nFeatures int
	maxDepth  int
	nodes     []node
}

// build appends the subtree for data and returns its node index.
func (b *builder) build(data [][]float64, depth int) int {
	idx := len(b.nodes)
	b.nodes = append(b.nodes, node{Left: -1, Right: -1, Size: len(data)})

	// Terminal conditions
	if depth >= b.maxDepth || len(data) <= 1 {
		return idx
	}

	// Random feature among those that still vary in this node
	feature, minVal, maxVal := -1, 0.0, 0.0
	for _, j := range b.rng.Perm(b.nFeatures) {
		lo, hi := data[0][j], data[0][j]
		for _, row := range data[1:] {
			lo = math.Min(lo, row[j])
			hi = math.Max(hi, row[j])
		}
		if lo < hi {
			feature, minVal, maxVal = j, lo, hi
			break
		}
	}
	if feature < 0 {
		return idx
	}

	// Random split value
	splitValue := minVal + b.rng.Float64()*(maxVal-minVal)

	// Partition data
	var leftData, rightData [][]float64
	for _, row := range data {
		if row[feature] < splitValue {
			leftData = append(leftData, row)
		} else {
			rightData = append(rightData, row)
		}
	}

	left := b.build(leftData, depth+1)
	right := b.build(rightData, depth+1)
	b.nodes[idx].Feature = feature
	b.nodes[idx].Threshold = splitValue
	b.nodes[idx].Left = left
	b.nodes[idx].Right = right
	return idx
}

// ScoreSamples returns the negated anomaly score: lower is more anomalous.
func (f *IsolationForest) ScoreSamples(data [][]float64) ([]float64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, detectors.ErrNotFitted
	}
	return f.scoreSamples(data), nil
}

func (f *IsolationForest) scoreSamples(data [][]float64) []float64 {
	out := make([]float64, len(data))
	for i, sample := range data {
		out[i] = -f.anomalyScore(sample)
	}
	return out
}

// Predict flags samples whose score falls below the fitted offset.
func (f *IsolationForest) Predict(data [][]float64) ([]bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, detectors.ErrNotFitted
	}
	return detectors.Flag(f.scoreSamples(data), f.offset), nil
}

func (f *IsolationForest) anomalyScore(sample []float64) float64 {
	if f.avgPathLength == 0 {
		return 0.5
	}
	// Average path length across all trees
	var totalPath float64
	for i := range f.trees {
		totalPath += pathLength(sample, f.trees[i].Nodes)
	}
	avgPath := totalPath / float64(len(f.trees))

	// Anomaly score: 2^(-avgPath / c(n))
	return math.Pow(2, -avgPath/f.avgPathLength)
}

// pathLength calculates the path length for a sample in a tree.
func pathLength(sample []float64, nodes []node) float64 {
	depth := 0
	n := nodes[0]
	for n.Left >= 0 {
		if sample[n.Feature] < n.Threshold {
			n = nodes[n.Left]
		} else {
			n = nodes[n.Right]
		}
		depth++
	}
	// Leaf node: add expected path length for remaining isolation
	return float64(depth) + averagePathLength(float64(n.Size))
}

// averagePathLength returns the average path length of unsuccessful search in BST.
func averagePathLength(n float64) float64 {
	if n <= 1 {
		return 0
	}
	if n == 2 {
		return 1
	}
	// c(n) = 2*H(n-1) - 2*(n-1)/n, where H is harmonic number
	// Approximation: H(n) ≈ ln(n) + 0.5772156649 (Euler-Mascheroni constant)
	return 2*(math.Log(n-1)+0.5772156649) - 2*(n-1)/n
}

type snapshot struct {
	NTrees        int
	SampleSize    int
	Contamination float64
	Seed          int64
	Offset        float64
	AvgPathLength float64
	Trees         []tree
}

// Save serializes the trained model.
func (f *IsolationForest) Save() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if !f.trained {
		return nil, detectors.ErrNotFitted
	}

	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(snapshot{
		NTrees:        f.nTrees,
		SampleSize:    f.sampleSize,
		Contamination: f.contamination,
		Seed:          f.seed,
		Offset:        f.offset,
		AvgPathLength: f.avgPathLength,
		Trees:         f.trees,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load deserializes a trained model.
func (f *IsolationForest) Load(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var s snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return fmt.Errorf("decode isolation forest: %w", err)
	}

	f.nTrees = s.NTrees
	f.sampleSize = s.SampleSize
	f.contamination = s.Contamination
	f.seed = s.Seed
	f.offset = s.Offset
	f.avgPathLength = s.AvgPathLength
	f.trees = s.Trees
	f.trained = true

	return nil
}

