// Package classify provides the supervised model families used to assign
// customers to segments.
//
// Every family implements Classifier. Families that produce class
// probabilities also implement ProbabilityPredictor, and families with a
// native notion of feature relevance implement Importancer, so callers
// discover capabilities with a type assertion instead of inspecting model
// internals.
package classify

import (
	"errors"
	"fmt"
	"sort"

	"github.com/hed1ad/custsegml/pkg/preprocess"
)

var (
	// ErrNotTrained is returned when predicting with an unfitted model.
	ErrNotTrained = errors.New("classifier not trained")
	// ErrNoSamples is returned when fitting on an empty training set.
	ErrNoSamples = errors.New("no training samples")
	// ErrUnknownKind is returned by New for an unregistered model family.
	ErrUnknownKind = errors.New("unknown classifier kind")
)

// Kind identifies a model family.
type Kind string

const (
	KindRandomForest       Kind = "random_forest"
	KindGradientBoosting   Kind = "gradient_boosting"
	KindLogisticRegression Kind = "logistic_regression"
)

// Kinds lists the families in candidate order.
var Kinds = []Kind{KindRandomForest, KindGradientBoosting, KindLogisticRegression}

// DisplayName returns the human-readable family name used in reports.
func (k Kind) DisplayName() string {
	switch k {
	case KindRandomForest:
		return "Random Forest"
	case KindGradientBoosting:
		return "Gradient Boosting"
	case KindLogisticRegression:
		return "Logistic Regression"
	}
	return string(k)
}

// Classifier is a multi-class model over dense feature rows.
type Classifier interface {
	Kind() Kind
	Fit(x [][]float64, y []int) error
	Predict(x [][]float64) ([]int, error)
	// Classes returns the sorted labels seen during Fit.
	Classes() []int
	Save() ([]byte, error)
	Load(data []byte) error
}

// ProbabilityPredictor is implemented by classifiers that estimate class
// probabilities. Columns are aligned with Classes().
type ProbabilityPredictor interface {
	PredictProba(x [][]float64) ([][]float64, error)
}

// Importancer is implemented by classifiers that rank features. The result is
// aligned with the training columns.
type Importancer interface {
	FeatureImportance() []float64
}

// New builds an untrained classifier of the given family.
func New(kind Kind, opts ...Option) (Classifier, error) {
	switch kind {
	case KindRandomForest:
		return NewRandomForest(opts...), nil
	case KindGradientBoosting:
		return NewGradientBoosting(opts...), nil
	case KindLogisticRegression:
		return NewLogisticRegression(opts...), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

// params collects the hyperparameters of every family; each family reads the
// fields it needs.
type params struct {
	trees        int
	maxDepth     int
	learningRate float64
	c            float64
	maxIter      int
	seed         int64
}

// Option configures a classifier.
type Option func(*params)

// WithTrees sets the ensemble size (trees or boosting stages).
func WithTrees(n int) Option {
	return func(p *params) {
		p.trees = n
	}
}

// WithMaxDepth bounds tree depth.
func WithMaxDepth(d int) Option {
	return func(p *params) {
		p.maxDepth = d
	}
}

// WithLearningRate sets the boosting shrinkage.
func WithLearningRate(lr float64) Option {
	return func(p *params) {
		p.learningRate = lr
	}
}

// WithC sets the inverse L2 regularization strength.
func WithC(c float64) Option {
	return func(p *params) {
		p.c = c
	}
}

// WithMaxIter bounds optimizer iterations.
func WithMaxIter(n int) Option {
	return func(p *params) {
		p.maxIter = n
	}
}

// WithSeed sets the random seed.
func WithSeed(seed int64) Option {
	return func(p *params) {
		p.seed = seed
	}
}

func buildParams(def params, opts []Option) params {
	for _, opt := range opts {
		opt(&def)
	}
	return def
}

// encoding maps arbitrary integer labels onto 0..K-1.
type encoding struct {
	Classes []int
	index   map[int]int
}

func newEncoding(y []int) encoding {
	seen := make(map[int]struct{})
	for _, v := range y {
		seen[v] = struct{}{}
	}
	classes := make([]int, 0, len(seen))
	for v := range seen {
		classes = append(classes, v)
	}
	sort.Ints(classes)
	return restoreEncoding(classes)
}

func restoreEncoding(classes []int) encoding {
	e := encoding{Classes: classes, index: make(map[int]int, len(classes))}
	for i, c := range classes {
		e.index[c] = i
	}
	return e
}

func (e encoding) encode(y []int) []int {
	out := make([]int, len(y))
	for i, v := range y {
		out[i] = e.index[v]
	}
	return out
}

func checkFit(x [][]float64, y []int) error {
	if len(x) == 0 {
		return ErrNoSamples
	}
	if len(x) != len(y) {
		return fmt.Errorf("%w: got %d rows and %d labels", preprocess.ErrShape, len(x), len(y))
	}
	width := len(x[0])
	for i, row := range x {
		if len(row) != width {
			return fmt.Errorf("%w: row %d has %d features, want %d", preprocess.ErrShape, i, len(row), width)
		}
	}
	return nil
}

func checkWidth(x [][]float64, width int) error {
	for i, row := range x {
		if len(row) != width {
			return fmt.Errorf("%w: row %d has %d features, want %d", preprocess.ErrShape, i, len(row), width)
		}
	}
	return nil
}

// argmaxRows returns, per row, the class label with the highest probability.
// Ties go to the lower class index.
func argmaxRows(proba [][]float64, classes []int) []int {
	out := make([]int, len(proba))
	for i, p := range proba {
		best := 0
		for k := 1; k < len(p); k++ {
			if p[k] > p[best] {
				best = k
			}
		}
		out[i] = classes[best]
	}
	return out
}

func normalize(v []float64) []float64 {
	var s float64
	for _, x := range v {
		s += x
	}
	if s == 0 {
		return v
	}
	for i := range v {
		v[i] /= s
	}
	return v
}
