// Package train fits the segment classifier. Candidate model families are
// trained concurrently on the same stratified split and the one with the best
// held-out accuracy becomes the deployed artifact.
package train

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hed1ad/custsegml/pkg/artifact"
	"github.com/hed1ad/custsegml/pkg/classify"
	"github.com/hed1ad/custsegml/pkg/features"
	"github.com/hed1ad/custsegml/pkg/logging"
	"github.com/hed1ad/custsegml/pkg/preprocess"
)

// ErrNoCandidates is returned when every candidate family fails to train.
var ErrNoCandidates = errors.New("no classifier candidate could be trained")

// Config controls the trainer.
type Config struct {
	TestFraction float64         `yaml:"test_fraction"`
	Folds        int             `yaml:"folds"`
	Candidates   []classify.Kind `yaml:"candidates"`
	Seed         int64           `yaml:"-"`
}

// DefaultConfig returns an 80/20 split, 5-fold CV and all three families.
func DefaultConfig() Config {
	return Config{
		TestFraction: 0.2,
		Folds:        5,
		Candidates:   append([]classify.Kind(nil), classify.Kinds...),
		Seed:         42,
	}
}

// Candidate reports how one family performed. Err is set when it was
// excluded.
type Candidate struct {
	Kind          classify.Kind
	TrainAccuracy float64
	TestAccuracy  float64
	TestF1        float64
	CVMean        float64
	CVStd         float64
	Err           error

	model classify.Classifier
	pred  []int
}

// Name returns the display name of the candidate family.
func (c Candidate) Name() string {
	return c.Kind.DisplayName()
}

// Importance is one ranked feature.
type Importance struct {
	Feature string
	Value   float64
}

// Prediction is one held-out row with its true and predicted segment.
type Prediction struct {
	CustomerID string
	Actual     int
	Predicted  int
}

// Result is the trainer output.
type Result struct {
	Artifact    *artifact.Artifact
	Candidates  []Candidate
	Selected    classify.Kind
	Importance  []Importance
	Labels      []int
	Confusion   [][]int
	Predictions []Prediction
	TrainSize   int
	TestSize    int
}

// Trainer fits classifiers on labeled feature tables.
type Trainer struct {
	cfg       Config
	log       *logging.Logger
	modelOpts []classify.Option
}

// Option configures a Trainer.
type Option func(*Trainer)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(t *Trainer) {
		t.log = l
	}
}

// WithModelOptions passes extra hyperparameters to every candidate.
func WithModelOptions(opts ...classify.Option) Option {
	return func(t *Trainer) {
		t.modelOpts = append(t.modelOpts, opts...)
	}
}

// New creates a Trainer.
func New(cfg Config, opts ...Option) *Trainer {
	t := &Trainer{cfg: cfg, log: logging.Nop()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// FeatureNames returns the model input columns: every numeric feature in
// table order. Identifiers, dates, projections and categorical fields are
// not numeric table columns.
func FeatureNames(table *features.Table) []string {
	return append([]string(nil), table.Columns...)
}

// Train fits every configured candidate on table with labels aligned to its
// rows and returns the best one as an artifact.
func (t *Trainer) Train(ctx context.Context, table *features.Table, labels []int) (*Result, error) {
	if table.Len() != len(labels) {
		return nil, fmt.Errorf("%w: %d rows, %d labels", preprocess.ErrShape, table.Len(), len(labels))
	}
	names := FeatureNames(table)
	x, err := table.Matrix(names)
	if err != nil {
		return nil, err
	}
	preprocess.Sanitize(x)

	trainIdx, testIdx := classify.StratifiedSplit(labels, t.cfg.TestFraction, t.cfg.Seed)
	xTrainRaw, yTrain := classify.Subset(x, labels, trainIdx)
	xTestRaw, yTest := classify.Subset(x, labels, testIdx)

	scaler, err := preprocess.FitScaler(xTrainRaw)
	if err != nil {
		return nil, fmt.Errorf("fit scaler: %w", err)
	}
	xTrain, err := scaler.Transform(xTrainRaw)
	if err != nil {
		return nil, err
	}
	xTest, err := scaler.Transform(xTestRaw)
	if err != nil {
		return nil, err
	}
	t.log.Info("training classifiers",
		"features", len(names),
		"train", len(trainIdx),
		"test", len(testIdx),
		"candidates", len(t.cfg.Candidates),
	)

	cands := make([]Candidate, len(t.cfg.Candidates))
	g, ctx := errgroup.WithContext(ctx)
	for i, kind := range t.cfg.Candidates {
		i, kind := i, kind
		// each candidate owns its seed so the outcome does not depend on
		// scheduling
		seed := t.cfg.Seed + int64(i)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			cands[i] = t.evaluate(kind, seed, xTrain, yTrain, xTest, yTest)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	best := -1
	for i, c := range cands {
		if c.Err != nil {
			t.log.Warn("candidate excluded", "model", c.Name(), "error", c.Err)
			continue
		}
		t.log.Info("candidate evaluated",
			"model", c.Name(),
			"train_accuracy", c.TrainAccuracy,
			"test_accuracy", c.TestAccuracy,
			"test_f1", c.TestF1,
			"cv_mean", c.CVMean,
			"cv_std", c.CVStd,
		)
		if best < 0 || c.TestAccuracy > cands[best].TestAccuracy {
			best = i
		}
	}
	if best < 0 {
		return nil, ErrNoCandidates
	}
	winner := cands[best]

	blob, err := winner.model.Save()
	if err != nil {
		return nil, fmt.Errorf("serialize %s: %w", winner.Kind, err)
	}
	art := &artifact.Artifact{
		ID:           uuid.NewString(),
		TrainedAt:    time.Now().UTC(),
		ModelKind:    winner.Kind,
		ModelName:    winner.Name(),
		FeatureNames: names,
		Scaler:       *scaler,
		Classes:      winner.model.Classes(),
		Model:        blob,
		TestAccuracy: winner.TestAccuracy,
		TestF1:       winner.TestF1,
		CVMean:       winner.CVMean,
		CVStd:        winner.CVStd,
	}

	res := &Result{
		Artifact:   art,
		Candidates: cands,
		Selected:   winner.Kind,
		Importance: rankImportance(winner.model, names),
		TrainSize:  len(trainIdx),
		TestSize:   len(testIdx),
	}
	res.Labels = classify.Labels(yTest, winner.pred)
	res.Confusion = classify.ConfusionMatrix(yTest, winner.pred, res.Labels)
	ids := table.CustomerIDs()
	for k, row := range testIdx {
		res.Predictions = append(res.Predictions, Prediction{
			CustomerID: ids[row],
			Actual:     yTest[k],
			Predicted:  winner.pred[k],
		})
	}

	t.log.Info("classifier selected",
		"model", winner.Name(),
		"artifact", art.ID,
		"test_accuracy", winner.TestAccuracy,
		"test_f1", winner.TestF1,
	)
	return res, nil
}

// evaluate fits one family. Failures are reported on the candidate rather
// than returned, so one degenerate family cannot abort the run.
func (t *Trainer) evaluate(kind classify.Kind, seed int64, xTrain [][]float64, yTrain []int, xTest [][]float64, yTest []int) Candidate {
	c := Candidate{Kind: kind}
	build := func() (classify.Classifier, error) {
		opts := append([]classify.Option{classify.WithSeed(seed)}, t.modelOpts...)
		return classify.New(kind, opts...)
	}

	cv, err := classify.CrossValidate(build, xTrain, yTrain, t.cfg.Folds, seed)
	if err != nil {
		c.Err = fmt.Errorf("cross-validate: %w", err)
		return c
	}
	c.CVMean, c.CVStd = cv.Mean, cv.Std

	m, err := build()
	if err != nil {
		c.Err = err
		return c
	}
	if err := m.Fit(xTrain, yTrain); err != nil {
		c.Err = fmt.Errorf("fit: %w", err)
		return c
	}
	trainPred, err := m.Predict(xTrain)
	if err != nil {
		c.Err = err
		return c
	}
	c.TrainAccuracy = classify.Accuracy(yTrain, trainPred)

	pred, err := m.Predict(xTest)
	if err != nil {
		c.Err = err
		return c
	}
	c.TestAccuracy = classify.Accuracy(yTest, pred)
	c.TestF1 = classify.WeightedF1(yTest, pred)
	c.model = m
	c.pred = pred
	return c
}

// rankImportance orders features by decreasing importance. Models without a
// native importance yield nil.
func rankImportance(m classify.Classifier, names []string) []Importance {
	imp, ok := m.(classify.Importancer)
	if !ok {
		return nil
	}
	values := imp.FeatureImportance()
	out := make([]Importance, len(names))
	for i, n := range names {
		out[i] = Importance{Feature: n, Value: values[i]}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Value > out[b].Value })
	return out
}
