package train

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/custsegml/pkg/classify"
	"github.com/hed1ad/custsegml/pkg/features"
	"github.com/hed1ad/custsegml/pkg/preprocess"
)

// labeledTable builds four separated groups over the real feature columns.
func labeledTable(seed int64, perGroup int) (*features.Table, []int) {
	rng := rand.New(rand.NewSource(seed))
	cols := append([]string(nil), features.NumericColumns...)
	var rows []features.Row
	var labels []int
	for g := 0; g < 4; g++ {
		for i := 0; i < perGroup; i++ {
			vals := make([]float64, len(cols))
			for j := range vals {
				vals[j] = rng.NormFloat64()
			}
			vals[0] += float64(g) * 6
			vals[2] += float64(g%2) * 6
			rows = append(rows, features.Row{CustomerID: fmt.Sprintf("c%d-%02d", g, i), Values: vals})
			labels = append(labels, g)
		}
	}
	return features.NewTable(cols, rows, time.Time{}), labels
}

func fastTrainer(cfg Config) *Trainer {
	return New(cfg, WithModelOptions(classify.WithTrees(15)))
}

func TestTrain(t *testing.T) {
	table, labels := labeledTable(1, 25)
	res, err := fastTrainer(DefaultConfig()).Train(context.Background(), table, labels)
	require.NoError(t, err)

	require.Len(t, res.Candidates, 3)
	var winner Candidate
	for _, c := range res.Candidates {
		require.NoError(t, c.Err, c.Name())
		assert.Greater(t, c.CVMean, 0.8, c.Name())
		if c.Kind == res.Selected {
			winner = c
		}
	}
	for _, c := range res.Candidates {
		assert.GreaterOrEqual(t, winner.TestAccuracy, c.TestAccuracy)
	}

	assert.Equal(t, 80, res.TrainSize)
	assert.Equal(t, 20, res.TestSize)
	assert.Len(t, res.Predictions, 20)

	var total int
	for _, row := range res.Confusion {
		for _, v := range row {
			total += v
		}
	}
	assert.Equal(t, 20, total)

	require.Len(t, res.Importance, len(features.NumericColumns))
	for i := 1; i < len(res.Importance); i++ {
		assert.GreaterOrEqual(t, res.Importance[i-1].Value, res.Importance[i].Value)
	}

	art := res.Artifact
	require.NoError(t, art.Validate())
	assert.NotEmpty(t, art.ID)
	assert.Equal(t, res.Selected, art.ModelKind)
	assert.Equal(t, res.Selected.DisplayName(), art.ModelName)
	assert.Equal(t, table.Columns, art.FeatureNames)
	assert.Equal(t, []int{0, 1, 2, 3}, art.Classes)
	assert.Equal(t, winner.TestAccuracy, art.TestAccuracy)
	assert.Equal(t, winner.TestF1, art.TestF1)
}

func TestScalerFitOnTrainingPartitionOnly(t *testing.T) {
	table, labels := labeledTable(2, 20)
	cfg := DefaultConfig()
	cfg.Candidates = []classify.Kind{classify.KindLogisticRegression}
	res, err := fastTrainer(cfg).Train(context.Background(), table, labels)
	require.NoError(t, err)

	x, err := table.Matrix(table.Columns)
	require.NoError(t, err)
	train, _ := classify.StratifiedSplit(labels, cfg.TestFraction, cfg.Seed)
	xTrain, _ := classify.Subset(x, labels, train)
	want, err := preprocess.FitScaler(xTrain)
	require.NoError(t, err)
	assert.Equal(t, *want, res.Artifact.Scaler)
}

func TestFailingCandidateExcluded(t *testing.T) {
	table, labels := labeledTable(3, 15)
	cfg := DefaultConfig()
	cfg.Candidates = []classify.Kind{"bogus", classify.KindRandomForest}
	res, err := fastTrainer(cfg).Train(context.Background(), table, labels)
	require.NoError(t, err)

	assert.ErrorIs(t, res.Candidates[0].Err, classify.ErrUnknownKind)
	assert.Equal(t, classify.KindRandomForest, res.Selected)

	cfg.Candidates = []classify.Kind{"bogus"}
	_, err = fastTrainer(cfg).Train(context.Background(), table, labels)
	assert.ErrorIs(t, err, ErrNoCandidates)
}

func TestTooFewRowsForFolds(t *testing.T) {
	table, labels := labeledTable(4, 1)
	_, err := fastTrainer(DefaultConfig()).Train(context.Background(), table, labels)
	assert.ErrorIs(t, err, ErrNoCandidates)
}

func TestLabelMismatch(t *testing.T) {
	table, labels := labeledTable(5, 5)
	_, err := fastTrainer(DefaultConfig()).Train(context.Background(), table, labels[1:])
	assert.ErrorIs(t, err, preprocess.ErrShape)
}

func TestTrainDeterministic(t *testing.T) {
	table, labels := labeledTable(6, 15)
	a, err := fastTrainer(DefaultConfig()).Train(context.Background(), table, labels)
	require.NoError(t, err)
	b, err := fastTrainer(DefaultConfig()).Train(context.Background(), table, labels)
	require.NoError(t, err)

	assert.Equal(t, a.Selected, b.Selected)
	assert.Equal(t, a.Artifact.Model, b.Artifact.Model)
	assert.Equal(t, a.Predictions, b.Predictions)
	assert.NotEqual(t, a.Artifact.ID, b.Artifact.ID)
	for i := range a.Candidates {
		assert.Equal(t, a.Candidates[i].TestAccuracy, b.Candidates[i].TestAccuracy)
		assert.Equal(t, a.Candidates[i].CVMean, b.Candidates[i].CVMean)
	}
}

func TestCancelledContext(t *testing.T) {
	table, labels := labeledTable(7, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := fastTrainer(DefaultConfig()).Train(ctx, table, labels)
	assert.ErrorIs(t, err, context.Canceled)
}
