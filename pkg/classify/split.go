package classify

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ErrTooFewSamples is returned when a dataset cannot be split into the
// requested number of folds.
var ErrTooFewSamples = errors.New("too few samples for the requested folds")

// StratifiedSplit partitions row indices into train and test sets keeping
// each class's proportion. Every class keeps at least one training row, so a
// singleton class goes entirely to training.
func StratifiedSplit(y []int, testFraction float64, seed int64) (train, test []int) {
	rng := rand.New(rand.NewSource(seed))
	for _, members := range byClass(y) {
		rng.Shuffle(len(members), func(i, j int) { members[i], members[j] = members[j], members[i] })
		nTest := int(math.Round(testFraction * float64(len(members))))
		nTest = min(nTest, len(members)-1)
		nTest = max(nTest, 0)
		test = append(test, members[:nTest]...)
		train = append(train, members[nTest:]...)
	}
	sort.Ints(train)
	sort.Ints(test)
	return train, test
}

// StratifiedKFold deals each class's shuffled rows round-robin into k folds
// and returns the held-out indices of every fold.
func StratifiedKFold(y []int, k int, seed int64) ([][]int, error) {
	if k < 2 || len(y) < k {
		return nil, fmt.Errorf("%w: %d samples, %d folds", ErrTooFewSamples, len(y), k)
	}
	rng := rand.New(rand.NewSource(seed))
	folds := make([][]int, k)
	next := 0
	for _, members := range byClass(y) {
		rng.Shuffle(len(members), func(i, j int) { members[i], members[j] = members[j], members[i] })
		for _, idx := range members {
			folds[next] = append(folds[next], idx)
			next = (next + 1) % k
		}
	}
	for _, f := range folds {
		sort.Ints(f)
	}
	return folds, nil
}

// byClass groups row indices by label in ascending label order.
func byClass(y []int) [][]int {
	groups := make(map[int][]int)
	for i, v := range y {
		groups[v] = append(groups[v], i)
	}
	labels := make([]int, 0, len(groups))
	for l := range groups {
		labels = append(labels, l)
	}
	sort.Ints(labels)
	out := make([][]int, len(labels))
	for i, l := range labels {
		out[i] = groups[l]
	}
	return out
}

// CVResult holds per-fold accuracies.
type CVResult struct {
	Scores []float64
	Mean   float64
	Std    float64
}

// CrossValidate fits a fresh model from build on each k-1 fold union and
// scores accuracy on the held-out fold. Any fold failure fails the run.
func CrossValidate(build func() (Classifier, error), x [][]float64, y []int, k int, seed int64) (CVResult, error) {
	folds, err := StratifiedKFold(y, k, seed)
	if err != nil {
		return CVResult{}, err
	}
	scores := make([]float64, 0, k)
	for f, held := range folds {
		inTest := make(map[int]bool, len(held))
		for _, i := range held {
			inTest[i] = true
		}
		var xTrain, xTest [][]float64
		var yTrain, yTest []int
		for i := range x {
			if inTest[i] {
				xTest = append(xTest, x[i])
				yTest = append(yTest, y[i])
			} else {
				xTrain = append(xTrain, x[i])
				yTrain = append(yTrain, y[i])
			}
		}
		m, err := build()
		if err != nil {
			return CVResult{}, err
		}
		if err := m.Fit(xTrain, yTrain); err != nil {
			return CVResult{}, fmt.Errorf("fold %d: %w", f, err)
		}
		pred, err := m.Predict(xTest)
		if err != nil {
			return CVResult{}, fmt.Errorf("fold %d: %w", f, err)
		}
		scores = append(scores, Accuracy(yTest, pred))
	}
	mean, std := stat.PopMeanStdDev(scores, nil)
	return CVResult{Scores: scores, Mean: mean, Std: std}, nil
}

// Subset returns the rows and labels at idx.
func Subset(x [][]float64, y []int, idx []int) ([][]float64, []int) {
	xs := make([][]float64, len(idx))
	ys := make([]int, len(idx))
	for i, j := range idx {
		xs[i] = x[j]
		ys[i] = y[j]
	}
	return xs, ys
}
