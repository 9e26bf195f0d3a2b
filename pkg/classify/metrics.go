package classify

import "sort"

// Accuracy returns the fraction of matching labels, or 0 for empty input.
func Accuracy(y, pred []int) float64 {
	if len(y) == 0 {
		return 0
	}
	hits := 0
	for i := range y {
		if y[i] == pred[i] {
			hits++
		}
	}
	return float64(hits) / float64(len(y))
}

// Labels returns the sorted union of labels in y and pred.
func Labels(y, pred []int) []int {
	seen := make(map[int]struct{})
	for _, v := range y {
		seen[v] = struct{}{}
	}
	for _, v := range pred {
		seen[v] = struct{}{}
	}
	out := make([]int, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

// WeightedF1 averages per-label F1 weighted by true support. Labels present
// only in pred contribute zero weight; undefined precision or recall counts
// as 0.
func WeightedF1(y, pred []int) float64 {
	if len(y) == 0 {
		return 0
	}
	tp := make(map[int]int)
	fp := make(map[int]int)
	fn := make(map[int]int)
	support := make(map[int]int)
	for i := range y {
		support[y[i]]++
		if y[i] == pred[i] {
			tp[y[i]]++
		} else {
			fp[pred[i]]++
			fn[y[i]]++
		}
	}

	var total float64
	for _, label := range Labels(y, pred) {
		var precision, recall, f1 float64
		if d := tp[label] + fp[label]; d > 0 {
			precision = float64(tp[label]) / float64(d)
		}
		if d := tp[label] + fn[label]; d > 0 {
			recall = float64(tp[label]) / float64(d)
		}
		if precision+recall > 0 {
			f1 = 2 * precision * recall / (precision + recall)
		}
		total += f1 * float64(support[label])
	}
	return total / float64(len(y))
}

// ConfusionMatrix counts predictions per (true, predicted) pair over labels;
// rows are true labels. Pairs outside labels are ignored.
func ConfusionMatrix(y, pred, labels []int) [][]int {
	index := make(map[int]int, len(labels))
	for i, l := range labels {
		index[l] = i
	}
	out := make([][]int, len(labels))
	for i := range out {
		out[i] = make([]int, len(labels))
	}
	for i := range y {
		r, ok1 := index[y[i]]
		c, ok2 := index[pred[i]]
		if ok1 && ok2 {
			out[r][c]++
		}
	}
	return out
}
