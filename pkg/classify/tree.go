package classify

import (
	"math/rand"
	"sort"
)

// treeNode is a CART node. Leaves have Left == -1 and carry Value: class
// proportions for classification trees, a single output for regression
// trees.
type treeNode struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Value     []float64
}

// decisionTree is stored as a flat node slice; node 0 is the root.
type decisionTree struct {
	Nodes []treeNode
}

func (t *decisionTree) leaf(x []float64) []float64 {
	n := t.Nodes[0]
	for n.Left >= 0 {
		if x[n.Feature] <= n.Threshold {
			n = t.Nodes[n.Left]
		} else {
			n = t.Nodes[n.Right]
		}
	}
	return n.Value
}

// split is a candidate partition of a node.
type split struct {
	feature   int
	threshold float64
	gain      float64
}

// sortedByFeature returns idx ordered by feature f, ties by index.
func sortedByFeature(x [][]float64, idx []int, f int) []int {
	s := append([]int(nil), idx...)
	sort.SliceStable(s, func(a, b int) bool { return x[s[a]][f] < x[s[b]][f] })
	return s
}

func midpoint(lo, hi float64) float64 {
	t := lo/2 + hi/2
	if t >= hi {
		t = lo
	}
	return t
}

func partition(x [][]float64, idx []int, s split) (left, right []int) {
	for _, i := range idx {
		if x[i][s.feature] <= s.threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return left, right
}

// classTreeBuilder grows a gini classification tree.
type classTreeBuilder struct {
	x           [][]float64
	y           []int
	nClasses    int
	maxDepth    int
	maxFeatures int
	rng         *rand.Rand

	nodes      []treeNode
	importance []float64
}

func (b *classTreeBuilder) build(idx []int, depth int) int {
	counts := make([]float64, b.nClasses)
	for _, i := range idx {
		counts[b.y[i]]++
	}
	pos := len(b.nodes)
	b.nodes = append(b.nodes, treeNode{Left: -1, Right: -1, Value: normalize(append([]float64(nil), counts...))})

	n := float64(len(idx))
	impurity := gini(counts, n)
	if depth >= b.maxDepth || len(idx) < 2 || impurity == 0 {
		return pos
	}

	best, ok := b.bestSplit(idx, counts, impurity)
	if !ok {
		return pos
	}
	left, right := partition(b.x, idx, best)
	b.importance[best.feature] += best.gain

	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.nodes[pos].Feature = best.feature
	b.nodes[pos].Threshold = best.threshold
	b.nodes[pos].Left = l
	b.nodes[pos].Right = r
	return pos
}

func (b *classTreeBuilder) bestSplit(idx []int, counts []float64, impurity float64) (split, bool) {
	nFeatures := len(b.x[0])
	features := b.rng.Perm(nFeatures)[:min(b.maxFeatures, nFeatures)]
	n := float64(len(idx))

	best := split{gain: 1e-12}
	found := false
	left := make([]float64, b.nClasses)
	right := make([]float64, b.nClasses)
	for _, f := range features {
		sorted := sortedByFeature(b.x, idx, f)
		for k := range left {
			left[k] = 0
			right[k] = counts[k]
		}
		for s := 1; s < len(sorted); s++ {
			c := b.y[sorted[s-1]]
			left[c]++
			right[c]--
			lo, hi := b.x[sorted[s-1]][f], b.x[sorted[s]][f]
			if lo == hi {
				continue
			}
			nl := float64(s)
			nr := n - nl
			gain := n*impurity - nl*gini(left, nl) - nr*gini(right, nr)
			if gain > best.gain {
				best = split{feature: f, threshold: midpoint(lo, hi), gain: gain}
				found = true
			}
		}
	}
	return best, found
}

func gini(counts []float64, n float64) float64 {
	if n == 0 {
		return 0
	}
	g := 1.0
	for _, c := range counts {
		p := c / n
		g -= p * p
	}
	return g
}

// regTreeBuilder grows a squared-error regression tree. Leaf outputs come
// from leafValue so boosting can plug in Newton steps.
type regTreeBuilder struct {
	x         [][]float64
	target    []float64
	maxDepth  int
	leafValue func(idx []int) float64

	nodes      []treeNode
	importance []float64
}

func (b *regTreeBuilder) build(idx []int, depth int) int {
	pos := len(b.nodes)
	b.nodes = append(b.nodes, treeNode{Left: -1, Right: -1, Value: []float64{b.leafValue(idx)}})

	var sum, sumSq float64
	for _, i := range idx {
		sum += b.target[i]
		sumSq += b.target[i] * b.target[i]
	}
	sse := sumSq - sum*sum/float64(len(idx))
	if depth >= b.maxDepth || len(idx) < 2 || sse <= 1e-12 {
		return pos
	}

	best, ok := b.bestSplit(idx, sum)
	if !ok {
		return pos
	}
	left, right := partition(b.x, idx, best)
	b.importance[best.feature] += best.gain

	l := b.build(left, depth+1)
	r := b.build(right, depth+1)
	b.nodes[pos].Feature = best.feature
	b.nodes[pos].Threshold = best.threshold
	b.nodes[pos].Left = l
	b.nodes[pos].Right = r
	return pos
}

func (b *regTreeBuilder) bestSplit(idx []int, total float64) (split, bool) {
	n := float64(len(idx))
	best := split{gain: 1e-12}
	found := false
	for f := range b.x[0] {
		sorted := sortedByFeature(b.x, idx, f)
		var lsum float64
		for s := 1; s < len(sorted); s++ {
			lsum += b.target[sorted[s-1]]
			lo, hi := b.x[sorted[s-1]][f], b.x[sorted[s]][f]
			if lo == hi {
				continue
			}
			nl := float64(s)
			nr := n - nl
			rsum := total - lsum
			// SSE reduction expressed through the sums; sumSq cancels out.
			gain := lsum*lsum/nl + rsum*rsum/nr - total*total/n
			if gain > best.gain {
				best = split{feature: f, threshold: midpoint(lo, hi), gain: gain}
				found = true
			}
		}
	}
	return best, found
}
