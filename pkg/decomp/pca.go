// Package decomp provides linear dimensionality reduction for visualization.
package decomp

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// PCA is a fitted principal component projection.
type PCA struct {
	Components    int
	Mean          []float64
	Vectors       [][]float64 // Components x features
	VarianceRatio []float64
}

// FitPCA fits a projection onto the first n principal components. Component
// signs are normalized so that the largest-magnitude loading is positive,
// which keeps projections stable across runs. When the data supports fewer
// than n components the missing ones are zero.
func FitPCA(data [][]float64, n int) (*PCA, error) {
	if len(data) == 0 {
		return nil, errors.New("empty data")
	}
	rows, cols := len(data), len(data[0])

	p := &PCA{
		Components:    n,
		Mean:          make([]float64, cols),
		Vectors:       make([][]float64, n),
		VarianceRatio: make([]float64, n),
	}
	for c := range p.Vectors {
		p.Vectors[c] = make([]float64, cols)
	}
	for _, row := range data {
		for j, v := range row {
			p.Mean[j] += v / float64(rows)
		}
	}
	if rows < 2 {
		return p, nil
	}

	a := mat.NewDense(rows, cols, nil)
	for i, row := range data {
		a.SetRow(i, row)
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(a, nil); !ok {
		return nil, errors.New("principal component decomposition failed")
	}
	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	vars := pc.VarsTo(nil)

	var total float64
	for _, v := range vars {
		total += v
	}

	_, available := vecs.Dims()
	for c := 0; c < n && c < available && c < len(vars); c++ {
		col := mat.Col(nil, c, &vecs)
		flipSign(col)
		p.Vectors[c] = col
		if total > 0 {
			p.VarianceRatio[c] = vars[c] / total
		}
	}
	return p, nil
}

// ExplainedVariance returns the total variance fraction covered by the
// retained components.
func (p *PCA) ExplainedVariance() float64 {
	var s float64
	for _, r := range p.VarianceRatio {
		s += r
	}
	return s
}

// Transform projects data onto the retained components.
func (p *PCA) Transform(data [][]float64) [][]float64 {
	out := make([][]float64, len(data))
	for i, row := range data {
		proj := make([]float64, p.Components)
		for c, vec := range p.Vectors {
			var s float64
			for j, v := range row {
				s += (v - p.Mean[j]) * vec[j]
			}
			proj[c] = s
		}
		out[i] = proj
	}
	return out
}

func flipSign(v []float64) {
	best := 0
	for i := range v {
		if math.Abs(v[i]) > math.Abs(v[best]) {
			best = i
		}
	}
	if v[best] < 0 {
		for i := range v {
			v[i] = -v[i]
		}
	}
}
