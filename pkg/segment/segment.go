// Package segment partitions customers into behavioral segments.
//
// The engine standardizes the numeric feature table, runs a diagnostic k
// sweep (inertia and silhouette for a range of k), clusters at the configured
// k, projects onto two principal components and profiles each segment. The
// sweep never chooses k: k is a configuration constant so that re-running on
// a validated dataset reproduces the same segments.
package segment

import (
	"errors"
	"fmt"

	"github.com/hed1ad/custsegml/pkg/cluster"
	"github.com/hed1ad/custsegml/pkg/decomp"
	"github.com/hed1ad/custsegml/pkg/features"
	"github.com/hed1ad/custsegml/pkg/logging"
	"github.com/hed1ad/custsegml/pkg/preprocess"
)

// ErrTooFewCustomers is returned when there are fewer customers than segments.
var ErrTooFewCustomers = errors.New("fewer customers than segments")

// Config controls the segmentation run.
type Config struct {
	K        int   `yaml:"k"`
	SweepMin int   `yaml:"sweep_min"`
	SweepMax int   `yaml:"sweep_max"`
	Restarts int   `yaml:"restarts"`
	MaxIter  int   `yaml:"max_iter"`
	Seed     int64 `yaml:"-"`
	// SkipSweep disables the diagnostic sweep.
	SkipSweep bool `yaml:"skip_sweep"`
}

// DefaultConfig returns the production defaults: k = 4, sweep 2..10,
// ten restarts.
func DefaultConfig() Config {
	return Config{
		K:        4,
		SweepMin: 2,
		SweepMax: 10,
		Restarts: 10,
		MaxIter:  300,
		Seed:     42,
	}
}

// Assignment places one customer in a segment and in the 2D projection.
type Assignment struct {
	CustomerID string
	Segment    int
	ProjX      float64
	ProjY      float64
}

// Result is the segmentation output, aligned with the input table rows.
type Result struct {
	K                 int
	Columns           []string
	Assignments       []Assignment
	Sweep             []cluster.SweepPoint
	Inertia           float64
	Silhouette        float64
	VarianceRatio     []float64
	ExplainedVariance float64
	Sizes             []int
	Profiles          []Profile
}

// Labels returns the segment labels in row order.
func (r *Result) Labels() []int {
	out := make([]int, len(r.Assignments))
	for i, a := range r.Assignments {
		out[i] = a.Segment
	}
	return out
}

// Engine runs segmentation.
type Engine struct {
	cfg      Config
	log      *logging.Logger
	progress func(cluster.SweepPoint)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// WithSweepProgress registers a callback invoked after each sweep step.
func WithSweepProgress(fn func(cluster.SweepPoint)) Option {
	return func(e *Engine) {
		e.progress = fn
	}
}

// New creates an Engine.
func New(cfg Config, opts ...Option) *Engine {
	e := &Engine{cfg: cfg, log: logging.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Columns returns the numeric columns used for clustering. Identifier, date
// and categorical fields are not numeric table columns and never appear.
func Columns(table *features.Table) []string {
	return append([]string(nil), table.Columns...)
}

// Segment clusters the customers of table.
func (e *Engine) Segment(table *features.Table) (*Result, error) {
	k := e.cfg.K
	if table.Len() < k {
		return nil, fmt.Errorf("%w: %d customers, k=%d", ErrTooFewCustomers, table.Len(), k)
	}

	columns := Columns(table)
	raw, err := table.Matrix(columns)
	if err != nil {
		return nil, err
	}
	preprocess.Sanitize(raw)
	_, scaled, err := preprocess.FitTransform(raw)
	if err != nil {
		return nil, fmt.Errorf("standardize: %w", err)
	}

	opts := []cluster.Option{
		cluster.WithSeed(e.cfg.Seed),
		cluster.WithRestarts(e.cfg.Restarts),
		cluster.WithMaxIter(e.cfg.MaxIter),
	}

	res := &Result{K: k, Columns: columns}
	if !e.cfg.SkipSweep {
		res.Sweep, err = cluster.Sweep(scaled, e.cfg.SweepMin, e.cfg.SweepMax, e.progress, opts...)
		if err != nil {
			return nil, fmt.Errorf("sweep: %w", err)
		}
		for _, p := range res.Sweep {
			e.log.Debug("sweep", "k", p.K, "inertia", p.Inertia, "silhouette", p.Silhouette)
		}
	}

	km := cluster.NewKMeans(k, opts...)
	if err := km.Fit(scaled); err != nil {
		return nil, fmt.Errorf("cluster: %w", err)
	}
	res.Inertia = km.Inertia
	res.Silhouette = cluster.Silhouette(scaled, km.Labels)

	pca, err := decomp.FitPCA(scaled, 2)
	if err != nil {
		return nil, fmt.Errorf("projection: %w", err)
	}
	proj := pca.Transform(scaled)
	res.VarianceRatio = pca.VarianceRatio
	res.ExplainedVariance = pca.ExplainedVariance()

	res.Assignments = make([]Assignment, table.Len())
	res.Sizes = make([]int, k)
	for i, row := range table.Rows {
		res.Assignments[i] = Assignment{
			CustomerID: row.CustomerID,
			Segment:    km.Labels[i],
			ProjX:      proj[i][0],
			ProjY:      proj[i][1],
		}
		res.Sizes[km.Labels[i]]++
	}
	res.Profiles = Profiles(table, km.Labels, k, columns, nil)

	e.log.Info("segmentation complete",
		"customers", table.Len(),
		"k", k,
		"silhouette", res.Silhouette,
		"explained_variance", res.ExplainedVariance,
		"sizes", res.Sizes,
	)
	return res, nil
}
