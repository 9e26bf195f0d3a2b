// Package pipeline runs the full batch: join, feature aggregation,
// segmentation, classifier training and anomaly detection, followed by
// artifact persistence and table export.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/hed1ad/custsegml/pkg/anomaly"
	"github.com/hed1ad/custsegml/pkg/classify"
	"github.com/hed1ad/custsegml/pkg/cluster"
	"github.com/hed1ad/custsegml/pkg/config"
	"github.com/hed1ad/custsegml/pkg/features"
	tableio "github.com/hed1ad/custsegml/pkg/io"
	csvio "github.com/hed1ad/custsegml/pkg/io/csv"
	mysqlio "github.com/hed1ad/custsegml/pkg/io/mysql"
	"github.com/hed1ad/custsegml/pkg/logging"
	"github.com/hed1ad/custsegml/pkg/metrics"
	"github.com/hed1ad/custsegml/pkg/records"
	"github.com/hed1ad/custsegml/pkg/segment"
	"github.com/hed1ad/custsegml/pkg/train"
)

// Result collects the output of every stage. Customers and Transactions are
// nil when there was no anomaly data.
type Result struct {
	RunID     string
	StartedAt time.Time
	Finished  time.Time

	Join    records.JoinStats
	Joined  []records.Transaction
	Summary []records.CustomerSummary

	Features     *features.Table
	Segments     *segment.Result
	Training     *train.Result
	Customers    *anomaly.CustomerReport
	Transactions *anomaly.TransactionReport

	// ArtifactPath is where the classifier was saved, if anywhere.
	ArtifactPath string
	// AnomalyModelPath is where the fitted anomaly detectors were saved, if
	// anywhere.
	AnomalyModelPath string
	// Exported lists the names of the tables written.
	Exported []string
}

// Pipeline runs batches with one configuration.
type Pipeline struct {
	cfg       *config.Config
	log       *logging.Logger
	metrics   *metrics.Metrics
	writer    tableio.TableWriter
	progress  func(cluster.SweepPoint)
	modelOpts []classify.Option
	now       func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Pipeline) {
		p.log = logging.OrNop(l)
	}
}

// WithMetrics records into m instead of a private collector set.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithWriter exports result tables through w.
func WithWriter(w tableio.TableWriter) Option {
	return func(p *Pipeline) {
		p.writer = w
	}
}

// WithSweepProgress is called after each k of the segmentation sweep.
func WithSweepProgress(fn func(cluster.SweepPoint)) Option {
	return func(p *Pipeline) {
		p.progress = fn
	}
}

// WithModelOptions passes options to every candidate classifier.
func WithModelOptions(opts ...classify.Option) Option {
	return func(p *Pipeline) {
		p.modelOpts = opts
	}
}

// WithClock overrides the clock used for run timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// New creates a pipeline. cfg must already be validated.
func New(cfg *config.Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg: cfg,
		log: logging.Nop(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = metrics.New()
	}
	return p
}

// Metrics returns the collector set the pipeline records into.
func (p *Pipeline) Metrics() *metrics.Metrics {
	return p.metrics
}

// Run reads a snapshot from src and runs every stage in order. Pushing
// metrics is best effort and never fails a run.
func (p *Pipeline) Run(ctx context.Context, src tableio.TableReader) (*Result, error) {
	res := &Result{RunID: uuid.NewString(), StartedAt: p.now()}
	log := p.log.With("run_id", res.RunID)
	log.Info("pipeline started", "source", p.cfg.Input.Source, "segments", p.cfg.Segment.K)

	err := p.run(ctx, log, src, res)
	res.Finished = p.now()
	p.metrics.RunFinished(err, res.Finished)
	if err != nil {
		log.Error("pipeline failed", "error", err)
	} else {
		log.Info("pipeline finished", "duration", res.Finished.Sub(res.StartedAt).String())
	}

	if url := p.cfg.Metrics.PushURL; url != "" {
		if perr := p.metrics.Push(ctx, url, p.cfg.Metrics.Job, map[string]string{"run": res.RunID}); perr != nil {
			log.Warn("metrics push failed", "url", url, "error", perr)
		}
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, log *logging.Logger, src tableio.TableReader, res *Result) error {
	stop := p.metrics.Stage("ingest")
	tables, err := src.ReadTables(ctx)
	stop()
	if err != nil {
		return fmt.Errorf("read tables: %w", err)
	}
	log.Info("tables loaded",
		"customers", len(tables.Customers),
		"orders", len(tables.Orders),
		"payments", len(tables.Payments),
	)

	stop = p.metrics.Stage("join")
	res.Joined, res.Join = records.Join(tables)
	res.Summary = records.Summarize(tables.Customers, res.Joined)
	stop()
	p.metrics.Transactions.Set(float64(res.Join.Resolved))
	p.metrics.DroppedPayments.Set(float64(res.Join.Dropped()))
	if res.Join.Dropped() > 0 {
		log.Warn("payments dropped during join",
			"no_order", res.Join.DroppedNoOrder,
			"no_customer", res.Join.DroppedNoCustomer,
		)
	}

	stop = p.metrics.Stage("features")
	res.Features, err = features.Aggregate(res.Joined)
	stop()
	if err != nil {
		return fmt.Errorf("aggregate features: %w", err)
	}
	p.metrics.Customers.Set(float64(res.Features.Len()))
	log.Info("features aggregated",
		"customers", res.Features.Len(),
		"reference_date", res.Features.ReferenceDate.Format(dateLayout),
	)

	if err := ctx.Err(); err != nil {
		return err
	}
	stop = p.metrics.Stage("segment")
	engine := segment.New(p.cfg.SegmentConfig(), segment.WithLogger(log), segment.WithSweepProgress(p.progress))
	res.Segments, err = engine.Segment(res.Features)
	stop()
	if err != nil {
		return fmt.Errorf("segment customers: %w", err)
	}
	for s, n := range res.Segments.Sizes {
		p.metrics.SegmentSize.WithLabelValues(strconv.Itoa(s)).Set(float64(n))
	}
	p.metrics.Silhouette.Set(res.Segments.Silhouette)

	stop = p.metrics.Stage("train")
	trainer := train.New(p.cfg.TrainConfig(), train.WithLogger(log), train.WithModelOptions(p.modelOpts...))
	res.Training, err = trainer.Train(ctx, res.Features, res.Segments.Labels())
	stop()
	if err != nil {
		return fmt.Errorf("train classifier: %w", err)
	}
	for _, c := range res.Training.Candidates {
		if c.Err != nil {
			continue
		}
		p.metrics.ModelAccuracy.WithLabelValues(c.Name(), "train").Set(c.TrainAccuracy)
		p.metrics.ModelAccuracy.WithLabelValues(c.Name(), "test").Set(c.TestAccuracy)
		p.metrics.ModelAccuracy.WithLabelValues(c.Name(), "cv").Set(c.CVMean)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	stop = p.metrics.Stage("anomaly")
	err = p.detect(log, res)
	stop()
	if err != nil {
		return err
	}

	if path := p.cfg.Output.Artifact; path != "" {
		if err := res.Training.Artifact.SaveFile(path); err != nil {
			return fmt.Errorf("save artifact: %w", err)
		}
		res.ArtifactPath = path
		log.Info("artifact saved", "path", path, "artifact_id", res.Training.Artifact.ID)
	}

	if path := p.cfg.Output.AnomalyModel; path != "" {
		m := anomaly.NewModel(res.Customers, res.Transactions)
		if m.Empty() {
			log.Warn("no anomaly model to save", "path", path)
		} else {
			if err := m.SaveFile(path); err != nil {
				return fmt.Errorf("save anomaly model: %w", err)
			}
			res.AnomalyModelPath = path
			log.Info("anomaly model saved", "path", path)
		}
	}

	if p.writer != nil {
		stop = p.metrics.Stage("export")
		err = p.export(res)
		stop()
		if err != nil {
			return fmt.Errorf("export: %w", err)
		}
		log.Info("tables exported", "tables", len(res.Exported))
	}
	return nil
}

// detect runs both anomaly sub-pipelines. Missing anomaly data degrades the
// run instead of failing it.
func (p *Pipeline) detect(log *logging.Logger, res *Result) error {
	eng := anomaly.New(p.cfg.AnomalyConfig(), anomaly.WithLogger(log))

	cust, err := eng.DetectCustomers(res.Features)
	switch {
	case errors.Is(err, anomaly.ErrNoAnomalyData):
		log.Warn("customer anomaly detection skipped", "reason", err)
	case err != nil:
		return fmt.Errorf("detect customer anomalies: %w", err)
	default:
		res.Customers = cust
		for _, m := range cust.Methods {
			p.metrics.CustomerAnomalies.WithLabelValues(m).Set(float64(cust.MethodCount(m)))
		}
		p.metrics.CustomerAnomalies.WithLabelValues("consensus").Set(float64(cust.AnomalyCount()))
	}

	txns, err := eng.DetectTransactions(res.Joined)
	switch {
	case errors.Is(err, anomaly.ErrNoAnomalyData):
		log.Warn("transaction fraud detection skipped", "reason", err)
	case err != nil:
		return fmt.Errorf("detect fraudulent transactions: %w", err)
	default:
		res.Transactions = txns
		p.metrics.FlaggedTransactions.Set(float64(txns.FlaggedCount()))
		p.metrics.HighRiskTransactions.Set(float64(txns.HighRiskCount()))
	}
	return nil
}

func (p *Pipeline) export(res *Result) error {
	for _, t := range Tables(res, p.cfg.Anomaly.TopN) {
		if err := p.writer.WriteTable(t); err != nil {
			return fmt.Errorf("%s: %w", t.Name, err)
		}
		res.Exported = append(res.Exported, t.Name)
	}
	return nil
}

// OpenSource returns the table reader selected by cfg.
func OpenSource(cfg *config.Config) (tableio.TableReader, error) {
	switch cfg.Input.Source {
	case config.SourceCSV:
		return csvio.NewReader(cfg.Input.Dir, csvio.WithFiles(cfg.Input.Files))
	case config.SourceMySQL:
		return mysqlio.OpenReader(cfg.Input.DSN, mysqlio.WithTables(cfg.Input.Tables))
	default:
		return nil, fmt.Errorf("%w: unknown input source %q", config.ErrInvalid, cfg.Input.Source)
	}
}

// OpenSink returns the CSV table writer for cfg, or nil when export is
// disabled.
func OpenSink(cfg *config.Config) (tableio.TableWriter, error) {
	if cfg.Output.Dir == "" {
		return nil, nil
	}
	return csvio.NewWriter(cfg.Output.Dir)
}
