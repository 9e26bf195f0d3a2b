// Package anomaly flags unusual customers and suspicious transactions.
//
// Customers are scored by three detectors on a fixed feature subset and
// flagged by majority vote. Transactions are scored by a single isolation
// forest over engineered z-score and indicator signals, and the raw score is
// rescaled to a 0..100 risk score.
package anomaly

import (
	"errors"
	"fmt"
	"math"

	"github.com/hed1ad/custsegml/pkg/detectors"
	"github.com/hed1ad/custsegml/pkg/detectors/envelope"
	"github.com/hed1ad/custsegml/pkg/detectors/iforest"
	"github.com/hed1ad/custsegml/pkg/detectors/ocsvm"
	"github.com/hed1ad/custsegml/pkg/features"
	"github.com/hed1ad/custsegml/pkg/logging"
	"github.com/hed1ad/custsegml/pkg/preprocess"
	"github.com/hed1ad/custsegml/pkg/records"
)

// ErrNoAnomalyData marks the degraded state where there is nothing to score.
// Reporting views treat it as "no data", not as a failure.
var ErrNoAnomalyData = errors.New("no anomaly data available")

const (
	// MajorityThreshold is the number of detector votes that makes a
	// customer anomalous.
	MajorityThreshold = 2
	// UnusualDelayDays is the |delay| above which a payment is unusual.
	UnusualDelayDays = 365
	// HighRisk is the risk score above which a transaction counts as high risk.
	HighRisk = 70.0
	// DegenerateRisk is reported when every raw score is identical.
	DegenerateRisk = 50.0
)

// CustomerColumns is the feature subset scored at customer level.
var CustomerColumns = []string{
	features.OrderCount,
	features.PaymentCount,
	features.AmountSum,
	features.AmountMean,
	features.DelayMean,
	features.DelayMax,
	features.RecencyDays,
	features.PaymentFrequency,
}

// Config controls both sub-pipelines.
type Config struct {
	CustomerContamination    float64 `yaml:"customer_contamination"`
	TransactionContamination float64 `yaml:"transaction_contamination"`
	Trees                    int     `yaml:"trees"`
	TopN                     int     `yaml:"top_n"`
	Seed                     int64   `yaml:"-"`
}

// DefaultConfig returns 10% expected outliers for customers and 5% for
// transactions.
func DefaultConfig() Config {
	d := detectors.DefaultConfig()
	return Config{
		CustomerContamination:    d.Contamination,
		TransactionContamination: 0.05,
		Trees:                    d.Trees,
		TopN:                     10,
		Seed:                     d.RandomSeed,
	}
}

// Engine runs customer and transaction anomaly detection.
type Engine struct {
	cfg Config
	log *logging.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) {
		e.log = l
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

func (e *Engine) detectorConfig(contamination float64) detectors.Config {
	return detectors.Config{
		Contamination: contamination,
		Trees:         e.cfg.Trees,
		RandomSeed:    e.cfg.Seed,
	}
}

// customerDetectors returns the three voting detectors in report order.
func (e *Engine) customerDetectors() []detectors.Detector {
	cfg := e.detectorConfig(e.cfg.CustomerContamination)
	return []detectors.Detector{
		iforest.New(iforest.FromConfig(cfg)...),
		ocsvm.New(ocsvm.FromConfig(cfg)...),
		envelope.New(envelope.FromConfig(cfg)...),
	}
}

// Consensus counts outlier votes.
func Consensus(flags []bool) int {
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return n
}

// IsConsensus reports whether a vote count reaches the majority threshold.
func IsConsensus(votes int) bool {
	return votes >= MajorityThreshold
}

// DetectCustomers fits the voting detectors on table and scores every
// customer. The fitted state is kept in the report's Model.
func (e *Engine) DetectCustomers(table *features.Table) (*CustomerReport, error) {
	if table == nil || table.Len() == 0 {
		return nil, ErrNoAnomalyData
	}
	raw, err := table.Matrix(CustomerColumns)
	if err != nil {
		return nil, err
	}
	preprocess.Sanitize(raw)
	scaler, scaled, err := preprocess.FitTransform(raw)
	if err != nil {
		return nil, fmt.Errorf("standardize customers: %w", err)
	}

	dets := e.customerDetectors()
	results := make([]detectors.Result, len(dets))
	for i, d := range dets {
		res, err := detectors.FitPredict(d, scaled)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.Name(), err)
		}
		results[i] = res
		e.log.Debug("customer detector done", "method", res.Method, "flagged", res.Count())
	}

	report := customerReport(table, raw, results)
	report.Model = &CustomerModel{Scaler: *scaler, Detectors: dets}

	e.log.Info("customer anomaly detection complete",
		"customers", table.Len(),
		"anomalies", report.AnomalyCount(),
	)
	return report, nil
}

func customerReport(table *features.Table, raw [][]float64, results []detectors.Result) *CustomerReport {
	methods := make([]string, len(results))
	for i, res := range results {
		methods[i] = res.Method
	}
	report := &CustomerReport{
		Methods: methods,
		Columns: CustomerColumns,
		Values:  raw,
		Records: make([]CustomerRecord, table.Len()),
	}
	for i, row := range table.Rows {
		rec := CustomerRecord{
			CustomerID: row.CustomerID,
			Flags:      make([]bool, len(results)),
			Scores:     make([]float64, len(results)),
		}
		for m, res := range results {
			rec.Flags[m] = res.Outlier[i]
			rec.Scores[m] = res.Scores[i]
		}
		rec.Consensus = Consensus(rec.Flags)
		rec.IsAnomaly = IsConsensus(rec.Consensus)
		report.Records[i] = rec
	}
	return report
}

// ZStat holds the mean and sample standard deviation of one signal.
type ZStat struct {
	Mean float64
	Std  float64
}

// FitZStat computes the statistics of x.
func FitZStat(x []float64) ZStat {
	if len(x) == 0 {
		return ZStat{}
	}
	var mean float64
	for _, v := range x {
		mean += v
	}
	return ZStat{Mean: mean / float64(len(x)), Std: preprocess.SampleStdDev(x)}
}

// Abs returns |v - mean| / std, or 0 when the deviation is zero.
func (z ZStat) Abs(v float64) float64 {
	if z.Std == 0 {
		return 0
	}
	return math.Abs(v-z.Mean) / z.Std
}

// AbsZScores returns |x - mean| / std with the sample standard deviation. A
// zero deviation yields zeros.
func AbsZScores(x []float64) []float64 {
	z := FitZStat(x)
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = z.Abs(v)
	}
	return out
}

// RiskScores maps raw scores (lower = more anomalous) onto 0..100 where
// higher is more suspicious. Identical scores map to DegenerateRisk.
func RiskScores(scores []float64) []float64 {
	lo, hi := scoreRange(scores)
	return riskScores(scores, lo, hi)
}

func scoreRange(scores []float64) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, s := range scores {
		lo = math.Min(lo, s)
		hi = math.Max(hi, s)
	}
	return lo, hi
}

// riskScores rescales against a fixed [lo, hi] range and clamps to 0..100.
func riskScores(scores []float64, lo, hi float64) []float64 {
	out := make([]float64, len(scores))
	for i, s := range scores {
		if hi <= lo || math.IsNaN(s) {
			out[i] = DegenerateRisk
			continue
		}
		r := (1 - (s-lo)/(hi-lo)) * 100
		out[i] = math.Max(0, math.Min(100, r))
	}
	return out
}

// Signals builds the four transaction signals: |z amount|, |z delay|,
// weekend and unusual delay indicators.
func Signals(txns []records.Transaction) [][]float64 {
	amount, delay := signalStats(txns)
	return signals(txns, amount, delay)
}

func signalStats(txns []records.Transaction) (amount, delay ZStat) {
	amounts := make([]float64, len(txns))
	delays := make([]float64, len(txns))
	for i, t := range txns {
		amounts[i] = t.Amount
		delays[i] = float64(t.DelayDays)
	}
	return FitZStat(amounts), FitZStat(delays)
}

func signals(txns []records.Transaction, amount, delay ZStat) [][]float64 {
	out := make([][]float64, len(txns))
	for i, t := range txns {
		out[i] = []float64{
			amount.Abs(t.Amount),
			delay.Abs(float64(t.DelayDays)),
			indicator(records.IsWeekend(t.PaymentDate)),
			indicator(unusualDelay(t.DelayDays)),
		}
	}
	return out
}

func unusualDelay(days int) bool {
	return days > UnusualDelayDays || days < -UnusualDelayDays
}

func indicator(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// DetectTransactions fits the fraud forest on txns and scores every
// transaction. The fitted state is kept in the report's Model.
func (e *Engine) DetectTransactions(txns []records.Transaction) (*TransactionReport, error) {
	if len(txns) == 0 {
		return nil, ErrNoAnomalyData
	}
	amount, delay := signalStats(txns)
	sig := signals(txns, amount, delay)
	preprocess.Sanitize(sig)
	scaler, scaled, err := preprocess.FitTransform(sig)
	if err != nil {
		return nil, fmt.Errorf("standardize transactions: %w", err)
	}

	cfg := e.detectorConfig(e.cfg.TransactionContamination)
	forest := iforest.New(iforest.FromConfig(cfg)...)
	res, err := detectors.FitPredict(forest, scaled)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", iforest.Name, err)
	}
	lo, hi := scoreRange(res.Scores)

	report := transactionReport(txns, sig, res, lo, hi)
	report.Model = &TransactionModel{
		Amount:    amount,
		Delay:     delay,
		Scaler:    *scaler,
		Forest:    forest,
		RiskFloor: lo,
		RiskCeil:  hi,
	}

	e.log.Info("transaction fraud detection complete",
		"transactions", len(txns),
		"flagged", res.Count(),
		"high_risk", report.HighRiskCount(),
	)
	return report, nil
}

func transactionReport(txns []records.Transaction, sig [][]float64, res detectors.Result, lo, hi float64) *TransactionReport {
	risk := riskScores(res.Scores, lo, hi)
	report := &TransactionReport{Records: make([]TransactionRecord, len(txns))}
	for i, t := range txns {
		report.Records[i] = TransactionRecord{
			Transaction:  t,
			AmountZ:      sig[i][0],
			DelayZ:       sig[i][1],
			Weekend:      sig[i][2] == 1,
			UnusualDelay: sig[i][3] == 1,
			FraudFlag:    res.Outlier[i],
			FraudScore:   res.Scores[i],
			RiskScore:    risk[i],
		}
	}
	return report
}
