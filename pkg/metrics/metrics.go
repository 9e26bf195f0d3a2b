// Package metrics provides Prometheus instrumentation for pipeline runs.
// Batch runs are short-lived, so metrics are pushed to a pushgateway at the
// end of a run instead of being scraped.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "custseg"

// Metrics is the collector set of one process. Each instance owns its
// registry, so independent runs never share series.
type Metrics struct {
	Registry *prometheus.Registry

	// StageDuration observes the wall time of each pipeline stage.
	StageDuration *prometheus.HistogramVec
	// RunsTotal counts finished runs by status.
	RunsTotal *prometheus.CounterVec
	// LastSuccess is the unix time of the last successful run.
	LastSuccess prometheus.Gauge

	Customers       prometheus.Gauge
	Transactions    prometheus.Gauge
	DroppedPayments prometheus.Gauge

	SegmentSize *prometheus.GaugeVec
	Silhouette  prometheus.Gauge

	// ModelAccuracy is labeled by model family and evaluation split
	// (train, test, cv).
	ModelAccuracy *prometheus.GaugeVec

	// CustomerAnomalies is labeled by detection method; the consensus set
	// uses method="consensus".
	CustomerAnomalies    *prometheus.GaugeVec
	FlaggedTransactions  prometheus.Gauge
	HighRiskTransactions prometheus.Gauge
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Pipeline stage duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
			},
			[]string{"stage"},
		),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total pipeline runs by status.",
			},
			[]string{"status"},
		),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_success_timestamp_seconds",
			Help: "Unix time of the last successful run.",
		}),
		Customers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "customers",
			Help: "Customers with at least one resolved payment.",
		}),
		Transactions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "transactions",
			Help: "Payments resolved to an order and a customer.",
		}),
		DroppedPayments: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "dropped_payments",
			Help: "Payments dropped because their order or customer is missing.",
		}),
		SegmentSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "segment_size",
				Help:      "Customers per segment.",
			},
			[]string{"segment"},
		),
		Silhouette: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "segment_silhouette",
			Help: "Mean silhouette of the final clustering.",
		}),
		ModelAccuracy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "model_accuracy",
				Help:      "Classifier accuracy by model and evaluation split.",
			},
			[]string{"model", "split"},
		),
		CustomerAnomalies: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "customer_anomalies",
				Help:      "Customers flagged as anomalous by method.",
			},
			[]string{"method"},
		),
		FlaggedTransactions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "flagged_transactions",
			Help: "Transactions flagged by the fraud detector.",
		}),
		HighRiskTransactions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "high_risk_transactions",
			Help: "Transactions with a risk score above the high-risk threshold.",
		}),
	}

	m.Registry.MustRegister(
		m.StageDuration,
		m.RunsTotal,
		m.LastSuccess,
		m.Customers,
		m.Transactions,
		m.DroppedPayments,
		m.SegmentSize,
		m.Silhouette,
		m.ModelAccuracy,
		m.CustomerAnomalies,
		m.FlaggedTransactions,
		m.HighRiskTransactions,
	)
	return m
}

// Stage starts timing a stage. Call the returned function when it ends.
func (m *Metrics) Stage(name string) func() {
	timer := prometheus.NewTimer(m.StageDuration.WithLabelValues(name))
	return func() { timer.ObserveDuration() }
}

// RunFinished records the outcome of a run.
func (m *Metrics) RunFinished(err error, at time.Time) {
	if err != nil {
		m.RunsTotal.WithLabelValues("error").Inc()
		return
	}
	m.RunsTotal.WithLabelValues("success").Inc()
	m.LastSuccess.Set(float64(at.Unix()))
}

// Push replaces the metrics of job on the pushgateway at url. grouping adds
// label pairs to the grouping key, typically the run id.
func (m *Metrics) Push(ctx context.Context, url, job string, grouping map[string]string) error {
	p := push.New(url, job).Gatherer(m.Registry)
	for k, v := range grouping {
		p = p.Grouping(k, v)
	}
	return p.PushContext(ctx)
}
