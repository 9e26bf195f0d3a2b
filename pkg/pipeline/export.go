package pipeline

import (
	"strconv"
	"time"

	"github.com/hed1ad/custsegml/pkg/anomaly"
	"github.com/hed1ad/custsegml/pkg/artifact"
	"github.com/hed1ad/custsegml/pkg/detectors/iforest"
	"github.com/hed1ad/custsegml/pkg/features"
	tableio "github.com/hed1ad/custsegml/pkg/io"
	"github.com/hed1ad/custsegml/pkg/records"
	"github.com/hed1ad/custsegml/pkg/segment"
	"github.com/hed1ad/custsegml/pkg/train"
)

// Export table names.
const (
	TableCustomerSummary      = "customer_summary"
	TableCustomerFeatures     = "customer_features"
	TableCustomerSegments     = "customer_segments"
	TableSegmentProfiles      = "segment_profiles"
	TableClusterDiagnostics   = "cluster_diagnostics"
	TableModelComparison      = "model_comparison"
	TableFeatureImportance    = "feature_importance"
	TableTestPredictions      = "test_predictions"
	TableModelInfo            = "model_info"
	TableCustomerAnomalies    = "customer_anomaly_detection"
	TableTransactionFraud     = "transaction_fraud_detection"
	TableHighRiskCustomers    = "high_risk_customers"
	TableHighRiskTransactions = "high_risk_transactions"
	TableTopAnomalies         = "top_anomalous_customers"
	TableAnomalyComparison    = "anomaly_comparison"
)

// highRiskTransactionRows caps the high-risk transaction report.
const highRiskTransactionRows = 50

const dateLayout = "2006-01-02"

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

// Tables builds every export table available in r. Tables whose stage did
// not produce output, such as anomaly tables in the no-data state, are
// omitted. topN bounds the top anomalous customers table.
func Tables(r *Result, topN int) []tableio.Table {
	var out []tableio.Table
	if r.Summary != nil {
		out = append(out, SummaryTable(r.Summary))
	}
	if r.Features != nil {
		out = append(out, FeaturesTable(r.Features))
	}
	if r.Segments != nil && r.Features != nil {
		out = append(out,
			SegmentsTable(r.Features, r.Segments),
			ProfilesTable(r.Segments.Profiles),
			DiagnosticsTable(r.Segments),
		)
	}
	if r.Training != nil {
		out = append(out,
			ComparisonTable(r.Training.Candidates),
			ImportanceTable(r.Training.Importance),
			PredictionsTable(r.Training.Predictions),
			ModelInfoTable(r.Training.Artifact),
		)
	}
	if r.Customers != nil {
		out = append(out,
			CustomerAnomalyTable(TableCustomerAnomalies, r.Customers, r.Customers.Records),
			CustomerAnomalyTable(TableHighRiskCustomers, r.Customers, r.Customers.Anomalies()),
			CustomerAnomalyTable(TableTopAnomalies, r.Customers, r.Customers.Top(iforest.Name, topN)),
		)
	}
	if r.Transactions != nil {
		out = append(out,
			TransactionTable(TableTransactionFraud, r.Transactions.Records),
			TransactionTable(TableHighRiskTransactions, r.Transactions.TopRisk(highRiskTransactionRows)),
		)
	}
	if r.Customers != nil || r.Transactions != nil {
		out = append(out, AnomalyComparisonTable(r.Customers, r.Transactions))
	}
	return out
}

// SummaryTable lists every customer with payment availability.
func SummaryTable(summary []records.CustomerSummary) tableio.Table {
	t := tableio.Table{
		Name:   TableCustomerSummary,
		Header: []string{"customer_id", "full_name", "email", "reg_date", "has_payment_data", "num_payments"},
	}
	for _, s := range summary {
		t.Append(s.CustomerID, s.FullName, s.Email, formatDate(s.RegDate),
			strconv.FormatBool(s.HasPaymentData), strconv.Itoa(s.NumPayments))
	}
	return t
}

func featureHeader(table *features.Table) []string {
	h := append([]string{features.CustomerID}, table.Columns...)
	return append(h, features.FirstPayment, features.LastPayment, features.RegDate, features.PreferredMethod)
}

func featureCells(row features.Row) []string {
	cells := []string{row.CustomerID}
	for _, v := range row.Values {
		cells = append(cells, formatFloat(v))
	}
	return append(cells,
		formatDate(row.FirstPayment),
		formatDate(row.LastPayment),
		formatDate(row.RegDate),
		row.PreferredMethod,
	)
}

// FeaturesTable is the aggregated feature table.
func FeaturesTable(table *features.Table) tableio.Table {
	t := tableio.Table{Name: TableCustomerFeatures, Header: featureHeader(table)}
	for _, row := range table.Rows {
		t.Append(featureCells(row)...)
	}
	return t
}

// SegmentsTable is the feature table with segment and projection columns.
func SegmentsTable(table *features.Table, seg *segment.Result) tableio.Table {
	t := tableio.Table{
		Name:   TableCustomerSegments,
		Header: append(featureHeader(table), "segment", "proj_x", "proj_y"),
	}
	for i, row := range table.Rows {
		a := seg.Assignments[i]
		t.Append(append(featureCells(row),
			strconv.Itoa(a.Segment), formatFloat(a.ProjX), formatFloat(a.ProjY))...)
	}
	return t
}

// ProfilesTable reports per-segment means. Empty segments show N/A rather
// than zero.
func ProfilesTable(profiles []segment.Profile) tableio.Table {
	t := tableio.Table{Name: TableSegmentProfiles}
	if len(profiles) == 0 {
		t.Header = []string{"segment", "size", "preferred_method"}
		return t
	}
	t.Header = append([]string{"segment", "size"}, profiles[0].Columns...)
	t.Header = append(t.Header, "preferred_method")
	for _, p := range profiles {
		cells := []string{strconv.Itoa(p.Segment), strconv.Itoa(p.Size)}
		for _, m := range p.Means {
			cells = append(cells, m.String())
		}
		t.Append(append(cells, p.PreferredMethod)...)
	}
	return t
}

// DiagnosticsTable lists the k sweep, marking the configured k.
func DiagnosticsTable(seg *segment.Result) tableio.Table {
	t := tableio.Table{
		Name:   TableClusterDiagnostics,
		Header: []string{"k", "inertia", "silhouette", "selected"},
	}
	for _, p := range seg.Sweep {
		t.Append(strconv.Itoa(p.K), formatFloat(p.Inertia), formatFloat(p.Silhouette), strconv.FormatBool(p.K == seg.K))
	}
	return t
}

// ComparisonTable reports every candidate, including excluded ones.
func ComparisonTable(cands []train.Candidate) tableio.Table {
	t := tableio.Table{
		Name:   TableModelComparison,
		Header: []string{"model", "train_accuracy", "test_accuracy", "test_f1", "cv_mean", "cv_std", "error"},
	}
	for _, c := range cands {
		if c.Err != nil {
			t.Append(c.Name(), "", "", "", "", "", c.Err.Error())
			continue
		}
		t.Append(c.Name(), formatFloat(c.TrainAccuracy), formatFloat(c.TestAccuracy),
			formatFloat(c.TestF1), formatFloat(c.CVMean), formatFloat(c.CVStd), "")
	}
	return t
}

// ImportanceTable is the ranked feature importance of the selected model.
func ImportanceTable(imp []train.Importance) tableio.Table {
	t := tableio.Table{Name: TableFeatureImportance, Header: []string{"feature", "importance"}}
	for _, f := range imp {
		t.Append(f.Feature, formatFloat(f.Value))
	}
	return t
}

// PredictionsTable is the held-out evaluation set.
func PredictionsTable(preds []train.Prediction) tableio.Table {
	t := tableio.Table{
		Name:   TableTestPredictions,
		Header: []string{"customer_id", "true_segment", "predicted_segment", "correct"},
	}
	for _, p := range preds {
		t.Append(p.CustomerID, strconv.Itoa(p.Actual), strconv.Itoa(p.Predicted), strconv.FormatBool(p.Actual == p.Predicted))
	}
	return t
}

// ModelInfoTable describes the selected artifact.
func ModelInfoTable(a *artifact.Artifact) tableio.Table {
	t := tableio.Table{Name: TableModelInfo, Header: []string{"key", "value"}}
	t.Append("artifact_id", a.ID)
	t.Append("trained_at", a.TrainedAt.UTC().Format(time.RFC3339))
	t.Append("model_name", a.ModelName)
	t.Append("model_kind", string(a.ModelKind))
	t.Append("test_accuracy", formatFloat(a.TestAccuracy))
	t.Append("test_f1", formatFloat(a.TestF1))
	t.Append("cv_mean", formatFloat(a.CVMean))
	t.Append("cv_std", formatFloat(a.CVStd))
	t.Append("n_features", strconv.Itoa(len(a.FeatureNames)))
	t.Append("n_segments", strconv.Itoa(len(a.Classes)))
	return t
}

// CustomerAnomalyTable writes recs with the scored columns and per-method
// votes of report.
func CustomerAnomalyTable(name string, report *anomaly.CustomerReport, recs []anomaly.CustomerRecord) tableio.Table {
	t := tableio.Table{Name: name, Header: []string{features.CustomerID}}
	t.Header = append(t.Header, report.Columns...)
	for _, m := range report.Methods {
		t.Header = append(t.Header, "anomaly_"+m, "anomaly_score_"+m)
	}
	t.Header = append(t.Header, "anomaly_consensus", "is_anomaly")

	values := make(map[string][]float64, len(report.Records))
	for i, rec := range report.Records {
		values[rec.CustomerID] = report.Values[i]
	}
	for _, rec := range recs {
		cells := []string{rec.CustomerID}
		for _, v := range values[rec.CustomerID] {
			cells = append(cells, formatFloat(v))
		}
		for m := range report.Methods {
			cells = append(cells, strconv.FormatBool(rec.Flags[m]), formatFloat(rec.Scores[m]))
		}
		t.Append(append(cells, strconv.Itoa(rec.Consensus), strconv.FormatBool(rec.IsAnomaly))...)
	}
	return t
}

// TransactionTable writes scored transactions.
func TransactionTable(name string, recs []anomaly.TransactionRecord) tableio.Table {
	t := tableio.Table{
		Name: name,
		Header: []string{
			"payment_id", "order_id", "customer_id", "order_date", "payment_date",
			"amount", "amount_order", "method", "payment_delay_days",
			"amount_zscore", "delay_zscore", "is_weekend", "unusual_delay",
			"fraud_flag", "fraud_score", "fraud_risk_score",
		},
	}
	for _, r := range recs {
		t.Append(
			r.PaymentID, r.OrderID, r.CustomerID, formatDate(r.OrderDate), formatDate(r.PaymentDate),
			formatFloat(r.Amount), formatFloat(r.OrderAmount), r.Method, strconv.Itoa(r.DelayDays),
			formatFloat(r.AmountZ), formatFloat(r.DelayZ), strconv.FormatBool(r.Weekend), strconv.FormatBool(r.UnusualDelay),
			strconv.FormatBool(r.FraudFlag), formatFloat(r.FraudScore), formatFloat(r.RiskScore),
		)
	}
	return t
}

// AnomalyComparisonTable contrasts flagged and normal means at both levels.
// Either report may be nil; a group with no members shows N/A.
func AnomalyComparisonTable(customers *anomaly.CustomerReport, txns *anomaly.TransactionReport) tableio.Table {
	t := tableio.Table{
		Name:   TableAnomalyComparison,
		Header: []string{"level", "column", "flagged_mean", "normal_mean"},
	}
	add := func(level string, cmp []anomaly.Comparison) {
		for _, c := range cmp {
			t.Append(level, c.Column, c.Flagged.String(), c.Normal.String())
		}
	}
	if customers != nil {
		add("customer", customers.Compare())
	}
	if txns != nil {
		add("transaction", txns.Compare())
	}
	return t
}
