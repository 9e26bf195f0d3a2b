package anomaly

import (
	"sort"

	"github.com/hed1ad/custsegml/pkg/records"
	"github.com/hed1ad/custsegml/pkg/segment"
)

// CustomerRecord holds the per-method votes for one customer.
type CustomerRecord struct {
	CustomerID string
	Flags      []bool    // aligned with CustomerReport.Methods
	Scores     []float64 // raw detector scores, lower = more anomalous
	Consensus  int
	IsAnomaly  bool
}

// CustomerReport is the customer-level output, aligned with the feature table.
type CustomerReport struct {
	Methods []string
	Columns []string
	Values  [][]float64 // unscaled CustomerColumns per record
	Records []CustomerRecord

	// Model scores further snapshots with the same fitted detectors.
	Model *CustomerModel
}

// AnomalyCount returns the number of consensus anomalies.
func (r *CustomerReport) AnomalyCount() int {
	n := 0
	for _, rec := range r.Records {
		if rec.IsAnomaly {
			n++
		}
	}
	return n
}

// MethodCount returns how many customers a method flagged.
func (r *CustomerReport) MethodCount(method string) int {
	m := r.methodIndex(method)
	if m < 0 {
		return 0
	}
	n := 0
	for _, rec := range r.Records {
		if rec.Flags[m] {
			n++
		}
	}
	return n
}

func (r *CustomerReport) methodIndex(method string) int {
	for i, m := range r.Methods {
		if m == method {
			return i
		}
	}
	return -1
}

// Anomalies returns the consensus anomalies, most votes first, then by the
// first method's score.
func (r *CustomerReport) Anomalies() []CustomerRecord {
	var out []CustomerRecord
	for _, rec := range r.Records {
		if rec.IsAnomaly {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Consensus != out[b].Consensus {
			return out[a].Consensus > out[b].Consensus
		}
		return out[a].Scores[0] < out[b].Scores[0]
	})
	return out
}

// Top returns the n customers with the lowest score for method.
func (r *CustomerReport) Top(method string, n int) []CustomerRecord {
	m := r.methodIndex(method)
	if m < 0 {
		return nil
	}
	out := append([]CustomerRecord(nil), r.Records...)
	sort.SliceStable(out, func(a, b int) bool { return out[a].Scores[m] < out[b].Scores[m] })
	n = max(n, 0)
	if n < len(out) {
		out = out[:n]
	}
	return out
}

// Comparison contrasts the mean of one column between flagged and unflagged
// groups.
type Comparison struct {
	Column  string
	Flagged segment.Stat
	Normal  segment.Stat
}

// Compare returns the flagged-vs-normal means of every customer column.
func (r *CustomerReport) Compare() []Comparison {
	flagged := make([]bool, len(r.Records))
	for i, rec := range r.Records {
		flagged[i] = rec.IsAnomaly
	}
	out := make([]Comparison, len(r.Columns))
	for j, c := range r.Columns {
		col := make([]float64, len(r.Values))
		for i, row := range r.Values {
			col[i] = row[j]
		}
		out[j] = compare(c, col, flagged)
	}
	return out
}

func compare(column string, values []float64, flagged []bool) Comparison {
	var fs, ns float64
	var fn, nn int
	for i, v := range values {
		if flagged[i] {
			fs += v
			fn++
		} else {
			ns += v
			nn++
		}
	}
	c := Comparison{Column: column}
	if fn > 0 {
		c.Flagged = segment.Stat{Value: fs / float64(fn), Valid: true}
	}
	if nn > 0 {
		c.Normal = segment.Stat{Value: ns / float64(nn), Valid: true}
	}
	return c
}

// TransactionRecord is one scored transaction.
type TransactionRecord struct {
	records.Transaction

	AmountZ      float64
	DelayZ       float64
	Weekend      bool
	UnusualDelay bool
	FraudFlag    bool
	FraudScore   float64
	RiskScore    float64
}

// TransactionReport is the transaction-level output in input order.
type TransactionReport struct {
	Records []TransactionRecord

	// Model scores further transactions with the same fitted forest.
	Model *TransactionModel
}

// FlaggedCount returns the number of transactions flagged as fraud.
func (r *TransactionReport) FlaggedCount() int {
	n := 0
	for _, rec := range r.Records {
		if rec.FraudFlag {
			n++
		}
	}
	return n
}

// HighRiskCount returns the number of transactions with risk above HighRisk.
func (r *TransactionReport) HighRiskCount() int {
	n := 0
	for _, rec := range r.Records {
		if rec.RiskScore > HighRisk {
			n++
		}
	}
	return n
}

// TopRisk returns the n riskiest transactions.
func (r *TransactionReport) TopRisk(n int) []TransactionRecord {
	out := append([]TransactionRecord(nil), r.Records...)
	sort.SliceStable(out, func(a, b int) bool { return out[a].RiskScore > out[b].RiskScore })
	n = max(n, 0)
	if n < len(out) {
		out = out[:n]
	}
	return out
}

// Compare returns the flagged-vs-normal means of amount and delay.
func (r *TransactionReport) Compare() []Comparison {
	flagged := make([]bool, len(r.Records))
	amounts := make([]float64, len(r.Records))
	delays := make([]float64, len(r.Records))
	for i, rec := range r.Records {
		flagged[i] = rec.FraudFlag
		amounts[i] = rec.Amount
		delays[i] = float64(rec.DelayDays)
	}
	return []Comparison{
		compare("amount", amounts, flagged),
		compare("payment_delay_days", delays, flagged),
	}
}
