// Package features aggregates joined payment transactions into one feature
// vector per customer.
package features

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/hed1ad/custsegml/pkg/preprocess"
	"github.com/hed1ad/custsegml/pkg/records"
)

// Numeric column names. They are part of the artifact and prediction
// request contract and must not change.
const (
	OrderCount        = "order_id_nunique"
	PaymentCount      = "payment_id_count"
	AmountSum         = "amount_sum"
	AmountMean        = "amount_mean"
	AmountMedian      = "amount_median"
	AmountStd         = "amount_std"
	OrderAmountSum    = "amount_order_sum"
	OrderAmountMean   = "amount_order_mean"
	OrderAmountMedian = "amount_order_median"
	DelayMean         = "payment_delay_days_mean"
	DelayMedian       = "payment_delay_days_median"
	DelayMin          = "payment_delay_days_min"
	DelayMax          = "payment_delay_days_max"
	DelayStd          = "payment_delay_days_std"
	RecencyDays       = "recency_days"
	LifetimeDays      = "customer_lifetime_days"
	PaymentFrequency  = "payment_frequency"
)

// Non-numeric column names.
const (
	CustomerID      = "customer_id"
	FirstPayment    = "payment_date_min"
	LastPayment     = "payment_date_max"
	RegDate         = "reg_date_first"
	PreferredMethod = "preferred_method"
)

// UnknownMethod is reported when a customer has no usable payment method.
const UnknownMethod = "unknown"

// NumericColumns lists the numeric features in table order.
var NumericColumns = []string{
	OrderCount, PaymentCount,
	AmountSum, AmountMean, AmountMedian, AmountStd,
	OrderAmountSum, OrderAmountMean, OrderAmountMedian,
	DelayMean, DelayMedian, DelayMin, DelayMax, DelayStd,
	RecencyDays, LifetimeDays, PaymentFrequency,
}

// ErrNoTransactions is returned when there is nothing to aggregate.
var ErrNoTransactions = errors.New("no transactions to aggregate")

// Row is one customer's feature vector.
type Row struct {
	CustomerID      string
	Values          []float64 // aligned with Table.Columns
	FirstPayment    time.Time
	LastPayment     time.Time
	RegDate         time.Time
	PreferredMethod string
}

// Table is the aggregated feature table. It is built once per run and not
// modified afterwards.
type Table struct {
	Columns       []string
	Rows          []Row
	ReferenceDate time.Time

	index map[string]int
}

// NewTable builds a table over the given numeric columns.
func NewTable(columns []string, rows []Row, ref time.Time) *Table {
	t := &Table{
		Columns:       columns,
		Rows:          rows,
		ReferenceDate: ref,
		index:         make(map[string]int, len(columns)),
	}
	for i, c := range columns {
		t.index[c] = i
	}
	return t
}

// Len returns the number of customers.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Index returns the position of a numeric column.
func (t *Table) Index(name string) (int, bool) {
	i, ok := t.index[name]
	return i, ok
}

// Value returns a numeric cell.
func (t *Table) Value(row int, name string) float64 {
	j, ok := t.index[name]
	if !ok {
		return 0
	}
	return t.Rows[row].Values[j]
}

// Column returns a copy of a numeric column.
func (t *Table) Column(name string) ([]float64, error) {
	j, ok := t.index[name]
	if !ok {
		return nil, fmt.Errorf("unknown column %q", name)
	}
	out := make([]float64, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.Values[j]
	}
	return out, nil
}

// Matrix returns a dense copy of the named columns, one row per customer.
func (t *Table) Matrix(names []string) ([][]float64, error) {
	idx := make([]int, len(names))
	for k, name := range names {
		j, ok := t.index[name]
		if !ok {
			return nil, fmt.Errorf("unknown column %q", name)
		}
		idx[k] = j
	}
	out := make([][]float64, len(t.Rows))
	for i, r := range t.Rows {
		row := make([]float64, len(idx))
		for k, j := range idx {
			row[k] = r.Values[j]
		}
		out[i] = row
	}
	return out, nil
}

// Features returns the named columns of one row as a name → value mapping.
func (t *Table) Features(row int) map[string]float64 {
	out := make(map[string]float64, len(t.Columns))
	for j, c := range t.Columns {
		out[c] = t.Rows[row].Values[j]
	}
	return out
}

// CustomerIDs returns the customer ids in row order.
func (t *Table) CustomerIDs() []string {
	out := make([]string, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = r.CustomerID
	}
	return out
}

// ReferenceDate returns the latest payment date across all transactions.
func ReferenceDate(txns []records.Transaction) time.Time {
	var ref time.Time
	for _, tx := range txns {
		if tx.PaymentDate.After(ref) {
			ref = tx.PaymentDate
		}
	}
	return ref
}

type group struct {
	id       string
	orders   map[string]struct{}
	amounts  []float64
	orderAmt []float64
	delays   []float64
	first    time.Time
	last     time.Time
	reg      time.Time
	methods  []string
}

// Aggregate reduces joined transactions to one row per customer, sorted by
// customer id. The reference date is derived once from the data, so the
// result depends only on the input.
func Aggregate(txns []records.Transaction) (*Table, error) {
	if len(txns) == 0 {
		return nil, ErrNoTransactions
	}
	ref := ReferenceDate(txns)

	groups := make(map[string]*group)
	for _, tx := range txns {
		g, ok := groups[tx.CustomerID]
		if !ok {
			g = &group{
				id:     tx.CustomerID,
				orders: make(map[string]struct{}),
				first:  tx.PaymentDate,
				last:   tx.PaymentDate,
				reg:    tx.RegDate,
			}
			groups[tx.CustomerID] = g
		}
		g.orders[tx.OrderID] = struct{}{}
		g.amounts = append(g.amounts, tx.Amount)
		g.orderAmt = append(g.orderAmt, tx.OrderAmount)
		g.delays = append(g.delays, float64(tx.DelayDays))
		if tx.PaymentDate.Before(g.first) {
			g.first = tx.PaymentDate
		}
		if tx.PaymentDate.After(g.last) {
			g.last = tx.PaymentDate
		}
		g.methods = append(g.methods, tx.Method)
	}

	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rows := make([]Row, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, aggregateOne(groups[id], ref))
	}
	return NewTable(append([]string(nil), NumericColumns...), rows, ref), nil
}

func aggregateOne(g *group, ref time.Time) Row {
	count := float64(len(g.amounts))

	var lifetime, frequency float64
	if !g.reg.IsZero() {
		lifetime = float64(records.DaysBetween(g.reg, ref))
		frequency = count / max(lifetime, 1)
	}

	values := []float64{
		float64(len(g.orders)),
		count,
		floats.Sum(g.amounts),
		stat.Mean(g.amounts, nil),
		preprocess.Median(g.amounts),
		preprocess.SampleStdDev(g.amounts),
		floats.Sum(g.orderAmt),
		stat.Mean(g.orderAmt, nil),
		preprocess.Median(g.orderAmt),
		stat.Mean(g.delays, nil),
		preprocess.Median(g.delays),
		floats.Min(g.delays),
		floats.Max(g.delays),
		preprocess.SampleStdDev(g.delays),
		float64(records.DaysBetween(g.last, ref)),
		lifetime,
		frequency,
	}
	for j, v := range values {
		values[j] = preprocess.Finite(v)
	}

	return Row{
		CustomerID:      g.id,
		Values:          values,
		FirstPayment:    g.first,
		LastPayment:     g.last,
		RegDate:         g.reg,
		PreferredMethod: Mode(g.methods),
	}
}

// Mode returns the most frequent non-empty value, breaking ties by first
// occurrence. It returns UnknownMethod when there is none.
func Mode(values []string) string {
	counts := make(map[string]int, len(values))
	best, bestCount := UnknownMethod, 0
	for _, v := range values {
		if v == "" {
			continue
		}
		counts[v]++
	}
	for _, v := range values {
		if v == "" {
			continue
		}
		if c := counts[v]; c > bestCount {
			best, bestCount = v, c
		}
	}
	return best
}
