package features

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/custsegml/pkg/records"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func fixture() []records.Transaction {
	tables := records.Tables{
		Customers: []records.Customer{
			{ID: "b", RegDate: date(2023, 1, 1)},
			{ID: "a", RegDate: date(2023, 12, 31)},
			{ID: "n"}, // no registration date
		},
		Orders: []records.Order{
			{ID: "o1", CustomerID: "b", OrderDate: date(2023, 6, 1), Amount: 100},
			{ID: "o2", CustomerID: "b", OrderDate: date(2023, 7, 1), Amount: 300},
			{ID: "o3", CustomerID: "a", OrderDate: date(2024, 1, 10), Amount: 50},
			{ID: "o4", CustomerID: "n", OrderDate: date(2023, 12, 1), Amount: 10},
		},
		Payments: []records.Payment{
			{ID: "p1", OrderID: "o1", PaymentDate: date(2023, 6, 11), Amount: 60, Method: "card"},
			{ID: "p2", OrderID: "o1", PaymentDate: date(2023, 6, 21), Amount: 40, Method: "cash"},
			{ID: "p3", OrderID: "o2", PaymentDate: date(2023, 6, 26), Amount: 300, Method: "cash"},
			{ID: "p4", OrderID: "o3", PaymentDate: date(2024, 1, 10), Amount: 50, Method: "transfer"},
			{ID: "p5", OrderID: "o4", PaymentDate: date(2023, 12, 2), Amount: 10, Method: "card"},
		},
	}
	txns, _ := records.Join(tables)
	return txns
}

func TestAggregate(t *testing.T) {
	table, err := Aggregate(fixture())
	require.NoError(t, err)

	require.Equal(t, 3, table.Len())
	assert.Equal(t, []string{"a", "b", "n"}, table.CustomerIDs())
	assert.Equal(t, date(2024, 1, 10), table.ReferenceDate)

	// customer b: three payments over two orders
	b := 1
	assert.Equal(t, 2.0, table.Value(b, OrderCount))
	assert.Equal(t, 3.0, table.Value(b, PaymentCount))
	assert.Equal(t, 400.0, table.Value(b, AmountSum))
	assert.InDelta(t, 400.0/3, table.Value(b, AmountMean), 1e-9)
	assert.Equal(t, 60.0, table.Value(b, AmountMedian))
	assert.Equal(t, 500.0, table.Value(b, OrderAmountSum))
	assert.Equal(t, 100.0, table.Value(b, OrderAmountMedian))
	// delays: 10, 20, -5
	assert.InDelta(t, 25.0/3, table.Value(b, DelayMean), 1e-9)
	assert.Equal(t, 10.0, table.Value(b, DelayMedian))
	assert.Equal(t, -5.0, table.Value(b, DelayMin))
	assert.Equal(t, 20.0, table.Value(b, DelayMax))
	assert.Greater(t, table.Value(b, DelayStd), 0.0)
	assert.Equal(t, float64(records.DaysBetween(date(2023, 6, 26), date(2024, 1, 10))), table.Value(b, RecencyDays))
	assert.Equal(t, 374.0, table.Value(b, LifetimeDays))
	assert.InDelta(t, 3.0/374, table.Value(b, PaymentFrequency), 1e-12)
	assert.Equal(t, "cash", table.Rows[b].PreferredMethod)
	assert.Equal(t, date(2023, 6, 11), table.Rows[b].FirstPayment)
	assert.Equal(t, date(2023, 6, 26), table.Rows[b].LastPayment)

	// customer a: single payment, std filled with zero, lifetime 10
	a := 0
	assert.Equal(t, 0.0, table.Value(a, AmountStd))
	assert.Equal(t, 0.0, table.Value(a, DelayStd))
	assert.Equal(t, 0.0, table.Value(a, RecencyDays))
	assert.Equal(t, 10.0, table.Value(a, LifetimeDays))
	assert.InDelta(t, 0.1, table.Value(a, PaymentFrequency), 1e-12)

	// customer n: unknown registration date
	n := 2
	assert.Equal(t, 0.0, table.Value(n, LifetimeDays))
	assert.Equal(t, 0.0, table.Value(n, PaymentFrequency))

	for _, r := range table.Rows {
		for _, v := range r.Values {
			assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
		}
	}
}

func TestAggregateLifetimeFloor(t *testing.T) {
	txns := []records.Transaction{
		{CustomerID: "x", OrderID: "o", PaymentDate: date(2024, 1, 1), RegDate: date(2024, 1, 1)},
		{CustomerID: "x", OrderID: "o", PaymentDate: date(2024, 1, 1), RegDate: date(2024, 1, 1)},
	}
	table, err := Aggregate(txns)
	require.NoError(t, err)
	assert.Equal(t, 0.0, table.Value(0, LifetimeDays))
	assert.Equal(t, 2.0, table.Value(0, PaymentFrequency))
}

func TestAggregateEmpty(t *testing.T) {
	_, err := Aggregate(nil)
	assert.ErrorIs(t, err, ErrNoTransactions)
}

func TestAggregateDeterministic(t *testing.T) {
	first, err := Aggregate(fixture())
	require.NoError(t, err)
	txns := fixture()
	// reversed input order must not change the result
	for i, j := 0, len(txns)-1; i < j; i, j = i+1, j-1 {
		txns[i], txns[j] = txns[j], txns[i]
	}
	second, err := Aggregate(txns)
	require.NoError(t, err)

	assert.Equal(t, first.CustomerIDs(), second.CustomerIDs())
	for i := range first.Rows {
		assert.Equal(t, first.Rows[i].Values, second.Rows[i].Values)
	}
}

func TestMatrix(t *testing.T) {
	table, err := Aggregate(fixture())
	require.NoError(t, err)

	m, err := table.Matrix([]string{PaymentCount, OrderCount})
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 2}, m[1])

	_, err = table.Matrix([]string{"nope"})
	assert.Error(t, err)

	col, err := table.Column(PaymentCount)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 3, 1}, col)

	f := table.Features(1)
	assert.Equal(t, 400.0, f[AmountSum])
	assert.Len(t, f, len(NumericColumns))
}

func TestMode(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want string
	}{
		{name: "majority", in: []string{"card", "cash", "cash"}, want: "cash"},
		{name: "tie first wins", in: []string{"transfer", "card", "card", "transfer"}, want: "transfer"},
		{name: "empty", in: nil, want: UnknownMethod},
		{name: "blank ignored", in: []string{"", "", "card"}, want: "card"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Mode(tt.in))
		})
	}
}
