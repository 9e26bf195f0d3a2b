package records

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestJoin(t *testing.T) {
	tables := Tables{
		Customers: []Customer{
			{ID: "c1", RegDate: date(2022, 1, 1)},
			{ID: "c1", RegDate: date(1999, 1, 1)}, // duplicate, ignored
			{ID: "c2", RegDate: date(2022, 6, 1)},
		},
		Orders: []Order{
			{ID: "o1", CustomerID: "c1", OrderDate: date(2023, 3, 1), Amount: 100},
			{ID: "o2", CustomerID: "c2", OrderDate: date(2023, 3, 10), Amount: 200},
			{ID: "o3", CustomerID: "ghost", OrderDate: date(2023, 3, 10), Amount: 50},
		},
		Payments: []Payment{
			{ID: "p1", OrderID: "o1", PaymentDate: date(2023, 3, 5), Amount: 100, Method: "card"},
			{ID: "p2", OrderID: "o2", PaymentDate: date(2023, 3, 1), Amount: 150, Method: "cash"},
			{ID: "p3", OrderID: "missing", PaymentDate: date(2023, 3, 1), Amount: 1},
			{ID: "p4", OrderID: "o3", PaymentDate: date(2023, 3, 1), Amount: 1},
		},
	}

	txns, stats := Join(tables)
	require.Len(t, txns, 2)
	assert.Equal(t, JoinStats{Payments: 4, Resolved: 2, DroppedNoOrder: 1, DroppedNoCustomer: 1}, stats)
	assert.Equal(t, 2, stats.Dropped())

	assert.Equal(t, "c1", txns[0].CustomerID)
	assert.Equal(t, date(2022, 1, 1), txns[0].RegDate)
	assert.Equal(t, 4, txns[0].DelayDays)
	assert.Equal(t, 100.0, txns[0].OrderAmount)

	// payment before order is kept with a negative delay
	assert.Equal(t, -9, txns[1].DelayDays)
}

func TestDaysBetween(t *testing.T) {
	cet := time.FixedZone("CET", 3600)
	tests := []struct {
		name string
		a, b time.Time
		want int
	}{
		{name: "same day", a: date(2023, 1, 1), b: date(2023, 1, 1), want: 0},
		{name: "forward", a: date(2023, 1, 1), b: date(2023, 3, 1), want: 59},
		{name: "backward", a: date(2023, 3, 1), b: date(2023, 1, 1), want: -59},
		{name: "leap year", a: date(2024, 2, 28), b: date(2024, 3, 1), want: 2},
		{name: "time of day ignored", a: time.Date(2023, 1, 1, 23, 59, 0, 0, time.UTC), b: time.Date(2023, 1, 2, 0, 1, 0, 0, time.UTC), want: 1},
		{name: "offset zone keeps calendar date", a: time.Date(2023, 1, 1, 0, 30, 0, 0, cet), b: date(2023, 1, 2), want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DaysBetween(tt.a, tt.b))
		})
	}
}

func TestDelayMatchesDateSubtraction(t *testing.T) {
	base := date(2021, 1, 1)
	var tables Tables
	tables.Customers = []Customer{{ID: "c", RegDate: base}}
	for i := 0; i < 400; i += 7 {
		id := fmt.Sprintf("o%d", i)
		orderDate := base.AddDate(0, 0, i)
		payDate := base.AddDate(0, 0, (i*13)%500-100)
		tables.Orders = append(tables.Orders, Order{ID: id, CustomerID: "c", OrderDate: orderDate})
		tables.Payments = append(tables.Payments, Payment{ID: "p" + id, OrderID: id, PaymentDate: payDate})
	}

	txns, _ := Join(tables)
	require.Len(t, txns, len(tables.Payments))
	for _, tx := range txns {
		want := int(tx.PaymentDate.Sub(tx.OrderDate) / (24 * time.Hour))
		assert.Equal(t, want, tx.DelayDays, tx.PaymentID)
	}
}

func TestSummarize(t *testing.T) {
	customers := []Customer{{ID: "a"}, {ID: "b"}}
	txns := []Transaction{{CustomerID: "a"}, {CustomerID: "a"}}

	got := Summarize(customers, txns)
	require.Len(t, got, 2)
	assert.True(t, got[0].HasPaymentData)
	assert.Equal(t, 2, got[0].NumPayments)
	assert.False(t, got[1].HasPaymentData)
	assert.Equal(t, 0, got[1].NumPayments)
}

func TestIsWeekend(t *testing.T) {
	assert.True(t, IsWeekend(date(2024, 6, 1)))  // Saturday
	assert.True(t, IsWeekend(date(2024, 6, 2)))  // Sunday
	assert.False(t, IsWeekend(date(2024, 6, 3))) // Monday
}
