// Package records defines the raw customer, order and payment tables and the
// payment → order → customer join that feeds feature aggregation.
package records

import (
	"time"
)

// Customer is a row of the customer table.
type Customer struct {
	ID       string
	RegDate  time.Time // zero when unknown
	FullName string
	Email    string
	Phone    string
}

// Order is a row of the order table.
type Order struct {
	ID         string
	CustomerID string
	OrderDate  time.Time
	Amount     float64
	Currency   string
}

// Payment is a row of the payment table.
type Payment struct {
	ID          string
	OrderID     string
	PaymentDate time.Time
	Amount      float64
	Method      string
}

// Tables is a full historical snapshot of the three raw tables.
type Tables struct {
	Customers []Customer
	Orders    []Order
	Payments  []Payment
}

// Transaction is a payment resolved to exactly one order and one customer.
type Transaction struct {
	PaymentID   string
	OrderID     string
	CustomerID  string
	PaymentDate time.Time
	OrderDate   time.Time
	RegDate     time.Time
	Amount      float64 // payment amount
	OrderAmount float64
	Currency    string
	Method      string

	// DelayDays is PaymentDate - OrderDate in calendar days. Negative values
	// are kept: a payment may predate its order timestamp.
	DelayDays int
}

// JoinStats reports how many payments survived the join.
type JoinStats struct {
	Payments          int
	Resolved          int
	DroppedNoOrder    int
	DroppedNoCustomer int
}

// Dropped returns the number of payments that failed resolution.
func (s JoinStats) Dropped() int {
	return s.DroppedNoOrder + s.DroppedNoCustomer
}

// Join resolves every payment to its order and customer. Payments whose order
// or customer cannot be found are dropped and counted. When an id appears more
// than once in a table the first row wins.
func Join(t Tables) ([]Transaction, JoinStats) {
	customers := make(map[string]Customer, len(t.Customers))
	for _, c := range t.Customers {
		if _, ok := customers[c.ID]; !ok {
			customers[c.ID] = c
		}
	}
	orders := make(map[string]Order, len(t.Orders))
	for _, o := range t.Orders {
		if _, ok := orders[o.ID]; !ok {
			orders[o.ID] = o
		}
	}

	stats := JoinStats{Payments: len(t.Payments)}
	out := make([]Transaction, 0, len(t.Payments))
	for _, p := range t.Payments {
		o, ok := orders[p.OrderID]
		if !ok {
			stats.DroppedNoOrder++
			continue
		}
		c, ok := customers[o.CustomerID]
		if !ok {
			stats.DroppedNoCustomer++
			continue
		}
		out = append(out, Transaction{
			PaymentID:   p.ID,
			OrderID:     o.ID,
			CustomerID:  c.ID,
			PaymentDate: Day(p.PaymentDate),
			OrderDate:   Day(o.OrderDate),
			RegDate:     Day(c.RegDate),
			Amount:      p.Amount,
			OrderAmount: o.Amount,
			Currency:    o.Currency,
			Method:      p.Method,
			DelayDays:   DaysBetween(o.OrderDate, p.PaymentDate),
		})
	}
	stats.Resolved = len(out)
	return out, stats
}

// CustomerSummary describes a customer regardless of whether any of their
// payments resolved.
type CustomerSummary struct {
	CustomerID     string
	FullName       string
	Email          string
	RegDate        time.Time
	HasPaymentData bool
	NumPayments    int
}

// Summarize lists every customer with the number of resolved payments.
func Summarize(customers []Customer, txns []Transaction) []CustomerSummary {
	counts := make(map[string]int)
	for _, tx := range txns {
		counts[tx.CustomerID]++
	}
	out := make([]CustomerSummary, 0, len(customers))
	for _, c := range customers {
		n := counts[c.ID]
		out = append(out, CustomerSummary{
			CustomerID:     c.ID,
			FullName:       c.FullName,
			Email:          c.Email,
			RegDate:        c.RegDate,
			HasPaymentData: n > 0,
			NumPayments:    n,
		})
	}
	return out
}

// Day truncates t to its calendar date at UTC midnight. The zero time is
// returned unchanged.
func Day(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns b - a in whole calendar days, ignoring time of day and
// location offsets.
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)).Hours() / 24)
}

// IsWeekend reports whether t falls on Saturday or Sunday.
func IsWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
