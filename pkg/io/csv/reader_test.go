package csv

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tableio "github.com/hed1ad/custsegml/pkg/io"
	"github.com/hed1ad/custsegml/pkg/records"
	"github.com/hed1ad/custsegml/pkg/synth"
)

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestReadTablesPlainColumns(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"customers.csv": "customer_id,reg_date,full_name,email,phone\n" +
			"1,2023-01-15,Ann Lee,ann@example.com,555\n" +
			"2,,Bob Roy,bob@example.com,\n",
		"orders.csv": "order_id,customer_id,order_date,amount,currency\n" +
			"o1,1,2023-02-01,100.5,USD\n" +
			"o2,2,2023-02-03,20,USD\n",
		"payments.csv": "payment_id,order_id,payment_date,amount,method\n" +
			"p1,o1,2023-02-11,100.5,card\n" +
			"p2,o2,2023-01-30,20,cash\n",
	})

	r, err := NewReader(dir)
	require.NoError(t, err)
	defer r.Close()

	tables, err := r.ReadTables(context.Background())
	require.NoError(t, err)

	require.Len(t, tables.Customers, 2)
	assert.Equal(t, records.Customer{ID: "1", RegDate: day(2023, 1, 15), FullName: "Ann Lee", Email: "ann@example.com", Phone: "555"}, tables.Customers[0])
	assert.True(t, tables.Customers[1].RegDate.IsZero())

	require.Len(t, tables.Orders, 2)
	assert.Equal(t, records.Order{ID: "o1", CustomerID: "1", OrderDate: day(2023, 2, 1), Amount: 100.5, Currency: "USD"}, tables.Orders[0])

	require.Len(t, tables.Payments, 2)
	assert.Equal(t, records.Payment{ID: "p2", OrderID: "o2", PaymentDate: day(2023, 1, 30), Amount: 20, Method: "cash"}, tables.Payments[1])

	txns, stats := records.Join(tables)
	assert.Equal(t, 0, stats.Dropped())
	assert.Equal(t, 10, txns[0].DelayDays)
	assert.Equal(t, -4, txns[1].DelayDays)

	assert.Equal(t, map[string]int{"customers.csv": 0, "orders.csv": 0, "payments.csv": 0}, r.Skipped())
}

func TestReadTablesCleanedExportColumns(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"clean_customers.csv": "CUSTOMER_ID_NORM,FULL_NAME_CLEAN,EMAIL_CLEAN,PHONE_CLEAN,REG_DATE_CLEAN,DQ_SCORE\n" +
			"12.0,Ann Lee,ann@example.com,555,05-MAR-23,0.9\n",
		"clean_orders.csv": "ORDER_ID_CLEAN,CUSTOMER_ID_NORM,ORDER_DATE_CLEAN,AMOUNT_NUM,CURRENCY_CLEAN,DQ_SCORE\n" +
			"100,12,01-Apr-23,75,EUR,1\n",
		"clean_payments.csv": "PAYMENT_ID_CLEAN,ORDER_ID_NORM,PAYMENT_DATE_CLEAN,AMOUNT_NUM,PAYMENT_METHOD_CLEAN,DQ_SCORE\n" +
			"900,100.0,03-Apr-23,75,bank_transfer,1\n",
	})

	r, err := NewReader(dir, WithFiles(Files{
		Customers: "clean_customers.csv",
		Orders:    "clean_orders.csv",
		Payments:  "clean_payments.csv",
	}))
	require.NoError(t, err)

	tables, err := r.ReadTables(context.Background())
	require.NoError(t, err)

	require.Len(t, tables.Customers, 1)
	assert.Equal(t, "12", tables.Customers[0].ID)
	assert.Equal(t, day(2023, 3, 5), tables.Customers[0].RegDate)

	txns, stats := records.Join(tables)
	require.Equal(t, 1, stats.Resolved)
	assert.Equal(t, "12", txns[0].CustomerID)
	assert.Equal(t, "bank_transfer", txns[0].Method)
	assert.Equal(t, 2, txns[0].DelayDays)
}

func TestMalformedRowsSkipped(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"customers.csv": "customer_id,reg_date\n" +
			"1,2023-01-01\n" +
			",2023-01-01\n" +
			"2,not a date\n",
		"orders.csv": "order_id,customer_id,order_date,amount\n" +
			"o1,1,2023-02-01,10\n" +
			"o2,1,yesterday,10\n" +
			"o3,1,2023-02-01,ten\n" +
			"o4,1,2023-02-01,NaN\n" +
			"o5,1,,10\n",
		"payments.csv": "payment_id,order_id,payment_date,amount\n" +
			"p1,o1,2023-02-02,10\n" +
			"p2,o1,2023-02-02,1\"0\n" +
			"p3,,2023-02-02,10\n" +
			"p4,o1,2023-02-03,4\n",
	})

	r, err := NewReader(dir)
	require.NoError(t, err)
	tables, err := r.ReadTables(context.Background())
	require.NoError(t, err)

	// A bad registration date is not fatal for the customer row.
	assert.Len(t, tables.Customers, 2)
	assert.Len(t, tables.Orders, 1)
	require.Len(t, tables.Payments, 2)
	assert.Equal(t, "p4", tables.Payments[1].ID)
	assert.Equal(t, map[string]int{"customers.csv": 1, "orders.csv": 4, "payments.csv": 2}, r.Skipped())
}

func TestMissingColumn(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"customers.csv": "customer_id\n1\n",
		"orders.csv":    "order_id,customer_id,amount\no1,1,10\n",
		"payments.csv":  "payment_id,order_id,payment_date,amount\n",
	})
	r, err := NewReader(dir)
	require.NoError(t, err)
	_, err = r.ReadTables(context.Background())
	assert.ErrorIs(t, err, ErrMissingColumn)
	assert.Contains(t, err.Error(), "orders.csv")
}

func TestReaderErrors(t *testing.T) {
	_, err := NewReader(filepath.Join(t.TempDir(), "absent"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	dir := writeFiles(t, map[string]string{"customers.csv": ""})
	_, err = NewReader(filepath.Join(dir, "customers.csv"))
	assert.Error(t, err)

	r, err := NewReader(dir)
	require.NoError(t, err)
	_, err = r.ReadTables(context.Background())
	assert.Error(t, err, "empty file has no header")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.ReadTables(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNormalizeID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"12", "12"},
		{"12.0", "12"},
		{" 7 ", "7"},
		{"12.5", "12.5"},
		{"abc", "abc"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeID(tt.in), tt.in)
	}
}

func TestWriterRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	w, err := NewWriter(dir)
	require.NoError(t, err)

	table := tableio.Table{Name: "customer_segments", Header: []string{"customer_id", "segment"}}
	table.Append("1", "0")
	table.Append("2, with comma", "3")
	require.NoError(t, w.WriteTable(table))
	require.NoError(t, w.Close())

	f, err := os.Open(w.Path("customer_segments"))
	require.NoError(t, err)
	defer f.Close()
	got, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"customer_id", "segment"}, {"1", "0"}, {"2, with comma", "3"}}, got)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRawTablesRoundTrip(t *testing.T) {
	want := synth.Generate(synth.DefaultConfig())
	dir := t.TempDir()
	w, err := NewWriter(dir)
	require.NoError(t, err)
	for _, table := range RawTables(want) {
		require.NoError(t, w.WriteTable(table))
	}

	r, err := NewReader(dir)
	require.NoError(t, err)
	got, err := r.ReadTables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
