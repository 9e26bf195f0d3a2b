// Package csv reads the raw customer, order and payment tables from CSV files
// and writes export tables back as CSV.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hed1ad/custsegml/pkg/records"
)

// ErrMissingColumn is returned when a required column is absent from the
// header under every accepted alias.
var ErrMissingColumn = errors.New("required column missing")

// Files names the three raw table files inside the input directory.
type Files struct {
	Customers string `yaml:"customers"`
	Orders    string `yaml:"orders"`
	Payments  string `yaml:"payments"`
}

// DefaultFiles returns the conventional file names.
func DefaultFiles() Files {
	return Files{
		Customers: "customers.csv",
		Orders:    "orders.csv",
		Payments:  "payments.csv",
	}
}

// DefaultLayouts are the accepted date layouts, tried in order.
var DefaultLayouts = []string{
	"2006-01-02",
	"02-Jan-06",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// Reader reads a raw table snapshot from a directory of CSV files.
type Reader struct {
	dir     string
	files   Files
	layouts []string
	comma   rune
	skipped map[string]int
}

// Option configures a CSV reader.
type Option func(*Reader)

// WithFiles overrides the table file names.
func WithFiles(f Files) Option {
	return func(r *Reader) {
		r.files = f
	}
}

// WithDateLayouts replaces the accepted date layouts.
func WithDateLayouts(layouts ...string) Option {
	return func(r *Reader) {
		r.layouts = layouts
	}
}

// WithComma sets the field delimiter.
func WithComma(c rune) Option {
	return func(r *Reader) {
		r.comma = c
	}
}

// NewReader creates a reader over dir.
func NewReader(dir string, opts ...Option) (*Reader, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	r := &Reader{
		dir:     dir,
		files:   DefaultFiles(),
		layouts: DefaultLayouts,
		comma:   ',',
		skipped: make(map[string]int),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// ReadTables loads all three tables. Malformed rows are skipped and counted;
// see Skipped.
func (r *Reader) ReadTables(ctx context.Context) (records.Tables, error) {
	var t records.Tables
	var err error

	if t.Customers, err = readFile(ctx, r, r.files.Customers, r.decodeCustomers); err != nil {
		return records.Tables{}, err
	}
	if t.Orders, err = readFile(ctx, r, r.files.Orders, r.decodeOrders); err != nil {
		return records.Tables{}, err
	}
	if t.Payments, err = readFile(ctx, r, r.files.Payments, r.decodePayments); err != nil {
		return records.Tables{}, err
	}
	return t, nil
}

// Skipped returns the number of malformed rows dropped per file name.
func (r *Reader) Skipped() map[string]int {
	out := make(map[string]int, len(r.skipped))
	for k, v := range r.skipped {
		out[k] = v
	}
	return out
}

// Close releases resources. Files are closed as soon as they are read, so
// there is nothing left to release.
func (r *Reader) Close() error {
	return nil
}

func readFile[T any](ctx context.Context, r *Reader, name string, decode func(io.Reader) ([]T, int, error)) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(r.dir, name))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, skipped, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	r.skipped[name] = skipped
	return rows, nil
}

// Column aliases. The upper-case names are the cleaned export column names.
var (
	colCustomerID  = []string{"customer_id", "CUSTOMER_ID_NORM"}
	colFullName    = []string{"full_name", "FULL_NAME_CLEAN"}
	colEmail       = []string{"email", "EMAIL_CLEAN"}
	colPhone       = []string{"phone", "PHONE_CLEAN"}
	colRegDate     = []string{"reg_date", "REG_DATE_CLEAN"}
	colOrderID     = []string{"order_id", "ORDER_ID_CLEAN", "ORDER_ID_NORM"}
	colOrderDate   = []string{"order_date", "ORDER_DATE_CLEAN"}
	colAmount      = []string{"amount", "AMOUNT_NUM"}
	colCurrency    = []string{"currency", "CURRENCY_CLEAN"}
	colPaymentID   = []string{"payment_id", "PAYMENT_ID_CLEAN"}
	colPaymentDate = []string{"payment_date", "PAYMENT_DATE_CLEAN"}
	colMethod      = []string{"method", "payment_method", "PAYMENT_METHOD_CLEAN"}
)

// header maps column aliases to field positions.
type header map[string]int

func newHeader(fields []string) header {
	h := make(header, len(fields))
	for i, f := range fields {
		f = strings.TrimPrefix(strings.TrimSpace(f), "\ufeff")
		h[strings.ToLower(f)] = i
	}
	return h
}

// find returns the position of the first alias present, or -1.
func (h header) find(aliases []string) int {
	for _, a := range aliases {
		if i, ok := h[strings.ToLower(a)]; ok {
			return i
		}
	}
	return -1
}

func (h header) require(aliases []string) (int, error) {
	if i := h.find(aliases); i >= 0 {
		return i, nil
	}
	return -1, fmt.Errorf("%w: %s", ErrMissingColumn, aliases[0])
}

// row gives bounds-checked access to one record.
type row []string

func (r row) get(i int) string {
	if i < 0 || i >= len(r) {
		return ""
	}
	return strings.TrimSpace(r[i])
}

// scan reads the header and feeds every well-formed record to fn. Records
// the CSV parser rejects, and records fn rejects, are counted as skipped.
func (r *Reader) scan(src io.Reader, bind func(h header) error, fn func(rec row) bool) (int, error) {
	cr := csv.NewReader(src)
	cr.Comma = r.comma
	cr.FieldsPerRecord = -1

	fields, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return 0, errors.New("missing header row")
		}
		return 0, err
	}
	h := newHeader(fields)
	if err := bind(h); err != nil {
		return 0, err
	}

	skipped := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				skipped++
				continue // Skip malformed rows
			}
			return 0, err
		}
		if !fn(rec) {
			skipped++
		}
	}
	return skipped, nil
}

func (r *Reader) decodeCustomers(src io.Reader) ([]records.Customer, int, error) {
	var id, reg, name, email, phone int
	var out []records.Customer
	bind := func(h header) (err error) {
		if id, err = h.require(colCustomerID); err != nil {
			return err
		}
		reg, name, email, phone = h.find(colRegDate), h.find(colFullName), h.find(colEmail), h.find(colPhone)
		return nil
	}
	skipped, err := r.scan(src, bind, func(rec row) bool {
		c := records.Customer{
			ID:       normalizeID(rec.get(id)),
			FullName: rec.get(name),
			Email:    rec.get(email),
			Phone:    rec.get(phone),
		}
		if c.ID == "" {
			return false
		}
		// An unparsable registration date is treated as unknown.
		c.RegDate, _ = r.parseDate(rec.get(reg))
		out = append(out, c)
		return true
	})
	return out, skipped, err
}

func (r *Reader) decodeOrders(src io.Reader) ([]records.Order, int, error) {
	var id, cust, date, amount, currency int
	var out []records.Order
	bind := func(h header) (err error) {
		if id, err = h.require(colOrderID); err != nil {
			return err
		}
		if cust, err = h.require(colCustomerID); err != nil {
			return err
		}
		if date, err = h.require(colOrderDate); err != nil {
			return err
		}
		if amount, err = h.require(colAmount); err != nil {
			return err
		}
		currency = h.find(colCurrency)
		return nil
	}
	skipped, err := r.scan(src, bind, func(rec row) bool {
		o := records.Order{
			ID:         normalizeID(rec.get(id)),
			CustomerID: normalizeID(rec.get(cust)),
			Currency:   rec.get(currency),
		}
		if o.ID == "" || o.CustomerID == "" {
			return false
		}
		var err error
		if o.OrderDate, err = r.parseDate(rec.get(date)); err != nil || o.OrderDate.IsZero() {
			return false
		}
		if o.Amount, err = parseAmount(rec.get(amount)); err != nil {
			return false
		}
		out = append(out, o)
		return true
	})
	return out, skipped, err
}

func (r *Reader) decodePayments(src io.Reader) ([]records.Payment, int, error) {
	var id, order, date, amount, method int
	var out []records.Payment
	bind := func(h header) (err error) {
		if id, err = h.require(colPaymentID); err != nil {
			return err
		}
		if order, err = h.require(colOrderID); err != nil {
			return err
		}
		if date, err = h.require(colPaymentDate); err != nil {
			return err
		}
		if amount, err = h.require(colAmount); err != nil {
			return err
		}
		method = h.find(colMethod)
		return nil
	}
	skipped, err := r.scan(src, bind, func(rec row) bool {
		p := records.Payment{
			ID:      normalizeID(rec.get(id)),
			OrderID: normalizeID(rec.get(order)),
			Method:  rec.get(method),
		}
		if p.ID == "" || p.OrderID == "" {
			return false
		}
		var err error
		if p.PaymentDate, err = r.parseDate(rec.get(date)); err != nil || p.PaymentDate.IsZero() {
			return false
		}
		if p.Amount, err = parseAmount(rec.get(amount)); err != nil {
			return false
		}
		out = append(out, p)
		return true
	})
	return out, skipped, err
}

// parseDate tries every configured layout. An empty value is the zero time.
func (r *Reader) parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range r.layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return records.Day(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func parseAmount(s string) (float64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("non-finite amount %q", s)
	}
	return f, nil
}

// normalizeID canonicalizes numeric identifiers so that "12", "12.0" and
// " 12 " all name the same entity. Other identifiers are only trimmed.
func normalizeID(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10)
	}
	return s
}
