// Package mysql reads the raw customer, order and payment tables from a MySQL
// or MariaDB database.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	driver "github.com/go-sql-driver/mysql"

	"github.com/hed1ad/custsegml/pkg/records"
)

// ErrTableName is returned for table names that are not plain identifiers.
var ErrTableName = errors.New("invalid table name")

var identifier = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Open connects using a mysql:// or mariadb:// URL, or a native driver DSN.
func Open(dsn string) (*sql.DB, error) {
	native, err := toMySQLDSN(dsn)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", native)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// toMySQLDSN converts URL-style DSNs to the driver format. Dates are parsed
// as UTC so calendar-day arithmetic is not shifted by the host zone. Native
// DSNs pass through unchanged once the driver accepts them.
func toMySQLDSN(dsn string) (string, error) {
	if strings.HasPrefix(dsn, "mariadb://") || strings.HasPrefix(dsn, "mysql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("parse dsn: %w", err)
		}
		var user, pass string
		if u.User != nil {
			user = u.User.Username()
			pass, _ = u.User.Password()
		}
		host := u.Host
		db := strings.TrimPrefix(u.Path, "/")
		if user == "" || host == "" || db == "" {
			return "", errors.New("incomplete dsn: user, host and database are required")
		}
		if u.Port() == "" {
			host += ":3306"
		}
		dsn = fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true&loc=UTC&interpolateParams=true",
			user, pass, host, db)
	}
	if _, err := driver.ParseDSN(dsn); err != nil {
		return "", fmt.Errorf("parse dsn: %w", err)
	}
	return dsn, nil
}

// Tables names the three source tables.
type Tables struct {
	Customers string `yaml:"customers"`
	Orders    string `yaml:"orders"`
	Payments  string `yaml:"payments"`
}

// DefaultTables returns the conventional table names.
func DefaultTables() Tables {
	return Tables{Customers: "customers", Orders: "orders", Payments: "payments"}
}

// Validate checks every name is a plain identifier, since names are
// interpolated into queries.
func (t Tables) Validate() error {
	for _, name := range []string{t.Customers, t.Orders, t.Payments} {
		if !identifier.MatchString(name) {
			return fmt.Errorf("%w: %q", ErrTableName, name)
		}
	}
	return nil
}

// Reader loads a snapshot with one query per table.
type Reader struct {
	db      *sql.DB
	tables  Tables
	owned   bool
	skipped map[string]int
}

// Option configures a Reader.
type Option func(*Reader)

// WithTables overrides the source table names.
func WithTables(t Tables) Option {
	return func(r *Reader) {
		r.tables = t
	}
}

// NewReader reads through an existing connection pool. Close leaves db open.
func NewReader(db *sql.DB, opts ...Option) (*Reader, error) {
	r := &Reader{db: db, tables: DefaultTables(), skipped: make(map[string]int)}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.tables.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// OpenReader opens dsn and returns a reader that owns the pool.
func OpenReader(dsn string, opts ...Option) (*Reader, error) {
	db, err := Open(dsn)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	r.owned = true
	return r, nil
}

// ReadTables loads the three tables. Rows with a NULL identifier, date or
// amount are skipped and counted; a NULL registration date means unknown.
func (r *Reader) ReadTables(ctx context.Context) (records.Tables, error) {
	var t records.Tables
	var err error

	if t.Customers, err = r.readCustomers(ctx); err != nil {
		return records.Tables{}, fmt.Errorf("read %s: %w", r.tables.Customers, err)
	}
	if t.Orders, err = r.readOrders(ctx); err != nil {
		return records.Tables{}, fmt.Errorf("read %s: %w", r.tables.Orders, err)
	}
	if t.Payments, err = r.readPayments(ctx); err != nil {
		return records.Tables{}, fmt.Errorf("read %s: %w", r.tables.Payments, err)
	}
	return t, nil
}

// Skipped returns the number of rows dropped per table.
func (r *Reader) Skipped() map[string]int {
	out := make(map[string]int, len(r.skipped))
	for k, v := range r.skipped {
		out[k] = v
	}
	return out
}

// Stats exposes the pool statistics.
func (r *Reader) Stats() sql.DBStats {
	return r.db.Stats()
}

// Close releases the pool when the reader opened it.
func (r *Reader) Close() error {
	if r.owned {
		return r.db.Close()
	}
	return nil
}

func (r *Reader) readCustomers(ctx context.Context) ([]records.Customer, error) {
	q := fmt.Sprintf("SELECT customer_id, reg_date, full_name, email, phone FROM %s ORDER BY customer_id", r.tables.Customers)
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []records.Customer
	skipped := 0
	for rows.Next() {
		var id, name, email, phone sql.NullString
		var reg sql.NullTime
		if err := rows.Scan(&id, &reg, &name, &email, &phone); err != nil {
			return nil, err
		}
		if !id.Valid || strings.TrimSpace(id.String) == "" {
			skipped++
			continue
		}
		c := records.Customer{
			ID:       strings.TrimSpace(id.String),
			FullName: name.String,
			Email:    email.String,
			Phone:    phone.String,
		}
		if reg.Valid {
			c.RegDate = records.Day(reg.Time)
		}
		out = append(out, c)
	}
	r.skipped[r.tables.Customers] = skipped
	return out, rows.Err()
}

func (r *Reader) readOrders(ctx context.Context) ([]records.Order, error) {
	q := fmt.Sprintf("SELECT order_id, customer_id, order_date, amount, currency FROM %s ORDER BY order_id", r.tables.Orders)
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []records.Order
	skipped := 0
	for rows.Next() {
		var id, cust, currency sql.NullString
		var date sql.NullTime
		var amount sql.NullFloat64
		if err := rows.Scan(&id, &cust, &date, &amount, &currency); err != nil {
			return nil, err
		}
		if !id.Valid || !cust.Valid || !date.Valid || !amount.Valid {
			skipped++
			continue
		}
		out = append(out, records.Order{
			ID:         strings.TrimSpace(id.String),
			CustomerID: strings.TrimSpace(cust.String),
			OrderDate:  records.Day(date.Time),
			Amount:     amount.Float64,
			Currency:   currency.String,
		})
	}
	r.skipped[r.tables.Orders] = skipped
	return out, rows.Err()
}

func (r *Reader) readPayments(ctx context.Context) ([]records.Payment, error) {
	q := fmt.Sprintf("SELECT payment_id, order_id, payment_date, amount, method FROM %s ORDER BY payment_id", r.tables.Payments)
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []records.Payment
	skipped := 0
	for rows.Next() {
		var id, order, method sql.NullString
		var date sql.NullTime
		var amount sql.NullFloat64
		if err := rows.Scan(&id, &order, &date, &amount, &method); err != nil {
			return nil, err
		}
		if !id.Valid || !order.Valid || !date.Valid || !amount.Valid {
			skipped++
			continue
		}
		out = append(out, records.Payment{
			ID:          strings.TrimSpace(id.String),
			OrderID:     strings.TrimSpace(order.String),
			PaymentDate: records.Day(date.Time),
			Amount:      amount.Float64,
			Method:      method.String,
		})
	}
	r.skipped[r.tables.Payments] = skipped
	return out, rows.Err()
}
