package csv

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tableio "github.com/hed1ad/custsegml/pkg/io"
	"github.com/hed1ad/custsegml/pkg/records"
)

// Writer writes each export table to <dir>/<name>.csv.
type Writer struct {
	dir   string
	comma rune
}

// NewWriter creates dir if needed and returns a writer into it.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Writer{dir: dir, comma: ','}, nil
}

// Path returns the file a table of the given name is written to.
func (w *Writer) Path(name string) string {
	return filepath.Join(w.dir, name+".csv")
}

// WriteTable writes t with its header row, replacing any previous file only
// once the new one is complete.
func (w *Writer) WriteTable(t tableio.Table) error {
	tmp, err := os.CreateTemp(w.dir, "."+t.Name+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	cw := csv.NewWriter(tmp)
	cw.Comma = w.comma
	if err := cw.Write(t.Header); err != nil {
		tmp.Close()
		return err
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), w.Path(t.Name))
}

// Close releases resources.
func (w *Writer) Close() error {
	return nil
}

// RawTables encodes a snapshot with the plain column names, named so that
// a Writer produces the files a Reader expects by default.
func RawTables(t records.Tables) []tableio.Table {
	customers := tableio.Table{
		Name:   tableName(DefaultFiles().Customers),
		Header: []string{"customer_id", "reg_date", "full_name", "email", "phone"},
	}
	for _, c := range t.Customers {
		customers.Append(c.ID, formatDate(c.RegDate), c.FullName, c.Email, c.Phone)
	}

	orders := tableio.Table{
		Name:   tableName(DefaultFiles().Orders),
		Header: []string{"order_id", "customer_id", "order_date", "amount", "currency"},
	}
	for _, o := range t.Orders {
		orders.Append(o.ID, o.CustomerID, formatDate(o.OrderDate), formatAmount(o.Amount), o.Currency)
	}

	payments := tableio.Table{
		Name:   tableName(DefaultFiles().Payments),
		Header: []string{"payment_id", "order_id", "payment_date", "amount", "method"},
	}
	for _, p := range t.Payments {
		payments.Append(p.ID, p.OrderID, formatDate(p.PaymentDate), formatAmount(p.Amount), p.Method)
	}
	return []tableio.Table{customers, orders, payments}
}

func tableName(file string) string {
	return strings.TrimSuffix(file, filepath.Ext(file))
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DefaultLayouts[0])
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
