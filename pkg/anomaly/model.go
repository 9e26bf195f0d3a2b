package anomaly

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hed1ad/custsegml/pkg/detectors"
	"github.com/hed1ad/custsegml/pkg/detectors/envelope"
	"github.com/hed1ad/custsegml/pkg/detectors/iforest"
	"github.com/hed1ad/custsegml/pkg/detectors/ocsvm"
	"github.com/hed1ad/custsegml/pkg/features"
	"github.com/hed1ad/custsegml/pkg/preprocess"
	"github.com/hed1ad/custsegml/pkg/records"
)

// ErrModel wraps every failure to read or decode a saved anomaly model.
var ErrModel = errors.New("invalid anomaly model")

// CustomerModel is the fitted customer-level state: the scaler and the
// voting detectors in report order.
type CustomerModel struct {
	Scaler    preprocess.StandardScaler
	Detectors []detectors.Detector
}

// Score applies the fitted detectors to table without refitting.
func (m *CustomerModel) Score(table *features.Table) (*CustomerReport, error) {
	if table == nil || table.Len() == 0 {
		return nil, ErrNoAnomalyData
	}
	raw, err := table.Matrix(CustomerColumns)
	if err != nil {
		return nil, err
	}
	preprocess.Sanitize(raw)
	scaled, err := m.Scaler.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("standardize customers: %w", err)
	}
	results := make([]detectors.Result, len(m.Detectors))
	for i, d := range m.Detectors {
		if results[i], err = detectors.Score(d, scaled); err != nil {
			return nil, fmt.Errorf("%s: %w", d.Name(), err)
		}
	}
	report := customerReport(table, raw, results)
	report.Model = m
	return report, nil
}

// TransactionModel is the fitted transaction-level state. Signals of new
// transactions are standardized against the fitted batch, and risk is
// rescaled against the fitted score range.
type TransactionModel struct {
	Amount    ZStat
	Delay     ZStat
	Scaler    preprocess.StandardScaler
	Forest    detectors.Detector
	RiskFloor float64
	RiskCeil  float64
}

// Score applies the fitted forest to txns without refitting.
func (m *TransactionModel) Score(txns []records.Transaction) (*TransactionReport, error) {
	if len(txns) == 0 {
		return nil, ErrNoAnomalyData
	}
	sig := signals(txns, m.Amount, m.Delay)
	preprocess.Sanitize(sig)
	scaled, err := m.Scaler.Transform(sig)
	if err != nil {
		return nil, fmt.Errorf("standardize transactions: %w", err)
	}
	res, err := detectors.Score(m.Forest, scaled)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m.Forest.Name(), err)
	}
	report := transactionReport(txns, sig, res, m.RiskFloor, m.RiskCeil)
	report.Model = m
	return report, nil
}

// Model bundles whichever sub-pipelines were fitted in a run. Either part
// may be nil.
type Model struct {
	Customers    *CustomerModel
	Transactions *TransactionModel
}

// NewModel collects the fitted state of the given reports.
func NewModel(customers *CustomerReport, txns *TransactionReport) *Model {
	m := &Model{}
	if customers != nil {
		m.Customers = customers.Model
	}
	if txns != nil {
		m.Transactions = txns.Model
	}
	return m
}

// Empty reports whether neither part was fitted.
func (m *Model) Empty() bool {
	return m.Customers == nil && m.Transactions == nil
}

type modelSnapshot struct {
	Customers    *customerSnapshot
	Transactions *transactionSnapshot
}

type customerSnapshot struct {
	Scaler    preprocess.StandardScaler
	Methods   []string
	Detectors [][]byte
}

type transactionSnapshot struct {
	Amount    ZStat
	Delay     ZStat
	Scaler    preprocess.StandardScaler
	Method    string
	Forest    []byte
	RiskFloor float64
	RiskCeil  float64
}

// Save writes the model to w.
func (m *Model) Save(w io.Writer) error {
	if m.Empty() {
		return fmt.Errorf("%w: nothing fitted", ErrModel)
	}
	var snap modelSnapshot
	if c := m.Customers; c != nil {
		cs := &customerSnapshot{Scaler: c.Scaler}
		for _, d := range c.Detectors {
			blob, err := d.Save()
			if err != nil {
				return fmt.Errorf("save %s: %w", d.Name(), err)
			}
			cs.Methods = append(cs.Methods, d.Name())
			cs.Detectors = append(cs.Detectors, blob)
		}
		snap.Customers = cs
	}
	if t := m.Transactions; t != nil {
		blob, err := t.Forest.Save()
		if err != nil {
			return fmt.Errorf("save %s: %w", t.Forest.Name(), err)
		}
		snap.Transactions = &transactionSnapshot{
			Amount:    t.Amount,
			Delay:     t.Delay,
			Scaler:    t.Scaler,
			Method:    t.Forest.Name(),
			Forest:    blob,
			RiskFloor: t.RiskFloor,
			RiskCeil:  t.RiskCeil,
		}
	}
	return gob.NewEncoder(w).Encode(snap)
}

// LoadModel reads a model from r.
func LoadModel(r io.Reader) (*Model, error) {
	var snap modelSnapshot
	if err := gob.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModel, err)
	}
	m := &Model{}
	if cs := snap.Customers; cs != nil {
		if len(cs.Methods) != len(cs.Detectors) {
			return nil, fmt.Errorf("%w: %d methods, %d detectors", ErrModel, len(cs.Methods), len(cs.Detectors))
		}
		c := &CustomerModel{Scaler: cs.Scaler}
		for i, name := range cs.Methods {
			d, err := loadDetector(name, cs.Detectors[i])
			if err != nil {
				return nil, err
			}
			c.Detectors = append(c.Detectors, d)
		}
		m.Customers = c
	}
	if ts := snap.Transactions; ts != nil {
		d, err := loadDetector(ts.Method, ts.Forest)
		if err != nil {
			return nil, err
		}
		m.Transactions = &TransactionModel{
			Amount:    ts.Amount,
			Delay:     ts.Delay,
			Scaler:    ts.Scaler,
			Forest:    d,
			RiskFloor: ts.RiskFloor,
			RiskCeil:  ts.RiskCeil,
		}
	}
	if m.Empty() {
		return nil, fmt.Errorf("%w: nothing fitted", ErrModel)
	}
	return m, nil
}

func loadDetector(name string, blob []byte) (detectors.Detector, error) {
	var d detectors.Detector
	switch name {
	case iforest.Name:
		d = iforest.New()
	case ocsvm.Name:
		d = ocsvm.New()
	case envelope.Name:
		d = envelope.New()
	default:
		return nil, fmt.Errorf("%w: unknown detector %q", ErrModel, name)
	}
	if err := d.Load(blob); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModel, err)
	}
	return d, nil
}

// SaveFile writes the model to path, replacing any previous model only once
// the new one is fully written.
func (m *Model) SaveFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".anomaly-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := m.Save(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// LoadModelFile reads a model from path.
func LoadModelFile(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModel, err)
	}
	defer f.Close()
	return LoadModel(f)
}
