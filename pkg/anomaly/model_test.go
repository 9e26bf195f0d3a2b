package anomaly

import (
	"bytes"
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/custsegml/pkg/records"
)

func paymentHistory(n int, seed int64) []records.Transaction {
	rng := rand.New(rand.NewSource(seed))
	txns := make([]records.Transaction, n)
	for i := range txns {
		txns[i] = records.Transaction{
			PaymentID:   fmt.Sprintf("p%d", i),
			CustomerID:  fmt.Sprintf("c%d", i%20),
			PaymentDate: base.AddDate(0, 0, i),
			Amount:      100 + 20*rng.NormFloat64(),
			DelayDays:   rng.Intn(15),
		}
	}
	return txns
}

func TestTransactionModelScoresNewBatch(t *testing.T) {
	history := paymentHistory(200, 3)
	report, err := New(DefaultConfig()).DetectTransactions(history)
	require.NoError(t, err)
	m := report.Model
	require.NotNil(t, m)
	assert.Less(t, m.RiskFloor, m.RiskCeil)

	// rescoring the fitted batch reproduces the report
	again, err := m.Score(history)
	require.NoError(t, err)
	assert.Equal(t, report.Records, again.Records)

	// a new batch is judged against the fitted history, not itself
	batch := []records.Transaction{
		{PaymentID: "ok", PaymentDate: base, Amount: 100, DelayDays: 5},
		{PaymentID: "bad", PaymentDate: base, Amount: 90000, DelayDays: 1200},
	}
	scored, err := m.Score(batch)
	require.NoError(t, err)
	require.Len(t, scored.Records, 2)
	assert.Greater(t, scored.Records[1].RiskScore, scored.Records[0].RiskScore)
	assert.True(t, scored.Records[1].FraudFlag)
	assert.True(t, scored.Records[1].UnusualDelay)
	for _, rec := range scored.Records {
		assert.GreaterOrEqual(t, rec.RiskScore, 0.0)
		assert.LessOrEqual(t, rec.RiskScore, 100.0)
	}

	_, err = m.Score(nil)
	assert.ErrorIs(t, err, ErrNoAnomalyData)
}

func TestModelSaveLoad(t *testing.T) {
	e := New(DefaultConfig())
	customers, err := e.DetectCustomers(longDelayTable(t, 15))
	require.NoError(t, err)
	txns, err := e.DetectTransactions(paymentHistory(120, 5))
	require.NoError(t, err)

	m := NewModel(customers, txns)
	path := filepath.Join(t.TempDir(), "models", "anomaly.gob")
	require.NoError(t, m.SaveFile(path))

	loaded, err := LoadModelFile(path)
	require.NoError(t, err)
	require.NotNil(t, loaded.Customers)
	require.NotNil(t, loaded.Transactions)

	table := longDelayTable(t, 15)
	want, err := m.Customers.Score(table)
	require.NoError(t, err)
	got, err := loaded.Customers.Score(table)
	require.NoError(t, err)
	assert.Equal(t, want.Methods, got.Methods)
	assert.Equal(t, want.Records, got.Records)

	batch := paymentHistory(30, 9)
	wantTx, err := m.Transactions.Score(batch)
	require.NoError(t, err)
	gotTx, err := loaded.Transactions.Score(batch)
	require.NoError(t, err)
	assert.Equal(t, wantTx.Records, gotTx.Records)
}

func TestModelPartial(t *testing.T) {
	txns, err := New(DefaultConfig()).DetectTransactions(paymentHistory(50, 1))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, NewModel(nil, txns).Save(&buf))
	loaded, err := LoadModel(&buf)
	require.NoError(t, err)
	assert.Nil(t, loaded.Customers)
	assert.NotNil(t, loaded.Transactions)
}

func TestModelErrors(t *testing.T) {
	empty := NewModel(nil, nil)
	assert.True(t, empty.Empty())
	assert.ErrorIs(t, empty.Save(&bytes.Buffer{}), ErrModel)

	_, err := LoadModel(bytes.NewReader([]byte("not a model")))
	assert.ErrorIs(t, err, ErrModel)

	_, err = LoadModelFile(filepath.Join(t.TempDir(), "absent.gob"))
	assert.ErrorIs(t, err, ErrModel)

	_, err = loadDetector("lof", nil)
	assert.ErrorIs(t, err, ErrModel)
}
