package anomaly

import (
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/custsegml/pkg/detectors/envelope"
	"github.com/hed1ad/custsegml/pkg/detectors/iforest"
	"github.com/hed1ad/custsegml/pkg/detectors/ocsvm"
	"github.com/hed1ad/custsegml/pkg/features"
	"github.com/hed1ad/custsegml/pkg/records"
	"github.com/hed1ad/custsegml/pkg/segment"
)

var base = time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)

type customerShape struct {
	id       string
	payments int
	delay    int
	amount   float64
}

// buildTables creates one order per payment so that each payment carries the
// given delay.
func buildTables(rng *rand.Rand, shapes []customerShape) records.Tables {
	var t records.Tables
	for _, s := range shapes {
		t.Customers = append(t.Customers, records.Customer{ID: s.id, RegDate: base.AddDate(-5, 0, 0)})
		for i := 0; i < s.payments; i++ {
			paid := base.AddDate(0, 0, rng.Intn(300))
			oid := fmt.Sprintf("%s-o%d", s.id, i)
			amount := s.amount * (0.8 + 0.4*rng.Float64())
			t.Orders = append(t.Orders, records.Order{
				ID:         oid,
				CustomerID: s.id,
				OrderDate:  paid.AddDate(0, 0, -s.delay),
				Amount:     amount,
				Currency:   "USD",
			})
			t.Payments = append(t.Payments, records.Payment{
				ID:          fmt.Sprintf("%s-p%d", s.id, i),
				OrderID:     oid,
				PaymentDate: paid,
				Amount:      amount,
				Method:      "card",
			})
		}
	}
	return t
}

func TestConsensusThreshold(t *testing.T) {
	tests := []struct {
		flags []bool
		votes int
		want  bool
	}{
		{[]bool{false, false, false}, 0, false},
		{[]bool{true, false, false}, 1, false},
		{[]bool{false, true, false}, 1, false},
		{[]bool{true, true, false}, 2, true},
		{[]bool{false, true, true}, 2, true},
		{[]bool{true, true, true}, 3, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.flags), func(t *testing.T) {
			votes := Consensus(tt.flags)
			assert.Equal(t, tt.votes, votes)
			assert.Equal(t, tt.want, IsConsensus(votes))
		})
	}
}

func TestRiskScoresBounded(t *testing.T) {
	tests := []struct {
		name   string
		scores []float64
	}{
		{"spread", []float64{-0.7, -0.5, -0.45, -0.3}},
		{"all equal", []float64{-0.42, -0.42, -0.42}},
		{"single", []float64{-0.5}},
		{"large range", []float64{-1e12, 0, 1e12}},
		{"empty", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			risk := RiskScores(tt.scores)
			require.Len(t, risk, len(tt.scores))
			for _, r := range risk {
				assert.False(t, math.IsNaN(r))
				assert.GreaterOrEqual(t, r, 0.0)
				assert.LessOrEqual(t, r, 100.0)
			}
		})
	}

	risk := RiskScores([]float64{-0.8, -0.5, -0.2})
	assert.Equal(t, []float64{100, 50, 0}, risk)
	assert.Equal(t, []float64{DegenerateRisk, DegenerateRisk}, RiskScores([]float64{1, 1}))
}

func TestAbsZScores(t *testing.T) {
	z := AbsZScores([]float64{1, 2, 3})
	assert.InDelta(t, 1.0, z[0], 1e-12)
	assert.InDelta(t, 0.0, z[1], 1e-12)
	assert.InDelta(t, 1.0, z[2], 1e-12)

	assert.Equal(t, []float64{0, 0}, AbsZScores([]float64{5, 5}))
	assert.Equal(t, []float64{0}, AbsZScores([]float64{5}))
}

func TestSignals(t *testing.T) {
	saturday := time.Date(2023, 6, 3, 0, 0, 0, 0, time.UTC)
	monday := time.Date(2023, 6, 5, 0, 0, 0, 0, time.UTC)
	txns := []records.Transaction{
		{Amount: 10, DelayDays: 400, PaymentDate: saturday},
		{Amount: 20, DelayDays: -366, PaymentDate: monday},
		{Amount: 30, DelayDays: 365, PaymentDate: monday},
	}
	s := Signals(txns)
	require.Len(t, s, 3)
	assert.Equal(t, 1.0, s[0][2])
	assert.Equal(t, 0.0, s[1][2])
	assert.Equal(t, 1.0, s[0][3])
	assert.Equal(t, 1.0, s[1][3], "negative delays count by magnitude")
	assert.Equal(t, 0.0, s[2][3], "365 is not above the limit")
}

func TestNoData(t *testing.T) {
	e := New(DefaultConfig())
	_, err := e.DetectCustomers(nil)
	assert.ErrorIs(t, err, ErrNoAnomalyData)
	_, err = e.DetectCustomers(features.NewTable(features.NumericColumns, nil, base))
	assert.ErrorIs(t, err, ErrNoAnomalyData)
	_, err = e.DetectTransactions(nil)
	assert.ErrorIs(t, err, ErrNoAnomalyData)
}

// longDelayTable builds peers ordinary customers plus three variants of the
// delay signal; only x-fifty pays years late.
func longDelayTable(t *testing.T, peers int) *features.Table {
	t.Helper()
	rng := rand.New(rand.NewSource(11))
	shapes := []customerShape{
		{id: "x-one", payments: 1, delay: -10, amount: 200},
		{id: "x-five", payments: 5, delay: 50, amount: 200},
		{id: "x-fifty", payments: 50, delay: 1400, amount: 200},
	}
	for i := 0; i < peers; i++ {
		shapes = append(shapes, customerShape{
			id:       fmt.Sprintf("peer-%02d", i),
			payments: 4 + rng.Intn(6),
			delay:    rng.Intn(20),
			amount:   150 + 100*rng.Float64(),
		})
	}

	txns, stats := records.Join(buildTables(rng, shapes))
	require.Zero(t, stats.Dropped())
	table, err := features.Aggregate(txns)
	require.NoError(t, err)
	return table
}

func TestLongDelayCustomerIsConsensusAnomaly(t *testing.T) {
	tests := []struct {
		name  string
		peers int
	}{
		{"ten peers", 10},
		{"thirty peers", 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table := longDelayTable(t, tt.peers)

			report, err := New(DefaultConfig()).DetectCustomers(table)
			require.NoError(t, err)
			assert.Equal(t, []string{iforest.Name, ocsvm.Name, envelope.Name}, report.Methods)
			require.Len(t, report.Records, table.Len())

			var found bool
			for _, rec := range report.Anomalies() {
				if rec.CustomerID == "x-fifty" {
					found = true
					assert.GreaterOrEqual(t, rec.Consensus, MajorityThreshold)
				}
			}
			assert.True(t, found, "long-delay customer missing from consensus set")

			for _, rec := range report.Records {
				assert.GreaterOrEqual(t, rec.Consensus, 0)
				assert.LessOrEqual(t, rec.Consensus, 3)
				assert.Equal(t, rec.Consensus >= 2, rec.IsAnomaly)
			}

			top := report.Top(iforest.Name, 3)
			require.Len(t, top, 3)
			assert.LessOrEqual(t, top[0].Scores[0], top[1].Scores[0])
			assert.Nil(t, report.Top("missing", 3))

			cmp := report.Compare()
			require.Len(t, cmp, len(CustomerColumns))
			for _, c := range cmp {
				assert.True(t, c.Flagged.Valid)
				assert.True(t, c.Normal.Valid)
			}
		})
	}
}

func TestTopClampsNegativeCount(t *testing.T) {
	report, err := New(DefaultConfig()).DetectCustomers(longDelayTable(t, 10))
	require.NoError(t, err)
	assert.Empty(t, report.Top(iforest.Name, -1))
	assert.Len(t, report.Top(iforest.Name, 100), len(report.Records))

	txns := &TransactionReport{Records: []TransactionRecord{{RiskScore: 1}, {RiskScore: 2}}}
	assert.Empty(t, txns.TopRisk(-3))
	assert.Len(t, txns.TopRisk(5), 2)
}

func TestCustomerModelRescoresWithoutRefit(t *testing.T) {
	table := longDelayTable(t, 12)
	report, err := New(DefaultConfig()).DetectCustomers(table)
	require.NoError(t, err)
	require.NotNil(t, report.Model)
	require.Len(t, report.Model.Detectors, 3)

	again, err := report.Model.Score(table)
	require.NoError(t, err)
	assert.Equal(t, report.Records, again.Records)

	_, err = report.Model.Score(nil)
	assert.ErrorIs(t, err, ErrNoAnomalyData)
}

func TestCompareEmptyGroup(t *testing.T) {
	c := compare("amount", []float64{1, 2}, []bool{false, false})
	assert.False(t, c.Flagged.Valid)
	assert.Equal(t, segment.NotApplicable, c.Flagged.String())
	assert.InDelta(t, 1.5, c.Normal.Value, 1e-12)
}

func TestDetectTransactions(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	var txns []records.Transaction
	for i := 0; i < 200; i++ {
		paid := base.AddDate(0, 0, i)
		txns = append(txns, records.Transaction{
			PaymentID:   fmt.Sprintf("p%d", i),
			CustomerID:  fmt.Sprintf("c%d", i%20),
			PaymentDate: paid,
			Amount:      100 + 20*rng.NormFloat64(),
			DelayDays:   rng.Intn(15),
		})
	}
	txns[7].Amount = 50000
	txns[7].DelayDays = 900

	report, err := New(DefaultConfig()).DetectTransactions(txns)
	require.NoError(t, err)
	require.Len(t, report.Records, len(txns))

	for _, rec := range report.Records {
		assert.GreaterOrEqual(t, rec.RiskScore, 0.0)
		assert.LessOrEqual(t, rec.RiskScore, 100.0)
	}
	top := report.TopRisk(5)
	require.Len(t, top, 5)
	assert.Equal(t, "p7", top[0].PaymentID)
	assert.Equal(t, 100.0, top[0].RiskScore)
	assert.True(t, top[0].FraudFlag)
	assert.True(t, top[0].UnusualDelay)
	assert.GreaterOrEqual(t, report.HighRiskCount(), 1)
	assert.InDelta(t, 10, report.FlaggedCount(), 2)

	cmp := report.Compare()
	require.Len(t, cmp, 2)
	assert.Greater(t, cmp[0].Flagged.Value, cmp[0].Normal.Value)
}

func TestDetectTransactionsDegenerate(t *testing.T) {
	// identical transactions: every raw score ties
	var txns []records.Transaction
	for i := 0; i < 5; i++ {
		txns = append(txns, records.Transaction{PaymentDate: base, Amount: 10})
	}
	report, err := New(DefaultConfig()).DetectTransactions(txns)
	require.NoError(t, err)
	for _, rec := range report.Records {
		assert.Equal(t, DegenerateRisk, rec.RiskScore)
		assert.False(t, rec.FraudFlag)
	}
}
