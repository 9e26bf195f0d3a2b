package synth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/custsegml/pkg/records"
)

func TestGenerateDeterministic(t *testing.T) {
	a := Generate(DefaultConfig())
	b := Generate(DefaultConfig())
	assert.Equal(t, a, b)

	cfg := DefaultConfig()
	cfg.Seed = 7
	assert.NotEqual(t, a, Generate(cfg))
}

func TestGenerateShape(t *testing.T) {
	cfg := DefaultConfig()
	tables := Generate(cfg)

	require.Len(t, tables.Customers, cfg.Customers+cfg.Outliers)
	assert.GreaterOrEqual(t, len(tables.Orders), cfg.Customers)

	txns, stats := records.Join(tables)
	assert.Equal(t, cfg.Orphans, stats.DroppedNoOrder)
	assert.Equal(t, 0, stats.DroppedNoCustomer)

	seen := make(map[string]bool)
	for _, tx := range txns {
		seen[tx.CustomerID] = true
		assert.False(t, tx.PaymentDate.Before(tx.OrderDate))
		assert.Contains(t, Methods, tx.Method)
	}
	assert.Len(t, seen, cfg.Customers+cfg.Outliers, "every customer pays at least once")
}

func TestOutliersAreLate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Customers = 8
	cfg.Orphans = 0
	txns, _ := records.Join(Generate(cfg))

	late := make(map[string]bool)
	for _, tx := range txns {
		if tx.DelayDays >= 1400 {
			late[tx.CustomerID] = true
		}
	}
	assert.Len(t, late, cfg.Outliers)
}

func TestZeroEndUsesDefault(t *testing.T) {
	cfg := DefaultConfig()
	cfg.End = time.Time{}
	assert.Equal(t, Generate(DefaultConfig()), Generate(cfg))
}
