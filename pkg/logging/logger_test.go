package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		mode    string
		level   string
		wantErr bool
	}{
		{name: "development default level", mode: "dev", level: ""},
		{name: "production debug", mode: "prod", level: "debug"},
		{name: "upper case level", mode: "json", level: "WARN"},
		{name: "bad level", mode: "dev", level: "loud", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.mode, tt.level)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, l.SugaredLogger)
		})
	}
}

func TestFieldsAreStructured(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := Wrap(zap.New(core)).With("run_id", "r1")

	l.Info("stage finished", "stage", "segment", "customers", 12)
	l.Debug("detail")

	entries := logs.All()
	require.Len(t, entries, 2)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "r1", ctx["run_id"])
	assert.Equal(t, "segment", ctx["stage"])
	assert.EqualValues(t, 12, ctx["customers"])
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	l := Nop()
	assert.Same(t, l, OrNop(l))
	l.Warn("discarded")
}
