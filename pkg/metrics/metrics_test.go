package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstancesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.Customers.Set(12)
	assert.Equal(t, 12.0, testutil.ToFloat64(a.Customers))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Customers))
}

func TestStageTimer(t *testing.T) {
	m := New()
	stop := m.Stage("segment")
	stop()
	m.Stage("train")()

	assert.Equal(t, 2, testutil.CollectAndCount(m.StageDuration))
	assert.Equal(t, 2, testutil.CollectAndCount(m.StageDuration, "custseg_stage_duration_seconds"))
	assert.Equal(t, 0, testutil.CollectAndCount(m.StageDuration, "custseg_runs_total"))
}

func TestRunFinished(t *testing.T) {
	m := New()
	at := time.Unix(1_700_000_000, 0)
	m.RunFinished(nil, at)
	m.RunFinished(errors.New("boom"), at.Add(time.Hour))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("error")))
	assert.Equal(t, float64(at.Unix()), testutil.ToFloat64(m.LastSuccess))
}

func TestLabeledGauges(t *testing.T) {
	m := New()
	m.SegmentSize.WithLabelValues("0").Set(40)
	m.SegmentSize.WithLabelValues("1").Set(10)
	m.ModelAccuracy.WithLabelValues("Random Forest", "test").Set(0.93)
	m.CustomerAnomalies.WithLabelValues("consensus").Set(3)

	expected := `
# HELP custseg_segment_size Customers per segment.
# TYPE custseg_segment_size gauge
custseg_segment_size{segment="0"} 40
custseg_segment_size{segment="1"} 10
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry, strings.NewReader(expected), "custseg_segment_size"))
	assert.Equal(t, 0.93, testutil.ToFloat64(m.ModelAccuracy.WithLabelValues("Random Forest", "test")))
}

func TestPush(t *testing.T) {
	var method, path, body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := New()
	m.Customers.Set(5)
	require.NoError(t, m.Push(context.Background(), srv.URL, "custseg", map[string]string{"run": "r1"}))

	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/metrics/job/custseg/run/r1", path)
	assert.NotEmpty(t, body)
}

func TestPushFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	assert.Error(t, New().Push(context.Background(), srv.URL, "custseg", nil))
}
