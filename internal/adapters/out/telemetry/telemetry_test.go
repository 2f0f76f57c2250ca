package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bnema/zerowrap"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.RecordRun("push", true, 2*time.Second)
	m.RecordRun("push", false, time.Second)
	m.RecordRun("push", false, time.Second)
	m.RecordRollback(true)
	m.RecordSignatures("created", 3)
	m.RecordSignatures("removed", 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunTotal.WithLabelValues("push", "true")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RunTotal.WithLabelValues("push", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RollbackTotal.WithLabelValues("true")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SignaturesTotal.WithLabelValues("created")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SignaturesTotal.WithLabelValues("removed")))
}

func TestNewMetrics_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)

	_, err = NewMetrics(reg)
	assert.Error(t, err)
}

func TestProvider_PushDisabled(t *testing.T) {
	p, shutdown, err := NewProvider(Config{})
	require.NoError(t, err)

	assert.NoError(t, p.Push(context.Background()))
	shutdown(zerowrap.WithCtx(context.Background(), zerowrap.Default()))
}

func TestProvider_Push(t *testing.T) {
	var path, body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	p, _, err := NewProvider(Config{PushgatewayURL: server.URL, Job: "quaypush", Grouping: map[string]string{"task_id": "42"}})
	require.NoError(t, err)
	p.Metrics.RecordRun("push", true, time.Second)

	require.NoError(t, p.Push(context.Background()))

	assert.Equal(t, "/metrics/job/quaypush/task_id/42", path)
	assert.Contains(t, body, "quaypush_runs_total")
}
