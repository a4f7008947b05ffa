package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teranos/dmypyls/analysis"
	"github.com/teranos/dmypyls/errors"
	"github.com/teranos/dmypyls/worker"
)

// Compile-time checks
var (
	_ worker.Observer      = (*SessionRecorder)(nil)
	_ worker.StateObserver = (*SessionRecorder)(nil)
	_ analysis.Observer    = (*SessionRecorder)(nil)
)

func TestRecorderCommands(t *testing.T) {
	r := NewRecorder(prometheus.NewRegistry())

	check := worker.Command{Subcommand: worker.SubcommandCheck}
	r.CommandStarted(check, 10*time.Millisecond)
	r.CommandFinished(check, worker.Result{Duration: time.Second})
	r.CommandFinished(check, worker.Result{Err: errors.New("exit 1"), Duration: time.Second})
	r.CommandFinished(check, worker.Result{Duration: time.Second})

	assert.Equal(t, 2.0, testutil.ToFloat64(r.commandsTotal.WithLabelValues("check", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.commandsTotal.WithLabelValues("check", "failed")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.commandWait))
}

func TestRecorderWorkerState(t *testing.T) {
	r := NewRecorder(prometheus.NewRegistry())
	s := r.Session("conn-1")

	s.WorkerState(worker.StateStarting)
	s.WorkerState(worker.StateReady)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.workers.WithLabelValues("ready")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.workers.WithLabelValues("starting")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.workers.WithLabelValues("not_started")))
}

func TestRecorderAggregatesSessions(t *testing.T) {
	r := NewRecorder(prometheus.NewRegistry())
	a := r.Session("conn-1")
	b := r.Session("conn-2")

	a.WorkerState(worker.StateStarting)
	a.QueueDepth(3)
	b.WorkerState(worker.StateReady)
	b.QueueDepth(0)

	// b changing last must not hide a
	assert.Equal(t, 1.0, testutil.ToFloat64(r.workers.WithLabelValues("starting")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.workers.WithLabelValues("ready")))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.queuedPaths))

	b.QueueDepth(2)
	assert.Equal(t, 5.0, testutil.ToFloat64(r.queuedPaths))

	a.Close()
	assert.Equal(t, 0.0, testutil.ToFloat64(r.workers.WithLabelValues("starting")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.workers.WithLabelValues("ready")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.queuedPaths))

	// Late events from a closed session are dropped
	a.WorkerState(worker.StateReady)
	a.QueueDepth(7)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.workers.WithLabelValues("ready")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.queuedPaths))
}

func TestRecorderAnalysis(t *testing.T) {
	r := NewRecorder(prometheus.NewRegistry())
	s := r.Session("conn-1")

	s.QueueDepth(3)
	s.DefinitionResolved(analysis.OutcomeFound)
	s.DefinitionResolved(analysis.OutcomeNotFound)
	s.DefinitionResolved(analysis.OutcomeFound)

	assert.Equal(t, 3.0, testutil.ToFloat64(r.queuedPaths))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.definitionResults.WithLabelValues("found")))
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)
	r.DefinitionResolved(analysis.OutcomeFound)

	var ready atomic.Bool
	srv := httptest.NewServer(Handler(reg, func() (any, bool) {
		return map[string]bool{"ready": ready.Load()}, ready.Load()
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.True(t, strings.Contains(string(body), `dmypyls_definition_requests_total{outcome="found"} 1`))

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	ready.Store(true)
	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ready": true}`, string(body))
}
