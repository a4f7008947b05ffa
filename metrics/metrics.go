// Package metrics provides Prometheus-based metrics for the dmypy worker and
// the analysis coordinator.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/teranos/dmypyls/worker"
)

// workerStates are the label values of dmypyls_workers
var workerStates = []worker.State{worker.StateNotStarted, worker.StateStarting, worker.StateReady}

// Recorder owns the process-wide metrics. Counters are shared by every
// session; the gauges are aggregated over the sessions handed out by Session.
type Recorder struct {
	commandsTotal     *prometheus.CounterVec
	commandDuration   *prometheus.HistogramVec
	commandWait       *prometheus.HistogramVec
	workers           *prometheus.GaugeVec
	queuedPaths       prometheus.Gauge
	definitionResults *prometheus.CounterVec

	mu     sync.Mutex
	states map[string]worker.State
	queues map[string]int
}

// NewRecorder registers the metrics with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		commandsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dmypyls_worker_commands_total",
				Help: "Total number of dmypy commands by subcommand and outcome",
			},
			[]string{"subcommand", "outcome"},
		),
		commandDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dmypyls_worker_command_duration_seconds",
				Help:    "Duration of dmypy commands in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"subcommand"},
		),
		commandWait: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dmypyls_worker_command_wait_seconds",
				Help:    "Time commands spent waiting for the worker slot",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"subcommand"},
		),
		workers: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dmypyls_workers",
				Help: "Number of sessions whose dmypy worker is in each lifecycle state",
			},
			[]string{"state"},
		),
		queuedPaths: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "dmypyls_queued_paths",
				Help: "Files waiting for their worker to become ready, over all sessions",
			},
		),
		definitionResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dmypyls_definition_requests_total",
				Help: "Total number of go-to-definition requests by outcome",
			},
			[]string{"outcome"},
		),
		states: make(map[string]worker.State),
		queues: make(map[string]int),
	}
}

// CommandStarted records how long cmd waited for the slot.
func (r *Recorder) CommandStarted(cmd worker.Command, wait time.Duration) {
	r.commandWait.WithLabelValues(cmd.Subcommand).Observe(wait.Seconds())
}

// CommandFinished records the outcome and duration of cmd.
func (r *Recorder) CommandFinished(cmd worker.Command, res worker.Result) {
	r.commandsTotal.WithLabelValues(cmd.Subcommand, res.Outcome()).Inc()
	r.commandDuration.WithLabelValues(cmd.Subcommand).Observe(res.Duration.Seconds())
}

// Session returns the observer for one session. Close it when the session
// ends so it drops out of the gauges.
func (r *Recorder) Session(id string) *SessionRecorder {
	r.mu.Lock()
	r.states[id] = worker.StateNotStarted
	r.queues[id] = 0
	r.updateLocked()
	r.mu.Unlock()
	return &SessionRecorder{Recorder: r, id: id}
}

func (r *Recorder) set(id string, apply func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.states[id]; !ok {
		// closed
		return
	}
	apply()
	r.updateLocked()
}

func (r *Recorder) updateLocked() {
	counts := make(map[worker.State]int, len(workerStates))
	queued := 0
	for id, state := range r.states {
		counts[state]++
		queued += r.queues[id]
	}
	for _, state := range workerStates {
		r.workers.WithLabelValues(state.String()).Set(float64(counts[state]))
	}
	r.queuedPaths.Set(float64(queued))
}

// SessionRecorder implements worker.Observer, worker.StateObserver and
// analysis.Observer for one session.
type SessionRecorder struct {
	*Recorder
	id string
}

// WorkerState records a lifecycle transition of this session's worker.
func (s *SessionRecorder) WorkerState(state worker.State) {
	s.set(s.id, func() { s.states[s.id] = state })
}

// QueueDepth records the number of paths this session has queued.
func (s *SessionRecorder) QueueDepth(n int) {
	s.set(s.id, func() { s.queues[s.id] = n })
}

// Close removes the session from the gauges.
func (s *SessionRecorder) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, s.id)
	delete(s.queues, s.id)
	s.updateLocked()
}

// DefinitionResolved counts a definition request by outcome.
func (r *Recorder) DefinitionResolved(outcome string) {
	r.definitionResults.WithLabelValues(outcome).Inc()
}

// HealthFunc reports the health served on /healthz. ok=false answers 503.
type HealthFunc func() (status any, ok bool)

// Handler serves /metrics from gatherer and /healthz from health.
func Handler(gatherer prometheus.Gatherer, health HealthFunc) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		status, ok := health()
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	})
	return mux
}
