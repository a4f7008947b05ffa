package worker

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/teranos/dmypyls/errors"
	"github.com/teranos/dmypyls/logger"
	"go.uber.org/zap"
)

// State is the lifecycle state of the worker.
type State int32

const (
	StateNotStarted State = iota
	StateStarting
	StateReady
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Drainer receives the Ready transition. Drain must call transition exactly
// once and, if it returns true, dispatch whatever it accumulated meanwhile.
type Drainer interface {
	Drain(transition func() bool) int
}

// StateObserver is told about state changes. Optional.
type StateObserver interface {
	WorkerState(state State)
}

// Options configures a Supervisor.
type Options struct {
	Builder  *CommandBuilder
	Executor Executor
	// WorkDir overrides the directory commands run in. Empty means the root.
	WorkDir string
	// StatusFile is dmypy's status file, relative to the work dir.
	StatusFile    string
	Observer      Observer
	StateObserver StateObserver
	Logger        *zap.SugaredLogger
}

// Supervisor owns the worker process: it starts it once per session, stops
// it, and is the only path through which commands reach it.
type Supervisor struct {
	builder       *CommandBuilder
	slot          *Slot
	workDir       string
	statusFile    string
	stateObserver StateObserver
	logger        *zap.SugaredLogger

	mu         sync.Mutex
	drainer    Drainer
	state      State
	root       string
	session    string
	generation uint64
	degraded   bool
	launchExit int
	launchErr  error
	version    *semver.Version
	startedAt  time.Time
	readyAt    time.Time
}

// NewSupervisor creates a Supervisor in StateNotStarted.
func NewSupervisor(opts Options) *Supervisor {
	log := opts.Logger
	if log == nil {
		log = logger.ComponentLogger("worker")
	}
	return &Supervisor{
		builder:       opts.Builder,
		slot:          NewSlot(context.Background(), opts.Executor, opts.Observer),
		workDir:       opts.WorkDir,
		statusFile:    opts.StatusFile,
		stateObserver: opts.StateObserver,
		logger:        log,
	}
}

// SetDrainer installs the component that is drained on the Ready transition.
func (s *Supervisor) SetDrainer(d Drainer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drainer = d
}

// Builder returns the command builder for analysis commands.
func (s *Supervisor) Builder() *CommandBuilder {
	return s.builder
}

// Start launches the worker for root. It returns once the launch commands are
// queued. The worker becomes ready when `run` completes, whatever its exit
// code; a failed launch marks the session degraded.
func (s *Supervisor) Start(root string) error {
	if root == "" {
		return errors.WithStack(errors.ErrNoRootPath)
	}

	s.mu.Lock()
	if s.state != StateNotStarted {
		state := s.state
		s.mu.Unlock()
		return errors.Wrapf(errors.ErrAlreadyStarted, "worker is %s", state)
	}

	s.generation++
	gen := s.generation
	s.root = root
	s.session = uuid.NewString()
	s.degraded = false
	s.launchExit = 0
	s.launchErr = nil
	s.version = nil
	s.startedAt = time.Now()
	s.readyAt = time.Time{}
	s.setStateLocked(StateStarting)

	dir := s.dirLocked()
	versionCmd := s.builder.Version()
	versionCmd.Dir = dir
	runCmd := s.builder.Run(root)
	runCmd.Dir = dir

	versionDone := s.slot.Submit(versionCmd)
	runDone := s.slot.Submit(runCmd)
	session := s.session
	s.mu.Unlock()

	s.logger.Infow("starting worker",
		logger.FieldRoot, root,
		logger.FieldSession, session,
		logger.FieldCommand, runCmd.Line,
	)

	go s.awaitLaunch(gen, versionDone, runDone)
	return nil
}

func (s *Supervisor) awaitLaunch(gen uint64, versionDone, runDone <-chan Result) {
	s.recordVersion(gen, <-versionDone)

	res := <-runDone
	transition := func() bool { return s.markReady(gen, res) }

	s.mu.Lock()
	d := s.drainer
	s.mu.Unlock()

	if d == nil {
		transition()
		return
	}
	d.Drain(transition)
}

func (s *Supervisor) recordVersion(gen uint64, res Result) {
	if res.Failed() {
		s.logger.Warnw("worker version probe failed", logger.FieldError, res.Err.Error())
		return
	}

	v, err := ParseVersion(res.Stdout)
	if err != nil {
		s.logger.Warnw("could not determine worker version", logger.FieldError, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen == s.generation {
		s.version = v
	}
	s.logger.Infow("worker version", logger.FieldVersion, v.String())
}

// markReady applies the Ready transition for launch generation gen. It is a
// no-op when Stop or Restart has moved on to another generation.
func (s *Supervisor) markReady(gen uint64, res Result) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation || s.state != StateStarting {
		s.logger.Debugw("ignoring launch completion from a previous session",
			logger.FieldState, s.state.String())
		return false
	}

	s.readyAt = time.Now()
	s.setStateLocked(StateReady)

	if res.Failed() {
		// dmypy may exit non-zero while racing a daemon that is restarting;
		// the worker is treated as usable anyway and flagged.
		s.degraded = true
		s.launchExit = res.ExitCode
		s.launchErr = res.Err
		s.logger.Warnw("worker launch failed, continuing as ready (degraded)",
			logger.FieldExitCode, res.ExitCode,
			logger.FieldError, res.Err.Error(),
			logger.FieldSession, s.session,
		)
		return true
	}

	s.logger.Infow("worker ready", logger.FieldSession, s.session)
	return true
}

// Stop issues `stop` and resets the state to NotStarted without waiting for
// the command. Safe to call in any state, any number of times.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	prev := s.state
	s.generation++
	s.setStateLocked(StateNotStarted)
	cmd := s.builder.Stop()
	cmd.Dir = s.dirLocked()
	s.slot.Submit(cmd)
	s.mu.Unlock()

	s.logger.Infow("stopping worker", logger.FieldState, prev.String())
}

// Submit queues cmd on the worker. Analysis commands are refused with
// ErrWorkerNotReady unless the worker is ready.
func (s *Supervisor) Submit(cmd Command) (<-chan Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cmd.Kind == KindAnalysis && s.state != StateReady {
		return nil, errors.Wrapf(errors.ErrWorkerNotReady, "%s refused, worker is %s", cmd.Subcommand, s.state)
	}

	cmd.Dir = s.dirLocked()
	return s.slot.Submit(cmd), nil
}

// IsReady reports whether analysis commands may be sent.
func (s *Supervisor) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateReady
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Root returns the workspace root of the current or last session.
func (s *Supervisor) Root() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root
}

// WorkerVersion returns the version reported by the worker, or nil if unknown.
func (s *Supervisor) WorkerVersion() *semver.Version {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

func (s *Supervisor) setStateLocked(state State) {
	s.state = state
	if s.stateObserver != nil {
		s.stateObserver.WorkerState(state)
	}
}

func (s *Supervisor) dirLocked() string {
	if s.workDir != "" {
		return s.workDir
	}
	return s.root
}

// Health is a point-in-time view of the worker.
type Health struct {
	State           string        `json:"state"`
	Ready           bool          `json:"ready"`
	Degraded        bool          `json:"degraded"`
	LaunchExitCode  int           `json:"launch_exit_code,omitempty"`
	LaunchError     string        `json:"launch_error,omitempty"`
	Session         string        `json:"session,omitempty"`
	Root            string        `json:"root,omitempty"`
	WorkerVersion   string        `json:"worker_version,omitempty"`
	StartedAt       time.Time     `json:"started_at,omitempty"`
	ReadyAt         time.Time     `json:"ready_at,omitempty"`
	CommandInFlight bool          `json:"command_in_flight"`
	PendingCommands int           `json:"pending_commands"`
	Daemon          *DaemonStatus `json:"daemon,omitempty"`
}

// Health returns the current health, including a probe of the daemon process
// when the worker has a working directory.
func (s *Supervisor) Health() Health {
	s.mu.Lock()
	h := Health{
		State:          s.state.String(),
		Ready:          s.state == StateReady,
		Degraded:       s.degraded,
		LaunchExitCode: s.launchExit,
		Session:        s.session,
		Root:           s.root,
		StartedAt:      s.startedAt,
		ReadyAt:        s.readyAt,
	}
	if s.launchErr != nil {
		h.LaunchError = s.launchErr.Error()
	}
	if s.version != nil {
		h.WorkerVersion = s.version.String()
	}
	dir := s.dirLocked()
	s.mu.Unlock()

	h.CommandInFlight = s.slot.InFlight()
	h.PendingCommands = s.slot.Pending()

	if dir != "" && s.statusFile != "" {
		status := ProbeDaemon(filepath.Join(dir, s.statusFile))
		h.Daemon = &status
	}
	return h
}
