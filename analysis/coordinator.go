// Package analysis is the background analysis coordinator: it decides when
// files are sent to the dmypy worker, holds requests back until the worker is
// ready, and turns worker output into editor locations.
//
// One Coordinator serves one editor session. It holds all mutable session
// state and is safe for concurrent use by the protocol handlers.
package analysis

import (
	"context"
	"fmt"
	"sync"

	"github.com/teranos/dmypyls/errors"
	"github.com/teranos/dmypyls/logger"
	"github.com/teranos/dmypyls/position"
	"github.com/teranos/dmypyls/worker"
	"go.uber.org/zap"
)

// SavePolicy is what a saved file triggers.
type SavePolicy string

const (
	// SaveRecheck re-checks the workspace on save and skips saves that
	// arrive before the worker is ready.
	SaveRecheck SavePolicy = "recheck"
	// SaveCheck checks the saved file, queueing it until the worker is ready.
	SaveCheck SavePolicy = "check"
)

// ParseSavePolicy validates s.
func ParseSavePolicy(s string) (SavePolicy, error) {
	switch p := SavePolicy(s); p {
	case SaveRecheck, SaveCheck:
		return p, nil
	default:
		return "", errors.Newf("unknown save policy %q (want %q or %q)", s, SaveRecheck, SaveCheck)
	}
}

// Options configures a Coordinator.
type Options struct {
	Supervisor *worker.Supervisor
	OnSave     SavePolicy
	Observer   Observer
	Logger     *zap.SugaredLogger
}

// Coordinator owns the analysis state of one editor session.
type Coordinator struct {
	supervisor *worker.Supervisor
	queue      *Queue
	dispatcher *Dispatcher
	resolver   *Resolver
	onSave     SavePolicy
	logger     *zap.SugaredLogger

	mu       sync.Mutex
	root     string
	shutdown bool
}

// NewCoordinator wires a Coordinator around opts.Supervisor. The Supervisor
// must not be shared with another Coordinator.
func NewCoordinator(opts Options) *Coordinator {
	log := opts.Logger
	if log == nil {
		log = logger.ComponentLogger("analysis")
	}
	onSave := opts.OnSave
	if onSave == "" {
		onSave = SaveRecheck
	}

	c := &Coordinator{
		supervisor: opts.Supervisor,
		onSave:     onSave,
		logger:     log,
	}
	c.dispatcher = NewDispatcher(opts.Supervisor, log.Named("dispatch"))
	c.resolver = NewResolver(c.dispatcher, opts.Supervisor.WorkerVersion, opts.Observer, log.Named("definition"))
	c.queue = NewQueue(opts.Supervisor.IsReady, c.dispatchCheck, opts.Observer)
	opts.Supervisor.SetDrainer(c.queue)
	return c
}

func (c *Coordinator) dispatchCheck(path string) {
	if err := c.dispatcher.Check(path); err != nil {
		c.logger.Warnw("check not dispatched", logger.FieldPath, path, logger.FieldError, err.Error())
	}
}

// OnInitialize records the workspace root and starts the worker. The root
// can only be set once.
func (c *Coordinator) OnInitialize(root string) error {
	if root == "" {
		return errors.WithStack(errors.ErrNoRootPath)
	}

	c.mu.Lock()
	if c.root != "" {
		existing := c.root
		c.mu.Unlock()
		return errors.Wrapf(errors.ErrRootAlreadySet, "root is %s", existing)
	}
	c.root = root
	c.mu.Unlock()

	c.logger.Infow("initializing", logger.FieldRoot, root)
	return c.supervisor.Start(root)
}

// OnFileSaved applies the save policy to path.
func (c *Coordinator) OnFileSaved(path string) {
	switch c.onSave {
	case SaveCheck:
		if c.queue.EnqueueOrDispatch(path) {
			c.logger.Infow("worker not ready, check queued", logger.FieldPath, path, logger.FieldPending, c.queue.Len())
		}
	default:
		if !c.supervisor.IsReady() {
			c.logger.Infow("worker not ready, recheck skipped", logger.FieldPath, path)
			return
		}
		if err := c.dispatcher.Recheck(); err != nil {
			c.logger.Warnw("recheck not dispatched", logger.FieldError, err.Error())
		}
	}
}

// OnDefinitionRequested resolves the definition at pos in path. It returns
// ErrWorkerNotReady before the worker is ready.
func (c *Coordinator) OnDefinitionRequested(ctx context.Context, path string, pos position.Position) (*position.Location, error) {
	if !c.supervisor.IsReady() {
		return nil, errors.Wrapf(errors.ErrWorkerNotReady, "definition in %s", path)
	}
	return c.resolver.Resolve(ctx, path, pos)
}

// OnShutdown stops the worker. Later calls do nothing.
func (c *Coordinator) OnShutdown() {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return
	}
	c.shutdown = true
	c.mu.Unlock()

	c.supervisor.Stop()
}

// Check type-checks path, queueing it until the worker is ready. It reports
// whether the path was queued.
func (c *Coordinator) Check(path string) bool {
	return c.queue.EnqueueOrDispatch(path)
}

// Recheck re-checks the workspace. It fails with ErrWorkerNotReady before the
// worker is ready.
func (c *Coordinator) Recheck() error {
	return c.dispatcher.Recheck()
}

// Restart stops the worker and starts a new session on the same root.
// Paths still queued are checked once the new session is ready.
func (c *Coordinator) Restart() error {
	root := c.Root()
	if root == "" {
		return errors.WithHint(errors.WithStack(errors.ErrNoRootPath), "the editor did not send a workspace root")
	}

	c.supervisor.Stop()
	return c.supervisor.Start(root)
}

// Root returns the workspace root, empty before OnInitialize.
func (c *Coordinator) Root() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.root
}

// Health is the worker health plus the coordinator's queue.
type Health struct {
	worker.Health
	QueuedPaths int `json:"queued_paths"`
}

// Health returns a snapshot for diagnostics.
func (c *Coordinator) Health() Health {
	return Health{Health: c.supervisor.Health(), QueuedPaths: c.queue.Len()}
}

// String summarizes the health in one line.
func (h Health) String() string {
	s := fmt.Sprintf("worker %s", h.State)
	if h.Degraded {
		s += fmt.Sprintf(" (degraded, launch exit code %d)", h.LaunchExitCode)
	}
	if h.WorkerVersion != "" {
		s += ", dmypy " + h.WorkerVersion
	}
	s += fmt.Sprintf(", %d queued", h.QueuedPaths)
	if h.Daemon != nil && h.Daemon.Running {
		s += fmt.Sprintf(", daemon pid %d", h.Daemon.PID)
	}
	return s
}
