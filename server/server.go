// Package server exposes dmypyls over the Language Server Protocol. Every
// connection is its own editor session with its own dmypy worker.
package server

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/teranos/dmypyls/analysis"
	"github.com/teranos/dmypyls/config"
	"github.com/teranos/dmypyls/errors"
	"github.com/teranos/dmypyls/logger"
	"github.com/teranos/dmypyls/worker"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Observer receives the worker and analysis events of one session.
// *metrics.SessionRecorder implements it.
type Observer interface {
	worker.Observer
	worker.StateObserver
	analysis.Observer
}

// ObserverFactory returns the observer for a session and the function that
// releases it when the session ends.
type ObserverFactory func(session string) (observer Observer, release func())

// ExecutorFactory creates the executor a session runs worker commands on.
type ExecutorFactory func(shell string, log *zap.SugaredLogger) worker.Executor

// Options configures a Server.
type Options struct {
	Config *config.Config
	// NewExecutor defaults to worker.NewShellExecutor.
	NewExecutor ExecutorFactory
	// Observers is optional.
	Observers ObserverFactory
	Logger    *zap.SugaredLogger
}

// Server accepts editor connections and runs one session per connection.
type Server struct {
	cfg         *config.Config
	onSave      analysis.SavePolicy
	newExecutor ExecutorFactory
	observers   ObserverFactory
	logger      *zap.SugaredLogger

	nextID   atomic.Uint64
	mu       sync.Mutex
	sessions map[string]*Session
}

// New validates opts.Config and creates a Server.
func New(opts Options) (*Server, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	onSave, err := analysis.ParseSavePolicy(cfg.Analysis.OnSave)
	if err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = logger.ComponentLogger("server")
	}
	newExecutor := opts.NewExecutor
	if newExecutor == nil {
		newExecutor = func(shell string, log *zap.SugaredLogger) worker.Executor {
			return worker.NewShellExecutor(shell, log)
		}
	}

	return &Server{
		cfg:         cfg,
		onSave:      onSave,
		newExecutor: newExecutor,
		observers:   opts.Observers,
		logger:      log,
		sessions:    make(map[string]*Session),
	}, nil
}

// Session is one editor connection and the worker it owns.
type Session struct {
	ID          string
	Transport   string
	Coordinator *analysis.Coordinator
	Handler     *Handler

	release func()
}

// newSession builds the worker, coordinator and handler for one connection.
func (s *Server) newSession(ctx context.Context, transport string) (*Session, error) {
	id := fmt.Sprintf("conn-%d", s.nextID.Add(1))
	log := s.logger.With(logger.FieldSession, id, logger.FieldTransport, transport)

	var sink *logger.ClientSink
	if s.cfg.Log.ForwardToClient {
		sink = logger.NewClientSink(zapcore.InfoLevel)
		log = logger.WithClient(log, sink)
	}

	coordinator, release, err := s.NewCoordinator(id, log)
	if err != nil {
		return nil, err
	}

	session := &Session{
		ID:          id,
		Transport:   transport,
		Coordinator: coordinator,
		Handler:     NewHandler(ctx, coordinator, sink, log.Named("lsp")),
		release:     release,
	}

	s.mu.Lock()
	s.sessions[id] = session
	s.mu.Unlock()

	log.Infow("session opened")
	return session, nil
}

// NewCoordinator builds a worker and the coordinator that owns it from the
// server configuration. Sessions and the MCP server both start here. Call
// release once the coordinator has shut down.
func (s *Server) NewCoordinator(session string, log *zap.SugaredLogger) (coordinator *analysis.Coordinator, release func(), err error) {
	builder, err := worker.NewCommandBuilder(s.cfg.Worker.Command, s.cfg.Worker.LogFile, s.cfg.Worker.RunFlags)
	if err != nil {
		return nil, nil, err
	}

	supOpts := worker.Options{
		Builder:    builder,
		Executor:   s.newExecutor(s.cfg.Worker.Shell, log.Named("exec")),
		WorkDir:    s.cfg.Worker.WorkDir,
		StatusFile: s.cfg.Worker.StatusFile,
		Logger:     log.Named("worker"),
	}
	coordOpts := analysis.Options{
		OnSave: s.onSave,
		Logger: log.Named("analysis"),
	}
	release = func() {}
	if s.observers != nil {
		var observer Observer
		observer, release = s.observers(session)
		supOpts.Observer = observer
		supOpts.StateObserver = observer
		coordOpts.Observer = observer
	}
	coordOpts.Supervisor = worker.NewSupervisor(supOpts)
	return analysis.NewCoordinator(coordOpts), release, nil
}

func (s *Server) closeSession(session *Session) {
	session.Handler.Close()
	session.release()

	s.mu.Lock()
	delete(s.sessions, session.ID)
	s.mu.Unlock()

	s.logger.Infow("session closed", logger.FieldSession, session.ID)
}

// Sessions returns the open sessions ordered by ID.
func (s *Server) Sessions() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SessionHealth is one entry of Server.Health.
type SessionHealth struct {
	ID        string          `json:"id"`
	Transport string          `json:"transport"`
	Health    analysis.Health `json:"health"`
}

// Health reports every session. ok is false while any initialized session
// has a worker that is not ready.
func (s *Server) Health() (any, bool) {
	ok := true
	var report []SessionHealth
	for _, session := range s.Sessions() {
		h := session.Coordinator.Health()
		if session.Coordinator.Root() != "" && !h.Ready {
			ok = false
		}
		report = append(report, SessionHealth{ID: session.ID, Transport: session.Transport, Health: h})
	}
	return map[string]any{"sessions": report}, ok
}
