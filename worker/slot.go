package worker

import (
	"context"
	"sync"
	"time"
)

// Observer is told about every command the Slot runs.
type Observer interface {
	// CommandStarted is called when cmd leaves the queue, wait is how long it queued
	CommandStarted(cmd Command, wait time.Duration)
	CommandFinished(cmd Command, res Result)
}

type nopObserver struct{}

func (nopObserver) CommandStarted(Command, time.Duration) {}
func (nopObserver) CommandFinished(Command, Result)       {}

type job struct {
	cmd    Command
	queued time.Time
	done   chan Result
}

// Slot serializes commands to the worker: at most one is in flight, and the
// rest run in the order Submit was called. dmypy serves one client request at
// a time, so overlapping commands against the same daemon are unsafe.
type Slot struct {
	ctx      context.Context
	executor Executor
	observer Observer

	mu       sync.Mutex
	jobs     []*job
	running  bool
	inFlight bool
}

// NewSlot creates a Slot. ctx is handed to every Execute call and should live
// as long as the worker does.
func NewSlot(ctx context.Context, executor Executor, observer Observer) *Slot {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Slot{ctx: ctx, executor: executor, observer: observer}
}

// Submit queues cmd and returns a channel that receives its result. Arrival
// order is fixed before Submit returns. The channel is buffered, so nobody
// has to receive from it.
func (s *Slot) Submit(cmd Command) <-chan Result {
	j := &job{cmd: cmd, queued: time.Now(), done: make(chan Result, 1)}

	s.mu.Lock()
	s.jobs = append(s.jobs, j)
	if !s.running {
		s.running = true
		go s.loop()
	}
	s.mu.Unlock()

	return j.done
}

func (s *Slot) loop() {
	for {
		s.mu.Lock()
		if len(s.jobs) == 0 {
			s.running = false
			s.inFlight = false
			s.mu.Unlock()
			return
		}
		j := s.jobs[0]
		s.jobs[0] = nil
		s.jobs = s.jobs[1:]
		s.inFlight = true
		s.mu.Unlock()

		s.observer.CommandStarted(j.cmd, time.Since(j.queued))
		res := s.executor.Execute(s.ctx, j.cmd)
		s.observer.CommandFinished(j.cmd, res)
		j.done <- res
	}
}

// Pending returns the number of commands waiting behind the in-flight one.
func (s *Slot) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// InFlight reports whether a command is currently executing.
func (s *Slot) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}
