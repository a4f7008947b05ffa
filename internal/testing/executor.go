package testing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/teranos/dmypyls/worker"
	"go.uber.org/zap"
)

// Timeout and Tick are the polling bounds used with require.Eventually.
const (
	Timeout = 2 * time.Second
	Tick    = time.Millisecond
)

// FakeExecutor is a worker.Executor that records every command and returns
// canned results per subcommand. Subcommands can be held so their Execute
// call blocks until released.
type FakeExecutor struct {
	mu        sync.Mutex
	calls     []worker.Command
	results   map[string]worker.Result
	holds     map[string]chan struct{}
	active    int
	maxActive int
}

// NewFakeExecutor creates a FakeExecutor where every command succeeds with
// empty output.
func NewFakeExecutor() *FakeExecutor {
	return &FakeExecutor{
		results: make(map[string]worker.Result),
		holds:   make(map[string]chan struct{}),
	}
}

// SetResult sets the result returned for subcommand.
func (f *FakeExecutor) SetResult(subcommand string, res worker.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[subcommand] = res
}

// Hold blocks subcommand until the returned release func is called.
func (f *FakeExecutor) Hold(subcommand string) (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.holds[subcommand] = gate
	f.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// Execute implements worker.Executor.
func (f *FakeExecutor) Execute(ctx context.Context, cmd worker.Command) worker.Result {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	gate := f.holds[cmd.Subcommand]
	res := f.results[cmd.Subcommand]
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	f.active--
	f.mu.Unlock()

	res.Command = cmd.Line
	res.Subcommand = cmd.Subcommand
	return res
}

// Calls returns the commands executed so far, in order.
func (f *FakeExecutor) Calls() []worker.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]worker.Command(nil), f.calls...)
}

// Lines returns the command lines executed so far, in order.
func (f *FakeExecutor) Lines() []string {
	calls := f.Calls()
	lines := make([]string, len(calls))
	for i, c := range calls {
		lines[i] = c.Line
	}
	return lines
}

// Subcommands returns the subcommands executed so far, in order.
func (f *FakeExecutor) Subcommands() []string {
	calls := f.Calls()
	subs := make([]string, len(calls))
	for i, c := range calls {
		subs[i] = c.Subcommand
	}
	return subs
}

// MaxConcurrent is the highest number of Execute calls seen running at once.
func (f *FakeExecutor) MaxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}

// WaitForCalls waits until at least n commands have started.
func (f *FakeExecutor) WaitForCalls(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		return len(f.calls) >= n
	}, Timeout, Tick, "expected %d worker commands", n)
}

// NewSupervisor builds a Supervisor around exec with the default dmypy
// invocation and a no-op logger.
func NewSupervisor(t *testing.T, exec worker.Executor) *worker.Supervisor {
	t.Helper()

	builder, err := worker.NewCommandBuilder("dmypy", "dmypy.log", []string{"--follow-imports=skip"})
	require.NoError(t, err)

	return worker.NewSupervisor(worker.Options{
		Builder:  builder,
		Executor: exec,
		Logger:   zap.NewNop().Sugar(),
	})
}

// WaitReady waits for sup to reach StateReady.
func WaitReady(t *testing.T, sup *worker.Supervisor) {
	t.Helper()
	require.Eventually(t, sup.IsReady, Timeout, Tick, "worker never became ready")
}
