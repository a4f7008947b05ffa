package worker_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/teranos/dmypyls/worker"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestShellExecutorCapturesOutput(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	exec := worker.NewShellExecutor("/bin/sh", zap.New(core).Sugar())

	dir := t.TempDir()
	res := exec.Execute(context.Background(), worker.Command{
		Subcommand: "check",
		Line:       `pwd; echo "line two"; echo oops >&2`,
		Dir:        dir,
	})

	assert.False(t, res.Failed())
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Stdout, dir)
	assert.Contains(t, res.Stdout, "line two\n")
	assert.Equal(t, "oops\n", res.Stderr)
	assert.Equal(t, "success", res.Outcome())

	assert.Equal(t, 1, logs.FilterMessageSnippet("Execute: pwd").Len())
	assert.Equal(t, 1, logs.FilterMessage("command finished, result: success").Len())
	assert.Equal(t, 1, logs.FilterMessageSnippet("stdout: ").Len())
	assert.Equal(t, 1, logs.FilterMessage("stderr: oops\n").Len())
}

func TestShellExecutorNonZeroExit(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	exec := worker.NewShellExecutor("/bin/sh", zap.New(core).Sugar())

	res := exec.Execute(context.Background(), worker.Command{
		Subcommand: "run",
		Line:       "echo 'Daemon crashed!' >&2; exit 2",
	})

	assert.True(t, res.Failed())
	assert.Equal(t, 2, res.ExitCode)
	assert.Equal(t, "Daemon crashed!\n", res.Stderr)
	assert.Contains(t, res.Err.Error(), "run exited with code 2")
	assert.Equal(t, "failed", res.Outcome())

	failed := logs.FilterMessage("command finished, result: failed")
	if assert.Equal(t, 1, failed.Len()) {
		assert.Equal(t, int64(2), failed.All()[0].ContextMap()["exit_code"])
	}
}

func TestShellExecutorStartFailure(t *testing.T) {
	exec := worker.NewShellExecutor("/nonexistent/shell", zap.NewNop().Sugar())

	res := exec.Execute(context.Background(), worker.Command{Subcommand: "stop", Line: "dmypy stop"})

	assert.True(t, res.Failed())
	assert.Equal(t, -1, res.ExitCode)
	assert.Contains(t, res.Err.Error(), "failed to start stop")
}
