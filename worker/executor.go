package worker

import (
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/teranos/dmypyls/errors"
	"github.com/teranos/dmypyls/logger"
	"go.uber.org/zap"
)

// Result is the outcome of one worker command.
type Result struct {
	Command    string
	Subcommand string
	// ExitCode is -1 when the command could not be started
	ExitCode int
	// Err is set when the command failed to start or exited non-zero
	Err      error
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Failed reports whether the command did not exit cleanly.
func (r Result) Failed() bool {
	return r.Err != nil
}

// Outcome is "success" or "failed", as used in logs and metric labels.
func (r Result) Outcome() string {
	if r.Failed() {
		return "failed"
	}
	return "success"
}

// Executor runs a single command to completion. Implementations keep no
// state between calls and enforce no timeout.
type Executor interface {
	Execute(ctx context.Context, cmd Command) Result
}

// ShellExecutor runs command lines through a shell (`<shell> -c <line>`).
type ShellExecutor struct {
	shell  string
	logger *zap.SugaredLogger
}

// NewShellExecutor creates an executor using shell, e.g. /bin/sh.
func NewShellExecutor(shell string, log *zap.SugaredLogger) *ShellExecutor {
	return &ShellExecutor{shell: shell, logger: log}
}

// Execute runs cmd and captures stdout and stderr in full. Every invocation
// and its output is logged on completion, whether it succeeded or not.
func (e *ShellExecutor) Execute(ctx context.Context, cmd Command) Result {
	e.logger.Infow("Execute: "+cmd.Line, logger.FieldWorkDir, cmd.Dir)

	start := time.Now()
	execCmd := exec.CommandContext(ctx, e.shell, "-c", cmd.Line)
	execCmd.Dir = cmd.Dir

	var stdout, stderr strings.Builder
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	err := execCmd.Run()

	result := Result{
		Command:    cmd.Line,
		Subcommand: cmd.Subcommand,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		Duration:   time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			result.Err = errors.Wrapf(err, "%s exited with code %d", cmd.Subcommand, result.ExitCode)
		} else {
			result.ExitCode = -1
			result.Err = errors.Wrapf(err, "failed to start %s", cmd.Subcommand)
		}
	}

	e.logResult(result)
	return result
}

func (e *ShellExecutor) logResult(r Result) {
	fields := []interface{}{
		logger.FieldSubcommand, r.Subcommand,
		logger.FieldDurationMS, r.Duration.Milliseconds(),
	}

	if r.Failed() {
		e.logger.Warnw("command finished, result: failed", append(fields,
			logger.FieldExitCode, r.ExitCode,
			logger.FieldError, r.Err.Error(),
		)...)
	} else {
		e.logger.Infow("command finished, result: success", fields...)
	}

	if r.Stdout != "" {
		e.logger.Infow("stdout: "+r.Stdout, logger.FieldSubcommand, r.Subcommand)
	}
	if r.Stderr != "" {
		e.logger.Infow("stderr: "+r.Stderr, logger.FieldSubcommand, r.Subcommand)
	}
}
