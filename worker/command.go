package worker

import (
	"fmt"
	"strings"

	"github.com/kballard/go-shellquote"
	"github.com/teranos/dmypyls/errors"
	"github.com/teranos/dmypyls/position"
)

// Kind separates lifecycle commands, which may run in any state, from
// analysis commands, which the Supervisor only accepts once the worker is ready.
type Kind int

const (
	KindLifecycle Kind = iota
	KindAnalysis
)

func (k Kind) String() string {
	switch k {
	case KindLifecycle:
		return "lifecycle"
	case KindAnalysis:
		return "analysis"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Subcommands of the dmypy client
const (
	SubcommandRun     = "run"
	SubcommandCheck   = "check"
	SubcommandRecheck = "recheck"
	SubcommandStop    = "stop"
	SubcommandSuggest = "suggest"
	SubcommandVersion = "version"
)

// Command is one shell command line directed at the worker.
type Command struct {
	Kind       Kind
	Subcommand string
	// Line is the complete shell command line, already escaped
	Line string
	// Dir is the working directory. Set by the Supervisor.
	Dir string
}

// CommandBuilder turns worker operations into shell command lines of the form
// `<worker> <subcommand> [--flags] -- <args>`.
type CommandBuilder struct {
	binary     string
	executable string
	logFile    string
	runFlags   []string
}

// NewCommandBuilder parses workerCommand with shell word splitting, so a
// multi-word invocation such as `python -m mypy.dmypy` is accepted.
func NewCommandBuilder(workerCommand, logFile string, runFlags []string) (*CommandBuilder, error) {
	words, err := shellquote.Split(workerCommand)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid worker command %q", workerCommand)
	}
	if len(words) == 0 {
		return nil, errors.New("worker command is empty")
	}

	return &CommandBuilder{
		binary:     shellquote.Join(words...),
		executable: words[0],
		logFile:    logFile,
		runFlags:   append([]string(nil), runFlags...),
	}, nil
}

// Binary returns the escaped worker invocation.
func (b *CommandBuilder) Binary() string {
	return b.binary
}

// Executable is the program the invocation starts, e.g. python for
// `python -m mypy.dmypy`.
func (b *CommandBuilder) Executable() string {
	return b.executable
}

func (b *CommandBuilder) build(kind Kind, subcommand string, args ...string) Command {
	var line strings.Builder
	line.WriteString(b.binary)
	if len(args) > 0 {
		line.WriteByte(' ')
		line.WriteString(shellquote.Join(args...))
	}
	return Command{Kind: kind, Subcommand: subcommand, Line: line.String()}
}

// Run launches the daemon for root.
func (b *CommandBuilder) Run(root string) Command {
	args := []string{SubcommandRun}
	if b.logFile != "" {
		args = append(args, "--log-file", b.logFile)
	}
	args = append(args, "--", root)
	args = append(args, b.runFlags...)
	return b.build(KindLifecycle, SubcommandRun, args...)
}

// Stop shuts the daemon down.
func (b *CommandBuilder) Stop() Command {
	return b.build(KindLifecycle, SubcommandStop, SubcommandStop)
}

// Version asks the client for its version.
func (b *CommandBuilder) Version() Command {
	return b.build(KindLifecycle, SubcommandVersion, "--version")
}

// Check type-checks a single file.
func (b *CommandBuilder) Check(path string) Command {
	return b.build(KindAnalysis, SubcommandCheck, SubcommandCheck, "--", path)
}

// Recheck re-checks the files of the previous check. It takes no path.
func (b *CommandBuilder) Recheck() Command {
	return b.build(KindAnalysis, SubcommandRecheck, SubcommandRecheck)
}

// Suggest asks for the callsites at pos. The location is a single argument
// of the form "<path> <line> <col>".
func (b *CommandBuilder) Suggest(path string, pos position.ToolPosition) Command {
	location := fmt.Sprintf("%s %d %d", path, pos.Line, pos.Column)
	return b.build(KindAnalysis, SubcommandSuggest, SubcommandSuggest, "--callsites", location)
}
