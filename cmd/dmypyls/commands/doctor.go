package commands

import (
	"context"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/teranos/dmypyls/analysis"
	"github.com/teranos/dmypyls/config"
	"github.com/teranos/dmypyls/display"
	"github.com/teranos/dmypyls/errors"
	"github.com/teranos/dmypyls/logger"
	"github.com/teranos/dmypyls/version"
	"github.com/teranos/dmypyls/worker"
)

// DoctorCmd checks that dmypy can be found and started
var DoctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the dmypy installation and configuration",
	Long: `Resolve the configuration, find the dmypy client, ask it for its version and
look for a running daemon in the workspace.

Examples:
  dmypyls doctor
  dmypyls doctor --json
  dmypyls doctor --root ~/src/project --dmypy "python -m mypy.dmypy"`,
	RunE: runDoctor,
}

func init() {
	DoctorCmd.Flags().String("dmypy", "", "dmypy client command to check")
	DoctorCmd.Flags().Duration("timeout", 30*time.Second, "How long to wait for dmypy --version")
	DoctorCmd.Flags().BoolP("json", "j", false, "Output the report as JSON")
}

// doctorReport is everything doctor found out
type doctorReport struct {
	Version     string   `json:"version"`
	ConfigFiles []string `json:"config_files"`
	Workspace   string   `json:"workspace"`
	OnSave      string   `json:"on_save"`

	Binary     string `json:"binary"`
	BinaryPath string `json:"binary_path,omitempty"`

	VersionCommand string `json:"version_command"`
	WorkerVersion  string `json:"worker_version,omitempty"`
	VersionError   string `json:"version_error,omitempty"`
	Pattern        string `json:"pattern,omitempty"`
	PatternVersion string `json:"pattern_version,omitempty"`
	Supported      bool   `json:"supported"`

	Daemon worker.DaemonStatus `json:"daemon"`

	Failures []string `json:"failures,omitempty"`
}

func runDoctor(cmd *cobra.Command, args []string) error {
	asJSON := display.ShouldOutputJSON(cmd)

	cfg, files, err := loadConfig(cmd)
	if err != nil {
		if !asJSON {
			pterm.Error.Printf("Configuration: %v\n", err)
			if hints := errors.FlattenHints(err); hints != "" {
				pterm.Info.Printf("Hint: %s\n", hints)
			}
		}
		return err
	}

	root, err := filepath.Abs(projectDir(cmd))
	if err != nil {
		return errors.Wrap(err, "failed to resolve workspace root")
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	report, err := diagnose(ctx, cfg, files, root)
	if err != nil {
		return err
	}

	if asJSON {
		if err := display.OutputJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
	} else {
		printReport(report)
	}

	if len(report.Failures) > 0 {
		return errors.Newf("%d check(s) failed", len(report.Failures))
	}
	return nil
}

// diagnose probes the dmypy installation for the workspace at root
func diagnose(ctx context.Context, cfg *config.Config, files []string, root string) (*doctorReport, error) {
	report := &doctorReport{
		Version:     version.Get().String(),
		ConfigFiles: files,
		Workspace:   root,
		OnSave:      cfg.Analysis.OnSave,
	}
	workDir := cfg.WorkDirFor(root)

	builder, err := worker.NewCommandBuilder(cfg.Worker.Command, cfg.Worker.LogFile, cfg.Worker.RunFlags)
	if err != nil {
		return nil, err
	}

	report.Binary = builder.Executable()
	if path, err := exec.LookPath(builder.Executable()); err != nil {
		report.Failures = append(report.Failures, builder.Executable()+" not found on PATH")
	} else {
		report.BinaryPath = path
	}

	probe := builder.Version()
	probe.Dir = workDir
	report.VersionCommand = probe.Line
	res := worker.NewShellExecutor(cfg.Worker.Shell, logger.Logger.Named("doctor")).Execute(ctx, probe)

	if res.Failed() {
		report.VersionError = res.Err.Error()
		report.Failures = append(report.Failures, probe.Line+" failed")
	} else if v, err := worker.ParseVersion(res.Stdout); err != nil {
		report.VersionError = err.Error()
	} else {
		pattern := analysis.SelectPattern(v)
		report.WorkerVersion = v.String()
		report.Pattern = pattern.Name
		report.PatternVersion = pattern.Version
		report.Supported = pattern.Matches(v)
	}

	report.Daemon = worker.ProbeDaemon(filepath.Join(workDir, cfg.Worker.StatusFile))
	return report, nil
}

func printReport(r *doctorReport) {
	pterm.DefaultHeader.Println("dmypyls doctor")
	pterm.Info.Printf("dmypyls: %s\n", r.Version)

	if len(r.ConfigFiles) == 0 {
		pterm.Info.Println("Configuration: defaults (no config file found)")
	}
	for _, f := range r.ConfigFiles {
		pterm.Info.Printf("Configuration: %s\n", f)
	}
	pterm.Info.Printf("On save: %s\n", r.OnSave)
	pterm.Info.Printf("Workspace: %s\n", r.Workspace)

	if r.BinaryPath == "" {
		pterm.Error.Printf("%s not found on PATH\n", r.Binary)
	} else {
		pterm.Success.Printf("%s: %s\n", r.Binary, r.BinaryPath)
	}

	switch {
	case r.WorkerVersion == "" && r.VersionError != "":
		pterm.Error.Printf("%s: %s\n", r.VersionCommand, r.VersionError)
	case r.Supported:
		pterm.Success.Printf("dmypy %s (definition pattern %s v%s)\n", r.WorkerVersion, r.Pattern, r.PatternVersion)
	default:
		pterm.Warning.Printf("dmypy %s is outside the range of pattern %s, definitions may not resolve\n",
			r.WorkerVersion, r.Pattern)
	}

	status := r.Daemon
	switch {
	case status.Error != "":
		pterm.Warning.Printf("Daemon status file %s: %s\n", status.StatusFile, status.Error)
	case !status.Found:
		pterm.Info.Println("No dmypy daemon running in this workspace")
	case status.Running:
		pterm.Success.Printf("dmypy daemon running, pid %d, %d MiB resident\n", status.PID, status.RSSBytes>>20)
	default:
		pterm.Warning.Printf("Stale status file %s, pid %d is not running\n", status.StatusFile, status.PID)
	}
}
