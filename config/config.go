// Package config loads dmypyls configuration from TOML files, DMYPYLS_*
// environment variables and command-line flags.
//
// Precedence (lowest to highest): defaults < user file < project file < env < flags.
package config

// Config represents the dmypyls configuration
type Config struct {
	Worker   WorkerConfig   `mapstructure:"worker" toml:"worker" yaml:"worker" json:"worker"`
	Analysis AnalysisConfig `mapstructure:"analysis" toml:"analysis" yaml:"analysis" json:"analysis"`
	Log      LogConfig      `mapstructure:"log" toml:"log" yaml:"log" json:"log"`
	Server   ServerConfig   `mapstructure:"server" toml:"server" yaml:"server" json:"server"`
}

// WorkerConfig configures how the dmypy worker is invoked
type WorkerConfig struct {
	// Command is shell-split, e.g. "python -m mypy.dmypy"
	Command string `mapstructure:"command" toml:"command" yaml:"command" json:"command"`
	// Shell runs each command line as `<shell> -c <line>`
	Shell string `mapstructure:"shell" toml:"shell" yaml:"shell" json:"shell"`
	// LogFile is passed to run as --log-file. Empty means none.
	LogFile string `mapstructure:"log_file" toml:"log_file" yaml:"log_file" json:"log_file"`
	// RunFlags are the mypy flags after the root
	RunFlags []string `mapstructure:"run_flags" toml:"run_flags" yaml:"run_flags" json:"run_flags"`
	// WorkDir is where commands run. Empty means the workspace root.
	WorkDir    string `mapstructure:"work_dir" toml:"work_dir" yaml:"work_dir" json:"work_dir"`
	StatusFile string `mapstructure:"status_file" toml:"status_file" yaml:"status_file" json:"status_file"`
}

// AnalysisConfig configures what editor events trigger
type AnalysisConfig struct {
	// OnSave is "recheck" or "check"
	OnSave string `mapstructure:"on_save" toml:"on_save" yaml:"on_save" json:"on_save"`
}

// LogConfig configures the process log and its copy in the editor
type LogConfig struct {
	JSON            bool `mapstructure:"json" toml:"json" yaml:"json" json:"json"`
	Verbosity       int  `mapstructure:"verbosity" toml:"verbosity" yaml:"verbosity" json:"verbosity"`
	ForwardToClient bool `mapstructure:"forward_to_client" toml:"forward_to_client" yaml:"forward_to_client" json:"forward_to_client"`
}

// ServerConfig configures the optional metrics endpoint
type ServerConfig struct {
	// MetricsAddr serves /metrics and /healthz when set
	MetricsAddr string `mapstructure:"metrics_addr" toml:"metrics_addr" yaml:"metrics_addr" json:"metrics_addr"`
}

// WorkDirFor returns the directory worker commands run in for root.
func (c *Config) WorkDirFor(root string) string {
	if c.Worker.WorkDir != "" {
		return c.Worker.WorkDir
	}
	return root
}
