package config

import "github.com/spf13/viper"

// File names and locations
const (
	EnvPrefix         = "DMYPYLS"
	ProjectConfigName = "dmypyls.toml"
	UserConfigDirName = "dmypyls"
	UserConfigName    = "config.toml"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Worker defaults
	v.SetDefault("worker.command", "dmypy")
	v.SetDefault("worker.shell", "/bin/sh")
	v.SetDefault("worker.log_file", "dmypy.log")
	v.SetDefault("worker.run_flags", []string{"--follow-imports=skip"})
	v.SetDefault("worker.work_dir", "")
	v.SetDefault("worker.status_file", ".dmypy.json") // written by dmypy next to where it runs

	// Analysis defaults
	v.SetDefault("analysis.on_save", "recheck")

	// Log defaults
	v.SetDefault("log.json", false)
	v.SetDefault("log.verbosity", 1)
	v.SetDefault("log.forward_to_client", true)

	// Server defaults
	v.SetDefault("server.metrics_addr", "")
}

// Default returns the configuration with only defaults applied.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadWithViper(v)
	if err != nil {
		// Defaults always validate
		panic(err)
	}
	return cfg
}
