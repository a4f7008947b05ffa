package commands

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/teranos/dmypyls/config"
	"github.com/teranos/dmypyls/errors"
	"github.com/teranos/dmypyls/logger"
)

// flagKeys maps command-line flags to the config keys they override
var flagKeys = map[string]string{
	"verbose":      "log.verbosity",
	"log-json":     "log.json",
	"dmypy":        "worker.command",
	"on-save":      "analysis.on_save",
	"metrics-addr": "server.metrics_addr",
}

// projectDir is where the project config search starts: --root, or the
// working directory.
func projectDir(cmd *cobra.Command) string {
	if root, _ := cmd.Flags().GetString("root"); root != "" {
		return root
	}
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	return dir
}

// loadConfig resolves the configuration for cmd. Flags the user set win over
// environment variables, which win over config files. It also returns the
// files that were read.
func loadConfig(cmd *cobra.Command) (*config.Config, []string, error) {
	var (
		v     *viper.Viper
		files []string
		err   error
	)

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		v, err = config.NewViperWithFile(path)
		files = []string{path}
	} else {
		v, files, err = config.NewViper(projectDir(cmd))
	}
	if err != nil {
		return nil, nil, err
	}

	for name, key := range flagKeys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, nil, errors.Wrapf(err, "failed to bind --%s", name)
		}
	}

	cfg, err := config.LoadWithViper(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, files, nil
}

// initLogger reinitializes the global logger from cfg.
func initLogger(cfg *config.Config) error {
	if err := logger.Initialize(logger.Options{
		JSON:      cfg.Log.JSON,
		Verbosity: cfg.Log.Verbosity,
	}); err != nil {
		return errors.Wrap(err, "failed to initialize logger")
	}
	return nil
}
