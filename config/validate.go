package config

import (
	"github.com/kballard/go-shellquote"
	"github.com/teranos/dmypyls/analysis"
	"github.com/teranos/dmypyls/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	words, err := shellquote.Split(c.Worker.Command)
	if err != nil {
		return errors.Wrapf(err, "worker.command %q cannot be parsed", c.Worker.Command)
	}
	if len(words) == 0 {
		return errors.WithHint(errors.New("worker.command cannot be empty"),
			"set it to the dmypy client, e.g. \"dmypy\" or \"python -m mypy.dmypy\"")
	}

	if c.Worker.Shell == "" {
		return errors.New("worker.shell cannot be empty")
	}

	if _, err := analysis.ParseSavePolicy(c.Analysis.OnSave); err != nil {
		return errors.Wrap(err, "analysis.on_save")
	}

	if c.Log.Verbosity < 0 {
		return errors.Newf("log.verbosity must be >= 0, got %d", c.Log.Verbosity)
	}

	return nil
}
