package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/teranos/dmypyls/errors"
	"gopkg.in/yaml.v3"
)

// Output formats for Render
const (
	FormatTOML = "toml"
	FormatYAML = "yaml"
	FormatJSON = "json"
)

// Render encodes cfg in format.
func Render(cfg *Config, format string) ([]byte, error) {
	switch format {
	case FormatTOML, "":
		var buf bytes.Buffer
		enc := toml.NewEncoder(&buf)
		enc.SetIndentTables(true)
		if err := enc.Encode(cfg); err != nil {
			return nil, errors.Wrap(err, "failed to encode config as toml")
		}
		return buf.Bytes(), nil
	case FormatYAML:
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode config as yaml")
		}
		return out, nil
	case FormatJSON:
		out, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode config as json")
		}
		return append(out, '\n'), nil
	default:
		return nil, errors.Newf("unknown format %q (want toml, yaml or json)", format)
	}
}

// WriteDefault writes the default configuration to path as TOML. An existing
// file is only replaced when force is set.
func WriteDefault(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return errors.WithHint(errors.Newf("%s already exists", path), "use --force to overwrite it")
	}

	data, err := Render(Default(), FormatTOML)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}
