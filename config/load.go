package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"github.com/teranos/dmypyls/errors"
)

// NewViper builds a Viper instance with defaults, the user and project config
// files, and DMYPYLS_* environment variables. The project file is searched
// for from dir upwards. Flags can be bound to the result before Load.
// It returns the config files that were merged, lowest precedence first.
func NewViper(dir string) (*viper.Viper, []string, error) {
	v := viper.New()

	// Set up environment variable binding
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	var merged []string
	for _, path := range configPaths(dir) {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := mergeFile(v, path); err != nil {
			return nil, nil, err
		}
		merged = append(merged, path)
	}

	return v, merged, nil
}

// NewViperWithFile is NewViper with one explicit config file in place of the
// user and project files.
func NewViperWithFile(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)
	if err := mergeFile(v, path); err != nil {
		return nil, err
	}
	return v, nil
}

// LoadWithViper unmarshals and validates the configuration held by v
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return &config, nil
}

// Load reads the configuration for a process started in dir
func Load(dir string) (*Config, error) {
	v, _, err := NewViper(dir)
	if err != nil {
		return nil, err
	}
	return LoadWithViper(v)
}

// LoadFromFile loads configuration from a specific file path, on top of the
// defaults and without environment variables.
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if err := mergeFile(v, configPath); err != nil {
		return nil, err
	}
	return LoadWithViper(v)
}

// mergeFile merges one TOML file into v's config layer, so environment
// variables and flags still take precedence over it.
func mergeFile(v *viper.Viper, path string) error {
	tempViper := viper.New()
	tempViper.SetConfigFile(path)
	tempViper.SetConfigType("toml")

	if err := tempViper.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "failed to read config file %s", path)
	}
	if err := v.MergeConfigMap(tempViper.AllSettings()); err != nil {
		return errors.Wrapf(err, "failed to merge config file %s", path)
	}
	return nil
}

// UserConfigPath returns ~/.config/dmypyls/config.toml (or the platform
// equivalent), or empty if there is no user config directory.
func UserConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, UserConfigDirName, UserConfigName)
}

// FindProjectConfig searches for dmypyls.toml by walking up from dir.
// Returns the path to the first file found, or empty string if none found.
func FindProjectConfig(dir string) string {
	if dir == "" {
		return ""
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}

	for {
		path := filepath.Join(dir, ProjectConfigName)
		if _, err := os.Stat(path); err == nil {
			return path
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			return ""
		}
		dir = parent
	}
}

func configPaths(dir string) []string {
	var paths []string
	if user := UserConfigPath(); user != "" {
		paths = append(paths, user)
	}
	if project := FindProjectConfig(dir); project != "" {
		paths = append(paths, project)
	}
	return paths
}
