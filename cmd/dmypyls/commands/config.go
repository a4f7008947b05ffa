package commands

import (
	"fmt"
	"path/filepath"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/teranos/dmypyls/config"
	"github.com/teranos/dmypyls/errors"
)

// ConfigCmd manages dmypyls configuration files
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or create dmypyls configuration",
	Long: `Show the resolved configuration or write a default config file.

Configuration is read from defaults, then the user file, then dmypyls.toml
found by walking up from the workspace, then DMYPYLS_* environment variables,
then flags.

Examples:
  dmypyls config show                 # resolved configuration as TOML
  dmypyls config show --format json
  dmypyls config init                 # write ./dmypyls.toml
  dmypyls config init --user          # write the user config file`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	RunE:  runConfigInit,
}

func init() {
	ConfigCmd.AddCommand(configShowCmd)
	ConfigCmd.AddCommand(configInitCmd)

	configShowCmd.Flags().String("format", config.FormatTOML, "Output format: toml, yaml or json")
	configInitCmd.Flags().Bool("user", false, "Write the user config file instead of ./dmypyls.toml")
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing file")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, files, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	format, _ := cmd.Flags().GetString("format")
	out, err := config.Render(cfg, format)
	if err != nil {
		return err
	}

	if format == config.FormatTOML {
		for _, f := range files {
			fmt.Fprintf(cmd.OutOrStdout(), "# from %s\n", f)
		}
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	user, _ := cmd.Flags().GetBool("user")
	force, _ := cmd.Flags().GetBool("force")

	path := filepath.Join(projectDir(cmd), config.ProjectConfigName)
	if user {
		path = config.UserConfigPath()
		if path == "" {
			return errors.New("no user config directory on this system")
		}
	}

	if err := config.WriteDefault(path, force); err != nil {
		return err
	}
	pterm.Success.Printf("Wrote %s\n", path)
	return nil
}
