package cli

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"meshchat.dev/go/meshchat/internal/config"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write the default configuration to config.toml in the
configuration directory. An existing file is kept unless --force is given.

Examples:
  meshchat config init
  meshchat --config-dir /tmp/peer2 config init`,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE:  runConfigShow,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration file location",
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, err := loadPaths()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), paths.ConfigFile)
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd, configShowCmd, configPathCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	paths, err := loadPaths()
	if err != nil {
		return err
	}

	if _, err := os.Stat(paths.ConfigFile); err == nil && !configForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", paths.ConfigFile)
	}

	if err := config.Default().SaveTo(paths.ConfigFile); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", paths.ConfigFile)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	}
	return toml.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
}
