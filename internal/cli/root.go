package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"meshchat.dev/go/meshchat/internal/config"
)

var (
	version    = "dev"
	cfgDir     string
	verboseLog bool
)

func SetVersion(v string) {
	version = v
}

// RootCmd is the root command, exported for documentation generation
var RootCmd = &cobra.Command{
	Use:   "meshchat",
	Short: "Serverless group chat over a peer-to-peer mesh",
	Long: `meshchat - Serverless group chat over a peer-to-peer mesh

Peers on the same topic exchange messages directly using libp2p
publish/subscribe. Every peer already present sends a newcomer its
username directory. A newcomer whose own history is still empty also
adopts the full history of the first snapshot holding more than one
message.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// For internal use, keep an alias
var rootCmd = RootCmd

func Execute() error {
	return RootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgDir, "config-dir", "", "configuration directory (default $HOME/.config/meshchat)")
	rootCmd.PersistentFlags().BoolVarP(&verboseLog, "verbose", "v", false, "debug logging")
}

// loadPaths honours --config-dir before the environment and platform defaults
func loadPaths() (*config.Paths, error) {
	if cfgDir != "" {
		return config.PathsIn(cfgDir), nil
	}
	paths, err := config.GetPaths()
	if err != nil {
		return nil, fmt.Errorf("get paths: %w", err)
	}
	return paths, nil
}

// loadConfig reads the config file from the resolved directory
func loadConfig() (*config.Paths, *config.Config, error) {
	paths, err := loadPaths()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.LoadFrom(paths.ConfigFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return paths, cfg, nil
}
