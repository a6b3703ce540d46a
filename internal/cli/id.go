package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"meshchat.dev/go/meshchat/internal/network"
)

func init() {
	rootCmd.AddCommand(idCmd)
}

var idCmd = &cobra.Command{
	Use:   "id",
	Short: "Show this device's peer id",
	Long: `Display the libp2p peer id of this device, creating the peer key
on first use. Other peers use it in bootstrap addresses:

  /ip4/<address>/tcp/<port>/p2p/<peer id>

Examples:
  meshchat id`,
	RunE: runID,
}

func runID(cmd *cobra.Command, args []string) error {
	paths, cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store := keyStore(paths, cfg)
	priv, err := network.LoadOrCreateKey(store)
	if err != nil {
		return err
	}
	id, err := network.PeerIDFromKey(priv)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Peer ID: %s\n", id)
	switch s := store.(type) {
	case network.KeychainKeyStore:
		fmt.Fprintln(out, "Key:     system keychain")
	case network.FileKeyStore:
		fmt.Fprintf(out, "Key:     %s\n", s.Path)
	}
	return nil
}
