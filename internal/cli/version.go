package cli

import (
	"fmt"
	"io"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"

	"meshchat.dev/go/meshchat/internal/config"
	"meshchat.dev/go/meshchat/internal/protocol"
)

var (
	// Set via ldflags
	commit    = "unknown"
	buildDate = "unknown"

	versionFull bool
)

// SetBuildInfo sets build information from ldflags
func SetBuildInfo(c, d string) {
	commit = c
	buildDate = d
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVar(&versionFull, "full", false, "also print build, wire format and network defaults")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print the meshchat version. With --full, also print the build details,
the wire message kinds and the default topic, router and discovery service.
Peers only understand each other when their wire kinds match.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		writeVersion(cmd.OutOrStdout(), versionFull)
		return nil
	},
}

func writeVersion(w io.Writer, full bool) {
	fmt.Fprintf(w, "meshchat version %s\n", version)
	if !full {
		return
	}

	build := buildSettings()
	rev := build["vcs.revision"]
	if commit != "unknown" || rev == "" {
		rev = commit
	}
	if len(rev) > 8 {
		rev = rev[:8]
	}
	built := buildDate
	if built == "unknown" && build["vcs.time"] != "" {
		built = build["vcs.time"]
	}

	defaults := config.Default()
	kinds := []string{
		fmt.Sprintf("%s=%d", protocol.KindChat, protocol.KindChat),
		fmt.Sprintf("%s=%d", protocol.KindState, protocol.KindState),
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Commit:     %s\n", rev)
	fmt.Fprintf(w, "  Built:      %s\n", built)
	fmt.Fprintf(w, "  Go version: %s (%s/%s)\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(w, "  libp2p:     %s\n", moduleVersion("github.com/libp2p/go-libp2p"))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Wire:       CBOR, kinds %s, max %d MiB\n",
		strings.Join(kinds, " "), protocol.MaxMessageSize>>20)
	fmt.Fprintf(w, "  Topic:      %s (%s)\n", defaults.Network.Topic, defaults.Network.Router)
	fmt.Fprintf(w, "  mDNS:       %s\n", defaults.Discovery.Service)
}

// buildSettings returns the VCS settings embedded by the Go toolchain
func buildSettings() map[string]string {
	out := make(map[string]string)
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			out[s.Key] = s.Value
		}
	}
	return out
}

// moduleVersion reports the linked version of a dependency
func moduleVersion(path string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	for _, dep := range info.Deps {
		if dep.Path != path {
			continue
		}
		if dep.Replace != nil {
			return dep.Replace.Version
		}
		return dep.Version
	}
	return "unknown"
}
