package cli

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"meshchat.dev/go/meshchat/internal/chat"
	"meshchat.dev/go/meshchat/internal/config"
	"meshchat.dev/go/meshchat/internal/discovery"
	"meshchat.dev/go/meshchat/internal/dispatch"
	"meshchat.dev/go/meshchat/internal/keychain"
	"meshchat.dev/go/meshchat/internal/logging"
	"meshchat.dev/go/meshchat/internal/network"
	"meshchat.dev/go/meshchat/internal/tui"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Join a chat topic",
	Long: `Join a chat topic and talk to the peers on it.

Peers on the local network are found with mDNS. Peers elsewhere can be
reached by listing them as bootstrap peers.

Type /help once joined for the list of commands.

Examples:
  meshchat chat
  meshchat chat --name alice
  meshchat chat --topic team --ui plain
  meshchat chat --bootstrap /ip4/203.0.113.5/tcp/4001/p2p/12D3KooW...`,
	RunE: runChat,
}

func init() {
	addChatFlags(chatCmd.Flags())
	rootCmd.AddCommand(chatCmd)
}

func addChatFlags(fs *pflag.FlagSet) {
	fs.String("name", "", "display name (skips the prompt)")
	fs.String("topic", "", "chat topic")
	fs.StringSlice("listen", nil, "listen multiaddrs")
	fs.StringSlice("bootstrap", nil, "bootstrap peer multiaddrs with /p2p/ suffix")
	fs.String("router", "", "pubsub router (floodsub, gossipsub)")
	fs.Bool("no-mdns", false, "disable local network discovery")
	fs.String("ui", "", "terminal mode (auto, tui, plain)")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
}

// applyChatFlags overrides config values with flags the user set
func applyChatFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()

	if flags.Changed("name") {
		cfg.Identity.Name, _ = flags.GetString("name")
	}
	if flags.Changed("topic") {
		cfg.Network.Topic, _ = flags.GetString("topic")
	}
	if flags.Changed("listen") {
		cfg.Network.ListenAddrs, _ = flags.GetStringSlice("listen")
	}
	if flags.Changed("bootstrap") {
		cfg.Network.BootstrapPeers, _ = flags.GetStringSlice("bootstrap")
	}
	if flags.Changed("router") {
		cfg.Network.Router, _ = flags.GetString("router")
	}
	if noMDNS, _ := flags.GetBool("no-mdns"); noMDNS {
		cfg.Discovery.MDNS = false
	}
	if flags.Changed("ui") {
		cfg.UI.Mode, _ = flags.GetString("ui")
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level, _ = flags.GetString("log-level")
	}
	if verboseLog {
		cfg.Logging.Level = "debug"
	}
}

// keyStore picks where the peer key lives
func keyStore(paths *config.Paths, cfg *config.Config) network.KeyStore {
	if cfg.Identity.UseKeychain {
		if keychain.IsAvailable() {
			return network.KeychainKeyStore{}
		}
		slog.Warn("system keychain unavailable, using key file")
	}
	return network.FileKeyStore{Path: paths.ResolveKeyFile(cfg)}
}

func runChat(cmd *cobra.Command, args []string) error {
	paths, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyChatFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := paths.EnsureDirectories(); err != nil {
		return err
	}

	logger, err := logging.Setup(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   paths.ResolveLogFile(cfg),
	})
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logger.Close()
	slog.SetDefault(logger.Logger)

	priv, err := network.LoadOrCreateKey(keyStore(paths, cfg))
	if err != nil {
		return err
	}

	// The node, outbox and discovery outlive the signal context so queued
	// messages can still be flushed after an interrupt.
	appCtx, cancelApp := context.WithCancel(context.Background())
	defer cancelApp()

	events := make(chan chat.Event, 256)
	node, err := network.New(appCtx, network.Options{
		ListenAddrs:    cfg.Network.ListenAddrs,
		PrivateKey:     priv,
		Router:         cfg.Network.Router,
		BootstrapPeers: cfg.Network.BootstrapPeers,
		Events:         events,
		Logger:         logger.Logger,
	})
	if err != nil {
		return fmt.Errorf("start network: %w", err)
	}
	defer node.Close()

	outbox := dispatch.New(node, cfg.Network.Topic, logger.Logger)
	outbox.Start(appCtx)

	fullScreen := tui.UseFullScreen(cfg.UI.Mode)
	var (
		display chat.Display
		ui      *tui.ChatUI
	)
	if fullScreen {
		ui = tui.NewChatUI(fmt.Sprintf("meshchat #%s", cfg.Network.Topic))
		display = ui
	} else {
		display = tui.NewPlainDisplay(os.Stdout, false)
	}

	ctrl := chat.New(chat.Options{
		Network:     node,
		Outbox:      outbox,
		Display:     display,
		Topic:       cfg.Network.Topic,
		DefaultName: cfg.Identity.Name,
		Logger:      logger.Logger,
		RateLimiter: chat.NewRateLimiter(chat.RateLimitConfig{
			PeerMessagesPerSecond:   cfg.RateLimit.MessagesPerSecond,
			PeerBurst:               cfg.RateLimit.Burst,
			GlobalMessagesPerSecond: cfg.RateLimit.GlobalMessagesPerSecond,
			GlobalBurst:             cfg.RateLimit.GlobalBurst,
		}),
		Logs: logger.Buffer,
	})
	if err := ctrl.Start(); err != nil {
		return err
	}

	var disc *discovery.Service
	if cfg.Discovery.MDNS {
		disc = discovery.New(discovery.Options{
			PeerID:         node.LocalPeer(),
			Addrs:          node.Addrs(),
			Port:           node.Port(),
			Service:        cfg.Discovery.Service,
			BrowseInterval: cfg.Discovery.BrowseInterval.Duration,
			Expiry:         cfg.Discovery.Expiry.Duration,
			Logger:         logger.Logger,
			OnDiscovered: func(p discovery.Peer) {
				forward(appCtx, events, chat.PeerDiscovered{Peer: p.ID, Addrs: p.Addrs})
			},
			OnExpired: func(p discovery.Peer) {
				forward(appCtx, events, chat.PeerExpired{Peer: p.ID, Addrs: p.Addrs})
			},
		})
		if err := disc.Start(appCtx); err != nil {
			slog.Warn("mDNS discovery unavailable", "error", err)
			disc = nil
		}
	}

	stdin := bufio.NewReader(os.Stdin)
	name := cfg.Identity.Name
	if !cmd.Flags().Changed("name") {
		name, err = tui.PromptName(stdin, os.Stderr, cfg.Identity.Name)
		if err != nil {
			return err
		}
	}

	runCtx, stop := signal.NotifyContext(appCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var runErr error
	if fullScreen {
		uiDone := make(chan error, 1)
		go func() {
			uiDone <- ui.Run()
			stop()
		}()

		if err := ctrl.Activate(runCtx, name); err != nil {
			ui.Quit()
			<-uiDone
			return err
		}
		runErr = ctrl.Run(runCtx, ui.Lines(), events)
		ui.Quit()
		if err := <-uiDone; err != nil {
			slog.Warn("terminal UI failed", "error", err)
		}
	} else {
		if err := ctrl.Activate(runCtx, name); err != nil {
			return err
		}
		runErr = ctrl.Run(runCtx, tui.ReadLines(runCtx, stdin), events)
	}

	// Unblock discovery callbacks before waiting for its loop
	cancelApp()
	if disc != nil {
		disc.Stop()
	}

	slog.Info("session ended", "metrics", ctrl.Metrics().Snapshot().String())
	return runErr
}

func forward(ctx context.Context, events chan<- chat.Event, ev chat.Event) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}
