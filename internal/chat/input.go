package chat

import (
	"context"
	"fmt"
	"strings"

	"meshchat.dev/go/meshchat/internal/logging"
	"meshchat.dev/go/meshchat/internal/protocol"
)

// recentLogLimit is how many entries /log prints
const recentLogLimit = 20

// HandleLine applies one line of local input
func (c *Controller) HandleLine(ctx context.Context, line string) error {
	if c.phase != PhaseActive {
		return ErrNotActive
	}

	cmd, err := ParseCommand(line)
	if err != nil {
		return err
	}

	switch cmd.Kind {
	case CmdEmpty:
		return nil

	case CmdBroadcast:
		msg := protocol.NewChat(c.local, cmd.Text)
		if err := c.submit(msg); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		c.state.History.Insert(msg)
		c.display.Chat(c.state.Username(c.local), cmd.Text)
		return nil

	case CmdDirect:
		peer, err := c.resolvePeer(cmd.Target)
		if err != nil {
			return err
		}
		if err := c.submit(protocol.NewDirect(c.local, peer, cmd.Text)); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		c.display.Chat(fmt.Sprintf("%s -> %s", c.state.Username(c.local), c.state.Username(peer)), cmd.Text)
		return nil

	case CmdKick:
		peer, err := c.resolvePeer(cmd.Target)
		if err != nil {
			return err
		}
		if peer == c.local {
			return fmt.Errorf("cannot kick yourself")
		}
		name := c.state.Username(peer)
		c.state.Usernames.Remove(peer)
		c.log.Info("peer kicked", "peer", peer, "name", name)
		c.display.Notice(name + " was removed from your user list")
		return nil

	case CmdUsers:
		c.display.Notice(c.userList())
		return nil

	case CmdHelp:
		c.display.Notice(HelpText)
		return nil

	case CmdStats:
		snap := c.metrics.Snapshot()
		snap.HistoryLength = c.state.History.Count()
		snap.KnownPeers = c.state.Usernames.Len()
		c.display.Notice(snap.String())
		return nil

	case CmdLog:
		c.display.Notice(c.recentLogs())
		return nil

	case CmdWhoami:
		c.display.Notice(fmt.Sprintf("you are %s (%s)", c.state.Username(c.local), c.local))
		return nil

	case CmdQuit:
		c.quit = true
		return nil
	}

	return nil
}

// resolvePeer maps a username or peer id to a known peer id
func (c *Controller) resolvePeer(target string) (string, error) {
	switch peers := c.state.Usernames.FindByName(target); len(peers) {
	case 0:
	case 1:
		return peers[0], nil
	default:
		return "", fmt.Errorf("%w: %q, use one of %s", ErrAmbiguousName, target, strings.Join(peers, ", "))
	}

	if c.state.Usernames.Contains(target) {
		return target, nil
	}
	return "", fmt.Errorf("%w: %s", ErrPeerNotFound, target)
}

func (c *Controller) userList() string {
	entries := c.state.Usernames.Entries()

	var b strings.Builder
	fmt.Fprintf(&b, "%d known users:", len(entries))
	for _, e := range entries {
		fmt.Fprintf(&b, "\n  %s (%s)", e.Name, e.Peer)
		if e.Peer == c.local {
			b.WriteString(" *you*")
		}
	}
	return b.String()
}

func (c *Controller) recentLogs() string {
	if c.logs == nil {
		return "log buffer not available"
	}

	entries := c.logs.Query(logging.QueryOpts{Level: "WARN", Limit: recentLogLimit})
	if len(entries) == 0 {
		return "no recent warnings"
	}

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		line := fmt.Sprintf("%s %-5s %s", e.Timestamp.Format("15:04:05"), e.Level, e.Message)
		if errVal, ok := e.Fields["error"]; ok {
			line += fmt.Sprintf(" (%v)", errVal)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
