package chat

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUsage is returned for a recognised command with missing arguments
var ErrUsage = errors.New("usage")

// CommandKind identifies a parsed input line
type CommandKind int

const (
	CmdEmpty CommandKind = iota
	CmdBroadcast
	CmdDirect
	CmdKick
	CmdUsers
	CmdHelp
	CmdStats
	CmdLog
	CmdWhoami
	CmdQuit
)

// Command is one line of local input
type Command struct {
	Kind   CommandKind
	Target string // peer or username for CmdDirect and CmdKick
	Text   string
}

// HelpText lists the commands understood by ParseCommand
const HelpText = `/msg <peer> <text>  send a message to one peer
/kick <peer>        forget a peer locally
/users              list known peers
/whoami             show your name and peer id
/stats              show counters
/log                show recent warnings
/quit               leave the chat
anything else is sent to everyone`

// ParseCommand interprets a line of user input. Lines that do not start with
// a known command are broadcast verbatim.
func ParseCommand(line string) (Command, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Command{Kind: CmdEmpty}, nil
	}
	if !strings.HasPrefix(trimmed, "/") {
		return Command{Kind: CmdBroadcast, Text: line}, nil
	}

	name, rest, _ := strings.Cut(trimmed, " ")
	rest = strings.TrimSpace(rest)

	switch name {
	case "/msg":
		target, text, _ := strings.Cut(rest, " ")
		text = strings.TrimSpace(text)
		if target == "" || text == "" {
			return Command{}, fmt.Errorf("%w: /msg <peer> <text>", ErrUsage)
		}
		return Command{Kind: CmdDirect, Target: target, Text: text}, nil
	case "/kick":
		if rest == "" || strings.Contains(rest, " ") {
			return Command{}, fmt.Errorf("%w: /kick <peer>", ErrUsage)
		}
		return Command{Kind: CmdKick, Target: rest}, nil
	case "/users":
		return Command{Kind: CmdUsers}, nil
	case "/help":
		return Command{Kind: CmdHelp}, nil
	case "/stats":
		return Command{Kind: CmdStats}, nil
	case "/log":
		return Command{Kind: CmdLog}, nil
	case "/whoami":
		return Command{Kind: CmdWhoami}, nil
	case "/quit", "/exit":
		return Command{Kind: CmdQuit}, nil
	default:
		return Command{Kind: CmdBroadcast, Text: line}, nil
	}
}
