package chat

import (
	"errors"
	"testing"
)

func TestParseCommand(t *testing.T) {
	testCases := []struct {
		line    string
		want    Command
		wantErr error
	}{
		{line: "", want: Command{Kind: CmdEmpty}},
		{line: "   ", want: Command{Kind: CmdEmpty}},
		{line: "hello there", want: Command{Kind: CmdBroadcast, Text: "hello there"}},
		{line: "  padded ", want: Command{Kind: CmdBroadcast, Text: "  padded "}},
		{line: "/msg bob hi there", want: Command{Kind: CmdDirect, Target: "bob", Text: "hi there"}},
		{line: "/msg   bob   spaced", want: Command{Kind: CmdDirect, Target: "bob", Text: "spaced"}},
		{line: "/msg bob", wantErr: ErrUsage},
		{line: "/msg", wantErr: ErrUsage},
		{line: "/kick peer-b", want: Command{Kind: CmdKick, Target: "peer-b"}},
		{line: "/kick", wantErr: ErrUsage},
		{line: "/kick a b", wantErr: ErrUsage},
		{line: "/users", want: Command{Kind: CmdUsers}},
		{line: "/help", want: Command{Kind: CmdHelp}},
		{line: "/stats", want: Command{Kind: CmdStats}},
		{line: "/log", want: Command{Kind: CmdLog}},
		{line: "/whoami", want: Command{Kind: CmdWhoami}},
		{line: "/quit", want: Command{Kind: CmdQuit}},
		{line: "/exit", want: Command{Kind: CmdQuit}},
		{line: "/shrug ok", want: Command{Kind: CmdBroadcast, Text: "/shrug ok"}},
	}

	for _, tc := range testCases {
		t.Run(tc.line, func(t *testing.T) {
			got, err := ParseCommand(tc.line)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("error = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("ParseCommand(%q) = %+v, want %+v", tc.line, got, tc.want)
			}
		})
	}
}
