package state

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"

	"meshchat.dev/go/meshchat/internal/protocol"
)

// recorder captures merge notifications
type recorder struct {
	joined   []string
	replayed []string
}

func (r *recorder) Joined(peer, name string) {
	r.joined = append(r.joined, name)
}

func (r *recorder) Replayed(name, text string) {
	r.replayed = append(r.replayed, fmt.Sprintf("%s: %s", name, text))
}

func withHistory(source string, n int) *State {
	s := New()
	for i := 0; i < n; i++ {
		s.History.Insert(protocol.NewChat(source, fmt.Sprintf("msg-%d", i)))
	}
	return s
}

func texts(s *State) []string {
	var out []string
	for m := range s.History.All() {
		out = append(out, m.Text())
	}
	return out
}

func TestMergeLogAcceptanceGate(t *testing.T) {
	testCases := []struct {
		name      string
		local     int
		foreign   int
		wantCount int
	}{
		{"empty accepts populated", 0, 5, 5},
		{"empty accepts two", 0, 2, 2},
		{"empty ignores single entry", 0, 1, 0},
		{"empty ignores empty", 0, 0, 0},
		{"populated refuses", 3, 5, 3},
		{"single entry refuses", 1, 5, 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			local := withHistory("peer-local", tc.local)
			foreign := withHistory("peer-foreign", tc.foreign)
			foreignTexts := texts(foreign)

			res := local.Merge(foreign, nil)

			if got := local.History.Count(); got != tc.wantCount {
				t.Fatalf("Count() = %d, want %d", got, tc.wantCount)
			}
			if tc.local == 0 && tc.wantCount > 0 {
				if !slices.Equal(texts(local), foreignTexts) {
					t.Errorf("history order = %v, want %v", texts(local), foreignTexts)
				}
				if res.AcceptedMessages != tc.foreign {
					t.Errorf("AcceptedMessages = %d, want %d", res.AcceptedMessages, tc.foreign)
				}
			} else if res.AcceptedMessages != 0 {
				t.Errorf("AcceptedMessages = %d, want 0", res.AcceptedMessages)
			}
		})
	}
}

func TestMergeFirstWriterWins(t *testing.T) {
	local := New()
	local.Usernames.UpsertIfAbsent("peer-b", "bob")

	foreign := New()
	foreign.Usernames.UpsertIfAbsent("peer-b", "mallory")
	foreign.Usernames.UpsertIfAbsent("peer-c", "carol")

	rec := &recorder{}
	res := local.Merge(foreign, rec)

	if got := local.Username("peer-b"); got != "bob" {
		t.Errorf("peer-b renamed to %q", got)
	}
	if got := local.Username("peer-c"); got != "carol" {
		t.Errorf("peer-c = %q, want carol", got)
	}
	if res.JoinedPeers != 1 {
		t.Errorf("JoinedPeers = %d, want 1", res.JoinedPeers)
	}
	if !slices.Equal(rec.joined, []string{"carol"}) {
		t.Errorf("joined notifications = %v", rec.joined)
	}
}

func TestMergeDirectoryMonotonic(t *testing.T) {
	local := New()
	local.Usernames.UpsertIfAbsent("peer-a", "alice")

	// A sequence of foreign states, none of which mention peer-a
	for i := 0; i < 5; i++ {
		foreign := withHistory("peer-x", i)
		foreign.Usernames.UpsertIfAbsent(fmt.Sprintf("peer-%d", i), fmt.Sprintf("user-%d", i))
		local.Merge(foreign, nil)

		if !local.Usernames.Contains("peer-a") {
			t.Fatalf("merge %d removed peer-a", i)
		}
	}

	if local.Usernames.Len() != 6 {
		t.Errorf("Len() = %d, want 6", local.Usernames.Len())
	}
}

func TestMergeDirectoryAlwaysRuns(t *testing.T) {
	// Log gate closed, directory must still merge
	local := withHistory("peer-a", 3)
	foreign := withHistory("peer-b", 5)
	foreign.Usernames.UpsertIfAbsent("peer-b", "bob")

	local.Merge(foreign, nil)

	if local.History.Count() != 3 {
		t.Errorf("history changed: %d", local.History.Count())
	}
	if local.Username("peer-b") != "bob" {
		t.Error("username not merged while history was refused")
	}
}

func TestMergeReplayAttribution(t *testing.T) {
	local := New()
	foreign := New()
	foreign.Usernames.UpsertIfAbsent("peer-b", "bob")
	foreign.History.Insert(protocol.NewChat("peer-b", "hello"))
	foreign.History.Insert(protocol.NewChat("peer-z", "who am i"))

	rec := &recorder{}
	local.Merge(foreign, rec)

	want := []string{"bob: hello", "anonimo: who am i"}
	if !slices.Equal(rec.replayed, want) {
		t.Errorf("replayed = %v, want %v", rec.replayed, want)
	}
}

func TestMergeConsumesForeign(t *testing.T) {
	local := New()
	foreign := withHistory("peer-b", 2)

	local.Merge(foreign, nil)

	if foreign.History != nil || foreign.Usernames != nil {
		t.Error("foreign state should be emptied by Merge")
	}

	// Merging nil or an already consumed state is a no-op
	local.Merge(nil, nil)
	res := local.Merge(foreign, nil)
	if res != (MergeResult{}) {
		t.Errorf("merging consumed state changed something: %+v", res)
	}
}

func TestStateEncodeDecode(t *testing.T) {
	s := New()
	s.Usernames.UpsertIfAbsent("peer-a", "alice")
	s.Usernames.UpsertIfAbsent("peer-b", "bob")
	s.History.Insert(protocol.NewChat("peer-a", "one"))
	s.History.Insert(protocol.NewDirect("peer-b", "peer-a", "two"))

	data, err := s.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if !slices.Equal(texts(got), []string{"one", "two"}) {
		t.Errorf("history = %v", texts(got))
	}
	if !slices.Equal(got.Usernames.Entries(), s.Usernames.Entries()) {
		t.Errorf("usernames = %v, want %v", got.Usernames.Entries(), s.Usernames.Entries())
	}

	entries := got.History.Entries()
	if entries[1].Addressee == nil || *entries[1].Addressee != "peer-a" {
		t.Error("addressee lost in snapshot")
	}
}

func TestStateEncodeEmpty(t *testing.T) {
	data, err := New().Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.History.Count() != 0 || got.Usernames.Len() != 0 {
		t.Error("empty state should decode empty")
	}
}

// oversized returns a state whose history encodes to more than a snapshot may hold
func oversized() *State {
	s := New()
	s.Usernames.UpsertIfAbsent("peer-a", "alice")
	s.Usernames.UpsertIfAbsent("peer-b", "bob")
	block := strings.Repeat("x", 1<<20)
	for i := 0; i < 11; i++ {
		s.History.Insert(protocol.NewChat("peer-a", block))
	}
	return s
}

func TestStateEncodeTooLarge(t *testing.T) {
	s := oversized()

	if _, err := s.Encode(); !errors.Is(err, protocol.ErrMessageTooLarge) {
		t.Fatalf("expected ErrMessageTooLarge, got %v", err)
	}

	data, err := s.EncodeRoster()
	if err != nil {
		t.Fatalf("EncodeRoster: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.History.Count() != 0 {
		t.Errorf("roster carried %d messages", got.History.Count())
	}
	if !slices.Equal(got.Usernames.Entries(), s.Usernames.Entries()) {
		t.Errorf("usernames = %v", got.Usernames.Entries())
	}
}

func TestStateDecodeInvalid(t *testing.T) {
	bad, err := protocol.Marshal(snapshot{
		History: []protocol.Message{{Kind: 42, Source: "x"}},
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	for name, data := range map[string][]byte{
		"garbage":     {0x01, 0x02, 0x03},
		"bad message": bad,
		"empty":       nil,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode(data); !errors.Is(err, protocol.ErrDecode) {
				t.Errorf("expected ErrDecode, got %v", err)
			}
		})
	}
}
