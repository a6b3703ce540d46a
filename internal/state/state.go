// Package state holds a participant's view of the chat and the rules for
// folding another participant's view into it.
//
// Merging uses no timestamps. Acceptance depends only on how much each side
// already holds.
package state

import (
	"fmt"

	"meshchat.dev/go/meshchat/internal/history"
	"meshchat.dev/go/meshchat/internal/protocol"
)

// Notifier receives the user-visible effects of a merge
type Notifier interface {
	// Joined is called once for every peer learned from the foreign state
	Joined(peer, name string)
	// Replayed is called for every history entry accepted from the foreign state
	Replayed(name, text string)
}

// MergeResult summarises what a merge changed
type MergeResult struct {
	JoinedPeers      int
	AcceptedMessages int
}

// State is one participant's chat history and roster.
type State struct {
	History   *history.History[protocol.Message]
	Usernames *Directory
}

// New creates an empty state
func New() *State {
	return &State{
		History:   history.New[protocol.Message](),
		Usernames: NewDirectory(),
	}
}

// Username resolves the display name of peer
func (s *State) Username(peer string) string {
	return s.Usernames.Lookup(peer)
}

// Merge folds other into s and empties other; callers must not use it again.
//
// Usernames unknown locally are always added. History is only taken when s
// has none of its own and other has more than one entry.
func (s *State) Merge(other *State, n Notifier) MergeResult {
	var res MergeResult
	if other == nil {
		return res
	}

	if other.Usernames != nil {
		for _, e := range other.Usernames.Entries() {
			if s.Usernames.UpsertIfAbsent(e.Peer, e.Name) {
				res.JoinedPeers++
				if n != nil {
					n.Joined(e.Peer, e.Name)
				}
			}
		}
	}

	if other.History != nil && s.History.Count() < 1 && other.History.Count() > 1 {
		for msg := range other.History.All() {
			if n != nil {
				n.Replayed(s.Username(msg.Source), msg.Text())
			}
			s.History.Insert(msg)
			res.AcceptedMessages++
		}
	}

	*other = State{}
	return res
}

// snapshot is the wire form of a State
type snapshot struct {
	History   []protocol.Message `cbor:"history"`
	Usernames map[string]string  `cbor:"usernames"`
}

// Encode serializes the full state for a snapshot push. It fails with
// protocol.ErrMessageTooLarge once the result exceeds
// protocol.MaxSnapshotSize.
func (s *State) Encode() ([]byte, error) {
	return encodeSnapshot(snapshot{
		History:   s.History.Entries(),
		Usernames: s.Usernames.snapshot(),
	})
}

// EncodeRoster serializes the usernames with an empty history
func (s *State) EncodeRoster() ([]byte, error) {
	return encodeSnapshot(snapshot{
		History:   []protocol.Message{},
		Usernames: s.Usernames.snapshot(),
	})
}

func encodeSnapshot(snap snapshot) ([]byte, error) {
	data, err := protocol.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	if len(data) > protocol.MaxSnapshotSize {
		return nil, fmt.Errorf("encode state: %w: %d bytes", protocol.ErrMessageTooLarge, len(data))
	}
	return data, nil
}

// Decode parses a snapshot produced by Encode. Every history entry must be a
// valid message.
func Decode(data []byte) (*State, error) {
	var snap snapshot
	if err := protocol.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}

	for i, msg := range snap.History {
		if err := msg.Validate(); err != nil {
			return nil, fmt.Errorf("decode state: entry %d: %w: %w", i, protocol.ErrDecode, err)
		}
	}

	s := &State{
		History:   history.FromEntries(snap.History),
		Usernames: NewDirectory(),
	}
	for peer, name := range snap.Usernames {
		s.Usernames.names[peer] = name
	}
	return s, nil
}
