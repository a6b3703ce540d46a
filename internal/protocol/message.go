package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies what a Message carries
type Kind uint8

const (
	// KindChat is a line of text typed by a participant
	KindChat Kind = 1
	// KindState is a full replica snapshot pushed to a newly subscribed peer
	KindState Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindChat:
		return "chat"
	case KindState:
		return "state"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	return k == KindChat || k == KindState
}

var (
	// ErrUnknownKind is returned when a decoded message has an unrecognised kind
	ErrUnknownKind = errors.New("unknown message kind")

	// ErrMissingSource is returned when a decoded message has no sender
	ErrMissingSource = errors.New("message has no source")
)

// Message is the unit sent over the chat channel.
// A nil Addressee means every subscriber should process it.
type Message struct {
	Kind      Kind    `cbor:"kind"`
	Data      []byte  `cbor:"data"`
	Addressee *string `cbor:"addressee,omitempty"`
	Source    string  `cbor:"source"`
}

// NewChat creates a broadcast chat message
func NewChat(source, text string) Message {
	return Message{
		Kind:   KindChat,
		Data:   []byte(text),
		Source: source,
	}
}

// NewDirect creates a chat message only the addressee should process
func NewDirect(source, to, text string) Message {
	m := NewChat(source, text)
	m.Addressee = &to
	return m
}

// NewState creates a snapshot message addressed to a single peer
func NewState(source, to string, snapshot []byte) Message {
	return Message{
		Kind:      KindState,
		Data:      snapshot,
		Addressee: &to,
		Source:    source,
	}
}

// IsFor reports whether the peer identified by local should process m.
func (m Message) IsFor(local string) bool {
	return m.Addressee == nil || *m.Addressee == local
}

// IsDirect reports whether m has a specific recipient
func (m Message) IsDirect() bool {
	return m.Addressee != nil
}

// Text returns the payload as text, replacing invalid UTF-8 sequences.
func (m Message) Text() string {
	return strings.ToValidUTF8(string(m.Data), "\uFFFD")
}

// Validate checks the fields every peer relies on
func (m Message) Validate() error {
	if !m.Kind.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownKind, uint8(m.Kind))
	}
	if m.Source == "" {
		return ErrMissingSource
	}
	return nil
}
