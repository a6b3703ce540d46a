// Package testutil provides test utilities for meshchat integration tests
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"meshchat.dev/go/meshchat/internal/chat"
	"meshchat.dev/go/meshchat/internal/dispatch"
	"meshchat.dev/go/meshchat/internal/logging"
)

// TestTopic is the topic participants join in tests
const TestTopic = "meshchat-test"

// Screen records everything a controller displays
type Screen struct {
	mu      sync.Mutex
	chats   []string
	notices []string
}

// Chat records a chat line as "name: text"
func (s *Screen) Chat(name, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats = append(s.chats, fmt.Sprintf("%s: %s", name, text))
}

// Notice records a notice
func (s *Screen) Notice(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, text)
}

// Chats returns the chat lines shown so far
func (s *Screen) Chats() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.chats...)
}

// Notices returns the notices shown so far
func (s *Screen) Notices() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.notices...)
}

// HasNotice reports whether any notice contains substr
func (s *Screen) HasNotice(substr string) bool {
	for _, n := range s.Notices() {
		if strings.Contains(n, substr) {
			return true
		}
	}
	return false
}

// TestParticipant wraps a controller wired to an in-memory hub
type TestParticipant struct {
	Controller *chat.Controller
	Node       *Node
	Outbox     *dispatch.Dispatcher
	Screen     *Screen
	Name       string

	lines  chan string
	cancel context.CancelFunc
	done   chan error
	t      *testing.T
}

// NewTestParticipant creates a participant with peer id peer on hub. The
// controller is started and waiting for a username.
func NewTestParticipant(t *testing.T, hub *Hub, peer, name string) *TestParticipant {
	t.Helper()

	node := hub.Node(peer)
	log := logging.Discard()

	outbox := dispatch.New(node, TestTopic, log)
	outbox.Start(context.Background())

	screen := &Screen{}
	c := chat.New(chat.Options{
		Network: node,
		Outbox:  outbox,
		Display: screen,
		Topic:   TestTopic,
		Logger:  log,
	})
	if err := c.Start(); err != nil {
		t.Fatalf("start %s: %v", peer, err)
	}

	return &TestParticipant{
		Controller: c,
		Node:       node,
		Outbox:     outbox,
		Screen:     screen,
		Name:       name,
		lines:      make(chan string, 16),
		t:          t,
	}
}

// Activate registers the participant's name and joins the topic
func (p *TestParticipant) Activate() {
	p.t.Helper()
	if err := p.Controller.Activate(context.Background(), p.Name); err != nil {
		p.t.Fatalf("activate %s: %v", p.Name, err)
	}
}

// Run starts the controller's event loop in the background
func (p *TestParticipant) Run() {
	p.t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)

	go func() {
		p.done <- p.Controller.Run(ctx, p.lines, p.Node.Events())
	}()
	p.t.Cleanup(func() { p.Stop() })
}

// Say submits a line of input to the running loop
func (p *TestParticipant) Say(line string) {
	p.lines <- line
}

// Stop interrupts the loop and waits for it to return
func (p *TestParticipant) Stop() {
	p.t.Helper()
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.cancel = nil

	select {
	case err := <-p.done:
		if err != nil {
			p.t.Errorf("run %s: %v", p.Name, err)
		}
	case <-time.After(5 * time.Second):
		p.t.Fatalf("run %s did not stop", p.Name)
	}
}

// WaitFor waits for a condition to be true
func WaitFor(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if condition() {
			return
		}
		select {
		case <-ctx.Done():
			t.Fatalf("timeout waiting for: %s", msg)
		case <-ticker.C:
		}
	}
}
