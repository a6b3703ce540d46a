package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"meshchat.dev/go/meshchat/internal/protocol"
)

var errUnreachable = errors.New("unreachable")

// recordingPublisher collects published payloads. When gate is non-nil each
// Publish waits for a value from it.
type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	sent   []protocol.Message
	gate   chan struct{}
	fail   bool
}

func (p *recordingPublisher) Publish(ctx context.Context, topic string, data []byte) error {
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if p.fail {
		return errUnreachable
	}

	msg, err := protocol.Decode(data)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.sent = append(p.sent, msg)
	return nil
}

func (p *recordingPublisher) messages() []protocol.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.Message(nil), p.sent...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatcherPublishesInOrder(t *testing.T) {
	pub := &recordingPublisher{}
	d := New(pub, "chat", quietLogger())
	d.Start(context.Background())

	for _, text := range []string{"one", "two", "three"} {
		if _, err := d.Submit(protocol.NewChat("peer-a", text)); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got := pub.messages()
	if len(got) != 3 {
		t.Fatalf("published %d messages, want 3", len(got))
	}
	for i, want := range []string{"one", "two", "three"} {
		if got[i].Text() != want {
			t.Errorf("message %d = %q, want %q", i, got[i].Text(), want)
		}
	}
	if pub.topics[0] != "chat" {
		t.Errorf("topic = %q, want chat", pub.topics[0])
	}
	if d.Published() != 3 {
		t.Errorf("Published() = %d, want 3", d.Published())
	}
}

func TestDispatcherSubmitNeverBlocks(t *testing.T) {
	pub := &recordingPublisher{gate: make(chan struct{})}
	d := New(pub, "chat", quietLogger())
	d.Start(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			if _, err := d.Submit(protocol.NewChat("peer-a", "spam")); err != nil {
				t.Errorf("Submit: %v", err)
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Submit blocked while the publisher was stalled")
	}

	close(pub.gate)
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n := len(pub.messages()); n != 1000 {
		t.Errorf("published %d messages, want 1000", n)
	}
}

func TestDispatcherSubmitAfterClose(t *testing.T) {
	d := New(&recordingPublisher{}, "chat", quietLogger())
	d.Start(context.Background())

	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := d.Submit(protocol.NewChat("peer-a", "late")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	// Closing twice is harmless
	if err := d.Close(context.Background()); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestDispatcherReportsFailures(t *testing.T) {
	pub := &recordingPublisher{fail: true}
	d := New(pub, "chat", quietLogger())
	d.Start(context.Background())

	id, err := d.Submit(protocol.NewState("peer-a", "peer-b", []byte{0xa0}))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case f := <-d.Failures():
		if f.JobID != id {
			t.Errorf("JobID = %q, want %q", f.JobID, id)
		}
		if f.Kind != protocol.KindState {
			t.Errorf("Kind = %v, want state", f.Kind)
		}
		if !errors.Is(f.Err, errUnreachable) {
			t.Errorf("Err = %v", f.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no failure reported")
	}

	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if d.Failed() != 1 {
		t.Errorf("Failed() = %d, want 1", d.Failed())
	}
}

func TestDispatcherCloseDeadline(t *testing.T) {
	pub := &recordingPublisher{gate: make(chan struct{})}
	d := New(pub, "chat", quietLogger())
	d.Start(context.Background())

	for i := 0; i < 5; i++ {
		if _, err := d.Submit(protocol.NewChat("peer-a", "stuck")); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := d.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
	if n := len(pub.messages()); n != 0 {
		t.Errorf("published %d messages through a stalled publisher", n)
	}
}

func TestDispatcherCloseBeforeStart(t *testing.T) {
	pub := &recordingPublisher{}
	d := New(pub, "chat", quietLogger())

	if _, err := d.Submit(protocol.NewChat("peer-a", "never sent")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if d.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", d.Pending())
	}

	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Start after Close must not launch anything
	d.Start(context.Background())
	if len(pub.messages()) != 0 {
		t.Error("closed dispatcher published")
	}
}
