package network

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zalando/go-keyring"

	"meshchat.dev/go/meshchat/internal/chat"
	"meshchat.dev/go/meshchat/internal/logging"
)

const testTopic = "meshchat-network-test"

func newTestNode(t *testing.T, router string) (*Node, chan chat.Event) {
	t.Helper()

	events := make(chan chat.Event, 64)
	n, err := New(context.Background(), Options{
		ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"},
		Router:      router,
		Events:      events,
		Logger:      logging.Discard(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { n.Close() })
	return n, events
}

// waitEvent returns the first event accepted by match
func waitEvent(t *testing.T, events <-chan chat.Event, match func(chat.Event) bool) chat.Event {
	t.Helper()

	timeout := time.After(15 * time.Second)
	for {
		select {
		case ev := <-events:
			if match(ev) {
				return ev
			}
		case <-timeout:
			t.Fatal("timed out waiting for event")
			return nil
		}
	}
}

func TestTwoNodesExchangePayloads(t *testing.T) {
	for _, router := range []string{RouterFloodSub, RouterGossipSub} {
		t.Run(router, func(t *testing.T) {
			ctx := context.Background()
			a, aEvents := newTestNode(t, router)
			b, bEvents := newTestNode(t, router)

			if err := a.Subscribe(ctx, testTopic); err != nil {
				t.Fatalf("subscribe a: %v", err)
			}
			if err := b.Subscribe(ctx, testTopic); err != nil {
				t.Fatalf("subscribe b: %v", err)
			}
			if err := b.AddPeer(ctx, a.LocalPeer(), a.Addrs()); err != nil {
				t.Fatalf("AddPeer: %v", err)
			}

			waitEvent(t, aEvents, func(ev chat.Event) bool {
				s, ok := ev.(chat.PeerSubscribed)
				return ok && s.Peer == b.LocalPeer()
			})
			waitEvent(t, bEvents, func(ev chat.Event) bool {
				s, ok := ev.(chat.PeerSubscribed)
				return ok && s.Peer == a.LocalPeer()
			})

			// Gossipsub needs a heartbeat to build the mesh; retry until delivered
			deadline := time.Now().Add(15 * time.Second)
			var got chat.PayloadReceived
			for received := false; !received; {
				if time.Now().After(deadline) {
					t.Fatal("payload never delivered")
				}
				if err := b.Publish(ctx, testTopic, []byte("hello")); err != nil {
					t.Fatalf("Publish: %v", err)
				}
				select {
				case ev := <-aEvents:
					got, received = ev.(chat.PayloadReceived)
				case <-time.After(500 * time.Millisecond):
				}
			}

			if got.From != b.LocalPeer() || string(got.Data) != "hello" {
				t.Errorf("payload = %+v", got)
			}

			if err := b.Unsubscribe(testTopic); err != nil {
				t.Fatalf("Unsubscribe: %v", err)
			}
			waitEvent(t, aEvents, func(ev chat.Event) bool {
				u, ok := ev.(chat.PeerUnsubscribed)
				return ok && u.Peer == b.LocalPeer()
			})
		})
	}
}

func TestOwnPayloadsNotDelivered(t *testing.T) {
	ctx := context.Background()
	a, events := newTestNode(t, RouterFloodSub)

	if err := a.Subscribe(ctx, testTopic); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := a.Publish(ctx, testTopic, []byte("me")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case ev := <-events:
		t.Errorf("unexpected event %#v", ev)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestPublishUnjoined(t *testing.T) {
	a, _ := newTestNode(t, RouterFloodSub)
	if err := a.Publish(context.Background(), "nowhere", []byte("x")); !errors.Is(err, ErrNotJoined) {
		t.Errorf("expected ErrNotJoined, got %v", err)
	}
}

func TestAddPeerValidation(t *testing.T) {
	a, _ := newTestNode(t, RouterFloodSub)
	b, _ := newTestNode(t, RouterFloodSub)
	ctx := context.Background()

	if err := a.AddPeer(ctx, "not-a-peer-id", nil); err == nil {
		t.Error("bad peer id should fail")
	}
	if err := a.AddPeer(ctx, b.LocalPeer(), []string{"garbage"}); !errors.Is(err, ErrNoAddresses) {
		t.Errorf("expected ErrNoAddresses, got %v", err)
	}
	// Adding ourselves is a no-op
	if err := a.AddPeer(ctx, a.LocalPeer(), nil); err != nil {
		t.Errorf("self AddPeer: %v", err)
	}
	if err := a.RemovePeer(b.LocalPeer()); err != nil {
		t.Errorf("RemovePeer: %v", err)
	}
}

func TestNewRejectsBadOptions(t *testing.T) {
	events := make(chan chat.Event)
	testCases := []struct {
		name string
		opts Options
	}{
		{"no events", Options{ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"}}},
		{"bad router", Options{ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"}, Router: "smoke", Events: events}},
		{"bad bootstrap", Options{ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"}, BootstrapPeers: []string{"/ip4/1.2.3.4/tcp/1"}, Events: events}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tc.opts.Logger = logging.Discard()
			if n, err := New(context.Background(), tc.opts); err == nil {
				n.Close()
				t.Error("New should fail")
			}
		})
	}
}

func TestLoadOrCreateKeyFile(t *testing.T) {
	store := FileKeyStore{Path: filepath.Join(t.TempDir(), "keys", "peer.key")}

	first, err := LoadOrCreateKey(store)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := LoadOrCreateKey(store)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !first.Equals(second) {
		t.Error("key changed between loads")
	}

	info, err := os.Stat(store.Path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("key file mode = %v", info.Mode().Perm())
	}

	id1, _ := PeerIDFromKey(first)
	id2, _ := PeerIDFromKey(second)
	if id1 == "" || id1 != id2 {
		t.Errorf("peer ids %q / %q", id1, id2)
	}
}

func TestLoadOrCreateKeyCorrupted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peer.key")
	if err := os.WriteFile(path, []byte("junk"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadOrCreateKey(FileKeyStore{Path: path}); err == nil {
		t.Error("corrupted key should fail")
	}
}

func TestLoadOrCreateKeyKeychain(t *testing.T) {
	keyring.MockInit()

	first, err := LoadOrCreateKey(KeychainKeyStore{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := LoadOrCreateKey(KeychainKeyStore{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !first.Equals(second) {
		t.Error("keychain key changed between loads")
	}
}
