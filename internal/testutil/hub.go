package testutil

import (
	"context"
	"errors"
	"sync"

	"meshchat.dev/go/meshchat/internal/chat"
)

// ErrNotSubscribed is returned when a node publishes to a topic it has not joined
var ErrNotSubscribed = errors.New("not subscribed")

const eventBuffer = 1024

// Hub is an in-memory pub/sub mesh. Every subscriber of a topic receives
// every payload published on it by another node.
type Hub struct {
	mu    sync.Mutex
	nodes map[string]*Node
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{nodes: make(map[string]*Node)}
}

// Node returns the node for peer, creating it on first use
func (h *Hub) Node(peer string) *Node {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n, ok := h.nodes[peer]; ok {
		return n
	}
	n := &Node{
		hub:    h,
		id:     peer,
		events: make(chan chat.Event, eventBuffer),
		topics: make(map[string]bool),
	}
	h.nodes[peer] = n
	return n
}

// subscribers returns the nodes on topic other than except
func (h *Hub) subscribers(topic, except string) []*Node {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []*Node
	for id, n := range h.nodes {
		if id != except && n.subscribed(topic) {
			out = append(out, n)
		}
	}
	return out
}

// Node is one participant's view of the hub. It implements chat.Network.
type Node struct {
	hub    *Hub
	id     string
	events chan chat.Event

	mu      sync.Mutex
	topics  map[string]bool
	added   []string
	removed []string
}

// Events returns the channel the node's events are delivered on
func (n *Node) Events() <-chan chat.Event {
	return n.events
}

// Inject delivers ev to this node as if it came from the network
func (n *Node) Inject(ev chat.Event) {
	n.events <- ev
}

func (n *Node) LocalPeer() string {
	return n.id
}

func (n *Node) subscribed(topic string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.topics[topic]
}

func (n *Node) Subscribe(ctx context.Context, topic string) error {
	n.mu.Lock()
	n.topics[topic] = true
	n.mu.Unlock()

	for _, other := range n.hub.subscribers(topic, n.id) {
		other.events <- chat.PeerSubscribed{Peer: n.id}
		n.events <- chat.PeerSubscribed{Peer: other.id}
	}
	return nil
}

func (n *Node) Unsubscribe(topic string) error {
	n.mu.Lock()
	delete(n.topics, topic)
	n.mu.Unlock()

	for _, other := range n.hub.subscribers(topic, n.id) {
		other.events <- chat.PeerUnsubscribed{Peer: n.id}
	}
	return nil
}

func (n *Node) Publish(ctx context.Context, topic string, data []byte) error {
	if !n.subscribed(topic) {
		return ErrNotSubscribed
	}

	for _, other := range n.hub.subscribers(topic, n.id) {
		payload := append([]byte(nil), data...)
		select {
		case other.events <- chat.PayloadReceived{From: n.id, Data: payload}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (n *Node) AddPeer(ctx context.Context, peer string, addrs []string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.added = append(n.added, peer)
	return nil
}

func (n *Node) RemovePeer(peer string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.removed = append(n.removed, peer)
	return nil
}

// AddedPeers returns the peers passed to AddPeer
func (n *Node) AddedPeers() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.added...)
}

// RemovedPeers returns the peers passed to RemovePeer
func (n *Node) RemovedPeers() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.removed...)
}
