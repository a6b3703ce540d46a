// Package network connects a participant to the chat mesh using libp2p
// publish/subscribe. Topic membership changes and received payloads are
// delivered as chat events on a single channel.
package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	ma "github.com/multiformats/go-multiaddr"

	"meshchat.dev/go/meshchat/internal/chat"
	"meshchat.dev/go/meshchat/internal/protocol"
)

const (
	RouterFloodSub  = "floodsub"
	RouterGossipSub = "gossipsub"

	// DialTimeout bounds a single connection attempt
	DialTimeout = 10 * time.Second
)

var (
	// ErrNotJoined is returned when publishing to a topic that was never subscribed
	ErrNotJoined = errors.New("topic not joined")

	// ErrNoAddresses is returned by AddPeer when none of the addresses parse
	ErrNoAddresses = errors.New("no usable addresses")
)

// Options configures a Node
type Options struct {
	ListenAddrs    []string
	PrivateKey     crypto.PrivKey
	Router         string
	BootstrapPeers []string

	// Events receives subscription changes and payloads. It must be drained.
	Events chan<- chat.Event
	Logger *slog.Logger
}

type joinedTopic struct {
	topic   *pubsub.Topic
	sub     *pubsub.Subscription
	handler *pubsub.TopicEventHandler
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Node is a libp2p host with a pubsub router
type Node struct {
	host   host.Host
	ps     *pubsub.PubSub
	events chan<- chat.Event
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	topics map[string]*joinedTopic
}

// New starts a libp2p host listening on opts.ListenAddrs and dials the
// bootstrap peers in the background.
func New(ctx context.Context, opts Options) (*Node, error) {
	if opts.Events == nil {
		return nil, fmt.Errorf("events channel is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "network")

	bootstrap, err := parseBootstrap(opts.BootstrapPeers)
	if err != nil {
		return nil, err
	}

	hostOpts := []libp2p.Option{
		libp2p.ListenAddrStrings(opts.ListenAddrs...),
	}
	if opts.PrivateKey != nil {
		hostOpts = append(hostOpts, libp2p.Identity(opts.PrivateKey))
	}

	h, err := libp2p.New(hostOpts...)
	if err != nil {
		return nil, fmt.Errorf("create host: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)

	psOpts := []pubsub.Option{
		pubsub.WithMaxMessageSize(protocol.MaxMessageSize + 4096),
	}

	var ps *pubsub.PubSub
	switch opts.Router {
	case "", RouterFloodSub:
		ps, err = pubsub.NewFloodSub(ctx, h, psOpts...)
	case RouterGossipSub:
		ps, err = pubsub.NewGossipSub(ctx, h, psOpts...)
	default:
		err = fmt.Errorf("unknown router %q", opts.Router)
	}
	if err != nil {
		cancel()
		h.Close()
		return nil, fmt.Errorf("create pubsub: %w", err)
	}

	n := &Node{
		host:   h,
		ps:     ps,
		events: opts.Events,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		topics: make(map[string]*joinedTopic),
	}

	log.Info("host started", "peer", h.ID().String(), "addrs", n.Addrs())

	for _, info := range bootstrap {
		n.dial(info)
	}

	return n, nil
}

func parseBootstrap(addrs []string) ([]peer.AddrInfo, error) {
	var infos []peer.AddrInfo
	for _, addr := range addrs {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		maddr, err := ma.NewMultiaddr(addr)
		if err != nil {
			return nil, fmt.Errorf("bootstrap peer %q: %w", addr, err)
		}
		info, err := peer.AddrInfoFromP2pAddr(maddr)
		if err != nil {
			return nil, fmt.Errorf("bootstrap peer %q: %w", addr, err)
		}
		infos = append(infos, *info)
	}
	return infos, nil
}

// LocalPeer returns this host's peer id
func (n *Node) LocalPeer() string {
	return n.host.ID().String()
}

// Addrs returns the host's listen addresses with the /p2p component attached
func (n *Node) Addrs() []string {
	suffix, err := ma.NewMultiaddr("/p2p/" + n.host.ID().String())
	if err != nil {
		return nil
	}

	var out []string
	for _, addr := range n.host.Addrs() {
		out = append(out, addr.Encapsulate(suffix).String())
	}
	return out
}

// Port returns the first TCP or UDP port the host listens on, or 0
func (n *Node) Port() int {
	for _, code := range []int{ma.P_TCP, ma.P_UDP} {
		for _, addr := range n.host.Addrs() {
			v, err := addr.ValueForProtocol(code)
			if err != nil {
				continue
			}
			if port, err := strconv.Atoi(v); err == nil && port > 0 {
				return port
			}
		}
	}
	return 0
}

// Subscribe joins topic and starts delivering its events
func (n *Node) Subscribe(ctx context.Context, name string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.topics[name]; ok {
		return nil
	}

	topic, err := n.ps.Join(name)
	if err != nil {
		return fmt.Errorf("join topic %s: %w", name, err)
	}

	handler, err := topic.EventHandler()
	if err != nil {
		topic.Close()
		return fmt.Errorf("topic events %s: %w", name, err)
	}

	sub, err := topic.Subscribe()
	if err != nil {
		handler.Cancel()
		topic.Close()
		return fmt.Errorf("subscribe topic %s: %w", name, err)
	}

	tctx, cancel := context.WithCancel(n.ctx)
	jt := &joinedTopic{topic: topic, sub: sub, handler: handler, cancel: cancel}
	n.topics[name] = jt

	jt.wg.Add(2)
	go n.consume(tctx, jt)
	go n.watchPeers(tctx, jt)

	n.log.Info("subscribed", "topic", name)
	return nil
}

// Unsubscribe leaves topic. Peers observe the departure.
func (n *Node) Unsubscribe(name string) error {
	n.mu.Lock()
	jt, ok := n.topics[name]
	delete(n.topics, name)
	n.mu.Unlock()

	if !ok {
		return nil
	}

	jt.cancel()
	jt.sub.Cancel()
	jt.handler.Cancel()
	jt.wg.Wait()

	// Cancellation is processed asynchronously by the pubsub loop, so Close
	// can still see the subscription. Leaving the topic does not depend on it.
	if err := jt.topic.Close(); err != nil {
		n.log.Debug("close topic", "topic", name, "error", err)
	}
	n.log.Info("unsubscribed", "topic", name)
	return nil
}

// Publish sends data to every subscriber of topic
func (n *Node) Publish(ctx context.Context, name string, data []byte) error {
	n.mu.Lock()
	jt, ok := n.topics[name]
	n.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotJoined, name)
	}
	if err := jt.topic.Publish(ctx, data); err != nil {
		return fmt.Errorf("publish %s: %w", name, err)
	}
	return nil
}

// AddPeer records addrs for peer and dials it in the background
func (n *Node) AddPeer(ctx context.Context, id string, addrs []string) error {
	pid, err := peer.Decode(id)
	if err != nil {
		return fmt.Errorf("decode peer id: %w", err)
	}
	if pid == n.host.ID() {
		return nil
	}

	info := peer.AddrInfo{ID: pid}
	for _, addr := range addrs {
		maddr, err := ma.NewMultiaddr(addr)
		if err != nil {
			n.log.Debug("ignoring address", "peer", id, "addr", addr, "error", err)
			continue
		}
		// Strip a trailing /p2p/<id>; the peerstore wants transport addresses
		transport, _ := peer.SplitAddr(maddr)
		if transport != nil {
			info.Addrs = append(info.Addrs, transport)
		}
	}
	if len(info.Addrs) == 0 {
		return fmt.Errorf("%w for %s", ErrNoAddresses, id)
	}

	n.host.Peerstore().AddAddrs(pid, info.Addrs, peerstore.TempAddrTTL)
	if n.host.Network().Connectedness(pid) == network.Connected {
		return nil
	}

	n.dial(info)
	return nil
}

// RemovePeer forgets peer's addresses and closes connections to it
func (n *Node) RemovePeer(id string) error {
	pid, err := peer.Decode(id)
	if err != nil {
		return fmt.Errorf("decode peer id: %w", err)
	}

	n.host.Peerstore().ClearAddrs(pid)
	if err := n.host.Network().ClosePeer(pid); err != nil {
		return fmt.Errorf("close peer %s: %w", id, err)
	}
	return nil
}

// Close leaves all topics and shuts the host down
func (n *Node) Close() error {
	n.mu.Lock()
	names := make([]string, 0, len(n.topics))
	for name := range n.topics {
		names = append(names, name)
	}
	n.mu.Unlock()

	for _, name := range names {
		if err := n.Unsubscribe(name); err != nil {
			n.log.Warn("unsubscribe on close", "topic", name, "error", err)
		}
	}

	n.cancel()
	return n.host.Close()
}

func (n *Node) dial(info peer.AddrInfo) {
	go func() {
		ctx, cancel := context.WithTimeout(n.ctx, DialTimeout)
		defer cancel()

		if err := n.host.Connect(ctx, info); err != nil {
			n.log.Debug("dial failed", "peer", info.ID.String(), "error", err)
			return
		}
		n.log.Debug("connected", "peer", info.ID.String())
	}()
}

func (n *Node) emit(ctx context.Context, ev chat.Event) bool {
	select {
	case n.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (n *Node) consume(ctx context.Context, jt *joinedTopic) {
	defer jt.wg.Done()

	for {
		msg, err := jt.sub.Next(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, pubsub.ErrSubscriptionCancelled) {
				n.log.Warn("topic consumer stopped", "topic", jt.topic.String(), "error", err)
			}
			return
		}
		if msg.ReceivedFrom == n.host.ID() || len(msg.Data) == 0 {
			continue
		}

		ev := chat.PayloadReceived{From: msg.GetFrom().String(), Data: msg.Data}
		if !n.emit(ctx, ev) {
			return
		}
	}
}

func (n *Node) watchPeers(ctx context.Context, jt *joinedTopic) {
	defer jt.wg.Done()

	for {
		pe, err := jt.handler.NextPeerEvent(ctx)
		if err != nil {
			return
		}

		var ev chat.Event
		switch pe.Type {
		case pubsub.PeerJoin:
			n.log.Debug("peer subscribed", "peer", pe.Peer.String())
			ev = chat.PeerSubscribed{Peer: pe.Peer.String()}
		case pubsub.PeerLeave:
			n.log.Debug("peer unsubscribed", "peer", pe.Peer.String())
			ev = chat.PeerUnsubscribed{Peer: pe.Peer.String()}
		default:
			continue
		}
		if !n.emit(ctx, ev) {
			return
		}
	}
}
