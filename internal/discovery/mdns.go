// Package discovery finds other meshchat peers on the local network with
// mDNS and reports them until they stop answering.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	ma "github.com/multiformats/go-multiaddr"
)

const (
	// DefaultService is the mDNS service type for meshchat
	DefaultService = "_meshchat._udp"

	// Domain is the mDNS domain
	Domain = "local."

	// DefaultBrowseInterval is how often to scan for new peers
	DefaultBrowseInterval = 10 * time.Second

	// DefaultExpiry is how long a peer stays known without answering
	DefaultExpiry = 60 * time.Second

	browseWindow = 3 * time.Second

	// maxTXTLen is the limit on a single TXT string
	maxTXTLen = 255
)

// Peer is a peer found via mDNS
type Peer struct {
	ID       string
	Addrs    []string
	Instance string
	LastSeen time.Time
}

// Options configures a Service
type Options struct {
	PeerID string
	Addrs  []string // multiaddrs to advertise
	Port   int

	Service        string
	BrowseInterval time.Duration
	Expiry         time.Duration
	Logger         *slog.Logger

	OnDiscovered func(Peer)
	OnExpired    func(Peer)
}

// Service handles mDNS advertising, browsing and expiry
type Service struct {
	opts     Options
	instance string
	log      *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
	server  *zeroconf.Server
	peers   map[string]*Peer

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a discovery service. Start must be called to begin.
func New(opts Options) *Service {
	if opts.Service == "" {
		opts.Service = DefaultService
	}
	if opts.BrowseInterval <= 0 {
		opts.BrowseInterval = DefaultBrowseInterval
	}
	if opts.Expiry <= 0 {
		opts.Expiry = DefaultExpiry
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		opts:     opts,
		instance: instanceName(opts.PeerID),
		log:      log.With("component", "discovery"),
		now:      time.Now,
		peers:    make(map[string]*Peer),
	}
}

// Start advertises this peer and browses in the background
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.log.Info("mDNS discovery starting",
		"instance", s.instance,
		"service", s.opts.Service,
		"port", s.opts.Port,
	)

	if err := s.advertise(); err != nil {
		// Browsing still works without advertising
		s.log.Warn("mDNS advertising failed", "error", err)
	}

	go s.loop(ctx)
	return nil
}

// Stop ends advertising and browsing
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cancel()
	done := s.done
	if s.server != nil {
		s.server.Shutdown()
		s.server = nil
	}
	s.mu.Unlock()

	<-done
	s.log.Info("mDNS discovery stopped")
	return nil
}

// Peers returns the currently known peers sorted by id
func (s *Service) Peers() []Peer {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TXTRecords builds the TXT strings advertising id and addrs
func TXTRecords(id string, addrs []string) []string {
	txt := []string{"v=1", "id=" + id}
	for _, addr := range addrs {
		rec := "addr=" + addr
		if len(rec) > maxTXTLen {
			continue
		}
		txt = append(txt, rec)
	}
	return txt
}

func (s *Service) advertise() error {
	txt := TXTRecords(s.opts.PeerID, s.opts.Addrs)

	server, err := zeroconf.Register(
		s.instance,
		s.opts.Service,
		Domain,
		s.opts.Port,
		txt,
		nil, // all interfaces
	)
	if err != nil {
		return fmt.Errorf("register mDNS service: %w", err)
	}

	s.mu.Lock()
	s.server = server
	s.mu.Unlock()

	s.log.Debug("mDNS service registered", "txt", txt)
	return nil
}

func (s *Service) loop(ctx context.Context) {
	defer close(s.done)

	s.browse(ctx)

	ticker := time.NewTicker(s.opts.BrowseInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.browse(ctx)
			s.sweep()
		}
	}
}

// browse performs a single mDNS query window
func (s *Service) browse(ctx context.Context) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		s.log.Debug("mDNS resolver unavailable", "error", err)
		return
	}

	entries := make(chan *zeroconf.ServiceEntry)
	browseCtx, cancel := context.WithTimeout(ctx, browseWindow)
	defer cancel()

	handled := make(chan struct{})
	go func() {
		defer close(handled)
		for entry := range entries {
			s.handleEntry(entry)
		}
	}()

	if err := resolver.Browse(browseCtx, s.opts.Service, Domain, entries); err != nil {
		s.log.Debug("mDNS browse error", "error", err)
	}

	<-browseCtx.Done()
	<-handled
}

// handleEntry records an answer and reports peers seen for the first time
func (s *Service) handleEntry(entry *zeroconf.ServiceEntry) {
	var id string
	var addrs []string
	for _, txt := range entry.Text {
		switch {
		case strings.HasPrefix(txt, "id="):
			id = txt[3:]
		case strings.HasPrefix(txt, "addr="):
			if _, err := ma.NewMultiaddr(txt[5:]); err == nil {
				addrs = append(addrs, txt[5:])
			}
		}
	}

	if id == "" || id == s.opts.PeerID {
		return
	}
	if len(addrs) == 0 {
		addrs = entryAddrs(entry)
	}
	if len(addrs) == 0 {
		return
	}

	s.mu.Lock()
	existing, known := s.peers[id]
	p := &Peer{ID: id, Addrs: addrs, Instance: entry.Instance, LastSeen: s.now()}
	s.peers[id] = p
	s.mu.Unlock()

	if known {
		if !equalAddrs(existing.Addrs, addrs) {
			s.log.Debug("mDNS peer addresses changed", "peer", id, "addrs", addrs)
		}
		return
	}

	s.log.Info("mDNS discovered peer", "peer", id, "instance", entry.Instance, "addrs", addrs)
	if s.opts.OnDiscovered != nil {
		s.opts.OnDiscovered(*p)
	}
}

// sweep forgets peers that have not answered within the expiry window
func (s *Service) sweep() {
	cutoff := s.now().Add(-s.opts.Expiry)

	s.mu.Lock()
	var expired []Peer
	for id, p := range s.peers {
		if p.LastSeen.Before(cutoff) {
			expired = append(expired, *p)
			delete(s.peers, id)
		}
	}
	s.mu.Unlock()

	for _, p := range expired {
		s.log.Info("mDNS peer expired", "peer", p.ID)
		if s.opts.OnExpired != nil {
			s.opts.OnExpired(p)
		}
	}
}

// entryAddrs builds multiaddrs from the IPs and port of an answer that did
// not carry addr= records
func entryAddrs(entry *zeroconf.ServiceEntry) []string {
	if entry.Port <= 0 {
		return nil
	}

	var out []string
	for _, ip := range entry.AddrIPv4 {
		out = append(out, fmt.Sprintf("/ip4/%s/tcp/%d", ip, entry.Port))
	}
	for _, ip := range entry.AddrIPv6 {
		if ip.IsLinkLocalUnicast() {
			continue
		}
		out = append(out, fmt.Sprintf("/ip6/%s/tcp/%d", ip, entry.Port))
	}
	return out
}

func equalAddrs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// instanceName combines the hostname with the tail of the peer id
func instanceName(peerID string) string {
	suffix := peerID
	if len(suffix) > 8 {
		suffix = suffix[len(suffix)-8:]
	}
	if suffix == "" {
		return systemHostname()
	}
	return systemHostname() + "-" + strings.ToLower(suffix)
}

// systemHostname gets the system hostname, sanitized for mDNS
func systemHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "meshchat"
	}

	var sanitized strings.Builder
	for _, c := range strings.ToLower(hostname) {
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' {
			sanitized.WriteRune(c)
		}
	}

	if sanitized.Len() == 0 {
		return "meshchat"
	}
	return sanitized.String()
}
