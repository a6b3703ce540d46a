package chat

import (
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"
	"time"
)

// Metrics collects counters for one participant
type Metrics struct {
	startTime time.Time

	MessagesReceived atomic.Int64
	MessagesSent     atomic.Int64
	BytesReceived    atomic.Int64
	DecodeErrors     atomic.Int64
	AddressDrops     atomic.Int64
	RateLimitDrops   atomic.Int64
	StatePushes      atomic.Int64
	StateMerges      atomic.Int64
	PeersJoined      atomic.Int64
	PeersLeft        atomic.Int64
	DispatchFailures atomic.Int64
}

// MetricsSnapshot is a point-in-time view of all metrics
type MetricsSnapshot struct {
	Timestamp    time.Time `json:"timestamp"`
	Uptime       string    `json:"uptime"`
	NumGoroutine int       `json:"num_goroutine"`

	MessagesReceived int64 `json:"messages_received"`
	MessagesSent     int64 `json:"messages_sent"`
	BytesReceived    int64 `json:"bytes_received"`
	DecodeErrors     int64 `json:"decode_errors"`
	AddressDrops     int64 `json:"address_drops"`
	RateLimitDrops   int64 `json:"rate_limit_drops"`
	StatePushes      int64 `json:"state_pushes"`
	StateMerges      int64 `json:"state_merges"`
	PeersJoined      int64 `json:"peers_joined"`
	PeersLeft        int64 `json:"peers_left"`
	DispatchFailures int64 `json:"dispatch_failures"`

	HistoryLength int `json:"history_length"`
	KnownPeers    int `json:"known_peers"`
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// Snapshot returns the current counter values
func (m *Metrics) Snapshot() MetricsSnapshot {
	now := time.Now()
	return MetricsSnapshot{
		Timestamp:    now,
		Uptime:       now.Sub(m.startTime).Round(time.Second).String(),
		NumGoroutine: runtime.NumGoroutine(),

		MessagesReceived: m.MessagesReceived.Load(),
		MessagesSent:     m.MessagesSent.Load(),
		BytesReceived:    m.BytesReceived.Load(),
		DecodeErrors:     m.DecodeErrors.Load(),
		AddressDrops:     m.AddressDrops.Load(),
		RateLimitDrops:   m.RateLimitDrops.Load(),
		StatePushes:      m.StatePushes.Load(),
		StateMerges:      m.StateMerges.Load(),
		PeersJoined:      m.PeersJoined.Load(),
		PeersLeft:        m.PeersLeft.Load(),
		DispatchFailures: m.DispatchFailures.Load(),
	}
}

// String renders the snapshot as the lines shown by /stats
func (s MetricsSnapshot) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "uptime %s, %d goroutines\n", s.Uptime, s.NumGoroutine)
	fmt.Fprintf(&b, "history %d messages, %d known peers\n", s.HistoryLength, s.KnownPeers)
	fmt.Fprintf(&b, "received %d (%d bytes), sent %d\n", s.MessagesReceived, s.BytesReceived, s.MessagesSent)
	fmt.Fprintf(&b, "state pushes %d, merges %d\n", s.StatePushes, s.StateMerges)
	fmt.Fprintf(&b, "joined %d, left %d\n", s.PeersJoined, s.PeersLeft)
	fmt.Fprintf(&b, "dropped: decode %d, addressed elsewhere %d, rate limit %d, dispatch %d",
		s.DecodeErrors, s.AddressDrops, s.RateLimitDrops, s.DispatchFailures)
	return b.String()
}
