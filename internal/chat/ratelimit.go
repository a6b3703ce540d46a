package chat

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned by RateLimiter.Allow when a payload is dropped
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitConfig defines inbound limits for payloads on the chat topic
type RateLimitConfig struct {
	// Per-peer limits
	PeerMessagesPerSecond float64
	PeerBurst             int

	// Across all peers
	GlobalMessagesPerSecond float64
	GlobalBurst             int
}

// DefaultRateLimitConfig returns the limits used when none are configured
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		PeerMessagesPerSecond:   20,
		PeerBurst:               50,
		GlobalMessagesPerSecond: 200,
		GlobalBurst:             400,
	}
}

// RateLimiter drops payloads from peers that publish too fast.
type RateLimiter struct {
	config RateLimitConfig

	globalLimiter *rate.Limiter
	peerLimiters  sync.Map // peer -> *rate.Limiter

	mu      sync.RWMutex
	dropped map[string]int64
}

// NewRateLimiter creates a limiter. Zero rates disable the matching check.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		config:  config,
		dropped: make(map[string]int64),
	}
	if config.GlobalMessagesPerSecond > 0 {
		rl.globalLimiter = rate.NewLimiter(rate.Limit(config.GlobalMessagesPerSecond), config.GlobalBurst)
	}
	return rl
}

// Allow reports whether a payload from peer may be processed
func (rl *RateLimiter) Allow(peer string) error {
	if rl.globalLimiter != nil && !rl.globalLimiter.Allow() {
		rl.recordDrop(peer)
		return fmt.Errorf("global: %w", ErrRateLimited)
	}

	if limiter := rl.peerLimiter(peer); limiter != nil && !limiter.Allow() {
		rl.recordDrop(peer)
		return fmt.Errorf("peer %s: %w", peer, ErrRateLimited)
	}

	return nil
}

func (rl *RateLimiter) peerLimiter(peer string) *rate.Limiter {
	if rl.config.PeerMessagesPerSecond <= 0 {
		return nil
	}
	if limiter, ok := rl.peerLimiters.Load(peer); ok {
		return limiter.(*rate.Limiter)
	}

	limiter, _ := rl.peerLimiters.LoadOrStore(peer, rate.NewLimiter(
		rate.Limit(rl.config.PeerMessagesPerSecond),
		rl.config.PeerBurst,
	))
	return limiter.(*rate.Limiter)
}

func (rl *RateLimiter) recordDrop(peer string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.dropped[peer]++
}

// RemovePeer forgets the limiter of a departed peer
func (rl *RateLimiter) RemovePeer(peer string) {
	rl.peerLimiters.Delete(peer)
}

// Dropped returns the number of payloads dropped for peer
func (rl *RateLimiter) Dropped(peer string) int64 {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.dropped[peer]
}

// TotalDropped returns the number of payloads dropped across all peers
func (rl *RateLimiter) TotalDropped() int64 {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	var total int64
	for _, n := range rl.dropped {
		total += n
	}
	return total
}
