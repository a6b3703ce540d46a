// Package chat routes local input and network events for one participant.
//
// A Controller owns the participant's state.State. All mutation happens on
// the goroutine running Controller.Run, so the state needs no locking.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"meshchat.dev/go/meshchat/internal/dispatch"
	"meshchat.dev/go/meshchat/internal/logging"
	"meshchat.dev/go/meshchat/internal/protocol"
	"meshchat.dev/go/meshchat/internal/state"
)

var (
	// ErrNotActive is returned when input or events arrive outside the active phase
	ErrNotActive = errors.New("chat is not active")

	// ErrPeerNotFound is returned when a command names an unknown peer
	ErrPeerNotFound = errors.New("peer not found")

	// ErrAmbiguousName is returned when a username matches several peers
	ErrAmbiguousName = errors.New("name matches several peers")

	// ErrInvalidPhase is returned for an out-of-order lifecycle call
	ErrInvalidPhase = errors.New("invalid phase transition")
)

// DefaultShutdownTimeout bounds how long shutdown waits for queued messages
const DefaultShutdownTimeout = 5 * time.Second

// Network is the subset of the transport used by the controller
type Network interface {
	dispatch.Publisher
	LocalPeer() string
	Subscribe(ctx context.Context, topic string) error
	Unsubscribe(topic string) error
	AddPeer(ctx context.Context, peer string, addrs []string) error
	RemovePeer(peer string) error
}

// Outbox accepts outbound messages without blocking
type Outbox interface {
	Submit(msg protocol.Message) (string, error)
	Failures() <-chan dispatch.Failure
	Close(ctx context.Context) error
}

// Display shows chat output to the local user
type Display interface {
	Chat(name, text string)
	Notice(text string)
}

// Phase is the controller lifecycle stage
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingUsername
	PhaseActive
	PhaseShuttingDown
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingUsername:
		return "awaiting-username"
	case PhaseActive:
		return "active"
	case PhaseShuttingDown:
		return "shutting-down"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Options configures a Controller
type Options struct {
	Network Network
	Outbox  Outbox
	Display Display
	Topic   string

	// DefaultName is used when Activate receives an empty name
	DefaultName string

	Logger          *slog.Logger
	Metrics         *Metrics
	RateLimiter     *RateLimiter // nil disables inbound limiting
	Logs            *logging.Buffer
	ShutdownTimeout time.Duration
}

// Controller is the event loop of one chat participant
type Controller struct {
	net     Network
	outbox  Outbox
	display Display
	topic   string
	local   string

	defaultName     string
	log             *slog.Logger
	metrics         *Metrics
	limiter         *RateLimiter
	logs            *logging.Buffer
	shutdownTimeout time.Duration

	state *state.State
	phase Phase
	quit  bool

	// rosterOnly is set once the history no longer fits in a snapshot
	rosterOnly bool
}

// New creates a controller in the idle phase
func New(opts Options) *Controller {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}
	timeout := opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	return &Controller{
		net:             opts.Network,
		outbox:          opts.Outbox,
		display:         opts.Display,
		topic:           opts.Topic,
		local:           opts.Network.LocalPeer(),
		defaultName:     opts.DefaultName,
		log:             log.With("component", "chat"),
		metrics:         metrics,
		limiter:         opts.RateLimiter,
		logs:            opts.Logs,
		shutdownTimeout: timeout,
		state:           state.New(),
		phase:           PhaseIdle,
	}
}

// Phase returns the current lifecycle stage
func (c *Controller) Phase() Phase { return c.phase }

// State returns the participant's state. Only safe to use from the
// goroutine driving the controller.
func (c *Controller) State() *state.State { return c.state }

// LocalPeer returns the local peer id
func (c *Controller) LocalPeer() string { return c.local }

// Metrics returns the controller's counters
func (c *Controller) Metrics() *Metrics { return c.metrics }

// Start moves the controller to the username prompt
func (c *Controller) Start() error {
	if c.phase != PhaseIdle {
		return fmt.Errorf("%w: start from %s", ErrInvalidPhase, c.phase)
	}
	c.phase = PhaseAwaitingUsername
	return nil
}

// Activate registers the local display name and subscribes to the topic
func (c *Controller) Activate(ctx context.Context, name string) error {
	if c.phase != PhaseAwaitingUsername {
		return fmt.Errorf("%w: activate from %s", ErrInvalidPhase, c.phase)
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = c.defaultName
	}
	if name == "" {
		name = state.DefaultUsername
	}

	c.state.Usernames.UpsertIfAbsent(c.local, name)

	if err := c.net.Subscribe(ctx, c.topic); err != nil {
		return fmt.Errorf("subscribe %s: %w", c.topic, err)
	}

	c.phase = PhaseActive
	c.log.Info("chat active", "topic", c.topic, "name", name, "peer", c.local)
	c.display.Notice(fmt.Sprintf("joined %s as %s, type /help for commands", c.topic, name))
	return nil
}

// Run processes input lines, network events and dispatch failures until ctx
// is cancelled, the lines channel closes, or the user quits. Queued messages
// are flushed and the topic is left before Run returns.
func (c *Controller) Run(ctx context.Context, lines <-chan string, events <-chan Event) error {
	if c.phase != PhaseActive {
		return ErrNotActive
	}

	failures := c.outbox.Failures()
	for {
		select {
		case <-ctx.Done():
			c.log.Info("interrupted")
			return c.shutdown()

		case line, ok := <-lines:
			if !ok {
				return c.shutdown()
			}
			if err := c.HandleLine(ctx, line); err != nil {
				c.display.Notice(err.Error())
			}
			if c.quit {
				return c.shutdown()
			}

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if err := c.Handle(ctx, ev); err != nil {
				c.log.Warn("event dropped", "event", fmt.Sprintf("%T", ev), "error", err)
			}

		case f := <-failures:
			c.metrics.DispatchFailures.Add(1)
			if f.Kind == protocol.KindChat {
				c.display.Notice(fmt.Sprintf("message not delivered: %v", f.Err))
			}
		}
	}
}

func (c *Controller) shutdown() error {
	c.phase = PhaseShuttingDown

	ctx, cancel := context.WithTimeout(context.Background(), c.shutdownTimeout)
	defer cancel()

	if err := c.outbox.Close(ctx); err != nil {
		c.log.Warn("outbound queue not flushed", "error", err)
	}
	if err := c.net.Unsubscribe(c.topic); err != nil {
		c.log.Warn("unsubscribe failed", "topic", c.topic, "error", err)
	}

	c.log.Info("chat stopped",
		"history", c.state.History.Count(),
		"peers", c.state.Usernames.Len())
	return nil
}

// Handle applies one network event
func (c *Controller) Handle(ctx context.Context, ev Event) error {
	if c.phase != PhaseActive {
		return ErrNotActive
	}

	switch ev := ev.(type) {
	case PayloadReceived:
		return c.handlePayload(ev)
	case PeerSubscribed:
		return c.pushState(ev.Peer)
	case PeerUnsubscribed:
		c.handleDeparture(ev.Peer)
		return nil
	case PeerDiscovered:
		c.log.Debug("peer discovered", "peer", ev.Peer, "addrs", ev.Addrs)
		return c.net.AddPeer(ctx, ev.Peer, ev.Addrs)
	case PeerExpired:
		c.log.Debug("peer expired", "peer", ev.Peer)
		return c.net.RemovePeer(ev.Peer)
	default:
		return fmt.Errorf("unknown event %T", ev)
	}
}

func (c *Controller) handlePayload(ev PayloadReceived) error {
	c.metrics.MessagesReceived.Add(1)
	c.metrics.BytesReceived.Add(int64(len(ev.Data)))

	if c.limiter != nil {
		if err := c.limiter.Allow(ev.From); err != nil {
			c.metrics.RateLimitDrops.Add(1)
			c.log.Debug("payload dropped", "from", ev.From, "error", err)
			return nil
		}
	}

	msg, err := protocol.Decode(ev.Data)
	if err != nil {
		c.metrics.DecodeErrors.Add(1)
		return fmt.Errorf("payload from %s: %w", ev.From, err)
	}

	if msg.Source == c.local {
		return nil
	}
	if !msg.IsFor(c.local) {
		c.metrics.AddressDrops.Add(1)
		return nil
	}

	switch msg.Kind {
	case protocol.KindChat:
		c.display.Chat(c.state.Username(msg.Source), msg.Text())
		c.state.History.Insert(msg)

	case protocol.KindState:
		foreign, err := state.Decode(msg.Data)
		if err != nil {
			c.metrics.DecodeErrors.Add(1)
			return fmt.Errorf("state from %s: %w", msg.Source, err)
		}

		res := c.state.Merge(foreign, displayNotifier{c.display})
		c.metrics.StateMerges.Add(1)
		c.metrics.PeersJoined.Add(int64(res.JoinedPeers))
		c.log.Info("state merged",
			"from", msg.Source,
			"joined", res.JoinedPeers,
			"accepted", res.AcceptedMessages)
	}

	return nil
}

// pushState sends the full local state to a newly subscribed peer
func (c *Controller) pushState(peer string) error {
	if peer == c.local {
		return nil
	}

	data, err := c.state.Encode()
	if errors.Is(err, protocol.ErrMessageTooLarge) {
		c.log.Warn("history too large for a snapshot, sending usernames only",
			"peer", peer,
			"history", c.state.History.Count(),
			"error", err)
		if !c.rosterOnly {
			c.rosterOnly = true
			c.display.Notice(fmt.Sprintf(
				"history of %d messages is too large to share, new peers only receive the user list",
				c.state.History.Count()))
		}
		data, err = c.state.EncodeRoster()
	}
	if err != nil {
		return fmt.Errorf("push state to %s: %w", peer, err)
	}

	if err := c.submit(protocol.NewState(c.local, peer, data)); err != nil {
		return fmt.Errorf("push state to %s: %w", peer, err)
	}

	c.metrics.StatePushes.Add(1)
	c.log.Debug("state pushed", "peer", peer, "bytes", len(data))
	return nil
}

func (c *Controller) handleDeparture(peer string) {
	name := c.state.Username(peer)
	if c.limiter != nil {
		c.limiter.RemovePeer(peer)
	}
	if !c.state.Usernames.Remove(peer) {
		return
	}

	c.metrics.PeersLeft.Add(1)
	c.log.Info("peer left", "peer", peer, "name", name)
	c.display.Notice(name + " left the chat")
}

func (c *Controller) submit(msg protocol.Message) error {
	id, err := c.outbox.Submit(msg)
	if err != nil {
		c.log.Warn("message not queued", "kind", msg.Kind, "error", err)
		return err
	}

	c.metrics.MessagesSent.Add(1)
	c.log.Debug("message submitted", "job", id, "kind", msg.Kind)
	return nil
}

// displayNotifier surfaces merge effects on the local display
type displayNotifier struct {
	display Display
}

func (n displayNotifier) Joined(peer, name string) {
	n.display.Notice(name + " joined the chat")
}

func (n displayNotifier) Replayed(name, text string) {
	n.display.Chat(name, text)
}
