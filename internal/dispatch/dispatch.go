// Package dispatch publishes outbound chat messages without blocking the
// caller. Submitted messages are queued and handed to the network by a single
// drain goroutine.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"meshchat.dev/go/meshchat/internal/protocol"
)

// ErrClosed is returned by Submit once Close has been called
var ErrClosed = errors.New("dispatcher closed")

// failureBuffer bounds the Failures channel; reports beyond it are dropped
const failureBuffer = 32

// Publisher sends encoded payloads on a topic
type Publisher interface {
	Publish(ctx context.Context, topic string, data []byte) error
}

// Failure reports a message that could not be published
type Failure struct {
	JobID string
	Kind  protocol.Kind
	Err   error
}

type job struct {
	id  string
	msg protocol.Message
}

// Dispatcher is an unbounded outbound queue drained by one goroutine.
type Dispatcher struct {
	pub   Publisher
	topic string
	log   *slog.Logger

	mu      sync.Mutex
	queue   []job
	closed  bool
	started bool
	signal  chan struct{}

	failures chan Failure
	cancel   context.CancelFunc
	done     chan struct{}

	published atomic.Int64
	failed    atomic.Int64
}

// New creates a dispatcher publishing to topic through pub
func New(pub Publisher, topic string, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		pub:      pub,
		topic:    topic,
		log:      log.With("component", "dispatch"),
		signal:   make(chan struct{}, 1),
		failures: make(chan Failure, failureBuffer),
		done:     make(chan struct{}),
	}
}

// Start launches the drain goroutine. Calling it more than once has no effect.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started || d.closed {
		return
	}
	d.started = true

	ctx, d.cancel = context.WithCancel(ctx)
	go d.drain(ctx)
}

// Submit queues msg for publishing and returns its job id. It never blocks.
func (d *Dispatcher) Submit(msg protocol.Message) (string, error) {
	id := uuid.New().String()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return "", ErrClosed
	}
	d.queue = append(d.queue, job{id: id, msg: msg})
	d.mu.Unlock()

	select {
	case d.signal <- struct{}{}:
	default:
	}

	d.log.Debug("message queued", "job", id, "kind", msg.Kind)
	return id, nil
}

// Failures reports messages the drain goroutine failed to publish
func (d *Dispatcher) Failures() <-chan Failure {
	return d.failures
}

// Pending returns the number of queued, unpublished messages
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Published returns how many messages were handed to the publisher
func (d *Dispatcher) Published() int64 {
	return d.published.Load()
}

// Failed returns how many messages could not be published
func (d *Dispatcher) Failed() int64 {
	return d.failed.Load()
}

// Close stops accepting messages and waits for the queue to drain. If ctx
// ends first, the remaining messages are abandoned and ctx's error returned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return nil
	}
	d.closed = true
	started := d.started
	if !started {
		dropped := len(d.queue)
		d.queue = nil
		close(d.done)
		d.mu.Unlock()
		if dropped > 0 {
			d.log.Warn("dispatcher closed before start", "dropped", dropped)
		}
		return nil
	}
	d.mu.Unlock()

	select {
	case d.signal <- struct{}{}:
	default:
	}

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		d.cancel()
		<-d.done
		return ctx.Err()
	}
}

func (d *Dispatcher) take() ([]job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	jobs := d.queue
	d.queue = nil
	return jobs, d.closed
}

func (d *Dispatcher) drain(ctx context.Context) {
	defer close(d.done)
	defer d.cancel()

	for {
		jobs, closed := d.take()
		for i, j := range jobs {
			if ctx.Err() != nil {
				d.log.Warn("dispatch cancelled", "abandoned", len(jobs)-i)
				return
			}
			d.publish(ctx, j)
		}

		if len(jobs) > 0 {
			continue
		}
		if closed {
			return
		}

		select {
		case <-d.signal:
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) publish(ctx context.Context, j job) {
	data, err := protocol.Encode(j.msg)
	if err == nil {
		err = d.pub.Publish(ctx, d.topic, data)
	}

	if err != nil {
		d.failed.Add(1)
		d.log.Warn("publish failed", "job", j.id, "kind", j.msg.Kind, "error", err)

		select {
		case d.failures <- Failure{JobID: j.id, Kind: j.msg.Kind, Err: err}:
		default:
		}
		return
	}

	d.published.Add(1)
	d.log.Debug("message published", "job", j.id, "kind", j.msg.Kind, "bytes", len(data))
}
