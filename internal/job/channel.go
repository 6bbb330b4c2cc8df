package job

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/udown/udownd/internal/event"
	"github.com/udown/udownd/internal/metrics"
)

// PopStatus reports the outcome of a Channel.Pop call.
type PopStatus int

const (
	// PopOK means an envelope was dequeued.
	PopOK PopStatus = iota
	// PopTimeout means no envelope arrived within the timeout. The stream
	// endpoint uses this to emit keep-alive traffic.
	PopTimeout
	// PopClosed means the channel is closed and fully drained.
	PopClosed
)

const dropLogInterval = 5 * time.Second

// Channel is a bounded FIFO of envelopes with exactly one producer (the job
// worker) and at most one consumer (the attached stream). Push never blocks:
// ordinary envelopes drop on overflow, terminal envelopes evict the oldest
// buffered envelope to make room.
type Channel struct {
	ch       chan event.Envelope
	closed   atomic.Bool
	attached atomic.Bool
	dropped  atomic.Int64
	lastWarn atomic.Int64
	logger   *zap.Logger

	closeOnce sync.Once
}

// NewChannel constructs a channel with the given fixed capacity.
func NewChannel(capacity int, logger *zap.Logger) *Channel {
	if capacity <= 0 {
		capacity = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Channel{
		ch:     make(chan event.Envelope, capacity),
		logger: logger,
	}
}

// Push enqueues an envelope without ever blocking the caller. Invalid
// envelopes and pushes after Close are discarded.
func (c *Channel) Push(env event.Envelope) {
	if c == nil || c.closed.Load() {
		return
	}
	if err := env.Validate(); err != nil {
		c.logger.Debug("discarding invalid envelope", zap.Error(err))
		return
	}
	metrics.ObserveEnvelope(string(env.Kind))
	if env.Kind.Terminal() {
		c.pushEvicting(env)
		return
	}
	select {
	case c.ch <- env:
	default:
		c.dropped.Add(1)
		metrics.ObserveEnvelopeDropped()
		if c.allowWarn(time.Now()) {
			count := c.dropped.Swap(0)
			c.logger.Warn("progress envelopes dropped due to backpressure",
				zap.Int64("dropped", count))
		}
	}
}

// pushEvicting guarantees delivery of terminal envelopes: when the buffer is
// full it discards the oldest buffered envelope and retries. The loop makes
// progress on every iteration, so it terminates even with no consumer.
func (c *Channel) pushEvicting(env event.Envelope) {
	for {
		select {
		case c.ch <- env:
			return
		default:
		}
		select {
		case <-c.ch:
			metrics.ObserveEnvelopeDropped()
		default:
		}
	}
}

// Pop blocks up to timeout for the next envelope. It returns PopTimeout when
// nothing arrived and PopClosed once the channel is closed and drained.
func (c *Channel) Pop(timeout time.Duration) (event.Envelope, PopStatus) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case env, ok := <-c.ch:
		if !ok {
			return event.Envelope{}, PopClosed
		}
		return env, PopOK
	case <-timer.C:
		return event.Envelope{}, PopTimeout
	}
}

// Close marks the channel as terminated. Buffered envelopes remain readable;
// Pop reports PopClosed after they drain. Safe to call more than once.
func (c *Channel) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.ch)
	})
}

// Attach claims the single-consumer slot. It returns false if another
// observer already holds it; the stream endpoint maps that to 409.
func (c *Channel) Attach() bool {
	return c.attached.CompareAndSwap(false, true)
}

// Len reports the number of buffered envelopes.
func (c *Channel) Len() int {
	return len(c.ch)
}

func (c *Channel) allowWarn(now time.Time) bool {
	nano := now.UnixNano()
	last := c.lastWarn.Load()
	if nano-last < dropLogInterval.Nanoseconds() {
		return false
	}
	return c.lastWarn.CompareAndSwap(last, nano)
}
