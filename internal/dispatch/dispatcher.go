// Package dispatch implements the single-consumer event queue that moves
// timer and stream notifications into the controller's execution context.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	// ErrQueueFull indicates the bounded queue has no room.
	ErrQueueFull = errors.New("QUEUE_FULL")

	// ErrStopped indicates the dispatcher no longer accepts messages.
	ErrStopped = errors.New("DISPATCHER_STOPPED")
)

// DefaultQueueSize is used when NewDispatcher is given a non-positive size.
const DefaultQueueSize = 256

// Handler processes one message on the consumer goroutine.
type Handler func(Message)

type envelope struct {
	msg           Message
	fromInterrupt bool
}

// Stats are cumulative dispatcher counters.
type Stats struct {
	Posted    uint64
	Interrupt uint64
	Delivered uint64
	Unhandled uint64
	Rejected  uint64
}

// Dispatcher is a bounded FIFO with exactly one consumer. Post may be called
// from any goroutine; handlers run only on the goroutine draining the queue.
type Dispatcher struct {
	queue  chan envelope
	logger *zap.Logger

	mu       sync.RWMutex
	handlers map[Kind]*Registration

	stopped  chan struct{}
	stopOnce sync.Once

	posted    atomic.Uint64
	interrupt atomic.Uint64
	delivered atomic.Uint64
	unhandled atomic.Uint64
	rejected  atomic.Uint64
}

// Registration is returned by Register and removes the handler on Unregister.
type Registration struct {
	d       *Dispatcher
	kind    Kind
	handler Handler
	once    sync.Once
}

// NewDispatcher creates a dispatcher with the given queue capacity.
func NewDispatcher(queueSize int, logger *zap.Logger) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:    make(chan envelope, queueSize),
		logger:   logger,
		handlers: make(map[Kind]*Registration),
		stopped:  make(chan struct{}),
	}
}

// Post enqueues msg without blocking. fromInterrupt marks messages posted
// from timer or producer goroutines; it only affects accounting.
func (d *Dispatcher) Post(msg Message, fromInterrupt bool) error {
	select {
	case <-d.stopped:
		return ErrStopped
	default:
	}

	select {
	case d.queue <- envelope{msg: msg, fromInterrupt: fromInterrupt}:
		d.posted.Add(1)
		if fromInterrupt {
			d.interrupt.Add(1)
		}
		return nil
	default:
		d.rejected.Add(1)
		return ErrQueueFull
	}
}

// Register installs handler for kind, replacing any earlier handler.
func (d *Dispatcher) Register(kind Kind, handler Handler) *Registration {
	reg := &Registration{d: d, kind: kind, handler: handler}

	d.mu.Lock()
	d.handlers[kind] = reg
	d.mu.Unlock()

	return reg
}

// Unregister removes the handler if it is still the current one for its kind.
func (r *Registration) Unregister() {
	r.once.Do(func() {
		r.d.mu.Lock()
		defer r.d.mu.Unlock()
		if r.d.handlers[r.kind] == r {
			delete(r.d.handlers, r.kind)
		}
	})
}

// Run drains the queue on the calling goroutine until ctx is done or Stop is
// called. Messages still queued at that point are left undelivered.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.stopped:
			return nil
		case env := <-d.queue:
			d.deliver(env)
		}
	}
}

// DispatchPending delivers every queued message synchronously and returns
// how many were taken off the queue. It must not run concurrently with Run.
func (d *Dispatcher) DispatchPending() int {
	n := 0
	for {
		select {
		case env := <-d.queue:
			d.deliver(env)
			n++
		default:
			return n
		}
	}
}

// Pending returns the number of queued messages.
func (d *Dispatcher) Pending() int {
	return len(d.queue)
}

// Stop rejects further posts and ends Run. It is idempotent.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopped)
	})
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Posted:    d.posted.Load(),
		Interrupt: d.interrupt.Load(),
		Delivered: d.delivered.Load(),
		Unhandled: d.unhandled.Load(),
		Rejected:  d.rejected.Load(),
	}
}

func (d *Dispatcher) deliver(env envelope) {
	kind := env.msg.Kind()

	d.mu.RLock()
	reg := d.handlers[kind]
	d.mu.RUnlock()

	if reg == nil {
		d.unhandled.Add(1)
		d.logger.Debug("dropping message with no handler", zap.String("kind", string(kind)))
		return
	}

	reg.handler(env.msg)
	d.delivered.Add(1)
}
