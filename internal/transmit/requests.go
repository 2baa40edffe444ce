package transmit

import (
	"context"
	"fmt"

	"github.com/radio-control/siggen/internal/config"
	"github.com/radio-control/siggen/internal/dispatch"
	"github.com/radio-control/siggen/internal/stream"
	"github.com/radio-control/siggen/internal/timer"
)

// Poster is the part of the dispatcher used by notification sources.
type Poster interface {
	Post(msg dispatch.Message, fromInterrupt bool) error
}

// TimerPoster returns a fire callback that only posts TimerFired.
func TimerPoster(p Poster) timer.FireFunc {
	return func(token uint64) {
		_ = p.Post(dispatch.TimerFired{Token: token}, true)
	}
}

// StreamCallbacks returns producer callbacks that only post messages.
func StreamCallbacks(p Poster) stream.Callbacks {
	return stream.Callbacks{
		Done: func(h stream.Handle, reason stream.CompletionReason, err error) {
			_ = p.Post(dispatch.StreamDone{Run: h, Reason: reason, Err: err}, true)
		},
		Progress: func(h stream.Handle, bytes int64) {
			_ = p.Post(dispatch.Progress{Run: h, Bytes: bytes}, true)
		},
	}
}

// ReadyPoster returns a sink ready callback that only posts BufferReady.
// Hand it to an adapter.ReadyNotifier when the producer awaits credits.
func ReadyPoster(p Poster) func() {
	return func() {
		_ = p.Post(dispatch.BufferReady{}, true)
	}
}

// Attach registers the controller's handlers on d, replacing any earlier
// attachment.
func (c *Controller) Attach(d *dispatch.Dispatcher) {
	for _, reg := range c.registrations {
		reg.Unregister()
	}

	c.registrations = []*dispatch.Registration{
		d.Register(dispatch.KindStreamDone, func(m dispatch.Message) {
			c.OnStreamDone(m.(dispatch.StreamDone))
		}),
		d.Register(dispatch.KindTimerFired, func(m dispatch.Message) {
			c.OnTimerFired(m.(dispatch.TimerFired).Token)
		}),
		d.Register(dispatch.KindProgress, func(m dispatch.Message) {
			c.OnProgress(m.(dispatch.Progress))
		}),
		d.Register(dispatch.KindBufferReady, func(m dispatch.Message) {
			c.OnBufferReady(m.(dispatch.BufferReady))
		}),
		d.Register(dispatch.KindToggle, func(m dispatch.Message) {
			c.handleToggle(m.(dispatch.ToggleRequest))
		}),
		d.Register(dispatch.KindConfigure, func(m dispatch.Message) {
			c.handleConfigure(m.(dispatch.ConfigureRequest))
		}),
		d.Register(dispatch.KindStop, func(m dispatch.Message) {
			c.handleStop(m.(dispatch.StopRequest))
		}),
	}
	c.dispatcher.Store(d)
}

func (c *Controller) handleToggle(msg dispatch.ToggleRequest) {
	c.actor = msg.Actor
	defer func() { c.actor = "" }()

	if msg.Path != "" {
		c.SelectFile(msg.Path)
	}
	reply(msg.Reply, c.Toggle(msg.Config))
}

func (c *Controller) handleConfigure(msg dispatch.ConfigureRequest) {
	c.actor = msg.Actor
	defer func() { c.actor = "" }()

	err := c.Configure(msg.Config)
	if err != nil {
		c.logAudit("configure", "INVALID_RANGE", 0)
	} else {
		c.logAudit("configure", "SUCCESS", 0)
	}
	reply(msg.Reply, err)
}

func (c *Controller) handleStop(msg dispatch.StopRequest) {
	c.actor = msg.Actor
	defer func() { c.actor = "" }()

	wasRunning := c.state != Idle
	c.Stop()
	if wasRunning {
		c.logAudit("stop", "SUCCESS", 0)
	}
	reply(msg.Reply, nil)
}

func reply(ch chan<- error, err error) {
	if ch == nil {
		return
	}
	select {
	case ch <- err:
	default:
	}
}

// RequestToggle posts a toggle from any goroutine and waits for the result.
// If ctx ends first the toggle may still be applied.
func (c *Controller) RequestToggle(ctx context.Context, path string, cfg config.CycleConfig, actor string) error {
	ch := make(chan error, 1)
	return c.request(ctx, dispatch.ToggleRequest{Path: path, Config: cfg, Actor: actor, Reply: ch}, ch)
}

// RequestConfigure posts a cycle config change and waits for the result.
func (c *Controller) RequestConfigure(ctx context.Context, cfg config.CycleConfig, actor string) error {
	ch := make(chan error, 1)
	return c.request(ctx, dispatch.ConfigureRequest{Config: cfg, Actor: actor, Reply: ch}, ch)
}

// RequestStop posts a stop and waits for it to be applied.
func (c *Controller) RequestStop(ctx context.Context, actor string) error {
	ch := make(chan error, 1)
	return c.request(ctx, dispatch.StopRequest{Actor: actor, Reply: ch}, ch)
}

func (c *Controller) request(ctx context.Context, msg dispatch.Message, ch <-chan error) error {
	d := c.dispatcher.Load()
	if d == nil {
		return ErrNotAttached
	}

	if err := d.Post(msg, false); err != nil {
		return fmt.Errorf("failed to queue %s: %w", msg.Kind(), err)
	}

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
