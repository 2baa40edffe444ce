package transmit

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/radio-control/siggen/internal/adapter"
	"github.com/radio-control/siggen/internal/audit"
	"github.com/radio-control/siggen/internal/config"
	"github.com/radio-control/siggen/internal/dispatch"
	"github.com/radio-control/siggen/internal/stream"
	"github.com/radio-control/siggen/internal/telemetry"
	"github.com/radio-control/siggen/internal/timer"
)

// Options configures a Controller. Nil collaborators are skipped.
type Options struct {
	// Tuning is applied before every start from Idle. Metadata next to the
	// waveform overrides frequency and sample rate.
	Tuning adapter.Tuning

	// Cycle is the config used until the first toggle or configure.
	Cycle config.CycleConfig

	Persister Persister
	Events    EventPublisher
	Audit     AuditLogger
	Metrics   Recorder
	Logger    *zap.Logger
}

// Controller owns the transmission state. Every method except Status and
// the Request helpers must run on the dispatcher's consumer goroutine.
type Controller struct {
	tx       adapter.Transmitter
	producer stream.Producer
	timer    timer.Timer

	defaults  adapter.Tuning
	persister Persister
	events    EventPublisher
	audit     AuditLogger
	metrics   Recorder
	logger    *zap.Logger

	// Owned by the dispatcher goroutine
	state    State
	path     string
	cycle    config.CycleConfig
	next     config.CycleConfig
	runPath  string
	run      stream.Handle
	lastRun  stream.Handle
	token    uint64
	radioOn  bool
	restarts uint64
	progress int64
	duration time.Duration
	tuning   adapter.Tuning
	lastErr  error
	actor    string

	dispatcher    atomic.Pointer[dispatch.Dispatcher]
	registrations []*dispatch.Registration

	status atomic.Pointer[Status]
}

// New creates a controller in Idle.
func New(tx adapter.Transmitter, producer stream.Producer, t timer.Timer, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = nopRecorder{}
	}
	if opts.Cycle == (config.CycleConfig{}) {
		opts.Cycle = config.DefaultCycleConfig()
	}

	c := &Controller{
		tx:        tx,
		producer:  producer,
		timer:     t,
		defaults:  opts.Tuning,
		persister: opts.Persister,
		events:    opts.Events,
		audit:     opts.Audit,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		state:     Idle,
		cycle:     opts.Cycle,
		next:      opts.Cycle,
	}
	c.publishStatus()
	return c
}

// SelectFile sets the waveform used by the next start from Idle. A run in
// progress keeps playing its own file.
func (c *Controller) SelectFile(path string) {
	c.path = path
	c.publishStatus()
}

// Configure replaces the cycle config. A running cycle picks it up at its
// next transition.
func (c *Controller) Configure(cfg config.CycleConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRange, err)
	}
	c.next = cfg
	if c.state == Idle {
		c.cycle = cfg
	}
	c.publishStatus()
	return nil
}

// Toggle starts playback from Idle and stops it from any other state.
// Only a start reads cfg, so an out-of-range config never blocks a stop.
func (c *Controller) Toggle(cfg config.CycleConfig) error {
	if c.state != Idle {
		defer c.logAudit("stop", "SUCCESS", 0)
	}

	switch c.state {
	case Idle:
		if err := cfg.Validate(); err != nil {
			c.logAudit("toggle", "INVALID_RANGE", 0)
			return fmt.Errorf("%w: %w", ErrInvalidRange, err)
		}
		return c.start(cfg)
	case Streaming:
		c.stopRun()
		c.setRadio(false)
		c.transition(Idle, "toggle")
	case CyclicBurst:
		c.cancelTimer()
		c.stopRun()
		c.setRadio(false)
		c.transition(Idle, "toggle")
	case CyclicPause:
		c.cancelTimer()
		c.setRadio(false)
		c.transition(Idle, "toggle")
	}
	return nil
}

// Stop forces Idle from any state.
func (c *Controller) Stop() {
	if c.state == Idle {
		return
	}
	c.cancelTimer()
	c.stopRun()
	c.setRadio(false)
	c.transition(Idle, "stop")
}

// OnStreamDone handles a producer completion.
func (c *Controller) OnStreamDone(msg dispatch.StreamDone) {
	switch msg.Reason {
	case stream.ReasonEndOfFile:
		if c.run == "" || msg.Run != c.run {
			c.discardStream(msg)
			return
		}
		c.run = ""
		c.progress = 0
		c.metrics.SetProgress(0)
		c.cycle = c.next

		switch c.state {
		case Streaming:
			if c.cycle.LoopEnabled {
				c.restart()
				return
			}
			c.setRadio(false)
			c.transition(Idle, "end_of_file")
		case CyclicBurst:
			c.restart()
		default:
			c.discardStream(msg)
		}

	case stream.ReasonReadError:
		if c.state == Idle || msg.Run == "" || msg.Run != c.lastRun {
			c.discardStream(msg)
			return
		}
		err := msg.Err
		if err == nil {
			err = &stream.ReadError{Path: c.runPath, Err: errors.New("unspecified read failure")}
		}
		c.cancelTimer()
		c.stopRun()
		c.setRadio(false)
		c.transition(Idle, "read_error")
		c.surface(err)
		c.logAudit("stream", "ERROR", 0)

	default:
		c.discardStream(msg)
	}
}

// OnTimerFired handles a timer expiry. Tokens other than the live one are
// stale and ignored.
func (c *Controller) OnTimerFired(token uint64) {
	if token != c.token || (c.state != CyclicBurst && c.state != CyclicPause) {
		c.metrics.IncStaleTimer()
		c.logger.Debug("discarding stale timer",
			zap.Uint64("token", token),
			zap.Uint64("live", c.token),
			zap.String("state", string(c.state)))
		return
	}

	c.cycle = c.next

	switch c.state {
	case CyclicBurst:
		if !c.cycle.Cyclic() {
			// Cycling was configured off mid-burst; keep playing.
			c.transition(Streaming, "timer")
			return
		}
		c.stopRun()
		c.setRadio(false)
		c.arm(c.cycle.Pause())
		c.transition(CyclicPause, "timer")

	case CyclicPause:
		if err := c.setRadio(true); err != nil {
			c.transition(Idle, "timer")
			c.surface(err)
			return
		}
		if err := c.startRun(c.runPath); err != nil {
			c.setRadio(false)
			c.transition(Idle, "timer")
			c.surface(err)
			return
		}
		if !c.cycle.Cyclic() {
			c.transition(Streaming, "timer")
			return
		}
		c.arm(c.cycle.Burst())
		c.transition(CyclicBurst, "timer")
	}
}

// OnProgress records the byte count of the active run.
func (c *Controller) OnProgress(msg dispatch.Progress) {
	if msg.Run == "" || msg.Run != c.run {
		return
	}
	c.progress = msg.Bytes
	c.metrics.SetProgress(msg.Bytes)
	c.publish("progress", map[string]interface{}{
		"run":   string(msg.Run),
		"bytes": msg.Bytes,
	})
	c.publishStatus()
}

// OnBufferReady forwards a sink ready signal to the active run. A signal
// naming no run is for whichever run is active.
func (c *Controller) OnBufferReady(msg dispatch.BufferReady) {
	if c.run == "" || (msg.Run != "" && msg.Run != c.run) {
		return
	}
	c.producer.Ready(c.run)
}

// Shutdown cancels the timer, stops the stream, disables the radio, forces
// Idle and detaches from the dispatcher. It is idempotent.
func (c *Controller) Shutdown() {
	c.cancelTimer()
	c.stopRun()
	c.setRadio(false)
	if c.state != Idle {
		c.transition(Idle, "shutdown")
	}

	for _, reg := range c.registrations {
		reg.Unregister()
	}
	c.registrations = nil
	c.dispatcher.Store(nil)
}

// Status returns the latest snapshot.
func (c *Controller) Status() Status {
	return *c.status.Load()
}

// State returns the current state. Dispatcher goroutine only.
func (c *Controller) State() State {
	return c.state
}

// Token returns the live timer token. Dispatcher goroutine only.
func (c *Controller) Token() uint64 {
	return c.token
}

func (c *Controller) start(cfg config.CycleConfig) error {
	started := time.Now()

	if c.path == "" {
		err := &stream.FileOpenError{Err: ErrNoWaveform}
		c.surface(err)
		c.logAudit("start", "ERROR", time.Since(started))
		return err
	}

	tuning := c.defaults
	md, err := stream.ReadMetadata(c.path)
	if err != nil {
		c.logger.Warn("ignoring waveform metadata", zap.String("path", c.path), zap.Error(err))
	}
	if md != nil {
		if md.CenterFrequency != 0 {
			tuning.FrequencyHz = md.CenterFrequency
		}
		if md.SampleRate != 0 {
			tuning.SampleRateHz = md.SampleRate
		}
	}

	if err := adapter.Apply(c.tx, tuning); err != nil {
		err = adapter.NormalizeError("tune", err)
		c.surface(err)
		c.logAudit("start", "ERROR", time.Since(started))
		return err
	}
	c.tuning = tuning
	if rs, ok := c.producer.(stream.RateSetter); ok {
		rs.SetSampleRate(tuning.SampleRateHz)
	}

	if err := c.setRadio(true); err != nil {
		c.surface(err)
		c.logAudit("start", "ERROR", time.Since(started))
		return err
	}

	if err := c.startRun(c.path); err != nil {
		c.setRadio(false)
		c.surface(err)
		c.logAudit("start", "ERROR", time.Since(started))
		return err
	}

	c.cycle = cfg
	c.next = cfg
	c.runPath = c.path
	c.restarts = 0
	c.duration = stream.EstimateDuration(c.path, tuning.SampleRateHz)

	if cfg.Cyclic() {
		c.arm(cfg.Burst())
		c.transition(CyclicBurst, "toggle")
	} else {
		c.transition(Streaming, "toggle")
	}

	c.persist()
	c.logAudit("start", "SUCCESS", time.Since(started))
	return nil
}

// startRun starts the producer and records the run as active.
func (c *Controller) startRun(path string) error {
	h, err := c.producer.Start(path)
	if err != nil {
		return err
	}
	c.run = h
	c.lastRun = h
	c.progress = 0
	return nil
}

// restart replays the same file after an end of file.
func (c *Controller) restart() {
	if err := c.startRun(c.runPath); err != nil {
		c.cancelTimer()
		c.setRadio(false)
		c.transition(Idle, "restart_failed")
		c.surface(err)
		return
	}
	c.restarts++
	c.metrics.IncRestart()
	c.publish("restart", map[string]interface{}{
		"run":      string(c.run),
		"restarts": c.restarts,
	})
	c.publishStatus()
}

func (c *Controller) stopRun() {
	if c.run == "" {
		return
	}
	c.producer.Stop(c.run)
	c.run = ""
	c.progress = 0
	c.metrics.SetProgress(0)
}

// arm bumps the token and schedules the next firing.
func (c *Controller) arm(d time.Duration) {
	c.token++
	c.timer.Arm(d, c.token)
}

// cancelTimer bumps the token so a firing already in flight is discarded.
func (c *Controller) cancelTimer() {
	c.timer.Cancel()
	c.token++
}

// setRadio enables or disables the transmitter on a change only.
func (c *Controller) setRadio(on bool) error {
	if c.radioOn == on {
		return nil
	}

	var err error
	if on {
		err = c.tx.Enable()
	} else {
		err = c.tx.Disable()
	}
	if err != nil {
		err = adapter.NormalizeError(radioOp(on), err)
		c.logger.Error("transmitter call failed", zap.Bool("enable", on), zap.Error(err))
		return err
	}

	c.radioOn = on
	return nil
}

func radioOp(on bool) string {
	if on {
		return "enable"
	}
	return "disable"
}

func (c *Controller) discardStream(msg dispatch.StreamDone) {
	c.metrics.IncStaleStream()
	c.logger.Debug("discarding stream completion",
		zap.String("run", string(msg.Run)),
		zap.String("reason", string(msg.Reason)),
		zap.String("state", string(c.state)))
}

func (c *Controller) transition(to State, trigger string) {
	from := c.state
	c.state = to
	if to == Idle {
		c.run = ""
		c.progress = 0
		// A config accepted mid-run is the one the next start offers.
		c.cycle = c.next
	}

	c.metrics.ObserveTransition(string(from), string(to), trigger)
	c.logger.Info("transmission state changed",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("trigger", trigger),
		zap.Uint64("token", c.token))

	c.publish("state", map[string]interface{}{
		"from":    string(from),
		"to":      string(to),
		"trigger": trigger,
		"token":   c.token,
	})
	c.publishStatus()
}

// surface reports err to the operator once.
func (c *Controller) surface(err error) {
	c.lastErr = err
	code := errorCode(err)
	c.metrics.IncFault(code)
	c.logger.Error("transmission fault", zap.String("code", code), zap.Error(err))
	c.publish("fault", map[string]interface{}{
		"code":    code,
		"message": err.Error(),
	})
	c.publishStatus()
}

func errorCode(err error) string {
	var openErr *stream.FileOpenError
	var readErr *stream.ReadError
	switch {
	case errors.As(err, &openErr):
		return "FILE_OPEN_ERROR"
	case errors.As(err, &readErr):
		return "STREAM_READ_ERROR"
	case errors.Is(err, adapter.ErrInvalidRange):
		return "INVALID_RANGE"
	case errors.Is(err, adapter.ErrBusy):
		return "BUSY"
	case errors.Is(err, adapter.ErrUnavailable):
		return "UNAVAILABLE"
	default:
		return "INTERNAL"
	}
}

func (c *Controller) persist() {
	if c.persister == nil {
		return
	}
	lc := config.LastConfig{Path: c.runPath, Cycle: c.cycle}
	if err := c.persister.Save(lc); err != nil {
		c.logger.Warn("failed to save last config", zap.Error(err))
	}
}

func (c *Controller) publish(eventType string, data map[string]interface{}) {
	if c.events == nil {
		return
	}
	if err := c.events.Publish(telemetry.Event{Type: eventType, Data: data}); err != nil {
		c.logger.Debug("telemetry publish failed", zap.String("type", eventType), zap.Error(err))
	}
}

func (c *Controller) logAudit(action, result string, latency time.Duration) {
	if c.audit == nil {
		return
	}
	actor := c.actor
	if actor == "" {
		actor = "system"
	}
	ctx := audit.WithActor(context.Background(), actor)
	c.audit.LogAction(ctx, action, c.path, result, latency)
}

func (c *Controller) publishStatus() {
	s := &Status{
		State:         c.state,
		Path:          c.path,
		Cycle:         c.cycle,
		NextCycle:     c.next,
		Token:         c.token,
		Run:           c.run,
		RadioOn:       c.radioOn,
		Restarts:      c.restarts,
		ProgressBytes: c.progress,
		DurationMs:    c.duration.Milliseconds(),
		Tuning:        c.tuning,
		UpdatedAt:     time.Now().UTC(),
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	c.status.Store(s)
}
