package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/radio-control/siggen/internal/adapter"
	"github.com/radio-control/siggen/internal/adapter/fake"
	"github.com/radio-control/siggen/internal/adapter/fifo"
	"github.com/radio-control/siggen/internal/audit"
	"github.com/radio-control/siggen/internal/config"
	"github.com/radio-control/siggen/internal/dispatch"
	"github.com/radio-control/siggen/internal/logging"
	"github.com/radio-control/siggen/internal/metrics"
	"github.com/radio-control/siggen/internal/stream"
	"github.com/radio-control/siggen/internal/telemetry"
	"github.com/radio-control/siggen/internal/timer"
	"github.com/radio-control/siggen/internal/transmit"
)

// stack is the running scheduler with everything it depends on.
type stack struct {
	cfg    *config.Config
	logger *zap.Logger

	dispatcher *dispatch.Dispatcher
	controller *transmit.Controller
	hub        *telemetry.Hub
	store      *config.FileStore
	audit      *audit.Logger
	metrics    *metrics.Metrics
	tx         adapter.Transmitter

	closeLog func() error
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// buildStack loads configuration and wires the controller. The dispatcher
// is not running until start.
func buildStack() (*stack, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	s := &stack{cfg: cfg, logger: logger, closeLog: closeLog}

	s.tx, err = newTransmitter(cfg.Output, logger)
	if err != nil {
		_ = closeLog()
		return nil, err
	}

	s.dispatcher = dispatch.NewDispatcher(cfg.Dispatch.QueueSize, logger.Named("dispatch"))
	oneShot := timer.NewOneShot(transmit.TimerPoster(s.dispatcher))

	producer := stream.NewFileProducer(stream.Options{
		ReadSize:       cfg.Stream.ReadSize,
		BufferCount:    cfg.Stream.BufferCount,
		ProgressEvery:  cfg.Stream.ProgressEvery,
		AwaitReady:     cfg.Stream.AwaitReady,
		BytesPerSecond: int64(cfg.Radio.SampleRateHz) * stream.BytesPerSample,
	}, s.tx, transmit.StreamCallbacks(s.dispatcher), logger.Named("stream"))

	if cfg.Stream.AwaitReady {
		rn, ok := s.tx.(adapter.ReadyNotifier)
		if !ok {
			_ = closeLog()
			return nil, errors.New("stream.await_ready needs a transmitter that reports readiness")
		}
		rn.OnReady(transmit.ReadyPoster(s.dispatcher))
	}

	s.store = config.NewFileStore(cfg.Paths.LastConfig, config.LastConfig{Cycle: cfg.Cycle})
	last, problems, err := s.store.Load()
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Info("no saved configuration", zap.String("path", s.store.Path()))
	case err != nil:
		logger.Warn("failed to read saved configuration", zap.Error(err))
	}
	for _, p := range problems {
		logger.Warn("saved configuration field ignored", zap.Error(p))
	}

	s.audit, err = audit.NewLogger(cfg.Paths.AuditDir, audit.Options{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		_ = closeLog()
		return nil, fmt.Errorf("failed to initialize audit logger: %w", err)
	}

	s.metrics = metrics.New()
	s.metrics.WatchDispatcher(s.dispatcher)

	var ctrl *transmit.Controller
	s.hub = telemetry.NewHub(telemetry.Options{
		BufferSize:        cfg.Server.EventBufferSize,
		HeartbeatInterval: cfg.Server.HeartbeatInterval,
		Snapshot:          func() interface{} { return ctrl.Status() },
		Logger:            logger.Named("telemetry"),
	})
	s.metrics.WatchTelemetry(s.hub)

	ctrl = transmit.New(s.tx, producer, oneShot, transmit.Options{
		Tuning: adapter.Tuning{
			FrequencyHz:         cfg.Radio.FrequencyHz,
			SampleRateHz:        cfg.Radio.SampleRateHz,
			BasebandBandwidthHz: cfg.Radio.BasebandBandwidthHz,
		},
		Cycle:     last.Cycle,
		Persister: s.store,
		Events:    s.hub,
		Audit:     s.audit,
		Metrics:   s.metrics,
		Logger:    logger.Named("transmit"),
	})
	if last.Path != "" {
		ctrl.SelectFile(last.Path)
	}
	ctrl.Attach(s.dispatcher)
	s.controller = ctrl

	return s, nil
}

func newTransmitter(out config.OutputConfig, logger *zap.Logger) (adapter.Transmitter, error) {
	if out.FIFOPath == "" {
		logger.Info("no output configured, samples are discarded")
		return fake.NewTransmitter("dry-run"), nil
	}
	tx, err := fifo.New(out.FIFOPath, logger.Named("fifo"))
	if err != nil {
		return nil, fmt.Errorf("failed to open sample fifo: %w", err)
	}
	return tx, nil
}

// start runs the dispatcher on its own goroutine.
func (s *stack) start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		if err := s.dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("dispatcher stopped", zap.Error(err))
		}
	}()
}

// stop ends the dispatcher, then shuts the controller down from this
// goroutine, which is now its only owner.
func (s *stack) stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.dispatcher.Stop()
			s.cancel()
			<-s.done
		}
		s.controller.Shutdown()
		s.hub.Stop()

		if err := s.audit.Close(); err != nil {
			s.logger.Warn("failed to close audit log", zap.Error(err))
		}
		if c, ok := s.tx.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				s.logger.Warn("failed to close transmitter", zap.Error(err))
			}
		}
		_ = s.closeLog()
	})
}
