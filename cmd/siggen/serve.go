package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/radio-control/siggen/internal/api"
	"github.com/radio-control/siggen/internal/auth"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler behind the HTTP control API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
}

func runServe() error {
	s, err := buildStack()
	if err != nil {
		return err
	}
	defer s.stop()

	var verifier *auth.Verifier
	if s.cfg.Auth.Secret != "" {
		verifier, err = auth.NewVerifier(s.cfg.Auth.Secret)
		if err != nil {
			return err
		}
	} else {
		s.logger.Warn("auth disabled, API is open to any client")
	}

	server := api.NewServer(api.Options{
		Controller:  s.controller,
		Telemetry:   s.hub,
		LastConfig:  s.store,
		Auth:        auth.NewMiddleware(verifier),
		Metrics:     s.metrics.Handler(),
		Logger:      s.logger.Named("api"),
		Server:      s.cfg.Server,
		WaveformDir: s.cfg.Paths.WaveformDir,
	})

	s.start()

	addr := s.cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(addr)
	}()

	s.logger.Info("siggen started",
		zap.String("version", Version),
		zap.String("addr", addr),
		zap.String("waveformDir", s.cfg.Paths.WaveformDir),
	)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		s.logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		s.logger.Warn("HTTP server did not stop cleanly", zap.Error(err))
	}
	return nil
}
