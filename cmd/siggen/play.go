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

	"github.com/radio-control/siggen/internal/config"
	"github.com/radio-control/siggen/internal/transmit"
)

var (
	playBurst int
	playPause int
	playLoop  bool
)

var playCmd = &cobra.Command{
	Use:   "play <file>",
	Short: "Play one waveform file without the HTTP API",
	Long: `Play starts the given waveform with the cycle flags and runs until the
file ends (without --loop) or until interrupted.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cycle := config.CycleConfig{
			BurstSeconds: playBurst,
			PauseSeconds: playPause,
			LoopEnabled:  playLoop,
		}
		if err := cycle.Validate(); err != nil {
			return err
		}
		return runPlay(args[0], cycle)
	},
}

func init() {
	playCmd.Flags().IntVar(&playBurst, "burst", config.MinBurstSeconds, "burst length in seconds")
	playCmd.Flags().IntVar(&playPause, "pause", config.MinPauseSeconds, "pause length in seconds, 0 for continuous")
	playCmd.Flags().BoolVar(&playLoop, "loop", false, "restart the file when it ends")
}

func runPlay(path string, cycle config.CycleConfig) error {
	s, err := buildStack()
	if err != nil {
		return err
	}
	defer s.stop()

	s.start()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.CommandTimeout)
	err = s.controller.RequestToggle(ctx, path, cycle, "cli")
	cancel()
	if err != nil {
		return fmt.Errorf("failed to start %s: %w", path, err)
	}

	s.logger.Info("playing", zap.String("path", path), zap.Any("cycle", cycle))

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-shutdown:
			return nil
		case <-ticker.C:
			st := s.controller.Status()
			if st.State != transmit.Idle {
				continue
			}
			if st.LastError != "" {
				return fmt.Errorf("playback stopped: %s", st.LastError)
			}
			return nil
		}
	}
}
