//go:build !unix

// Package fifo implements a transmitter that hands I/Q samples to an
// external SDR process through a named pipe.
package fifo

import (
	"errors"

	"go.uber.org/zap"

	"github.com/radio-control/siggen/internal/adapter"
)

// Transmitter is unavailable on platforms without named pipes.
type Transmitter struct {
	adapter.Base
	adapter.ReadySignal
}

// New always fails on this platform.
func New(path string, logger *zap.Logger) (*Transmitter, error) {
	return nil, &adapter.TransmitterError{
		Code:     adapter.ErrUnavailable,
		Op:       "mkfifo",
		Original: errors.New("named pipes are not supported on this platform"),
	}
}

// Enable fails on this platform.
func (t *Transmitter) Enable() error {
	return adapter.ErrUnavailable
}

func (t *Transmitter) Disable() error {
	return nil
}

func (t *Transmitter) SetFrequency(uint64) error {
	return adapter.ErrUnavailable
}

func (t *Transmitter) SetSampleRate(uint32) error {
	return adapter.ErrUnavailable
}

func (t *Transmitter) SetBasebandBandwidth(uint32) error {
	return adapter.ErrUnavailable
}

func (t *Transmitter) Write(p []byte) (int, error) {
	return 0, adapter.ErrUnavailable
}

func (t *Transmitter) Stats() (written, dropped int64) {
	return 0, 0
}

func (t *Transmitter) Close() error {
	return nil
}
