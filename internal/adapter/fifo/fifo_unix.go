//go:build unix

// Package fifo implements a transmitter that hands I/Q samples to an
// external SDR process through a named pipe.
package fifo

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/radio-control/siggen/internal/adapter"
)

// Transmitter writes samples to a FIFO while enabled. Writes never block: with
// no reader attached or a full pipe the samples are dropped and counted.
type Transmitter struct {
	adapter.Base
	adapter.ReadySignal

	path   string
	logger *zap.Logger

	mu      sync.Mutex
	fd      int
	enabled bool
	written int64
	dropped int64
}

// Compile-time assertion that Transmitter implements adapter.Transmitter
var _ adapter.Transmitter = (*Transmitter)(nil)

var _ adapter.ReadyNotifier = (*Transmitter)(nil)

// New creates the FIFO at path, replacing any existing file.
func New(path string, logger *zap.Logger) (*Transmitter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	_ = os.Remove(path)
	if err := unix.Mkfifo(path, 0666); err != nil {
		return nil, adapter.NormalizeErrorFor("fifo", "mkfifo", err)
	}

	logger.Info("sample fifo created", zap.String("path", path))

	return &Transmitter{
		Base:   adapter.Base{Name: "fifo:" + path},
		path:   path,
		logger: logger,
		fd:     -1,
	}, nil
}

// Enable starts forwarding samples.
func (t *Transmitter) Enable() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = true
	return nil
}

// Disable stops forwarding samples and releases the pipe.
func (t *Transmitter) Disable() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = false
	t.closeLocked()
	return nil
}

// SetFrequency records the center frequency for the reader's benefit.
func (t *Transmitter) SetFrequency(hz uint64) error {
	if err := adapter.ValidateTuning(adapter.Tuning{FrequencyHz: hz}); err != nil {
		return adapter.NormalizeErrorFor("fifo", "frequency", err)
	}
	t.mu.Lock()
	t.Tuning.FrequencyHz = hz
	t.mu.Unlock()
	return nil
}

// SetSampleRate records the sample rate.
func (t *Transmitter) SetSampleRate(hz uint32) error {
	if err := adapter.ValidateTuning(adapter.Tuning{SampleRateHz: hz}); err != nil {
		return adapter.NormalizeErrorFor("fifo", "sample_rate", err)
	}
	t.mu.Lock()
	t.Tuning.SampleRateHz = hz
	t.mu.Unlock()
	return nil
}

// SetBasebandBandwidth records the baseband bandwidth.
func (t *Transmitter) SetBasebandBandwidth(hz uint32) error {
	t.mu.Lock()
	t.Tuning.BasebandBandwidthHz = hz
	t.mu.Unlock()
	return nil
}

// Write forwards p to the pipe. It always reports len(p) so the producer
// keeps its pace; undeliverable bytes are counted as dropped. Every chunk
// handed to the pipe, or dropped, signals ready.
func (t *Transmitter) Write(p []byte) (int, error) {
	n, err := t.write(p)
	if err == nil {
		t.SignalReady()
	}
	return n, err
}

func (t *Transmitter) write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.enabled {
		t.dropped += int64(len(p))
		return len(p), nil
	}

	if t.fd < 0 {
		fd, err := unix.Open(t.path, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
		if err != nil {
			if errors.Is(err, unix.ENXIO) {
				// No reader yet.
				t.dropped += int64(len(p))
				return len(p), nil
			}
			return 0, adapter.NormalizeErrorFor("fifo", "open", err)
		}
		t.fd = fd
	}

	n, err := unix.Write(t.fd, p)
	if n > 0 {
		t.written += int64(n)
	}
	if n < len(p) {
		t.dropped += int64(len(p) - max(n, 0))
	}
	if err != nil {
		switch {
		case errors.Is(err, unix.EAGAIN):
		case errors.Is(err, unix.EPIPE):
			t.logger.Info("fifo reader went away", zap.String("path", t.path))
			t.closeLocked()
		default:
			return 0, adapter.NormalizeErrorFor("fifo", "write", err)
		}
	}
	return len(p), nil
}

// Stats returns bytes delivered to and dropped before the pipe.
func (t *Transmitter) Stats() (written, dropped int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.written, t.dropped
}

// Close releases the pipe and removes it from the filesystem.
func (t *Transmitter) Close() error {
	t.mu.Lock()
	t.enabled = false
	t.closeLocked()
	t.mu.Unlock()

	if err := os.Remove(t.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove fifo: %w", err)
	}
	return nil
}

func (t *Transmitter) closeLocked() {
	if t.fd >= 0 {
		_ = unix.Close(t.fd)
		t.fd = -1
	}
}
