// Package adapter defines the radio transmitter contract used by the
// transmission controller.
//
// Calls are expected to take effect before the next sample byte written to
// the transmitter when made prior to starting a stream.
package adapter

import (
	"io"
	"sync/atomic"
)

// Tuning is the RF configuration applied before a run.
type Tuning struct {
	FrequencyHz         uint64 `json:"frequencyHz"`
	SampleRateHz        uint32 `json:"sampleRateHz"`
	BasebandBandwidthHz uint32 `json:"basebandBandwidthHz"`
}

// Transmitter is the southbound radio contract. Samples are written through
// the embedded io.Writer; bytes written while disabled are discarded.
type Transmitter interface {
	io.Writer

	// Enable keys the transmitter.
	Enable() error

	// Disable unkeys the transmitter.
	Disable() error

	// SetFrequency sets the center frequency in Hz.
	SetFrequency(hz uint64) error

	// SetSampleRate sets the baseband sample rate in samples per second.
	SetSampleRate(hz uint32) error

	// SetBasebandBandwidth sets the baseband filter bandwidth in Hz.
	SetBasebandBandwidth(hz uint32) error
}

// Apply pushes t to tx in frequency, sample rate, bandwidth order. Zero
// fields are skipped.
func Apply(tx Transmitter, t Tuning) error {
	if t.FrequencyHz != 0 {
		if err := tx.SetFrequency(t.FrequencyHz); err != nil {
			return err
		}
	}
	if t.SampleRateHz != 0 {
		if err := tx.SetSampleRate(t.SampleRateHz); err != nil {
			return err
		}
	}
	if t.BasebandBandwidthHz != 0 {
		if err := tx.SetBasebandBandwidth(t.BasebandBandwidthHz); err != nil {
			return err
		}
	}
	return nil
}

// Base holds the tuning bookkeeping shared by transmitter implementations.
type Base struct {
	// Name identifies the transmitter in logs and status.
	Name string

	// Tuning is the last applied configuration.
	Tuning Tuning
}

// GetName returns the transmitter name.
func (b *Base) GetName() string {
	return b.Name
}

// ReadyNotifier is implemented by transmitters that report each time the
// sink has taken a chunk and has room for another.
type ReadyNotifier interface {
	OnReady(fn func())
}

// ReadySignal holds a ready callback. Embed it to implement ReadyNotifier.
type ReadySignal struct {
	fn atomic.Pointer[func()]
}

// OnReady sets the callback. A nil fn clears it.
func (s *ReadySignal) OnReady(fn func()) {
	if fn == nil {
		s.fn.Store(nil)
		return
	}
	s.fn.Store(&fn)
}

// SignalReady runs the callback, if any. Call it without holding locks the
// callback might need.
func (s *ReadySignal) SignalReady() {
	if fn := s.fn.Load(); fn != nil {
		(*fn)()
	}
}
