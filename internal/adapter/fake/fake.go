// Package fake provides an in-memory transmitter that records every call.
// It backs dry runs and tests.
package fake

import (
	"fmt"
	"sync"

	"github.com/radio-control/siggen/internal/adapter"
)

// Transmitter implements adapter.Transmitter without hardware.
type Transmitter struct {
	adapter.Base
	adapter.ReadySignal

	mu      sync.Mutex
	enabled bool
	calls   []string
	written int64
	dropped int64

	// Error simulation, keyed by operation name
	simulated map[string]string
}

// Compile-time assertion that Transmitter implements adapter.Transmitter
var _ adapter.Transmitter = (*Transmitter)(nil)

var _ adapter.ReadyNotifier = (*Transmitter)(nil)

// NewTransmitter creates a disabled fake transmitter.
func NewTransmitter(name string) *Transmitter {
	return &Transmitter{
		Base:      adapter.Base{Name: name},
		simulated: make(map[string]string),
	}
}

// Enable keys the transmitter.
func (f *Transmitter) Enable() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, "enable")
	if err := f.simulatedError("enable"); err != nil {
		return err
	}
	f.enabled = true
	return nil
}

// Disable unkeys the transmitter.
func (f *Transmitter) Disable() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, "disable")
	if err := f.simulatedError("disable"); err != nil {
		return err
	}
	f.enabled = false
	return nil
}

// SetFrequency sets the center frequency in Hz.
func (f *Transmitter) SetFrequency(hz uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, fmt.Sprintf("frequency:%d", hz))
	if err := f.simulatedError("frequency"); err != nil {
		return err
	}
	if err := adapter.ValidateTuning(adapter.Tuning{FrequencyHz: hz}); err != nil {
		return adapter.NormalizeError("frequency", err)
	}
	f.Tuning.FrequencyHz = hz
	return nil
}

// SetSampleRate sets the sample rate in samples per second.
func (f *Transmitter) SetSampleRate(hz uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, fmt.Sprintf("sample_rate:%d", hz))
	if err := f.simulatedError("sample_rate"); err != nil {
		return err
	}
	if err := adapter.ValidateTuning(adapter.Tuning{SampleRateHz: hz}); err != nil {
		return adapter.NormalizeError("sample_rate", err)
	}
	f.Tuning.SampleRateHz = hz
	return nil
}

// SetBasebandBandwidth sets the baseband filter bandwidth in Hz.
func (f *Transmitter) SetBasebandBandwidth(hz uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, fmt.Sprintf("baseband:%d", hz))
	if err := f.simulatedError("baseband"); err != nil {
		return err
	}
	f.Tuning.BasebandBandwidthHz = hz
	return nil
}

// Write counts samples while enabled and drops them otherwise. Every
// accepted chunk signals ready.
func (f *Transmitter) Write(p []byte) (int, error) {
	n, err := f.write(p)
	if err == nil {
		f.SignalReady()
	}
	return n, err
}

func (f *Transmitter) write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.simulatedError("write"); err != nil {
		return 0, err
	}
	if f.enabled {
		f.written += int64(len(p))
	} else {
		f.dropped += int64(len(p))
	}
	return len(p), nil
}

// SetErrorSimulation makes op fail with errorType until cleared. Known
// types are "range", "busy" and "unavailable"; anything else is INTERNAL.
func (f *Transmitter) SetErrorSimulation(op, errorType string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.simulated[op] = errorType
}

// DisableErrorSimulation clears all simulated errors.
func (f *Transmitter) DisableErrorSimulation() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.simulated = make(map[string]string)
}

// Enabled reports whether the transmitter is keyed.
func (f *Transmitter) Enabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

// Calls returns the recorded call log.
func (f *Transmitter) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// BytesWritten returns the bytes accepted while enabled and while disabled.
func (f *Transmitter) BytesWritten() (sent, dropped int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written, f.dropped
}

// CurrentTuning returns the last applied tuning.
func (f *Transmitter) CurrentTuning() adapter.Tuning {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Tuning
}

// simulatedError returns the configured error for op. Caller holds f.mu.
func (f *Transmitter) simulatedError(op string) error {
	errorType, ok := f.simulated[op]
	if !ok {
		return nil
	}

	var raw error
	switch errorType {
	case "range":
		raw = fmt.Errorf("OUT_OF_RANGE: simulated range error")
	case "busy":
		raw = fmt.Errorf("BUSY: simulated busy error")
	case "unavailable":
		raw = fmt.Errorf("UNAVAILABLE: simulated unavailable error")
	default:
		raw = fmt.Errorf("simulated internal error")
	}
	return adapter.NormalizeError(op, raw)
}
