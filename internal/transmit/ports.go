// Package transmit schedules waveform playback: one-shot, looped, or as a
// timer-driven burst/pause cycle.
package transmit

import (
	"context"
	"errors"
	"time"

	"github.com/radio-control/siggen/internal/adapter"
	"github.com/radio-control/siggen/internal/config"
	"github.com/radio-control/siggen/internal/telemetry"
)

var (
	// ErrInvalidRange is returned for a cycle config outside its bounds.
	ErrInvalidRange = adapter.ErrInvalidRange

	// ErrNotAttached indicates a request was made before Attach.
	ErrNotAttached = errors.New("NOT_ATTACHED")

	// ErrNoWaveform indicates toggle was called with no file selected.
	ErrNoWaveform = errors.New("NO_WAVEFORM_SELECTED")
)

// Persister stores the last started configuration.
type Persister interface {
	Save(lc config.LastConfig) error
}

// EventPublisher receives operator-facing events.
type EventPublisher interface {
	Publish(event telemetry.Event) error
}

// AuditLogger writes audit records for operator actions.
type AuditLogger interface {
	LogAction(ctx context.Context, action, target, result string, latency time.Duration)
}

// Recorder collects scheduler metrics.
type Recorder interface {
	ObserveTransition(from, to, trigger string)
	IncStaleTimer()
	IncStaleStream()
	IncRestart()
	IncFault(code string)
	SetProgress(bytes int64)
}

type nopRecorder struct{}

func (nopRecorder) ObserveTransition(string, string, string) {}
func (nopRecorder) IncStaleTimer()                           {}
func (nopRecorder) IncStaleStream()                          {}
func (nopRecorder) IncRestart()                              {}
func (nopRecorder) IncFault(string)                          {}
func (nopRecorder) SetProgress(int64)                        {}
