package dispatch

import (
	"github.com/radio-control/siggen/internal/config"
	"github.com/radio-control/siggen/internal/stream"
)

// Kind identifies a message type for handler routing.
type Kind string

const (
	KindStreamDone  Kind = "stream_done"
	KindTimerFired  Kind = "timer_fired"
	KindBufferReady Kind = "buffer_ready"
	KindProgress    Kind = "progress"
	KindToggle      Kind = "toggle"
	KindConfigure   Kind = "configure"
	KindStop        Kind = "stop"
)

// Message is anything that can travel through the dispatcher.
type Message interface {
	Kind() Kind
}

// StreamDone is posted once per producer run when the run ends on its own.
type StreamDone struct {
	Run    stream.Handle
	Reason stream.CompletionReason
	Err    error
}

func (StreamDone) Kind() Kind { return KindStreamDone }

// TimerFired is posted from the timer goroutine when an armed timer expires.
type TimerFired struct {
	Token uint64
}

func (TimerFired) Kind() Kind { return KindTimerFired }

// BufferReady signals the sink can take another chunk. An empty Run means
// the active run.
type BufferReady struct {
	Run stream.Handle
}

func (BufferReady) Kind() Kind { return KindBufferReady }

// Progress carries the cumulative byte count of a run.
type Progress struct {
	Run   stream.Handle
	Bytes int64
}

func (Progress) Kind() Kind { return KindProgress }

// ToggleRequest carries operator intent from another goroutine. A non-empty
// Path selects the waveform before toggling. Reply, if set, receives the
// outcome and must have room for one value.
type ToggleRequest struct {
	Path   string
	Config config.CycleConfig
	Actor  string
	Reply  chan<- error
}

func (ToggleRequest) Kind() Kind { return KindToggle }

// ConfigureRequest replaces the cycle config used from the next transition.
type ConfigureRequest struct {
	Config config.CycleConfig
	Actor  string
	Reply  chan<- error
}

func (ConfigureRequest) Kind() Kind { return KindConfigure }

// StopRequest forces the controller to Idle from any state.
type StopRequest struct {
	Actor string
	Reply chan<- error
}

func (StopRequest) Kind() Kind { return KindStop }
