package transmit

import (
	"time"

	"github.com/radio-control/siggen/internal/adapter"
	"github.com/radio-control/siggen/internal/config"
	"github.com/radio-control/siggen/internal/stream"
)

// State is the scheduler state.
type State string

const (
	Idle        State = "idle"
	Streaming   State = "streaming"
	CyclicBurst State = "cyclic_burst"
	CyclicPause State = "cyclic_pause"
)

// Status is a point-in-time view of the controller, safe to read from any
// goroutine. Cycle is the config the current phase runs under; NextCycle is
// the one the next transition reads, and differs only while a Configure
// made mid-run is pending.
type Status struct {
	State         State              `json:"state"`
	Path          string             `json:"path"`
	Cycle         config.CycleConfig `json:"cycle"`
	NextCycle     config.CycleConfig `json:"nextCycle"`
	Token         uint64             `json:"token"`
	Run           stream.Handle      `json:"run,omitempty"`
	RadioOn       bool               `json:"radioOn"`
	Restarts      uint64             `json:"restarts"`
	ProgressBytes int64              `json:"progressBytes"`
	DurationMs    int64              `json:"durationMs"`
	Tuning        adapter.Tuning     `json:"tuning"`
	LastError     string             `json:"lastError,omitempty"`
	UpdatedAt     time.Time          `json:"updatedAt"`
}
