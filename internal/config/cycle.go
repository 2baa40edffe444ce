package config

import (
	"errors"
	"fmt"
	"time"
)

// Cycle bounds, matching the burst and pause number fields of the operator UI.
const (
	MinBurstSeconds = 1
	MaxBurstSeconds = 30
	MinPauseSeconds = 0
	MaxPauseSeconds = 30
)

// ErrCycleRange indicates a burst or pause duration outside its bounds.
var ErrCycleRange = errors.New("CYCLE_OUT_OF_RANGE")

// CycleConfig is the immutable snapshot the controller reads when it enters a
// cyclic transition.
type CycleConfig struct {
	BurstSeconds int  `yaml:"burst_seconds" json:"burstSeconds"`
	PauseSeconds int  `yaml:"pause_seconds" json:"pauseSeconds"`
	LoopEnabled  bool `yaml:"loop_enabled" json:"loopEnabled"`
}

// DefaultCycleConfig returns the values the UI fields start with.
func DefaultCycleConfig() CycleConfig {
	return CycleConfig{
		BurstSeconds: MinBurstSeconds,
		PauseSeconds: MinPauseSeconds,
		LoopEnabled:  true,
	}
}

// Validate checks burst and pause against their bounds.
func (c CycleConfig) Validate() error {
	if c.BurstSeconds < MinBurstSeconds || c.BurstSeconds > MaxBurstSeconds {
		return fmt.Errorf("%w: burst %ds outside [%d, %d]", ErrCycleRange, c.BurstSeconds, MinBurstSeconds, MaxBurstSeconds)
	}
	if c.PauseSeconds < MinPauseSeconds || c.PauseSeconds > MaxPauseSeconds {
		return fmt.Errorf("%w: pause %ds outside [%d, %d]", ErrCycleRange, c.PauseSeconds, MinPauseSeconds, MaxPauseSeconds)
	}
	return nil
}

// Cyclic reports whether the config selects timer-driven burst/pause cycling.
// A zero pause means continuous retransmission and never arms a timer.
func (c CycleConfig) Cyclic() bool {
	return c.LoopEnabled && c.PauseSeconds > 0
}

// Burst returns the burst phase length.
func (c CycleConfig) Burst() time.Duration {
	return time.Duration(c.BurstSeconds) * time.Second
}

// Pause returns the pause phase length.
func (c CycleConfig) Pause() time.Duration {
	return time.Duration(c.PauseSeconds) * time.Second
}

// Clamp forces both durations into their bounds.
func (c CycleConfig) Clamp() CycleConfig {
	c.BurstSeconds = clampInt(c.BurstSeconds, MinBurstSeconds, MaxBurstSeconds)
	c.PauseSeconds = clampInt(c.PauseSeconds, MinPauseSeconds, MaxPauseSeconds)
	return c
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
