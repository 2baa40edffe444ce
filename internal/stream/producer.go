// Package stream reads waveform files in fixed-size chunks and feeds them to
// a sample sink, reporting completion exactly once per run.
package stream

import (
	"fmt"
)

// Handle identifies one producer run.
type Handle string

// CompletionReason describes why a run ended.
type CompletionReason string

const (
	ReasonEndOfFile CompletionReason = "end_of_file"
	ReasonReadError CompletionReason = "read_error"
	ReasonCancelled CompletionReason = "cancelled"
)

// DoneFunc is called once when a run ends on its own. It runs on the
// producer goroutine and must not block.
type DoneFunc func(h Handle, reason CompletionReason, err error)

// ProgressFunc reports the cumulative bytes written for a run.
type ProgressFunc func(h Handle, bytes int64)

// Callbacks groups the producer notifications.
type Callbacks struct {
	Done     DoneFunc
	Progress ProgressFunc
}

// Producer is the contract the controller consumes.
type Producer interface {
	// Start opens path and begins asynchronous production.
	Start(path string) (Handle, error)
	// Stop cancels the run. No callback for h runs after Stop returns.
	Stop(h Handle)
	// Ready tells the run the sink can take another chunk.
	Ready(h Handle)
}

// RateSetter is implemented by producers that pace output to the radio's
// sample rate. The rate applies to runs started afterwards.
type RateSetter interface {
	SetSampleRate(hz uint32)
}

// FileOpenError indicates the waveform could not be opened.
type FileOpenError struct {
	Path string
	Err  error
}

func (e *FileOpenError) Error() string {
	return fmt.Sprintf("FILE_OPEN_ERROR: %s: %v", e.Path, e.Err)
}

func (e *FileOpenError) Unwrap() error {
	return e.Err
}

// ReadError indicates a run failed mid-file. The file position is not
// trusted afterwards, so the run is never resumed.
type ReadError struct {
	Path   string
	Offset int64
	Err    error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("STREAM_READ_ERROR: %s at byte %d: %v", e.Path, e.Offset, e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}
