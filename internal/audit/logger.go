// Package audit writes an append-only JSONL trail of operator actions.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	Timestamp time.Time `json:"ts"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Target    string    `json:"target"`
	Outcome   string    `json:"outcome"`
	Code      string    `json:"code"`
	LatencyMs int64     `json:"latencyMs"`
}

// Options controls file rotation.
type Options struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Logger appends entries to <dir>/audit.jsonl, rotating with lumberjack.
type Logger struct {
	mu       sync.Mutex
	filePath string
	out      *lumberjack.Logger
}

type actorKey struct{}

// WithActor attaches the acting subject to ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the subject set by WithActor, or "unknown".
func ActorFromContext(ctx context.Context) string {
	if actor, ok := ctx.Value(actorKey{}).(string); ok && actor != "" {
		return actor
	}
	return "unknown"
}

// NewLogger creates the log directory and opens the audit file.
func NewLogger(logDir string, opts Options) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	filePath := filepath.Join(logDir, "audit.jsonl")
	return &Logger{
		filePath: filePath,
		out: &lumberjack.Logger{
			Filename:   filePath,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
		},
	}, nil
}

// LogAction logs an audit record. result is one of SUCCESS, INVALID_RANGE,
// UNAVAILABLE, BUSY or ERROR.
func (l *Logger) LogAction(ctx context.Context, action, target, result string, latency time.Duration) {
	l.writeEntry(AuditEntry{
		Timestamp: time.Now().UTC(),
		Actor:     ActorFromContext(ctx),
		Action:    action,
		Target:    target,
		Outcome:   result,
		Code:      codeFromResult(result),
		LatencyMs: latency.Milliseconds(),
	})
}

func (l *Logger) writeEntry(entry AuditEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to marshal audit entry: %v\n", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.out == nil {
		return
	}
	if _, err := l.out.Write(append(data, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write audit entry: %v\n", err)
	}
}

func codeFromResult(result string) string {
	switch result {
	case "SUCCESS", "INVALID_RANGE", "UNAVAILABLE", "BUSY", "ERROR":
		return result
	default:
		return "UNKNOWN"
	}
}

// Rotate closes the current file and starts a new one.
func (l *Logger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out == nil {
		return nil
	}
	return l.out.Rotate()
}

// Close closes the audit file. Later writes are dropped.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.out == nil {
		return nil
	}
	err := l.out.Close()
	l.out = nil
	return err
}

// GetFilePath returns the path to the audit log file.
func (l *Logger) GetFilePath() string {
	return l.filePath
}
