package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/radio-control/siggen/internal/auth"
	"github.com/radio-control/siggen/internal/config"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Matches Access-Control-Allow-Origin: * on the SSE endpoint
	CheckOrigin: func(*http.Request) bool { return true },
}

// ToggleRequest is the body of POST /toggle. Both fields are optional: an
// empty path keeps the selected file and a nil cycle uses the configured one.
type ToggleRequest struct {
	Path  string              `json:"path,omitempty"`
	Cycle *config.CycleConfig `json:"cycle,omitempty"`
}

// RegisterRoutes registers all v1 endpoints.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	apiV1 := "/api/v1"

	// Health endpoint (no auth required)
	mux.HandleFunc(apiV1+"/health", s.handleHealth)

	mux.HandleFunc(apiV1+"/state", s.protect(auth.ScopeRead, s.handleState))
	mux.HandleFunc(apiV1+"/lastconfig", s.protect(auth.ScopeRead, s.handleLastConfig))

	mux.HandleFunc(apiV1+"/toggle", s.protect(auth.ScopeControl, s.handleToggle))
	mux.HandleFunc(apiV1+"/stop", s.protect(auth.ScopeControl, s.handleStop))
	mux.HandleFunc(apiV1+"/cycle", s.handleCycle)

	mux.HandleFunc(apiV1+"/telemetry", s.protect(auth.ScopeTelemetry, s.handleTelemetry))
	mux.HandleFunc(apiV1+"/telemetry/ws", s.protect(auth.ScopeTelemetry, s.handleTelemetryWS))

	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
}

func (s *Server) protect(scope string, h http.HandlerFunc) http.HandlerFunc {
	return s.auth.RequireAuth(s.auth.RequireScope(scope)(h))
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	WriteError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
		fmt.Sprintf("Only %s allowed", strings.Join(allowed, ", ")), nil)
}

// commandContext bounds how long a handler waits for the dispatcher.
func (s *Server) commandContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.cfg.CommandTimeout)
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	subsystems := map[string]bool{
		"controller": s.controller != nil,
		"telemetry":  s.telemetry != nil,
		"lastConfig": s.lastConfig != nil,
	}
	status := "ok"
	for _, ok := range subsystems {
		if !ok {
			status = "degraded"
		}
	}

	health := map[string]interface{}{
		"status":     status,
		"uptimeSec":  time.Since(s.startTime).Seconds(),
		"subsystems": subsystems,
		"auth":       s.auth.Enabled(),
	}
	if status != "ok" {
		writeResponse(w, http.StatusServiceUnavailable, SuccessResponse(health))
		return
	}
	WriteSuccess(w, health)
}

// handleState handles GET /state
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if s.controller == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Controller not available", nil)
		return
	}
	WriteSuccess(w, s.controller.Status())
}

// handleToggle handles POST /toggle
func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if s.controller == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Controller not available", nil)
		return
	}

	var req ToggleRequest
	if err := decodeStrict(r.Body, &req, true); err != nil {
		WriteErr(w, err)
		return
	}

	path, err := s.resolveWaveform(req.Path)
	if err != nil {
		WriteErr(w, err)
		return
	}

	cycle := s.controller.Status().NextCycle
	if req.Cycle != nil {
		cycle = *req.Cycle
	}

	ctx, cancel := s.commandContext(r)
	defer cancel()

	if err := s.controller.RequestToggle(ctx, path, cycle, auth.Subject(r)); err != nil {
		s.logger.Info("toggle rejected", zap.String("actor", auth.Subject(r)), zap.Error(err))
		WriteErr(w, err)
		return
	}
	WriteSuccess(w, s.controller.Status())
}

// handleCycle handles GET and PUT /cycle
func (s *Server) handleCycle(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.protect(auth.ScopeRead, s.getCycle)(w, r)
	case http.MethodPut:
		s.protect(auth.ScopeControl, s.putCycle)(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPut)
	}
}

func (s *Server) getCycle(w http.ResponseWriter, r *http.Request) {
	if s.controller == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Controller not available", nil)
		return
	}
	WriteSuccess(w, s.controller.Status().NextCycle)
}

func (s *Server) putCycle(w http.ResponseWriter, r *http.Request) {
	if s.controller == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Controller not available", nil)
		return
	}

	var cycle config.CycleConfig
	if err := decodeStrict(r.Body, &cycle, false); err != nil {
		WriteErr(w, err)
		return
	}

	ctx, cancel := s.commandContext(r)
	defer cancel()

	if err := s.controller.RequestConfigure(ctx, cycle, auth.Subject(r)); err != nil {
		WriteErr(w, err)
		return
	}
	WriteSuccess(w, cycle)
}

// handleStop handles POST /stop
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if s.controller == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Controller not available", nil)
		return
	}

	ctx, cancel := s.commandContext(r)
	defer cancel()

	if err := s.controller.RequestStop(ctx, auth.Subject(r)); err != nil {
		WriteErr(w, err)
		return
	}
	WriteSuccess(w, s.controller.Status())
}

// handleLastConfig handles GET /lastconfig
func (s *Server) handleLastConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if s.lastConfig == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Last config store not available", nil)
		return
	}

	lc, problems, err := s.lastConfig.Load()
	if errors.Is(err, os.ErrNotExist) {
		WriteError(w, http.StatusNotFound, "NOT_FOUND", "No configuration has been saved yet", nil)
		return
	}
	if err != nil {
		WriteErr(w, err)
		return
	}

	warnings := make([]string, 0, len(problems))
	for _, p := range problems {
		warnings = append(warnings, p.Error())
	}
	WriteSuccess(w, map[string]interface{}{
		"lastConfig": lc,
		"warnings":   warnings,
	})
}

// handleTelemetry handles GET /telemetry as server-sent events
func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if s.telemetry == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Telemetry service not available", nil)
		return
	}

	// The stream outlives the server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	if err := s.telemetry.Subscribe(r.Context(), w, r); err != nil {
		s.logger.Debug("telemetry stream ended", zap.Error(err))
	}
}

// handleTelemetryWS handles GET /telemetry/ws
func (s *Server) handleTelemetryWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if s.telemetry == nil {
		WriteError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Telemetry service not available", nil)
		return
	}

	var lastID int64
	if raw := r.URL.Query().Get("lastEventId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "BAD_REQUEST", "lastEventId must be an integer", nil)
			return
		}
		lastID = id
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	if err := s.telemetry.ServeWebSocket(r.Context(), conn, lastID); err != nil {
		s.logger.Debug("websocket telemetry ended", zap.Error(err))
	}
}

// resolveWaveform maps a request path onto the waveform directory.
// Relative paths may not climb out of it.
func (s *Server) resolveWaveform(path string) (string, error) {
	if path == "" || filepath.IsAbs(path) || s.waveforms == "" {
		return path, nil
	}

	full := filepath.Join(s.waveforms, path)
	rel, err := filepath.Rel(s.waveforms, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path escapes waveform directory", ErrBadRequest)
	}
	return full, nil
}

// decodeStrict decodes a single JSON object with no unknown fields.
func decodeStrict(body io.Reader, v interface{}, allowEmpty bool) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		return fmt.Errorf("%w: malformed JSON or unknown fields", ErrBadRequest)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data after JSON object", ErrBadRequest)
	}
	return nil
}
