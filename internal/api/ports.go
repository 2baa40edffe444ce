// Package api implements the HTTP API: JSON commands for the transmission
// controller plus SSE and websocket telemetry.
package api

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/radio-control/siggen/internal/config"
	"github.com/radio-control/siggen/internal/telemetry"
	"github.com/radio-control/siggen/internal/transmit"
)

// ControllerPort defines the minimal interface the API needs from the
// transmission controller.
type ControllerPort interface {
	Status() transmit.Status
	RequestToggle(ctx context.Context, path string, cfg config.CycleConfig, actor string) error
	RequestConfigure(ctx context.Context, cfg config.CycleConfig, actor string) error
	RequestStop(ctx context.Context, actor string) error
}

// TelemetryPort defines the minimal interface the API needs from the telemetry hub.
type TelemetryPort interface {
	Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error
	ServeWebSocket(ctx context.Context, conn *websocket.Conn, lastID int64) error
}

// LastConfigPort reads the persisted last configuration.
type LastConfigPort interface {
	Load() (config.LastConfig, []*config.ParseError, error)
}

// Compile-time assertions for port conformance
var _ ControllerPort = (*transmit.Controller)(nil)
var _ TelemetryPort = (*telemetry.Hub)(nil)
var _ LastConfigPort = (*config.FileStore)(nil)
