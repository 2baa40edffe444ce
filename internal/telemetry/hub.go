// Package telemetry fans controller events out to SSE and websocket clients
// with monotonic IDs and Last-Event-ID replay.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrHubStopped is returned by Subscribe after Stop.
var ErrHubStopped = errors.New("telemetry hub stopped")

// Event represents a telemetry event with SSE formatting.
type Event struct {
	ID   int64                  `json:"id,omitempty"`
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

// Options configures a Hub.
type Options struct {
	BufferSize        int
	HeartbeatInterval time.Duration
	ClientQueue       int
	// Snapshot supplies the payload of the ready event sent on subscribe.
	Snapshot func() interface{}
	Logger   *zap.Logger
}

// Client is one connected subscriber.
type Client struct {
	ID     string
	Events chan Event
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func (c *Client) close() {
	c.once.Do(func() {
		c.cancel()
	})
}

// Hub distributes events to subscribers.
//
// LOCK ORDERING: h.mu before EventBuffer.mu. Publish never holds h.mu
// while sending to a client channel.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client

	nextID  atomic.Int64
	dropped atomic.Uint64
	buffer  *EventBuffer
	opts    Options
	logger  *zap.Logger

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewHub creates a hub and starts its heartbeat.
func NewHub(opts Options) *Hub {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 50
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 15 * time.Second
	}
	if opts.ClientQueue <= 0 {
		opts.ClientQueue = 100
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	h := &Hub{
		clients: make(map[string]*Client),
		buffer:  NewEventBuffer(opts.BufferSize),
		opts:    opts,
		logger:  opts.Logger,
		done:    make(chan struct{}),
	}

	h.wg.Add(1)
	go h.heartbeat()

	return h
}

// Publish assigns the next event ID, buffers the event for replay and
// delivers it to every client. Slow clients lose the event.
func (h *Hub) Publish(event Event) error {
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}

	if event.ID == 0 {
		event.ID = h.nextID.Add(1)
	}
	h.buffer.Add(event)
	h.broadcast(event)
	return nil
}

func (h *Hub) broadcast(event Event) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		select {
		case <-client.ctx.Done():
		case client.Events <- event:
		default:
			h.dropped.Add(1)
		}
	}
}

// Register adds a client. Events published after Register are queued on
// the returned client until Unregister or ctx ends.
func (h *Hub) Register(ctx context.Context) (*Client, error) {
	select {
	case <-h.done:
		return nil, ErrHubStopped
	default:
	}

	clientCtx, cancel := context.WithCancel(ctx)
	client := &Client{
		ID:     uuid.NewString(),
		Events: make(chan Event, h.opts.ClientQueue),
		ctx:    clientCtx,
		cancel: cancel,
	}

	h.mu.Lock()
	h.clients[client.ID] = client
	h.mu.Unlock()

	h.logger.Debug("telemetry client registered", zap.String("client", client.ID))
	return client, nil
}

// Unregister removes a client.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	delete(h.clients, client.ID)
	h.mu.Unlock()
	client.close()
}

// ReadyEvent builds the initial event sent to a new subscriber.
func (h *Hub) ReadyEvent() Event {
	data := map[string]interface{}{}
	if h.opts.Snapshot != nil {
		data["snapshot"] = h.opts.Snapshot()
	}
	return Event{Type: "ready", Data: data}
}

// EventsAfter returns buffered events with IDs above lastID.
func (h *Hub) EventsAfter(lastID int64) []Event {
	return h.buffer.After(lastID)
}

// Subscribe streams events to w as server-sent events until the request
// context ends or the hub stops.
func (h *Hub) Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Cache-Control")

	lastEventID := parseLastEventID(r)

	client, err := h.Register(ctx)
	if err != nil {
		return err
	}
	defer h.Unregister(client)

	if err := writeSSE(w, h.ReadyEvent()); err != nil {
		return fmt.Errorf("failed to send ready event: %w", err)
	}

	last := lastEventID
	if lastEventID > 0 {
		for _, event := range h.EventsAfter(lastEventID) {
			if err := writeSSE(w, event); err != nil {
				return fmt.Errorf("failed to replay events: %w", err)
			}
			last = event.ID
		}
	}

	for {
		select {
		case <-client.ctx.Done():
			return nil
		case <-h.done:
			return nil
		case event := <-client.Events:
			if event.ID != 0 && event.ID <= last {
				continue
			}
			if err := writeSSE(w, event); err != nil {
				return err
			}
			if event.ID != 0 {
				last = event.ID
			}
		}
	}
}

func parseLastEventID(r *http.Request) int64 {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("lastEventId")
	}
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// writeSSE writes a single event in SSE framing and flushes.
func writeSSE(w http.ResponseWriter, event Event) error {
	if event.ID > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", event.ID); err != nil {
			return fmt.Errorf("failed to write event ID: %w", err)
		}
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return fmt.Errorf("failed to write event type: %w", err)
	}

	data, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("failed to write event data: %w", err)
	}

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

// heartbeat sends an unnumbered heartbeat while clients are connected.
func (h *Hub) heartbeat() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if h.ClientCount() == 0 {
				continue
			}
			h.broadcast(Event{
				Type: "heartbeat",
				Data: map[string]interface{}{
					"ts": time.Now().UTC().Format(time.RFC3339),
				},
			})
		case <-h.done:
			return
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns the number of events lost to slow clients.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Stop disconnects all clients and stops the heartbeat. It is idempotent.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		for _, client := range h.clients {
			client.close()
		}
		h.clients = make(map[string]*Client)
		h.mu.Unlock()

		h.wg.Wait()
	})
}
