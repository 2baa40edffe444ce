package telemetry

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// ServeWebSocket streams events to conn as JSON messages, starting with the
// ready event and any buffered events after lastID. It returns when the
// peer goes away, ctx ends or the hub stops, and closes conn.
func (h *Hub) ServeWebSocket(ctx context.Context, conn *websocket.Conn, lastID int64) error {
	defer conn.Close()

	client, err := h.Register(ctx)
	if err != nil {
		return err
	}
	defer h.Unregister(client)

	// Reader: handles pongs and notices the peer closing.
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer client.close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(event Event) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(event)
	}

	if err := write(h.ReadyEvent()); err != nil {
		return err
	}
	last := lastID
	if lastID > 0 {
		for _, event := range h.EventsAfter(lastID) {
			if err := write(event); err != nil {
				return err
			}
			last = event.ID
		}
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-client.ctx.Done():
			return nil
		case <-h.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
				time.Now().Add(wsWriteWait))
			return nil
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return err
			}
		case event := <-client.Events:
			if event.ID != 0 && event.ID <= last {
				continue
			}
			if err := write(event); err != nil {
				return err
			}
			if event.ID != 0 {
				last = event.ID
			}
		}
	}
}
