// Package wsproxy is a thin adapter translating the Resumable Upload
// Manager's (C11) progress callbacks into the progress-event JSON shape
// spec.md §6 names and pushing them to connected WebSocket clients. It
// carries no upload logic of its own: the core stays transport-agnostic per
// spec.md's explicit scope note, and this package only ever reacts to
// events it is handed, never drives an upload itself.
package wsproxy

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/upload-engine/chunkup/internal/model"
)

// writeTimeout bounds how long Broadcast waits on one slow client before
// giving up on that client for this event, so one stalled browser tab can
// never back up delivery to every other connected client.
const writeTimeout = 2 * time.Second

// Event is the JSON progress-event shape pushed to every connected client,
// field names matching spec.md §6's progress callback signature.
type Event struct {
	FileID                 string  `json:"fileId"`
	BytesUploaded          int64   `json:"bytesUploaded"`
	TotalBytes             int64   `json:"totalBytes"`
	Speed                  float64 `json:"speed"`
	EstimatedTimeRemaining float64 `json:"estimatedTimeRemaining"`
	Status                 string  `json:"status,omitempty"`
}

// EventFromProgress builds the wire event for one ProgressFunc delivery.
func EventFromProgress(p model.Progress, status string) Event {
	return Event{
		FileID:                 p.FileID,
		BytesUploaded:          p.BytesUploaded,
		TotalBytes:             p.TotalBytes,
		Speed:                  p.Speed,
		EstimatedTimeRemaining: p.EstimatedTimeRemaining.Seconds(),
		Status:                 status,
	}
}

// Hub fans progress events out to every connected WebSocket client.
type Hub struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{logger: logger, clients: make(map[*websocket.Conn]struct{})}
}

// Handler upgrades r to a WebSocket connection and registers it with the
// hub until the client disconnects. It never reads application data from
// the client — this adapter is push-only — so the read loop exists solely
// to detect the close.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			h.logger.Warn("wsproxy: accepting connection failed", "error", err)

			return
		}

		h.register(conn)
		defer h.unregister(conn)

		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				conn.CloseNow()

				return
			}
		}
	}
}

func (h *Hub) register(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[conn] = struct{}{}
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.clients, conn)
}

// Broadcast pushes ev to every connected client as JSON text. A client that
// fails to accept the write within writeTimeout is dropped; Broadcast never
// returns an error of its own, since a WebSocket subscriber is always an
// optional observer, never load-bearing for the upload itself.
func (h *Hub) Broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn("wsproxy: marshaling progress event", "error", err)

		return
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)

		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			h.logger.Debug("wsproxy: dropping slow or closed client", "error", err)
			h.unregister(conn)
			conn.CloseNow()
		}

		cancel()
	}
}

// Close closes every connected client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		c.Close(websocket.StatusNormalClosure, "server shutting down")
	}

	h.clients = make(map[*websocket.Conn]struct{})
}
