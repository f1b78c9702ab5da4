// Package live implements the Live Subscriber (C8): one WebSocket
// connection per ServeHTTP call, bootstrapped with a MultiSeries
// snapshot and then streamed deltas until the connection closes.
// Grounded on the original asyncio handler() (socket_server.py) for
// the subscribe/initial/stream/unsubscribe protocol, and on the
// teacher's Hub.HandleWebSocket (coder/websocket Accept + writer
// goroutine + blocking reader-for-close) for the connection lifecycle.
package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/KarelPeeters/DigitalMeter/internal/tracker"
)

// Subscribable is the subset of *datastore.DataStore the live handler
// depends on.
type Subscribable interface {
	Subscribe(chan tracker.MultiSeries) tracker.MultiSeries
	Unsubscribe(chan tracker.MultiSeries)
}

// newSubscriberChannel builds a subscriber queue of the depth the
// wire protocol expects a slow client to tolerate before deltas start
// being dropped for it (spec §4.4).
func newSubscriberChannel() chan tracker.MultiSeries {
	return make(chan tracker.MultiSeries, 16)
}

// Handler serves live WebSocket connections over a DataStore. Active
// subscriber accounting lives on the DataStore side (Subscribe/
// Unsubscribe already update the telemetry gauge), so Handler itself
// carries no telemetry dependency.
type Handler struct {
	store Subscribable
}

// NewHandler builds a live connection Handler.
func NewHandler(store Subscribable) *Handler {
	return &Handler{store: store}
}

// ServeHTTP upgrades the request to a WebSocket, sends the bootstrap
// snapshot, then streams deltas until the connection closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		slog.Error("live: websocket upgrade failed", "error", err)
		return
	}
	defer conn.CloseNow()

	connID := uuid.NewString()
	q := newSubscriberChannel()

	initial := h.store.Subscribe(q)
	defer h.store.Unsubscribe(q)

	if err := h.send(r.Context(), conn, "initial", initial); err != nil {
		slog.Debug("live: initial send failed", "conn", connID, "error", err)
		return
	}

	ctx := r.Context()
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case delta, ok := <-q:
			if !ok {
				return
			}
			if err := h.send(ctx, conn, "update", delta); err != nil {
				slog.Debug("live: update send failed", "conn", connID, "error", err)
				return
			}
		}
	}
}

func (h *Handler) send(ctx context.Context, conn *websocket.Conn, typ string, ms tracker.MultiSeries) error {
	payload, err := json.Marshal(struct {
		Type   string                `json:"type"`
		Series map[string]interface{} `json:"series"`
	}{Type: typ, Series: encodeInterface(ms)})
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, payload)
}

func encodeInterface(ms tracker.MultiSeries) map[string]interface{} {
	encoded := ms.Encode()
	out := make(map[string]interface{}, len(encoded))
	for name, enc := range encoded {
		out[name] = enc
	}
	return out
}
