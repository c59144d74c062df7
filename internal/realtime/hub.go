// Package realtime streams progress events to connected websocket clients.
package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/p-n-ai/pai-progress/internal/progress"
)

const (
	defaultBuffer       = 16
	defaultWriteTimeout = 5 * time.Second
)

// Options configures a Hub.
type Options struct {
	// Buffer is the per-connection queue length; events beyond it are dropped.
	Buffer       int
	WriteTimeout time.Duration
	// OriginPatterns lists additional allowed origins, see websocket.AcceptOptions.
	OriginPatterns []string
}

type subscriber struct {
	events chan progress.Event
}

// Hub fans progress events out to websocket subscribers of the event's user.
// It implements progress.EventLogger.
type Hub struct {
	buffer       int
	writeTimeout time.Duration
	accept       *websocket.AcceptOptions

	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}
}

// NewHub creates an empty hub.
func NewHub(opts Options) *Hub {
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	return &Hub{
		buffer:       opts.Buffer,
		writeTimeout: opts.WriteTimeout,
		accept:       &websocket.AcceptOptions{OriginPatterns: opts.OriginPatterns},
		subs:         make(map[string]map[*subscriber]struct{}),
	}
}

// LogEvent queues the event for every subscriber of event.UserID without blocking.
func (h *Hub) LogEvent(event progress.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[event.UserID] {
		select {
		case sub.events <- event:
		default:
			slog.Warn("realtime subscriber is slow, dropping event",
				"user_id", event.UserID,
				"type", event.EventType,
			)
		}
	}
	return nil
}

// Subscribers returns the number of open connections for userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

func (h *Hub) subscribe(userID string) *subscriber {
	sub := &subscriber{events: make(chan progress.Event, h.buffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[*subscriber]struct{})
	}
	h.subs[userID][sub] = struct{}{}
	return sub
}

func (h *Hub) unsubscribe(userID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[userID], sub)
	if len(h.subs[userID]) == 0 {
		delete(h.subs, userID)
	}
}

// ServeUser upgrades the request to a websocket and streams userID's events as JSON
// until the client disconnects or the request context ends.
func (h *Hub) ServeUser(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := websocket.Accept(w, r, h.accept)
	if err != nil {
		slog.Warn("websocket accept failed", "user_id", userID, "error", err)
		return
	}
	defer conn.CloseNow()

	sub := h.subscribe(userID)
	defer h.unsubscribe(userID, sub)
	slog.Debug("realtime subscriber connected", "user_id", userID)

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			slog.Debug("realtime subscriber disconnected", "user_id", userID)
			return
		case event := <-sub.events:
			if err := h.write(ctx, conn, event); err != nil {
				slog.Warn("websocket write failed", "user_id", userID, "error", err)
				return
			}
		}
	}
}

func (h *Hub) write(ctx context.Context, conn *websocket.Conn, event progress.Event) error {
	ctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, event)
}
