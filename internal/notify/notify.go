// Package notify is the authoritative node's push channel (SPEC_FULL §4.6):
// a minimal websocket broadcaster, grounded on the teacher's use of
// coder/websocket for Graph delta push notifications. Every successful
// write publishes a ChangeEvent to connected subscribers so a caching node
// can invalidate its copy. Delivery is best effort and there is no polling
// fallback: a cache that misses an event, or never connects, keeps serving
// the copy it holds as synced.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// ChangeEvent is published after a successful Save/Delete/MoveTo.
type ChangeEvent struct {
	Path    string `json:"path"`
	Name    string `json:"name"`
	Version uint32 `json:"version"`
}

// writeTimeout bounds how long Broadcaster waits to hand an event to a
// single slow subscriber before dropping it, so one stalled client can
// never block the others or the request goroutine that triggered it.
const writeTimeout = 2 * time.Second

// Broadcaster fans ChangeEvents out to every currently-connected websocket
// subscriber. The zero value is not usable; construct with New.
type Broadcaster struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

type subscriber struct {
	conn *websocket.Conn
}

// New constructs an empty Broadcaster.
func New(logger *slog.Logger) *Broadcaster {
	return &Broadcaster{logger: logger, subs: make(map[*subscriber]struct{})}
}

// Publish fans ev out to every connected subscriber. Never blocks the
// caller on a slow client beyond writeTimeout.
func (b *Broadcaster) Publish(ev ChangeEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Warn("notify: failed to marshal change event", slog.String("error", err.Error()))
		return
	}

	b.mu.Lock()
	targets := make([]*subscriber, 0, len(b.subs))
	for s := range b.subs {
		targets = append(targets, s)
	}
	b.mu.Unlock()

	for _, s := range targets {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := s.conn.Write(ctx, websocket.MessageText, payload)
		cancel()

		if err != nil {
			b.logger.Debug("notify: dropping unresponsive subscriber", slog.String("error", err.Error()))
			b.remove(s)
		}
	}
}

// ServeHTTP upgrades the request to a websocket and registers the
// connection as a subscriber until it disconnects or ctx is cancelled.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		b.logger.Warn("notify: websocket accept failed", slog.String("error", err.Error()))
		return
	}

	sub := &subscriber{conn: conn}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	defer b.remove(sub)

	// Subscribers never send anything; reading until error detects
	// disconnects so the subscriber set doesn't grow unbounded.
	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			conn.Close(websocket.StatusNormalClosure, "closing")
			return
		}
	}
}

func (b *Broadcaster) remove(s *subscriber) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}
