// Package fileservice is the HTTP facade from spec §4.5: it maps HTTP
// verbs onto Repository and CacheStore operations, parses and emits the
// ETag/Last-Modified header contract, and renders history as JSON. The
// router/matcher itself is an external collaborator per spec §1/§6 — this
// package wires handlers onto a real router (go-chi/chi/v5) rather than
// reimplementing dispatch.
package fileservice

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/schwartzmorn/kodiproxy-go/internal/filerepo"
	"github.com/schwartzmorn/kodiproxy-go/internal/notify"
)

// DefaultHandlerTimeout is the seconds-scale default from spec §5. The
// JSON-RPC handler's longer timeout (10s) is named here too even though
// that handler is out of scope, so a future integration shares this
// package's timeout convention.
const (
	DefaultHandlerTimeout = 5 * time.Second
	JSONRPCHandlerTimeout = 10 * time.Second
)

// Service exposes an authoritative filerepo.Store as HTTP. A caching node
// wraps Service with a forwarding decorator (see cacheproxy.go) rather than
// constructing it directly against a local store.
type Service struct {
	repo      *filerepo.Store
	logger    *slog.Logger
	now       func() time.Time
	broadcast *notify.Broadcaster
}

// New builds a Service backed by repo. broadcast may be nil, in which case
// successful writes are not published and no /changes route is mounted.
// Nothing in this module polls as a substitute: a caching node without the
// change feed keeps serving the copies it holds as synced.
func New(repo *filerepo.Store, logger *slog.Logger, broadcast *notify.Broadcaster) *Service {
	return &Service{repo: repo, logger: logger, now: func() time.Time { return time.Now().UTC() }, broadcast: broadcast}
}

func (s *Service) publish(path, name string, version uint32) {
	if s.broadcast == nil {
		return
	}

	s.broadcast.Publish(notify.ChangeEvent{Path: path, Name: name, Version: version})
}

// Routes mounts the endpoint table from spec §4.5 on a fresh chi router and
// returns it as an http.Handler.
func (s *Service) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Timeout(DefaultHandlerTimeout))

	r.Get("/files/*", s.handleGet)
	r.Head("/files/*", s.handleHead)
	r.Put("/files/*", s.handlePut)
	r.Delete("/files/*", s.handleDelete)
	r.MethodFunc("MOVE", "/files/*", s.handleMove)

	r.Get("/file-versions/*", s.handleFileVersions)

	if s.broadcast != nil {
		r.Get("/changes", s.broadcast.ServeHTTP)
	}

	return r
}
