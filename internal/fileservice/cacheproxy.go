package fileservice

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/schwartzmorn/kodiproxy-go/internal/apperror"
	"github.com/schwartzmorn/kodiproxy-go/internal/cachestore"
)

// CacheProxy is the caching node's half of FileService: it chains the
// facade with upstream forwarding. Reads are served from the cache when it
// holds a synced copy; writes always forward upstream first, then record
// the authoritative outcome into the cache. The cache is never a write-back
// queue (spec §4.3) — forwarding failures are never retried locally.
// CacheProxy does not consult logcompare: it never compares local and
// upstream histories, and a synced copy is served as is until a write
// through this proxy or an Invalidate call replaces it.
type CacheProxy struct {
	cache      *cachestore.Store
	upstream   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewCacheProxy builds a CacheProxy forwarding to upstreamBaseURL (e.g.
// "http://server.local:8080").
func NewCacheProxy(cache *cachestore.Store, upstreamBaseURL string, httpClient *http.Client, logger *slog.Logger) *CacheProxy {
	return &CacheProxy{cache: cache, upstream: upstreamBaseURL, httpClient: httpClient, logger: logger}
}

// Routes mounts the same endpoint table as Service.Routes, backed by the
// cache-then-forward strategy instead of a direct store.
func (c *CacheProxy) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/files/*", c.handleGet)
	r.Head("/files/*", c.handleGet)
	r.Put("/files/*", c.handleForward)
	r.Delete("/files/*", c.handleForward)
	r.MethodFunc("MOVE", "/files/*", c.handleForward)

	r.Get("/file-versions/*", c.handleFileVersions)

	return r
}

func (c *CacheProxy) handleGet(w http.ResponseWriter, r *http.Request) {
	path, name := splitIdentity(chi.URLParam(r, "*"))
	wantBody := r.Method == http.MethodGet

	rec, err := c.cache.Get(r.Context(), path, name)
	if err == nil && rec.IsSynced && rec.Hash != "" && (rec.Content != nil || !wantBody) {
		writeRevisionHeaders(w, *rec.LastSyncedVersion, *rec.LastSyncedTimestamp)
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
		w.WriteHeader(http.StatusOK)

		if wantBody {
			_, _ = w.Write(rec.Content)
		}

		return
	}

	c.forwardAndCache(w, r, path, name)
}

func (c *CacheProxy) forwardAndCache(w http.ResponseWriter, r *http.Request, path, name string) {
	upstreamResp, err := c.doUpstream(r.Context(), r.Method, "/files/", path, name, r.Header, nil)
	if err != nil {
		writeError(w, c.logger, err)
		return
	}
	defer upstreamResp.Body.Close()

	body, err := io.ReadAll(upstreamResp.Body)
	if err != nil {
		writeError(w, c.logger, apperror.Wrap(apperror.KindForwardingError, err, "reading upstream body"))
		return
	}

	// Only a GET response carries the blob; a HEAD response's empty body
	// must not be recorded as the cached content.
	if upstreamResp.StatusCode == http.StatusOK && r.Method == http.MethodGet {
		if info := syncInfoFromResponse(upstreamResp); info != nil {
			if saveErr := c.cache.Save(r.Context(), path, name, info, body); saveErr != nil {
				c.logger.Warn("cacheproxy: failed to populate cache after forward",
					slog.String("error", saveErr.Error()))
			}
		}
	}

	copyHeader(w.Header(), upstreamResp.Header)
	w.WriteHeader(upstreamResp.StatusCode)

	if r.Method == http.MethodGet {
		_, _ = w.Write(body)
	}
}

// handleForward unconditionally forwards PUT/DELETE/MOVE upstream, then
// records the authoritative outcome into the cache.
func (c *CacheProxy) handleForward(w http.ResponseWriter, r *http.Request) {
	path, name := splitIdentity(chi.URLParam(r, "*"))

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, c.logger, apperror.Wrap(apperror.KindInvalidRequest, err, "reading request body"))
		return
	}

	upstreamResp, err := c.doUpstream(r.Context(), r.Method, "/files/", path, name, r.Header, body)
	if err != nil {
		writeError(w, c.logger, err)
		return
	}
	defer upstreamResp.Body.Close()

	respBody, _ := io.ReadAll(upstreamResp.Body)

	c.recordForwardOutcome(r, path, name, body, upstreamResp)

	copyHeader(w.Header(), upstreamResp.Header)
	w.WriteHeader(upstreamResp.StatusCode)
	_, _ = w.Write(respBody)
}

func (c *CacheProxy) recordForwardOutcome(r *http.Request, path, name string, reqBody []byte, resp *http.Response) {
	info := syncInfoFromResponse(resp)
	if info == nil {
		return
	}

	ctx := r.Context()

	switch r.Method {
	case http.MethodPut:
		if err := c.cache.Save(ctx, path, name, info, reqBody); err != nil {
			c.logger.Warn("cacheproxy: failed to record PUT outcome", slog.String("error", err.Error()))
		}
	case http.MethodDelete:
		if err := c.deleteOrCreateTombstone(ctx, path, name, info); err != nil {
			c.logger.Warn("cacheproxy: failed to record DELETE outcome", slog.String("error", err.Error()))
		}
	case "MOVE":
		destPath, destName, ok := parseDestination(r.Header.Get("Destination"))
		if !ok {
			return
		}

		// MOVE carries no body: the destination's content is the source's
		// cached copy, when the cache holds it synced at the moved version.
		expected, etagErr := parseETagValue(r.Header.Get("ETag"))
		src, srcErr := c.cache.Get(ctx, path, name)

		srcInfo := info
		if etagErr == nil {
			srcInfo = &cachestore.SyncInfo{Version: expected + 1, Timestamp: info.Timestamp}
		}

		if err := c.deleteOrCreateTombstone(ctx, path, name, srcInfo); err != nil {
			c.logger.Warn("cacheproxy: failed to record MOVE source outcome", slog.String("error", err.Error()))
		}

		if etagErr != nil || srcErr != nil || !src.IsSynced || src.Content == nil || *src.LastSyncedVersion != expected {
			return
		}

		if err := c.cache.Save(ctx, destPath, destName, info, src.Content); err != nil {
			c.logger.Warn("cacheproxy: failed to record MOVE destination outcome", slog.String("error", err.Error()))
		}
	}
}

// deleteOrCreateTombstone records a tombstone for (path, name), tolerating
// the case where the cache never held this identity.
func (c *CacheProxy) deleteOrCreateTombstone(ctx context.Context, path, name string, info *cachestore.SyncInfo) error {
	err := c.cache.Delete(ctx, path, name, info)
	if err == nil {
		return nil
	}

	if e, ok := apperror.As(err); ok && e.Kind == apperror.KindNotFound {
		return c.cache.Save(ctx, path, name, info, nil)
	}

	return err
}

func (c *CacheProxy) handleFileVersions(w http.ResponseWriter, r *http.Request) {
	path, name := splitIdentity(chi.URLParam(r, "*"))

	resp, err := c.doUpstream(r.Context(), http.MethodGet, "/file-versions/", path, name, r.Header, nil)
	if err != nil {
		writeError(w, c.logger, err)
		return
	}
	defer resp.Body.Close()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

// doUpstream issues the forwarded request against the authoritative node
// under endpointPrefix ("/files/" or "/file-versions/"), mapping transport
// failures to ForwardingError per spec §7.
func (c *CacheProxy) doUpstream(ctx context.Context, method, endpointPrefix, path, name string, hdr http.Header, body []byte) (*http.Response, error) {
	urlPath := c.upstream + endpointPrefix + joinIdentity(path, name)

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, urlPath, bodyReader)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindForwardingError, err, "building upstream request")
	}

	if etag := hdr.Get("ETag"); etag != "" {
		req.Header.Set("ETag", etag)
	}

	if dest := hdr.Get("Destination"); dest != "" {
		req.Header.Set("Destination", dest)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindForwardingError, err, "forwarding to upstream")
	}

	return resp, nil
}

func parseETagValue(raw string) (uint32, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, `"`)
	raw = strings.TrimSpace(raw)

	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, err
	}

	return uint32(v), nil
}

func syncInfoFromResponse(resp *http.Response) *cachestore.SyncInfo {
	v, err := parseETagValue(resp.Header.Get("ETag"))
	if err != nil {
		return nil
	}

	ts, err := time.Parse(http.TimeFormat, resp.Header.Get("Last-Modified"))
	if err != nil {
		ts = time.Now().UTC()
	}

	return &cachestore.SyncInfo{Version: v, Timestamp: ts}
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
