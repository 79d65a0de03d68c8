package fileservice

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/schwartzmorn/kodiproxy-go/internal/apperror"
)

// writeRevisionHeaders applies the header contract from spec §4.5 to every
// successful file-operation response: etag as a quoted decimal version,
// last-modified as an RFC 2822-style timestamp (Go's http.TimeFormat, the
// wire format HTTP has used this field in since RFC 822/2822).
func writeRevisionHeaders(w http.ResponseWriter, version uint32, timestamp time.Time) {
	w.Header().Set("ETag", fmt.Sprintf("%q", strconv.FormatUint(uint64(version), 10)))
	w.Header().Set("Last-Modified", timestamp.UTC().Format(http.TimeFormat))
}

// parseETag reads the ETag request header and returns the decimal version
// it encodes, tolerating surrounding whitespace and the required quotes.
// Returns (nil, nil) when the header is absent.
func parseETag(r *http.Request) (*uint32, error) {
	raw := strings.TrimSpace(r.Header.Get("ETag"))
	if raw == "" {
		return nil, nil
	}

	v, err := parseETagValue(raw)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindInvalidRequest, err, "malformed ETag header")
	}

	u := v

	return &u, nil
}

// requireETag is parseETag but fails with InvalidRequest when the header is
// absent, for handlers (DELETE, MOVE) that require it.
func requireETag(r *http.Request) (uint32, error) {
	v, err := parseETag(r)
	if err != nil {
		return 0, err
	}

	if v == nil {
		return 0, apperror.New(apperror.KindInvalidRequest, "missing required ETag header")
	}

	return *v, nil
}

// parseLastModified reads an optional Last-Modified request header as RFC
// 3339, defaulting to now. It is informational only — versioning authority
// is the ETag — so a parse failure falls back to now rather than failing
// the request.
func parseLastModified(r *http.Request) time.Time {
	raw := strings.TrimSpace(r.Header.Get("Last-Modified"))
	if raw == "" {
		return time.Now().UTC()
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Now().UTC()
	}

	return t
}

// clientAddress extracts the origin address recorded on history entries.
// Prefers r.RemoteAddr's host portion; falls back to the raw value.
func clientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	if host == "" {
		return "0.0.0.0"
	}

	return host
}
