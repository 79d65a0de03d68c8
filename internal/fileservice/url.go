package fileservice

import "strings"

// splitIdentity implements the URL-parsing rule from spec §4.5: for
// "/files/{rest}" and "/file-versions/{rest}", the remainder is split into
// path (all but the last segment, joined with "/") and name (the last
// segment). path may be empty.
func splitIdentity(rest string) (path, name string) {
	rest = strings.TrimPrefix(rest, "/")

	idx := strings.LastIndex(rest, "/")
	if idx < 0 {
		return "", rest
	}

	return rest[:idx], rest[idx+1:]
}

// joinIdentity is the inverse of splitIdentity; CacheProxy uses it to build
// the upstream request path.
func joinIdentity(path, name string) string {
	if path == "" {
		return name
	}

	return path + "/" + name
}

// parseDestination extracts (path, name) from a "destination: /files/{to}"
// header value.
func parseDestination(value string) (path, name string, ok bool) {
	const prefix = "/files/"

	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, prefix) {
		return "", "", false
	}

	rest := strings.TrimPrefix(value, prefix)
	if rest == "" {
		return "", "", false
	}

	p, n := splitIdentity(rest)

	return p, n, true
}
