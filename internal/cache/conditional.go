package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"
)

// ETag returns a strong entity tag for the given parts
func ETag(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return `"` + hex.EncodeToString(h.Sum(nil)[:16]) + `"`
}

func matchesETag(etag, header string) bool {
	if strings.TrimSpace(header) == "*" {
		return true
	}
	bare := strings.TrimPrefix(etag, "W/")
	for _, candidate := range strings.Split(header, ",") {
		if strings.TrimPrefix(strings.TrimSpace(candidate), "W/") == bare {
			return true
		}
	}
	return false
}

// NotModified sets validators on w and reports whether the request can be
// answered with 304. If-None-Match takes precedence over If-Modified-Since.
func NotModified(w http.ResponseWriter, r *http.Request, etag string, modified time.Time) bool {
	if etag != "" {
		w.Header().Set("ETag", etag)
	}
	if !modified.IsZero() {
		w.Header().Set("Last-Modified", modified.UTC().Format(http.TimeFormat))
	}

	if inm := r.Header.Get("If-None-Match"); inm != "" {
		return etag != "" && matchesETag(etag, inm)
	}
	if ims := r.Header.Get("If-Modified-Since"); ims != "" && !modified.IsZero() {
		since, err := http.ParseTime(ims)
		return err == nil && !modified.Truncate(time.Second).After(since)
	}
	return false
}
