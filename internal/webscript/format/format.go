// Package format maps web script response formats to mimetypes.
package format

import (
	"mime"
	"sort"
	"strings"
	"sync"
)

// Well-known formats
const (
	HTML = "html"
	Text = "text"
	XML  = "xml"
	JSON = "json"
	JS   = "js"
	Atom = "atom"
	RSS  = "rss"
	CSV  = "csv"
)

var defaults = map[string]string{
	HTML: "text/html",
	Text: "text/plain",
	XML:  "text/xml",
	JSON: "application/json",
	JS:   "text/javascript",
	Atom: "application/atom+xml",
	RSS:  "application/rss+xml",
	CSV:  "text/csv",
}

// Registry is a concurrency safe format to mimetype table
type Registry struct {
	mu    sync.RWMutex
	types map[string]string
}

// NewRegistry returns a registry holding the well-known formats
func NewRegistry() *Registry {
	r := &Registry{types: make(map[string]string, len(defaults))}
	for f, m := range defaults {
		r.types[f] = m
	}
	return r
}

// Register adds or replaces a format
func (r *Registry) Register(format, mimetype string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[strings.ToLower(format)] = mimetype
}

// Mimetype returns the mimetype of a format
func (r *Registry) Mimetype(format string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.types[strings.ToLower(format)]
	return m, ok
}

// ContentType returns a Content-Type header value for a format. Textual
// types carry a UTF-8 charset; unknown formats fall back to octet-stream.
func (r *Registry) ContentType(format string) string {
	m, ok := r.Mimetype(format)
	if !ok {
		return "application/octet-stream"
	}
	if strings.HasPrefix(m, "text/") || m == "application/json" || strings.HasSuffix(m, "+xml") {
		return mime.FormatMediaType(m, map[string]string{"charset": "utf-8"})
	}
	return m
}

// Formats returns the registered format names, sorted
func (r *Registry) Formats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.types))
	for f := range r.types {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// SplitExtension splits a registered format extension off the last segment of
// a path: /foo/bar.json gives /foo/bar and json.
func (r *Registry) SplitExtension(path string) (string, string, bool) {
	slash := strings.LastIndex(path, "/")
	dot := strings.LastIndex(path, ".")
	if dot <= slash+1 || dot == len(path)-1 {
		return path, "", false
	}
	ext := path[dot+1:]
	if _, ok := r.Mimetype(ext); !ok {
		return path, "", false
	}
	return path[:dot], strings.ToLower(ext), true
}
