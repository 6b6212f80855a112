package router

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// StaticHandler serves files below Root, e.g. the file type icons referenced by
// node models. Only GET and HEAD are allowed and directories are never listed.
type StaticHandler struct {
	Root   string
	Prefix string
	// MaxAge is the Cache-Control max-age
	MaxAge time.Duration
}

// NewStaticHandler serves root under prefix with a one day max-age
func NewStaticHandler(root, prefix string) *StaticHandler {
	return &StaticHandler{Root: root, Prefix: prefix, MaxAge: 24 * time.Hour}
}

func (h *StaticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		MethodNotAllowed(w, r)
		return
	}

	rel := path.Clean("/" + strings.TrimPrefix(r.URL.Path, h.Prefix))
	absRoot, err := filepath.Abs(h.Root)
	if err != nil {
		InternalServerError(w, r, err, false)
		return
	}
	file := filepath.Join(absRoot, filepath.FromSlash(rel))
	if file != absRoot && !strings.HasPrefix(file, absRoot+string(filepath.Separator)) {
		Forbidden(w, r, "invalid path")
		return
	}

	info, err := os.Stat(file)
	if err != nil || info.IsDir() {
		NotFound(w, r)
		return
	}

	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(h.MaxAge.Seconds())))
	if ct := mime.TypeByExtension(filepath.Ext(file)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	etag := fmt.Sprintf(`W/"%x-%x"`, info.Size(), info.ModTime().Unix())
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	http.ServeFile(w, r, file)
}
