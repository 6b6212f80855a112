// Package router assembles the HTTP surface: the web script runtime mounted
// under the service prefix and the content download handler.
package router

import (
	"net/http"
	"strings"
	"time"

	"github.com/conduit-lang/webscript/internal/web/auth"
	"github.com/conduit-lang/webscript/internal/web/middleware"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Config holds router settings
type Config struct {
	ServicePrefix    string
	RequestTimeout   time.Duration
	ShowErrorDetails bool
	// StaticDir is served under StaticPrefix when set
	StaticDir    string
	StaticPrefix string
	// Profiling mounts pprof under /debug/pprof for administrators
	Profiling bool
}

// Handlers are the endpoints the router dispatches to
type Handlers struct {
	Scripts       http.Handler
	Content       *ContentHandler
	Authenticator *auth.Authenticator
}

// DefaultConfig mounts web scripts under /service
func DefaultConfig() Config {
	return Config{ServicePrefix: "/service", RequestTimeout: 60 * time.Second, StaticPrefix: "/images"}
}

// New builds the root handler
func New(cfg Config, h Handlers, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := "/" + strings.Trim(cfg.ServicePrefix, "/")

	r := chi.NewRouter()
	chain := middleware.NewChain(
		middleware.RequestID(),
		middleware.Logging(logger.Named("http"), "/healthz"),
		middleware.Recovery(logger),
		middleware.Timeout(cfg.RequestTimeout),
	)
	r.Use(chain.Then)

	r.NotFound(NotFound)
	r.MethodNotAllowed(MethodNotAllowed)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok"))
	})

	if h.Content != nil {
		h.Content.showDetails = cfg.ShowErrorDetails
		r.Method(http.MethodGet, "/d/{attach}/{protocol}/{store}/{id}/{name}", h.Content)
		r.Method(http.MethodHead, "/d/{attach}/{protocol}/{store}/{id}/{name}", h.Content)
	}

	if cfg.StaticDir != "" {
		static := "/" + strings.Trim(cfg.StaticPrefix, "/")
		r.Handle(static+"/*", NewStaticHandler(cfg.StaticDir, static))
	}

	if cfg.Profiling {
		r.Route(ProfilingPath, func(r chi.Router) {
			r.Use(AdminOnly(h.Authenticator))
			profilingRoutes(r)
		})
	}

	r.Mount(prefix, http.StripPrefix(prefix, h.Scripts))
	return r
}
