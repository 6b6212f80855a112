package router

import (
	"errors"
	"net/http"
	"net/http/pprof"

	"github.com/conduit-lang/webscript/internal/web/auth"
	"github.com/go-chi/chi/v5"
)

// ProfilingPath is where the pprof endpoints are mounted when enabled
const ProfilingPath = "/debug/pprof"

// AdminOnly lets through requests whose credentials resolve to an admin
func AdminOnly(authn *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if authn == nil {
				Forbidden(w, r, "administrator access required")
				return
			}
			p, presented, err := authn.Authenticate(r.Context(), r)
			switch {
			case errors.Is(err, auth.ErrUnauthorized) || (err == nil && !presented):
				Unauthorized(w, r, "administrator credentials required")
			case err != nil:
				InternalServerError(w, r, err, false)
			case !p.Admin:
				Forbidden(w, r, "administrator access required")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func profilingRoutes(r chi.Router) {
	r.HandleFunc("/", pprof.Index)
	r.HandleFunc("/cmdline", pprof.Cmdline)
	r.HandleFunc("/profile", pprof.Profile)
	r.HandleFunc("/symbol", pprof.Symbol)
	r.HandleFunc("/trace", pprof.Trace)
	for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
		r.Handle("/"+name, pprof.Handler(name))
	}
}
