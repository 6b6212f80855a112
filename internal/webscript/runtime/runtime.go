// Package runtime executes web scripts: it resolves a request to a
// description, authenticates the caller, wraps the script in a transaction,
// renders the response template and falls back to status templates on failure.
package runtime

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"regexp"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/conduit-lang/webscript/internal/model"
	"github.com/conduit-lang/webscript/internal/repo"
	"github.com/conduit-lang/webscript/internal/security"
	"github.com/conduit-lang/webscript/internal/templating"
	"github.com/conduit-lang/webscript/internal/transaction"
	"github.com/conduit-lang/webscript/internal/web/auth"
	"github.com/conduit-lang/webscript/internal/webscript/description"
	"github.com/conduit-lang/webscript/internal/webscript/format"
	"github.com/conduit-lang/webscript/internal/webscript/registry"
	"go.uber.org/zap"
)

// Query parameters understood by the runtime
const (
	FormatParam   = "format"
	CallbackParam = "callback"
	GuestParam    = "guest"
)

var callbackPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$.]*$`)

// Transactor runs work at a propagation level
type Transactor interface {
	Do(ctx context.Context, p transaction.Propagation, fn func(ctx context.Context) error) error
}

// Config holds runtime settings
type Config struct {
	// ServicePrefix is the path the runtime is mounted under, e.g. /service
	ServicePrefix string
	// Engines maps a response format to a template engine; formats not listed
	// use the default engine
	Engines map[string]string
	// ServerVersion is exposed to templates as server.version
	ServerVersion string
	// IconBase is the base path of file type icons; empty disables icons
	IconBase string
}

// DefaultConfig mounts the runtime under /service and renders html with the html engine
func DefaultConfig() Config {
	return Config{
		ServicePrefix: "/service",
		Engines:       map[string]string{format.HTML: "html"},
		ServerVersion: "dev",
		IconBase:      "/images/filetypes",
	}
}

// Runtime is the http.Handler serving web scripts
type Runtime struct {
	cfg       Config
	registry  *registry.Registry
	templates *templating.Service
	services  repo.ServiceRegistry
	authn     *auth.Authenticator
	tx        Transactor
	formats   *format.Registry
	images    model.ImageResolver
	logger    *zap.Logger

	mu      sync.RWMutex
	scripts map[string]ScriptFunc
}

// Option configures a Runtime
type Option func(*Runtime)

// WithTransactor sets the transaction runner; without one every script runs inline
func WithTransactor(tx Transactor) Option {
	return func(rt *Runtime) { rt.tx = tx }
}

// WithFormats replaces the format registry
func WithFormats(formats *format.Registry) Option {
	return func(rt *Runtime) { rt.formats = formats }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(rt *Runtime) { rt.logger = logger }
}

// New creates a runtime
func New(cfg Config, reg *registry.Registry, templates *templating.Service, services repo.ServiceRegistry, authn *auth.Authenticator, opts ...Option) *Runtime {
	rt := &Runtime{
		cfg:       cfg,
		registry:  reg,
		templates: templates,
		services:  services,
		authn:     authn,
		formats:   format.NewRegistry(),
		logger:    zap.NewNop(),
		scripts:   make(map[string]ScriptFunc),
	}
	if cfg.IconBase != "" {
		rt.images = model.FileTypeIcons(cfg.IconBase)
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Register binds script logic to a description id
func (rt *Runtime) Register(id string, fn ScriptFunc) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.scripts[id] = fn
}

func (rt *Runtime) script(id string) (ScriptFunc, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	fn, ok := rt.scripts[id]
	return fn, ok
}

// Registry returns the description registry
func (rt *Runtime) Registry() *registry.Registry {
	return rt.registry
}

// Authenticator returns the credential resolver
func (rt *Runtime) Authenticator() *auth.Authenticator {
	return rt.authn
}

// Formats returns the format registry
func (rt *Runtime) Formats() *format.Registry {
	return rt.formats
}

// response is a fully rendered reply
type response struct {
	status      int
	contentType string
	headers     http.Header
	body        []byte
}

// ServeHTTP runs the request through resolve, authenticate, transaction,
// script and render. Any failure, including a panic, is answered with a
// status template; nothing propagates to the transport.
func (rt *Runtime) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var s *Script
	defer func() {
		if v := recover(); v != nil {
			rt.logger.Error("web script panicked",
				zap.Any("panic", v),
				zap.String("path", r.URL.Path),
				zap.ByteString("stack", debug.Stack()))
			rt.writeStatus(w, r, s, &StatusError{
				Code:    http.StatusInternalServerError,
				Message: "web script failed",
				Err:     fmt.Errorf("panic: %v", v),
			})
		}
	}()

	s, err := rt.resolve(r)
	if err != nil {
		rt.writeStatus(w, r, s, asStatus(err))
		return
	}

	resp, err := rt.execute(r.Context(), s)
	if err != nil {
		rt.writeStatus(w, r, s, asStatus(err))
		return
	}
	rt.write(w, resp)
}

// resolve matches the request and settles its format
func (rt *Runtime) resolve(r *http.Request) (*Script, error) {
	path := r.URL.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	query := r.URL.Query()
	formatArg := query.Get(FormatParam)

	var (
		match  *registry.Match
		format string
	)
	if base, ext, ok := rt.formats.SplitExtension(path); ok {
		if m, found := rt.registry.Lookup(r.Method, base); found && m.Description.SupportsFormat(ext) {
			if formatArg != "" {
				return nil, Status(http.StatusBadRequest, "format given both as extension %q and argument %q", ext, formatArg)
			}
			match, format = m, ext
		}
	}
	if match == nil {
		m, found := rt.registry.Lookup(r.Method, path)
		if !found {
			if allowed := rt.registry.AllowedMethods(path); len(allowed) > 0 {
				return nil, &StatusError{
					Code:    http.StatusMethodNotAllowed,
					Message: fmt.Sprintf("method %s is not supported by %s; allowed: %s", r.Method, path, strings.Join(allowed, ", ")),
				}
			}
			return nil, Status(http.StatusNotFound, "no web script matches %s %s", r.Method, path)
		}
		match, format = m, formatArg
		if format == "" {
			format = m.Description.DefaultFormat
		}
	}

	desc := match.Description
	s := &Script{
		Request:     r,
		Match:       match,
		Description: desc,
		Format:      format,
		Args:        map[string]string{},
		Model:       map[string]any{},
		Status:      http.StatusOK,
		Headers:     http.Header{},
		rt:          rt,
	}
	if !desc.SupportsFormat(format) {
		return s, Status(http.StatusBadRequest, "format %q is not supported by web script %s", format, desc.ID)
	}
	for k, v := range match.QueryArgs(query) {
		s.Args[k] = v
	}
	for k, v := range match.Args {
		s.Args[k] = v
	}
	return s, nil
}

// authenticate returns a context carrying the principal required by level.
// The incoming context is never modified.
func (rt *Runtime) authenticate(ctx context.Context, r *http.Request, level description.Authentication) (context.Context, error) {
	if level == description.AuthNone {
		return ctx, nil
	}
	if rt.authn == nil {
		return nil, fmt.Errorf("%w: authentication is not configured", auth.ErrUnauthorized)
	}

	p, presented, err := rt.authn.Authenticate(ctx, r)
	if err != nil {
		return nil, err
	}
	if !presented {
		if level == description.AuthGuest && r.URL.Query().Get(GuestParam) == "true" {
			return security.WithPrincipal(ctx, security.Guest), nil
		}
		return nil, fmt.Errorf("%w: credentials required", auth.ErrUnauthorized)
	}
	if level == description.AuthAdmin && !p.Admin {
		return nil, fmt.Errorf("%w: %s is not an administrator", auth.ErrUnauthorized, p.Username)
	}
	return security.WithPrincipal(ctx, p), nil
}

func propagation(tx description.Transaction) transaction.Propagation {
	switch tx {
	case description.TxRequired:
		return transaction.Required
	case description.TxRequiresNew:
		return transaction.RequiresNew
	default:
		return transaction.None
	}
}

// execute authenticates, then runs the script and renders inside the
// transaction so lazily loaded model values are read with it
func (rt *Runtime) execute(ctx context.Context, s *Script) (*response, error) {
	ctx, err := rt.authenticate(ctx, s.Request, s.Description.Authentication)
	if err != nil {
		return nil, err
	}

	var resp *response
	work := func(ctx context.Context) error {
		s.Model = map[string]any{}
		s.Status = http.StatusOK
		s.Headers = http.Header{}
		s.Template, s.Stream, s.ContentType = "", nil, ""

		if fn, ok := rt.script(s.Description.ID); ok {
			if err := fn(ctx, s); err != nil {
				return err
			}
		}
		var err error
		resp, err = rt.render(ctx, s)
		return err
	}

	p := propagation(s.Description.Transaction)
	if rt.tx == nil || p == transaction.None {
		err = work(ctx)
	} else {
		err = rt.tx.Do(ctx, p, work)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// engine selects the template engine for a format
func (rt *Runtime) serviceContext() string {
	return strings.TrimSuffix(rt.cfg.ServicePrefix, "/")
}

func (rt *Runtime) engine(f string) string {
	return rt.cfg.Engines[f]
}

func (rt *Runtime) render(ctx context.Context, s *Script) (*response, error) {
	var body bytes.Buffer
	contentType := s.ContentType
	if contentType == "" {
		contentType = rt.formats.ContentType(s.Format)
	}

	switch {
	case s.Stream != nil:
		if err := s.Stream(&body); err != nil {
			return nil, err
		}
	default:
		location := s.Template
		if location == "" {
			loc, ok := s.Description.Template(s.Format)
			if !ok {
				return nil, Status(http.StatusInternalServerError, "web script %s has no %s template", s.Description.ID, s.Format)
			}
			location = loc
		}
		session := rt.templates.NewSession(rt.images).WithServiceContext(rt.serviceContext())
		if err := session.Process(ctx, rt.engine(s.Format), location, rt.templateModel(ctx, s), &body); err != nil {
			return nil, err
		}
	}

	out := body.Bytes()
	if callback := s.Request.URL.Query().Get(CallbackParam); callback != "" && s.Format == format.JSON {
		if !callbackPattern.MatchString(callback) {
			return nil, Status(http.StatusBadRequest, "invalid callback %q", callback)
		}
		wrapped := make([]byte, 0, len(out)+len(callback)+2)
		wrapped = append(wrapped, callback...)
		wrapped = append(wrapped, '(')
		wrapped = append(wrapped, out...)
		wrapped = append(wrapped, ')')
		out = wrapped
		contentType = rt.formats.ContentType(format.JS)
	}

	return &response{status: s.Status, contentType: contentType, headers: s.Headers, body: out}, nil
}

func (rt *Runtime) write(w http.ResponseWriter, resp *response) {
	for k, values := range resp.headers {
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("Content-Type", resp.contentType)
	w.WriteHeader(resp.status)
	if _, err := w.Write(resp.body); err != nil {
		rt.logger.Debug("failed to write response", zap.Error(err))
	}
}
