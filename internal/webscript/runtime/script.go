package runtime

import (
	"context"
	"io"
	"net/http"

	"github.com/conduit-lang/webscript/internal/model"
	"github.com/conduit-lang/webscript/internal/repo"
	"github.com/conduit-lang/webscript/internal/webscript/description"
	"github.com/conduit-lang/webscript/internal/webscript/registry"
	"go.uber.org/zap"
)

// ScriptFunc is the logic behind a description. It fills s.Model for the
// response template or sets s.Stream to write the body itself.
type ScriptFunc func(ctx context.Context, s *Script) error

// Script is the per-request state handed to a ScriptFunc
type Script struct {
	Request     *http.Request
	Match       *registry.Match
	Description *description.Description
	Format      string
	// Args holds URL template and query template arguments
	Args map[string]string
	// Model is merged over the default template model
	Model map[string]any
	// Status is the response code, 200 unless set
	Status int
	// Headers are copied to the response
	Headers http.Header
	// Template replaces the description's template for the format
	Template string
	// Stream writes the response body instead of a template
	Stream func(w io.Writer) error
	// ContentType overrides the format's content type
	ContentType string

	rt *Runtime
}

// Arg returns a template argument, falling back to the query parameter
func (s *Script) Arg(name string) string {
	if v, ok := s.Args[name]; ok {
		return v
	}
	return s.Request.URL.Query().Get(name)
}

// Services returns the repository facade
func (s *Script) Services() repo.ServiceRegistry {
	return s.rt.services
}

// Registry returns the script registry
func (s *Script) Registry() *registry.Registry {
	return s.rt.registry
}

// Runtime returns the runtime executing the script
func (s *Script) Runtime() *Runtime {
	return s.rt
}

// Env returns a model environment bound to ctx
func (s *Script) Env(ctx context.Context) *model.Env {
	return model.NewEnv(ctx, s.rt.services, s.rt.images, s.rt.logger).WithServiceContext(s.rt.serviceContext())
}

// CompanyHome resolves the company home folder
func (s *Script) CompanyHome(ctx context.Context) (repo.NodeRef, error) {
	_, company := s.rt.homes(ctx)
	if company == nil {
		return repo.NodeRef{}, Status(http.StatusNotFound, "repository has no %s folder", CompanyHomeName)
	}
	return *company, nil
}

// Logger returns a logger scoped to the script
func (s *Script) Logger() *zap.Logger {
	return s.rt.logger.With(zap.String("script", s.Description.ID))
}
