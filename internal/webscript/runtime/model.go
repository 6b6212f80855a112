package runtime

import (
	"context"
	"errors"
	"net/http"
	"path"
	"strings"

	"github.com/conduit-lang/webscript/internal/repo"
	"github.com/conduit-lang/webscript/internal/security"
	"go.uber.org/zap"
)

// Names of the folders resolved for the default model
const (
	CompanyHomeName = "Company Home"
	UserHomesName   = "User Homes"
)

// URLModel describes the request URL to templates
type URLModel struct {
	// Context is the path the runtime is mounted under
	Context string
	// ServiceContext equals Context; kept for templates linking to other scripts
	ServiceContext string
	// Service is the script path without the mount prefix
	Service string
	// Full is the mount prefix, script path and query
	Full string
	// Match is the static part of the URL template that matched
	Match string
	// Extension is the path remaining after Match
	Extension string
	// Args is the raw query string
	Args string
}

func (rt *Runtime) urlModel(s *Script) URLModel {
	prefix := strings.TrimSuffix(rt.cfg.ServicePrefix, "/")
	u := URLModel{
		Context:        prefix,
		ServiceContext: prefix,
		Full:           prefix + s.Request.URL.RequestURI(),
		Args:           s.Request.URL.RawQuery,
	}
	u.Service = s.Request.URL.Path
	if s.Match != nil {
		u.Match = s.Match.Prefix
		u.Extension = s.Match.Extension
	}
	return u
}

// ServerModel describes the server to templates
type ServerModel struct {
	Version string
}

// templateModel builds the default model and overlays the script's model
func (rt *Runtime) templateModel(ctx context.Context, s *Script) map[string]any {
	m := map[string]any{
		"url":       rt.urlModel(s),
		"args":      s.Args,
		"server":    ServerModel{Version: rt.cfg.ServerVersion},
		"webscript": s.Description,
		"format":    s.Format,
	}
	root, company := rt.homes(ctx)
	if root != nil {
		m["roothome"] = *root
	}
	if company != nil {
		m["companyhome"] = *company
	}
	if p, ok := security.PrincipalFrom(ctx); ok {
		m["person"] = rt.person(ctx, p, company)
	}
	for k, v := range s.Model {
		m[k] = v
	}
	return m
}

// homes resolves the store root and company home. Either may be nil when
// the repository is not bootstrapped.
func (rt *Runtime) homes(ctx context.Context) (*repo.NodeRef, *repo.NodeRef) {
	if rt.services == nil {
		return nil, nil
	}
	nodes := rt.services.Nodes()
	root, err := nodes.GetRootNode(ctx, repo.SpacesStore)
	if err != nil {
		rt.logger.Debug("no root node", zap.Error(err))
		return nil, nil
	}
	company, err := nodes.GetChildByName(ctx, root, CompanyHomeName)
	if err != nil {
		if !errors.Is(err, repo.ErrNodeNotFound) {
			rt.logger.Warn("failed to resolve company home", zap.Error(err))
		}
		return &root, nil
	}
	return &root, &company
}

func (rt *Runtime) person(ctx context.Context, p security.Principal, company *repo.NodeRef) map[string]any {
	person := map[string]any{
		"userName": p.Username,
		"admin":    p.Admin,
		"guest":    p.Guest,
	}
	if company == nil || p.Guest {
		return person
	}
	nodes := rt.services.Nodes()
	homes, err := nodes.GetChildByName(ctx, *company, UserHomesName)
	if err != nil {
		return person
	}
	if home, err := nodes.GetChildByName(ctx, homes, p.Username); err == nil {
		person["home"] = home
	}
	return person
}

// statusModel is the model handed to status templates
func (rt *Runtime) statusModel(r *http.Request, s *Script, se *StatusError) map[string]any {
	status := map[string]any{
		"code":    se.Code,
		"name":    http.StatusText(se.Code),
		"message": se.Message,
	}
	if se.Err != nil {
		status["exception"] = se.Err.Error()
	}
	m := map[string]any{
		"status": status,
		"server": ServerModel{Version: rt.cfg.ServerVersion},
		"url": URLModel{
			Context:        strings.TrimSuffix(rt.cfg.ServicePrefix, "/"),
			ServiceContext: strings.TrimSuffix(rt.cfg.ServicePrefix, "/"),
			Service:        r.URL.Path,
			Full:           path.Join(rt.cfg.ServicePrefix, r.URL.Path),
			Args:           r.URL.RawQuery,
		},
	}
	if s != nil {
		m["url"] = rt.urlModel(s)
		m["webscript"] = s.Description
		m["format"] = s.Format
	}
	return m
}
