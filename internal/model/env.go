// Package model adapts repository entities into values a template can walk:
// nodes, content, associations, versions and lazily executed searches.
//
// Every wrapper is bound to a request-scoped Env and fetches from the
// service facade at most once per instance.
package model

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/conduit-lang/webscript/internal/repo"
	"go.uber.org/zap"
)

// ImageResolverKey is the model key under which an ImageResolver is passed to
// the template processor. The entry is removed from the model before conversion.
const ImageResolverKey = "imageresolver"

// IconSize is the pixel size of a node icon
type IconSize int

const (
	Icon16 IconSize = 16
	Icon32 IconSize = 32
	Icon64 IconSize = 64
)

// ImageResolver maps a file name to the icon path for the given size
type ImageResolver func(filename string, size IconSize) string

// Env is the request-scoped environment shared by all wrappers of one render
type Env struct {
	ctx      context.Context
	services repo.ServiceRegistry
	images   ImageResolver
	logger   *zap.Logger

	serviceContext string
}

// NewEnv binds wrappers to a request context and service facade
func NewEnv(ctx context.Context, services repo.ServiceRegistry, images ImageResolver, logger *zap.Logger) *Env {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Env{ctx: ctx, services: services, images: images, logger: logger}
}

// Context returns the request context
func (e *Env) Context() context.Context {
	return e.ctx
}

// Services returns the service facade
func (e *Env) Services() repo.ServiceRegistry {
	return e.services
}

// WithImageResolver returns a copy of the environment using the given resolver
func (e *Env) WithImageResolver(images ImageResolver) *Env {
	cp := *e
	cp.images = images
	return &cp
}

// WithServiceContext returns a copy of the environment whose service URLs
// are rooted at prefix
func (e *Env) WithServiceContext(prefix string) *Env {
	cp := *e
	cp.serviceContext = prefix
	return &cp
}

// ServiceContext returns the path service URLs are rooted at
func (e *Env) ServiceContext() string {
	return e.serviceContext
}

// Node wraps a node reference
func (e *Env) Node(ref repo.NodeRef) *Node {
	return newNode(e, ref)
}

// Nodes wraps a slice of node references, preserving order
func (e *Env) Nodes(refs []repo.NodeRef) []*Node {
	out := make([]*Node, len(refs))
	for i, ref := range refs {
		out[i] = newNode(e, ref)
	}
	return out
}

func (e *Env) icon(filename string, size IconSize) string {
	if e.images == nil {
		return ""
	}
	return e.images(filename, size)
}

// FileTypeIcons returns a resolver mapping a file name to
// {base}/{size}/{extension}.png; folders resolve to space.png and names
// without an extension to _default.png.
func FileTypeIcons(base string) ImageResolver {
	base = strings.TrimSuffix(base, "/")
	return func(filename string, size IconSize) string {
		name := "_default"
		if filename == "space" {
			name = "space"
		} else if ext := strings.ToLower(path.Ext(filename)); len(ext) > 1 {
			name = ext[1:]
		}
		return fmt.Sprintf("%s/%d/%s.png", base, size, name)
	}
}
