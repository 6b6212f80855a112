package templating

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/conduit-lang/webscript/internal/cache"
	"github.com/conduit-lang/webscript/internal/repo"
	"go.uber.org/zap"
)

// Overlay layers file systems; the first one holding a name wins
type Overlay []fs.FS

// Open implements fs.FS
func (o Overlay) Open(name string) (fs.File, error) {
	for _, fsys := range o {
		f, err := fsys.Open(name)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}

// Loader finds template sources either on the classpath file system or, for
// locations that are node references, in the repository
type Loader struct {
	classpath fs.FS
	services  repo.ServiceRegistry
	cache     cache.Cache
	logger    *zap.Logger
}

// NewLoader creates a loader. services and sources may be nil when only
// classpath templates are used.
func NewLoader(classpath fs.FS, services repo.ServiceRegistry, sources cache.Cache, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{classpath: classpath, services: services, cache: sources, logger: logger}
}

// Source is one located template
type Source struct {
	// Name is the location the source was found under
	Name     string
	Modified time.Time

	loader *Loader
	ref    repo.NodeRef
	file   string
}

// IsRepository reports whether the source lives in the repository
func (s *Source) IsRepository() bool {
	return !s.ref.IsZero()
}

// Find resolves a location. Node references are looked up in the repository,
// everything else relative to the classpath root.
func (l *Loader) Find(ctx context.Context, location string) (*Source, error) {
	if repo.IsNodeRef(location) {
		ref, err := repo.ParseNodeRef(location)
		if err != nil {
			return nil, notFound(location)
		}
		return l.findNode(ctx, ref)
	}
	return l.findFile(strings.TrimPrefix(location, "/"))
}

func (l *Loader) findFile(name string) (*Source, error) {
	if l.classpath == nil || name == "" || !fs.ValidPath(name) {
		return nil, notFound(name)
	}
	info, err := fs.Stat(l.classpath, name)
	if err != nil || info.IsDir() {
		return nil, notFound(name)
	}
	return &Source{Name: name, Modified: info.ModTime(), loader: l, file: name}, nil
}

func (l *Loader) findNode(ctx context.Context, ref repo.NodeRef) (*Source, error) {
	if l.services == nil {
		return nil, notFound(ref.String())
	}
	exists, err := l.services.Nodes().Exists(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, notFound(ref.String())
	}
	reader, err := l.services.Content().GetReader(ctx, ref, repo.PropContent)
	if errors.Is(err, repo.ErrContentNotFound) || errors.Is(err, repo.ErrNodeNotFound) {
		return nil, notFound(ref.String())
	}
	if err != nil {
		return nil, err
	}
	return &Source{Name: ref.String(), Modified: reader.LastModified(), loader: l, ref: ref}, nil
}

// Read returns the template text
func (s *Source) Read(ctx context.Context) (string, error) {
	if !s.IsRepository() {
		data, err := fs.ReadFile(s.loader.classpath, s.file)
		if err != nil {
			return "", notFound(s.Name)
		}
		return string(data), nil
	}

	l := s.loader
	key := cache.Key("template", s.ref.String(), strconv.FormatInt(s.Modified.UnixMilli(), 10))
	if l.cache != nil {
		if data, err := l.cache.Get(ctx, key); err == nil {
			return string(data), nil
		} else if !errors.Is(err, cache.ErrMiss) {
			l.logger.Warn("template cache read failed", zap.String("key", key), zap.Error(err))
		}
	}

	reader, err := l.services.Content().GetReader(ctx, s.ref, repo.PropContent)
	if err != nil {
		return "", notFound(s.Name)
	}
	rc, err := reader.Open(ctx)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return "", err
	}

	if l.cache != nil {
		if err := l.cache.Set(ctx, key, data, 0); err != nil {
			l.logger.Warn("template cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return string(data), nil
}

// Relative resolves name against the source: a sibling file on the classpath,
// or a child of the same parent folder in the repository. A leading slash
// makes a classpath name absolute.
func (s *Source) Relative(ctx context.Context, name string) (*Source, error) {
	if !s.IsRepository() {
		if strings.HasPrefix(name, "/") {
			return s.loader.findFile(strings.TrimPrefix(name, "/"))
		}
		return s.loader.findFile(path.Join(path.Dir(s.file), name))
	}
	if repo.IsNodeRef(name) {
		return s.loader.Find(ctx, name)
	}

	nodes := s.loader.services.Nodes()
	parent, err := nodes.GetPrimaryParent(ctx, s.ref)
	if err != nil {
		return nil, notFound(name)
	}
	current := parent.Parent
	for _, step := range strings.Split(name, "/") {
		switch step {
		case "", ".":
			continue
		case "..":
			up, err := nodes.GetPrimaryParent(ctx, current)
			if err != nil || up.Parent.IsZero() {
				return nil, notFound(name)
			}
			current = up.Parent
		default:
			child, err := nodes.GetChildByName(ctx, current, step)
			if err != nil {
				return nil, notFound(name)
			}
			current = child
		}
	}
	return s.loader.findNode(ctx, current)
}
