package description

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/conduit-lang/webscript/internal/repo"
	"github.com/conduit-lang/webscript/internal/security"
	"go.uber.org/zap"
)

// Store enumerates the description documents of one source
type Store interface {
	Name() string
	Load(ctx context.Context) ([]*Description, error)
}

// FSStore loads documents from a file system. Template locations are paths
// within that file system, so the template loader must see the same tree.
type FSStore struct {
	name string
	fsys fs.FS
	dir  string
}

// NewClasspathStore serves documents bundled with the binary
func NewClasspathStore(fsys fs.FS) *FSStore {
	return &FSStore{name: "classpath", fsys: fsys}
}

// NewFileStore serves documents from a directory on disk
func NewFileStore(dir string) *FSStore {
	return &FSStore{name: "file:" + dir, fsys: os.DirFS(dir), dir: dir}
}

// Name returns the store name
func (s *FSStore) Name() string { return s.name }

// FS returns the underlying file system
func (s *FSStore) FS() fs.FS { return s.fsys }

// Dir returns the directory of a file store, or "" for a classpath store
func (s *FSStore) Dir() string { return s.dir }

// Load parses every document in the tree
func (s *FSStore) Load(ctx context.Context) ([]*Description, error) {
	var out []*Description
	err := fs.WalkDir(s.fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !IsDocument(p) {
			return nil
		}
		data, err := fs.ReadFile(s.fsys, p)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", p, err)
		}
		desc, err := Parse(p, data)
		if err != nil {
			return err
		}
		desc.Store = s.name
		for _, format := range desc.Formats() {
			name := TemplateName(p, format)
			if info, err := fs.Stat(s.fsys, name); err == nil && !info.IsDir() {
				desc.templates[format] = name
			}
		}
		out = append(out, desc)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store %s: %w", s.name, err)
	}
	return out, nil
}

// RepositoryStore loads documents kept as content below a repository folder
type RepositoryStore struct {
	services repo.ServiceRegistry
	store    repo.StoreRef
	folder   string
	logger   *zap.Logger
}

// NewRepositoryStore serves documents below a folder given as a name path
// from the store root, e.g. "Company Home/Data Dictionary/Web Scripts"
func NewRepositoryStore(services repo.ServiceRegistry, store repo.StoreRef, folder string, logger *zap.Logger) *RepositoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RepositoryStore{services: services, store: store, folder: strings.Trim(folder, "/"), logger: logger}
}

// Name returns the store name
func (s *RepositoryStore) Name() string {
	return "repository:/" + s.folder
}

// Load enumerates the folder tree with system authority. A missing folder
// yields no documents.
func (s *RepositoryStore) Load(ctx context.Context) ([]*Description, error) {
	return security.RunAsSystem(ctx, func(ctx context.Context) ([]*Description, error) {
		nodes := s.services.Nodes()
		current, err := nodes.GetRootNode(ctx, s.store)
		if err != nil {
			return nil, fmt.Errorf("store %s: %w", s.Name(), err)
		}
		for _, step := range strings.Split(s.folder, "/") {
			if step == "" {
				continue
			}
			current, err = nodes.GetChildByName(ctx, current, step)
			if errors.Is(err, repo.ErrNodeNotFound) {
				s.logger.Info("web script folder not found", zap.String("folder", s.folder))
				return nil, nil
			}
			if err != nil {
				return nil, fmt.Errorf("store %s: %w", s.Name(), err)
			}
		}

		var out []*Description
		if err := s.walk(ctx, current, "", &out); err != nil {
			return nil, fmt.Errorf("store %s: %w", s.Name(), err)
		}
		return out, nil
	})
}

func (s *RepositoryStore) walk(ctx context.Context, folder repo.NodeRef, prefix string, out *[]*Description) error {
	nodes := s.services.Nodes()
	children, err := nodes.GetChildAssocs(ctx, folder)
	if err != nil {
		return err
	}
	for _, child := range children {
		typ, err := nodes.GetType(ctx, child.Child)
		if err != nil {
			return err
		}
		if typ == repo.TypeFolder {
			if err := s.walk(ctx, child.Child, prefix+child.Name+"/", out); err != nil {
				return err
			}
			continue
		}
		if !IsDocument(child.Name) {
			continue
		}

		data, err := s.read(ctx, child.Child)
		if err != nil {
			return fmt.Errorf("failed to read %s%s: %w", prefix, child.Name, err)
		}
		desc, err := Parse(prefix+child.Name, data)
		if err != nil {
			return err
		}
		desc.Store = s.Name()
		for _, format := range desc.Formats() {
			name := path.Base(TemplateName(child.Name, format))
			if ref, err := nodes.GetChildByName(ctx, folder, name); err == nil {
				desc.templates[format] = ref.String()
			}
		}
		*out = append(*out, desc)
	}
	return nil
}

func (s *RepositoryStore) read(ctx context.Context, ref repo.NodeRef) ([]byte, error) {
	reader, err := s.services.Content().GetReader(ctx, ref, repo.PropContent)
	if err != nil {
		return nil, err
	}
	rc, err := reader.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
