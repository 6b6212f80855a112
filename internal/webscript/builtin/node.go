package builtin

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/conduit-lang/webscript/internal/model"
	"github.com/conduit-lang/webscript/internal/repo"
	"github.com/conduit-lang/webscript/internal/webscript/runtime"
)

// readable resolves the node named by the store_type, store_id and id
// arguments and checks the caller may read it
func readable(ctx context.Context, s *runtime.Script) (*model.Node, error) {
	ref := repo.NewNodeRef(s.Arg("store_type"), s.Arg("store_id"), s.Arg("id"))
	n := s.Env(ctx).Node(ref)
	if !n.Exists() {
		return nil, runtime.Status(http.StatusNotFound, "node %s does not exist", ref)
	}
	if !n.HasPermission(repo.PermissionRead) {
		return nil, runtime.Status(http.StatusForbidden, "no read permission on %s", ref)
	}
	return n, nil
}

func node(ctx context.Context, s *runtime.Script) error {
	n, err := readable(ctx, s)
	if err != nil {
		return err
	}
	s.Model["node"] = n
	return nil
}

func content(ctx context.Context, s *runtime.Script) error {
	n, err := readable(ctx, s)
	if err != nil {
		return err
	}

	reader, err := s.Services().Content().GetReader(ctx, n.NodeRef(), repo.PropContent)
	if err != nil {
		return err
	}
	data := reader.Data()
	if data.Mimetype != "" {
		s.ContentType = data.Mimetype
		if data.Encoding != "" && strings.HasPrefix(data.Mimetype, "text/") {
			s.ContentType = mime.FormatMediaType(data.Mimetype, map[string]string{"charset": data.Encoding})
		}
	} else {
		s.ContentType = "application/octet-stream"
	}
	if !reader.LastModified().IsZero() {
		s.Headers.Set("Last-Modified", reader.LastModified().UTC().Format(http.TimeFormat))
	}
	if a := s.Arg("attach"); a == "true" {
		s.Headers.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": n.Name()}))
	}

	s.Stream = func(w io.Writer) error {
		rc, err := reader.Open(ctx)
		if err != nil {
			return err
		}
		defer rc.Close()
		if _, err := io.Copy(w, rc); err != nil {
			return fmt.Errorf("failed to stream %s: %w", n.NodeRef(), err)
		}
		return nil
	}
	return nil
}

func path(ctx context.Context, s *runtime.Script) error {
	company, err := s.CompanyHome(ctx)
	if err != nil {
		return err
	}
	namePath := strings.Trim(s.Arg("path"), "/")
	n, err := s.Env(ctx).Node(company).ChildByNamePath().Get(namePath)
	if err != nil {
		return err
	}
	if n == nil {
		return runtime.Status(http.StatusNotFound, "no node at %q", namePath)
	}
	s.Model["node"] = n
	s.Model["path"] = namePath
	return nil
}
