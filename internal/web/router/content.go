package router

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/conduit-lang/webscript/internal/cache"
	"github.com/conduit-lang/webscript/internal/repo"
	"github.com/conduit-lang/webscript/internal/security"
	"github.com/conduit-lang/webscript/internal/web/auth"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ContentHandler streams node content for the URLs built by model.ContentURL
// and model.DownloadURL: /d/{attach}/{protocol}/{store}/{id}/{name}. attach is
// "a" for an attachment and "d" for inline display.
type ContentHandler struct {
	services    repo.ServiceRegistry
	authn       *auth.Authenticator
	logger      *zap.Logger
	showDetails bool
}

// NewContentHandler creates a content handler. Without an authenticator every
// request is served as the guest user.
func NewContentHandler(services repo.ServiceRegistry, authn *auth.Authenticator, logger *zap.Logger) *ContentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContentHandler{services: services, authn: authn, logger: logger}
}

func (h *ContentHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	attach := chi.URLParam(r, "attach")
	if attach != "a" && attach != "d" {
		NotFound(w, r)
		return
	}
	ref := repo.NewNodeRef(chi.URLParam(r, "protocol"), chi.URLParam(r, "store"), chi.URLParam(r, "id"))

	principal := security.Guest
	presented := false
	if h.authn != nil {
		p, ok, err := h.authn.Authenticate(r.Context(), r)
		if err != nil {
			Unauthorized(w, r, "invalid credentials")
			return
		}
		if ok {
			principal, presented = p, true
		}
	}
	ctx := security.WithPrincipal(r.Context(), principal)

	nodes := h.services.Nodes()
	exists, err := nodes.Exists(ctx, ref)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !exists {
		NotFound(w, r)
		return
	}
	allowed, err := h.services.Permissions().HasPermission(ctx, ref, repo.PermissionRead)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !allowed {
		if presented {
			Forbidden(w, r, fmt.Sprintf("no read permission on %s", ref))
		} else {
			Unauthorized(w, r, "authentication required")
		}
		return
	}

	reader, err := h.services.Content().GetReader(ctx, ref, repo.PropContent)
	if errors.Is(err, repo.ErrContentNotFound) {
		NotFound(w, r)
		return
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	data := reader.Data()
	etag := cache.ETag(ref.String(), strconv.FormatInt(data.Modified.UnixMilli(), 10), strconv.FormatInt(data.Size, 10))
	if cache.NotModified(w, r, etag, reader.LastModified()) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	mimetype := data.Mimetype
	if mimetype == "" {
		mimetype = "application/octet-stream"
	}
	if data.Encoding != "" && strings.HasPrefix(mimetype, "text/") {
		mimetype = mime.FormatMediaType(mimetype, map[string]string{"charset": data.Encoding})
	}
	w.Header().Set("Content-Type", mimetype)
	w.Header().Set("Content-Length", strconv.FormatInt(data.Size, 10))
	if attach == "a" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": chi.URLParam(r, "name")}))
	}
	if r.Method == http.MethodHead {
		return
	}

	rc, err := reader.Open(ctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer rc.Close()
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Debug("content stream interrupted", zap.Stringer("node", ref), zap.Error(err))
	}
}

func (h *ContentHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, repo.ErrNodeNotFound) {
		NotFound(w, r)
		return
	}
	h.logger.Error("content request failed", zap.String("path", r.URL.Path), zap.Error(err))
	InternalServerError(w, r, err, h.showDetails)
}
