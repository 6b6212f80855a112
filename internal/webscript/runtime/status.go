package runtime

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/conduit-lang/webscript/internal/webscript/format"
	"go.uber.org/zap"
)

type statusTemplate struct {
	location string
	format   string
}

// statusTemplates lists the status templates tried for a failure, most
// specific first. The format-less fallbacks render as html.
func statusTemplates(code int, f string) []statusTemplate {
	return []statusTemplate{
		{fmt.Sprintf("/%d.%s.tmpl", code, f), f},
		{fmt.Sprintf("/status.%s.tmpl", f), f},
		{fmt.Sprintf("/%d.tmpl", code), format.HTML},
		{"/status.tmpl", format.HTML},
	}
}

// writeStatus answers a failed request. The first status template that
// renders wins; without one a plain text message is written.
func (rt *Runtime) writeStatus(w http.ResponseWriter, r *http.Request, s *Script, se *StatusError) {
	fields := []zap.Field{
		zap.Int("status", se.Code),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
	}
	if se.Err != nil {
		fields = append(fields, zap.Error(se.Err))
	}
	if se.Code >= http.StatusInternalServerError {
		rt.logger.Error(se.Message, fields...)
	} else {
		rt.logger.Debug(se.Message, fields...)
	}

	f := format.HTML
	if s != nil && s.Format != "" {
		f = s.Format
	}
	body, contentType, ok := rt.renderStatus(r.Context(), r, s, se, f)
	if !ok {
		body = []byte(fmt.Sprintf("%d %s\n%s\n", se.Code, http.StatusText(se.Code), se.Message))
		contentType = rt.formats.ContentType(format.Text)
	}

	h := w.Header()
	if se.Code == http.StatusUnauthorized {
		h.Set("WWW-Authenticate", `Basic realm="webscript"`)
	}
	if se.Code == http.StatusMethodNotAllowed {
		for _, m := range rt.registry.AllowedMethods(r.URL.Path) {
			h.Add("Allow", m)
		}
	}
	h.Set("Content-Type", contentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("Pragma", "no-cache")
	w.WriteHeader(se.Code)
	if _, err := w.Write(body); err != nil {
		rt.logger.Debug("failed to write status response", zap.Error(err))
	}
}

func (rt *Runtime) renderStatus(ctx context.Context, r *http.Request, s *Script, se *StatusError, f string) ([]byte, string, bool) {
	if rt.templates == nil {
		return nil, "", false
	}
	session := rt.templates.NewSession(rt.images).WithServiceContext(rt.serviceContext())
	m := rt.statusModel(r, s, se)
	for _, tmpl := range statusTemplates(se.Code, f) {
		if !session.Exists(ctx, tmpl.location) {
			continue
		}
		var buf bytes.Buffer
		if err := session.Process(ctx, rt.engine(tmpl.format), tmpl.location, m, &buf); err != nil {
			rt.logger.Warn("status template failed", zap.String("template", tmpl.location), zap.Error(err))
			continue
		}
		return buf.Bytes(), rt.formats.ContentType(tmpl.format), true
	}
	return nil, "", false
}
