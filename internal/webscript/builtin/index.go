package builtin

import (
	"context"
	"net/http"

	"github.com/conduit-lang/webscript/internal/webscript/runtime"
	"go.uber.org/zap"
)

func index(ctx context.Context, s *runtime.Script) error {
	reg := s.Registry()
	s.Model["scripts"] = reg.Scripts()
	s.Model["loadedAt"] = reg.LoadedAt()
	return nil
}

func describe(ctx context.Context, s *runtime.Script) error {
	d, ok := s.Registry().ByID(s.Arg("id"))
	if !ok {
		return runtime.Status(http.StatusNotFound, "web script %q does not exist", s.Arg("id"))
	}
	s.Model["script"] = d
	s.Model["templates"] = d.Templates()
	return nil
}

func reset(ctx context.Context, s *runtime.Script) error {
	reg := s.Registry()
	if err := reg.Reset(ctx); err != nil {
		return &runtime.StatusError{Code: http.StatusInternalServerError, Message: "failed to refresh web scripts", Err: err}
	}
	s.Logger().Info("web scripts refreshed", zap.Int("scripts", len(reg.Scripts())))
	s.Model["count"] = len(reg.Scripts())
	s.Model["loadedAt"] = reg.LoadedAt()
	return nil
}
