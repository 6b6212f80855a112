package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/conduit-lang/webscript/internal/web/auth"
	"github.com/conduit-lang/webscript/internal/webscript/runtime"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func login(ctx context.Context, s *runtime.Script) error {
	return issueTicket(ctx, s, credentials{Username: s.Arg("username"), Password: s.Arg("password")})
}

func loginJSON(ctx context.Context, s *runtime.Script) error {
	var c credentials
	if err := json.NewDecoder(io.LimitReader(s.Request.Body, 1<<16)).Decode(&c); err != nil {
		return &runtime.StatusError{Code: http.StatusBadRequest, Message: "invalid login body", Err: err}
	}
	return issueTicket(ctx, s, c)
}

func issueTicket(ctx context.Context, s *runtime.Script, c credentials) error {
	if c.Username == "" {
		return runtime.Status(http.StatusBadRequest, "username not specified")
	}
	if c.Password == "" {
		return runtime.Status(http.StatusBadRequest, "password not specified")
	}

	authn := s.Runtime().Authenticator()
	if authn == nil || authn.Tickets() == nil {
		return runtime.Status(http.StatusServiceUnavailable, "tickets are not enabled")
	}
	p, err := authn.Login(ctx, c.Username, c.Password)
	if errors.Is(err, auth.ErrUnauthorized) {
		return &runtime.StatusError{Code: http.StatusForbidden, Message: "login failed", Err: err}
	}
	if err != nil {
		return err
	}

	ticket, expires, err := authn.Tickets().Issue(p)
	if err != nil {
		return err
	}
	s.Model["ticket"] = ticket
	s.Model["expires"] = expires
	return nil
}
