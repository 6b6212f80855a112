package runtime

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/conduit-lang/webscript/internal/repo"
	"github.com/conduit-lang/webscript/internal/web/auth"
)

// StatusError is a failure carrying the HTTP status to respond with
type StatusError struct {
	Code    int
	Message string
	Err     error
}

// Status returns a StatusError with a formatted message
func Status(code int, format string, args ...any) *StatusError {
	return &StatusError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%d %s", e.Code, e.Message)
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// asStatus classifies any failure into a StatusError
func asStatus(err error) *StatusError {
	var se *StatusError
	switch {
	case errors.As(err, &se):
		return se
	case errors.Is(err, auth.ErrUnauthorized):
		return &StatusError{Code: http.StatusUnauthorized, Message: "authentication required", Err: err}
	case errors.Is(err, repo.ErrNodeNotFound):
		return &StatusError{Code: http.StatusNotFound, Message: "node not found", Err: err}
	case errors.Is(err, repo.ErrContentNotFound):
		return &StatusError{Code: http.StatusNotFound, Message: "content not found", Err: err}
	default:
		return &StatusError{Code: http.StatusInternalServerError, Message: "web script failed", Err: err}
	}
}
