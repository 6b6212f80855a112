package templating

import (
	"errors"
	"fmt"
)

var (
	// ErrTemplateNotFound is returned when a template location resolves to nothing
	ErrTemplateNotFound = errors.New("template not found")
	// ErrNoProcessor is returned when no processor is configured for an engine
	ErrNoProcessor = errors.New("no template processor")
)

// TemplateError reports a template that failed to compile or execute
type TemplateError struct {
	Name string
	Err  error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template %s: %v", e.Name, e.Err)
}

func (e *TemplateError) Unwrap() error {
	return e.Err
}

func notFound(location string) error {
	return fmt.Errorf("%w: %s", ErrTemplateNotFound, location)
}
