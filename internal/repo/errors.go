package repo

import "fmt"

// QueryError reports a failed query together with its text
type QueryError struct {
	Language string
	Query    string
	Err      error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("failed to execute %s query %q: %v", e.Language, e.Query, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}
