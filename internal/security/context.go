// Package security carries the authenticated principal on a context.Context.
//
// A principal is attached to a derived context, so the caller's context keeps
// whatever authentication it had before: restoring the prior identity after a
// nested run-as is a matter of going back to the parent context.
package security

import "context"

type contextKey int

const principalKey contextKey = iota

// Principal is an authenticated identity
type Principal struct {
	Username    string
	Admin       bool
	Guest       bool
	System      bool
	Authorities []string
}

// Guest is the principal used for unauthenticated guest access
var Guest = Principal{Username: "guest", Guest: true}

// System is the principal used for internal elevated work
var System = Principal{Username: "System", Admin: true, System: true}

// WithPrincipal returns a context carrying the principal
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom returns the principal on the context, if any
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// CurrentUser returns the username on the context, or "" when unauthenticated
func CurrentUser(ctx context.Context) string {
	if p, ok := PrincipalFrom(ctx); ok {
		return p.Username
	}
	return ""
}

// IsAdmin reports whether the context carries an administrative principal
func IsAdmin(ctx context.Context) bool {
	p, ok := PrincipalFrom(ctx)
	return ok && p.Admin
}

// RunAs calls fn with a context elevated to the given principal
func RunAs[T any](ctx context.Context, p Principal, fn func(ctx context.Context) (T, error)) (T, error) {
	return fn(WithPrincipal(ctx, p))
}

// RunAsSystem calls fn with the system principal
func RunAsSystem[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	return RunAs(ctx, System, fn)
}
