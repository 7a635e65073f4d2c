package tenant

import (
	"context"
)

// contextKey is the private context key for Context values.
type contextKey struct{}

// Context is the immutable request-scoped tenant identity. It is threaded
// explicitly: helpers derive new values, nothing mutates in place.
type Context struct {
	// Tenant is the acting tenant (required).
	Tenant ID

	// Actor is the calling principal, such as an API key name or agent id
	// (optional, logged and audited).
	Actor string

	// RequestID correlates logs and audit entries (optional).
	RequestID string
}

// Option configures optional Context fields.
type Option func(*Context)

// WithActor records the calling principal.
func WithActor(actor string) Option {
	return func(c *Context) { c.Actor = actor }
}

// WithRequestID records a correlation id.
func WithRequestID(id string) Option {
	return func(c *Context) { c.RequestID = id }
}

// NewContext builds a request identity for the given tenant.
func NewContext(tenant ID, opts ...Option) Context {
	c := Context{Tenant: tenant}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Validate checks that the identity names a well-formed tenant.
func (c Context) Validate() error {
	if c.Tenant == "" {
		return ErrMissingTenant
	}
	_, err := ParseID(string(c.Tenant))
	return err
}

// IntoContext attaches the tenant identity to a context.
func IntoContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, contextKey{}, tc)
}

// FromContext extracts the tenant identity from a context.
// Returns ErrMissingTenant if absent - fail closed.
func FromContext(ctx context.Context) (Context, error) {
	tc, ok := ctx.Value(contextKey{}).(Context)
	if !ok {
		return Context{}, ErrMissingTenant
	}
	if tc.Tenant == "" {
		return Context{}, ErrMissingTenant
	}
	return tc, nil
}

// MustFromContext extracts the tenant identity or panics.
// Use only directly behind middleware that guarantees presence.
func MustFromContext(ctx context.Context) Context {
	tc, err := FromContext(ctx)
	if err != nil {
		panic("tenant identity required but missing from context")
	}
	return tc
}

// HasTenant reports whether a tenant identity is present.
func HasTenant(ctx context.Context) bool {
	_, err := FromContext(ctx)
	return err == nil
}
