package memo

import "context"

type contextKey struct{}

// NewContext attaches a fresh Cache to ctx. The API layer does this once
// per request so every virtual evaluated during the request's ACL passes
// shares one cache.
func NewContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKey{}, New())
}

// FromContext returns the request's Cache, or nil if none was attached.
func FromContext(ctx context.Context) *Cache {
	c, _ := ctx.Value(contextKey{}).(*Cache)
	return c
}
