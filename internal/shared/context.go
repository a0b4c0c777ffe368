package shared

import "context"

// Identity carries the authenticated tenant and acting user resolved by the
// upstream gateway. It rides the request context only up to the handler; every
// service and repository call below the boundary takes the tenant id as an
// explicit parameter.
type Identity struct {
	TenantID int64
	ActorID  int64
}

type identityContextKey struct{}

// ContextWithIdentity stores the identity in context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the identity from context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}
