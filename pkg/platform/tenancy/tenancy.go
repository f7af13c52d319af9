package tenancy

import "context"

type ctxKey struct{}

var tenantKey = ctxKey{}

// WithTenant marks ctx as acting on behalf of one tenant. The transaction
// runner reads it to bind the database session to that tenant's rows.
func WithTenant(ctx context.Context, tenant string) context.Context {
	if tenant == "" {
		return ctx
	}
	return context.WithValue(ctx, tenantKey, tenant)
}

// From extracts the acting tenant from context if present.
func From(ctx context.Context) (string, bool) {
	tenant, ok := ctx.Value(tenantKey).(string)
	return tenant, ok
}
