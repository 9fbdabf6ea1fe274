package executor

import "context"

type tenantKey struct{}

// WithTenant attaches tenant to ctx. Carried as an explicit context value
// rather than a goroutine-local, since Go has none.
func WithTenant(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenant)
}

// TenantFromContext returns the tenant attached by WithTenant, or "" if
// none was set.
func TenantFromContext(ctx context.Context) string {
	t, _ := ctx.Value(tenantKey{}).(string)
	return t
}
