package httpapi

import (
	"context"

	"github.com/groundwire/orchestrator/domain/graphmodel"
)

type ctxKey int

const (
	ctxTenantKey ctxKey = iota
	ctxTokenKey
	ctxPrincipalKey
)

// withTenantContext ensures tenant is set in context for downstream handlers.
func withTenantContext(ctx context.Context, tenant string) context.Context {
	if tenant == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxTenantKey, tenant)
}

// tenantFromCtx extracts the tenant string from context.
func tenantFromCtx(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	tenant, _ := ctx.Value(ctxTenantKey).(string)
	return tenant
}

// withTokenContext stashes the raw bearer token for downstream logging.
func withTokenContext(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxTokenKey, token)
}

// tokenFromCtx extracts the auth token/user identifier from context.
func tokenFromCtx(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	token, _ := ctx.Value(ctxTokenKey).(string)
	return token
}

// withPrincipalContext stashes the resolved security principal so handlers
// downstream of the auth middleware don't need to re-parse the bearer token.
func withPrincipalContext(ctx context.Context, principal graphmodel.SecurityPrincipal) context.Context {
	ctx = withTenantContext(ctx, principal.TenantID)
	return context.WithValue(ctx, ctxPrincipalKey, principal)
}

// principalFromCtx extracts the resolved security principal from context.
// Returns graphmodel.AnonymousPrincipal() if none was set.
func principalFromCtx(ctx context.Context) graphmodel.SecurityPrincipal {
	if ctx == nil {
		return graphmodel.AnonymousPrincipal()
	}
	principal, ok := ctx.Value(ctxPrincipalKey).(graphmodel.SecurityPrincipal)
	if !ok {
		return graphmodel.AnonymousPrincipal()
	}
	return principal
}
