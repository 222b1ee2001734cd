// Package requestcontext carries request-scoped values (request id, client
// metadata, request time and the authenticated identity) through
// context.Context so no layer needs global state.
package requestcontext

import (
	"context"
	"slices"
	"time"
)

type (
	contextKeyRequestID   struct{}
	contextKeyIdentity    struct{}
	contextKeyClientIP    struct{}
	contextKeyUserAgent   struct{}
	contextKeyRequestTime struct{}
)

// Identity is the authenticated caller as established by the gateway.
type Identity struct {
	Subject   string
	BPN       string
	ClientID  string
	Roles     []string
	TokenID   string
	ExpiresAt time.Time
}

// HasRole reports whether the identity was granted role.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	return slices.Contains(i.Roles, role)
}

// WithRequestID stores the request correlation id.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID{}, requestID)
}

// RequestID returns the request correlation id or "".
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(contextKeyRequestID{}).(string); ok {
		return id
	}
	return ""
}

// WithIdentity attaches the authenticated identity.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, contextKeyIdentity{}, identity)
}

// IdentityFrom returns the authenticated identity, or nil for anonymous contexts.
func IdentityFrom(ctx context.Context) *Identity {
	if identity, ok := ctx.Value(contextKeyIdentity{}).(*Identity); ok {
		return identity
	}
	return nil
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, contextKeyClientIP{}, ip)
}

func ClientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(contextKeyClientIP{}).(string); ok {
		return ip
	}
	return ""
}

func WithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, contextKeyUserAgent{}, ua)
}

func UserAgent(ctx context.Context) string {
	if ua, ok := ctx.Value(contextKeyUserAgent{}).(string); ok {
		return ua
	}
	return ""
}

// WithTime injects a fixed "now" for the request, worker batch or test.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, contextKeyRequestTime{}, t)
}

// Now returns the request-scoped time, falling back to time.Now() outside
// HTTP requests.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(contextKeyRequestTime{}).(time.Time); ok {
		return t
	}
	return time.Now()
}
