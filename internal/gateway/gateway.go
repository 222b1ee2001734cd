// Package gateway gates every request under the API root behind bearer-token
// authentication and dispatches authenticated requests to handler groups
// through an explicit, ordered route table.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/felixge/httpsnoop"
	"github.com/go-chi/chi/v5"

	"custodian/internal/platform/tracer"
	dErrors "custodian/pkg/domain-errors"
	"custodian/pkg/platform/audit"
	"custodian/pkg/platform/httputil"
	"custodian/pkg/requestcontext"
)

const (
	reasonMissingToken = "missing_token"
	reasonInvalidToken = "invalid_token"
)

// AuditRecorder is satisfied by audit.Recorder.
type AuditRecorder interface {
	Record(ctx context.Context, event audit.Event)
}

// Gateway holds no per-request state; it is safe for concurrent use.
type Gateway struct {
	root    string
	authn   Authenticator
	table   RouteTable
	routes  []compiledRoute
	logger  *slog.Logger
	metrics *Metrics
	tracer  tracer.Tracer
	auditor AuditRecorder
}

type Option func(*Gateway)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(g *Gateway) {
		g.tracer = t
	}
}

// WithAuditor records authentication failures.
func WithAuditor(a AuditRecorder) Option {
	return func(g *Gateway) {
		g.auditor = a
	}
}

// New builds a gateway serving root with the given authenticator and route
// table. Each binding's handler group is registered on its own router once.
func New(root string, authn Authenticator, table RouteTable, opts ...Option) (*Gateway, error) {
	if err := ValidateRoot(root); err != nil {
		return nil, err
	}
	if authn == nil {
		return nil, errors.New("gateway: authenticator is required")
	}
	if err := table.validate(); err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}

	g := &Gateway{
		root:   root,
		authn:  authn,
		table:  append(RouteTable(nil), table...),
		logger: slog.New(slog.DiscardHandler),
		tracer: tracer.NewNoop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.routes = compile(g.table)
	return g, nil
}

// ValidateRoot checks that root is a single absolute path without a trailing slash.
func ValidateRoot(root string) error {
	if !strings.HasPrefix(root, "/") || root == "/" || strings.HasSuffix(root, "/") {
		return fmt.Errorf("gateway: invalid root %q", root)
	}
	return nil
}

func (g *Gateway) Root() string {
	return g.root
}

// Routes enumerates the route table in evaluation order.
func (g *Gateway) Routes() []Route {
	routes := make([]Route, 0, len(g.table))
	for _, b := range g.table {
		routes = append(routes, Route{Group: b.Group, Prefix: b.Prefix})
	}
	return routes
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	path, rawPath, ok := g.strip(r.URL)
	if !ok {
		httputil.WriteErrorCode(w, dErrors.CodeNotFound, "")
		return
	}

	token, err := bearerToken(r.Header.Get("Authorization"))
	if err != nil {
		g.reject(ctx, w, reasonMissingToken, err.Error())
		return
	}

	identity, err := g.authenticate(ctx, token)
	if ctx.Err() != nil {
		g.metrics.cancelled()
		g.logger.InfoContext(ctx, "request cancelled during authentication",
			"request_id", requestID,
		)
		return
	}
	if err != nil {
		g.logger.WarnContext(ctx, "unauthorized access - invalid token",
			"error", err,
			"request_id", requestID,
		)
		g.reject(ctx, w, reasonInvalidToken, describe(err))
		return
	}

	route, found := match(g.routes, path)
	if !found {
		g.metrics.dispatched(groupUnmatched, http.StatusNotFound, 0)
		httputil.WriteErrorCode(w, dErrors.CodeNotFound, "")
		return
	}

	ctx = requestcontext.WithIdentity(ctx, identity)
	// the group router must route the stripped path from scratch
	ctx = context.WithValue(ctx, chi.RouteCtxKey, (*chi.Context)(nil))
	ctx, span := g.tracer.Start(ctx, "gateway.dispatch",
		tracer.String("gateway.group", route.group),
		tracer.String("gateway.prefix", route.prefix),
	)

	downstream := r.WithContext(ctx)
	u := *r.URL
	u.Path = path
	u.RawPath = rawPath
	downstream.URL = &u

	m := httpsnoop.CaptureMetricsFn(guard(ctx, w), func(ww http.ResponseWriter) {
		route.handler.ServeHTTP(ww, downstream)
	})
	span.SetAttributes(tracer.Int("http.status_code", m.Code))
	span.End(nil)
	g.metrics.dispatched(route.group, m.Code, m.Duration)
}

func (g *Gateway) authenticate(ctx context.Context, token string) (*requestcontext.Identity, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.authenticate")
	identity, err := g.authn.Authenticate(ctx, token)
	if err == nil && identity == nil {
		err = dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	span.End(err)
	return identity, err
}

func (g *Gateway) reject(ctx context.Context, w http.ResponseWriter, reason, description string) {
	g.metrics.authFailed(reason)
	if g.auditor != nil {
		g.auditor.Record(ctx, audit.Event{
			Action:   audit.ActionAuthFailed,
			Decision: audit.DecisionDenied,
			Reason:   reason,
		})
	}
	challenge := "Bearer"
	if reason == reasonInvalidToken {
		challenge = `Bearer error="invalid_token"`
	}
	w.Header().Set("WWW-Authenticate", challenge)
	httputil.WriteErrorCode(w, dErrors.CodeUnauthorized, description)
}

func (g *Gateway) strip(u *url.URL) (path, rawPath string, ok bool) {
	if u.Path != g.root && !strings.HasPrefix(u.Path, g.root+"/") {
		return "", "", false
	}
	path = strings.TrimPrefix(u.Path, g.root)
	if u.RawPath != "" {
		if rp := strings.TrimPrefix(u.RawPath, g.root); len(rp) < len(u.RawPath) {
			rawPath = rp
		}
	}
	return path, rawPath, true
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("missing authorization header")
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", errors.New("authorization header must use the Bearer scheme")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New("bearer token is empty")
	}
	return token, nil
}

// describe exposes authenticator messages only when they are domain errors.
func describe(err error) string {
	var domainErr *dErrors.Error
	if errors.As(err, &domainErr) && domainErr.Message != "" {
		return domainErr.Message
	}
	return "invalid token"
}

// guard drops writes made after the request context is done.
func guard(ctx context.Context, w http.ResponseWriter) http.ResponseWriter {
	return httpsnoop.Wrap(w, httpsnoop.Hooks{
		WriteHeader: func(next httpsnoop.WriteHeaderFunc) httpsnoop.WriteHeaderFunc {
			return func(code int) {
				if ctx.Err() != nil {
					return
				}
				next(code)
			}
		},
		Write: func(next httpsnoop.WriteFunc) httpsnoop.WriteFunc {
			return func(b []byte) (int, error) {
				if err := ctx.Err(); err != nil {
					return 0, err
				}
				return next(b)
			}
		},
		ReadFrom: func(next httpsnoop.ReadFromFunc) httpsnoop.ReadFromFunc {
			return func(src io.Reader) (int64, error) {
				if err := ctx.Err(); err != nil {
					return 0, err
				}
				return next(src)
			}
		},
	})
}
