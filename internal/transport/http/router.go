package httptransport

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"custodian/internal/gateway"
	"custodian/internal/platform/config"
	"custodian/internal/platform/health"
	"custodian/internal/platform/metrics"
	dErrors "custodian/pkg/domain-errors"
	"custodian/pkg/platform/httputil"
	"custodian/pkg/platform/middleware/metadata"
	"custodian/pkg/platform/middleware/request"
)

// Dependencies are the pieces the router mounts. Gateway and Health are required.
type Dependencies struct {
	Gateway  *gateway.Gateway
	Health   *health.Handler
	Registry *prometheus.Registry
	Metrics  *request.Metrics
	Server   config.Server
	CORS     config.CORS
	Logger   *slog.Logger
}

// NewRouter wires the probes, the metrics endpoint and the gateway behind the
// shared middleware stack. Only paths under the gateway root are authenticated.
func NewRouter(deps Dependencies) (http.Handler, error) {
	if deps.Gateway == nil || deps.Health == nil {
		return nil, fmt.Errorf("router: gateway and health handler are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	trusted, err := parseProxies(deps.Server.TrustedProxies)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(request.Recovery(logger))
	r.Use(request.RequestID)
	r.Use(metadata.NewMiddleware(&metadata.Config{TrustedProxies: trusted}).Handler)
	r.Use(request.RequestTime)
	r.Use(request.Logger(logger))
	r.Use(request.Latency(deps.Metrics))
	if len(deps.CORS.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins: deps.CORS.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
			AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         int((10 * time.Minute).Seconds()),
		}).Handler)
	}
	if deps.Server.RequestTimeout > 0 {
		r.Use(request.Timeout(deps.Server.RequestTimeout))
	}
	if deps.Server.MaxBodyBytes > 0 {
		r.Use(request.BodyLimit(deps.Server.MaxBodyBytes))
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteErrorCode(w, dErrors.CodeNotFound, "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusMethodNotAllowed, httputil.ErrorResponse{Error: "method_not_allowed"})
	})

	deps.Health.Register(r)
	if deps.Registry != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Registry))
	}

	root := deps.Gateway.Root()
	r.Handle(root, deps.Gateway)
	r.Handle(root+"/*", deps.Gateway)

	return otelhttp.NewHandler(r, "custodian",
		otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
			return req.Method + " " + spanPath(req.URL.Path, root)
		}),
		otelhttp.WithFilter(func(req *http.Request) bool {
			return !strings.HasPrefix(req.URL.Path, "/health") && req.URL.Path != "/metrics"
		}),
	), nil
}

// spanPath keeps span names low-cardinality: gateway paths collapse to their
// first segment below the root.
func spanPath(path, root string) string {
	rest, ok := strings.CutPrefix(path, root+"/")
	if !ok {
		return path
	}
	first, _, _ := strings.Cut(rest, "/")
	return root + "/" + first
}

func parseProxies(cidrs []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if !strings.Contains(c, "/") {
			addr, err := netip.ParseAddr(c)
			if err != nil {
				return nil, fmt.Errorf("router: invalid trusted proxy %q: %w", c, err)
			}
			out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(c)
		if err != nil {
			return nil, fmt.Errorf("router: invalid trusted proxy %q: %w", c, err)
		}
		out = append(out, p.Masked())
	}
	return out, nil
}
