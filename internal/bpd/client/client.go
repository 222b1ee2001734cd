// Package client fetches legal entity data from the business partner data
// management (BPDM) pool.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"custodian/internal/bpd/models"
	dErrors "custodian/pkg/domain-errors"
	"custodian/pkg/platform/circuit"
)

const (
	legalEntityPath = "/api/catena/legal-entities/"
	maxResponseSize = 1 << 20
	defaultTimeout  = 5 * time.Second
)

// HTTPDoer is the minimal interface needed from an HTTP client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Client struct {
	baseURL string
	http    HTTPDoer
	breaker *circuit.Breaker
	logger  *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(doer HTTPDoer) Option {
	return func(c *Client) {
		c.http = doer
	}
}

// WithBreaker replaces the default breaker, which opens after five
// consecutive upstream failures.
func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Client) {
		c.breaker = b
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func New(baseURL string, timeout time.Duration, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid business partner pool url %q", baseURL)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		breaker: circuit.New("bpdm"),
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// LegalEntity fetches the legal entity identified by bpn. Unknown entities
// yield a not found error; an open circuit or failing upstream yields
// unavailable.
func (c *Client) LegalEntity(ctx context.Context, bpn string) (*models.BusinessPartner, error) {
	if !c.breaker.Allow() {
		return nil, dErrors.New(dErrors.CodeUnavailable, "business partner pool unavailable")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+legalEntityPath+url.PathEscape(bpn), nil)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "build business partner request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, c.transportError(ctx, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		c.breaker.RecordSuccess()
	case resp.StatusCode == http.StatusNotFound:
		c.breaker.RecordSuccess()
		return nil, dErrors.New(dErrors.CodeNotFound, "business partner "+bpn+" not found")
	case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
		c.breaker.RecordFailure()
		c.logger.WarnContext(ctx, "business partner pool error", "status", resp.StatusCode, "bpn", bpn)
		return nil, dErrors.New(dErrors.CodeUnavailable, fmt.Sprintf("business partner pool returned %d", resp.StatusCode))
	default:
		c.breaker.RecordSuccess()
		return nil, dErrors.New(dErrors.CodeInternal, fmt.Sprintf("business partner pool returned %d", resp.StatusCode))
	}

	bp, err := parseLegalEntity(body)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "decode business partner response")
	}
	if bp.BPN != bpn {
		return nil, dErrors.New(dErrors.CodeInternal, "business partner pool returned "+bp.BPN+" for "+bpn)
	}
	return bp, nil
}

// transportError classifies failures to reach the pool. Cancellation by the
// caller does not count against the breaker.
func (c *Client) transportError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return dErrors.Wrap(err, dErrors.CodeTimeout, "business partner request timed out")
		}
		return ctxErr
	}
	c.breaker.RecordFailure()
	c.logger.WarnContext(ctx, "business partner pool unreachable", "error", err)
	return dErrors.Wrap(err, dErrors.CodeUnavailable, "business partner pool unreachable")
}
