package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"custodian/internal/authz"
	"custodian/internal/bpd/cache"
	"custodian/internal/bpd/models"
	"custodian/internal/bpd/store"
	walletmodels "custodian/internal/wallet/models"
	dErrors "custodian/pkg/domain-errors"
	"custodian/pkg/platform/audit"
	"custodian/pkg/requestcontext"
	"custodian/pkg/validation"
)

const (
	defaultPullTimeout  = 30 * time.Second
	defaultRefreshLimit = 4
)

// Upstream is the business partner pool.
type Upstream interface {
	LegalEntity(ctx context.Context, bpn string) (*models.BusinessPartner, error)
}

// Cache holds upstream responses for a bounded time. Find returns
// cache.ErrMiss when nothing fresh is held.
type Cache interface {
	Find(ctx context.Context, bpn string) (*models.BusinessPartner, error)
	Save(ctx context.Context, bp *models.BusinessPartner) error
}

// CredentialIssuer issues authority credentials into wallets without caller
// authorization. Implemented by the wallet service.
type CredentialIssuer interface {
	IssueFromAuthority(ctx context.Context, holderBPN, typ string, subject map[string]any) (*walletmodels.CredentialRecord, bool, error)
}

// WalletLister enumerates managed wallets. Implemented by the wallet store.
type WalletLister interface {
	ListWallets(ctx context.Context) ([]walletmodels.Wallet, error)
}

type AuditRecorder interface {
	Record(ctx context.Context, event audit.Event)
}

type Config struct {
	// PullTimeout bounds a single pull, including credential issuance.
	PullTimeout  time.Duration
	RefreshLimit int
}

type Option func(*Service)

func WithCache(c Cache) Option {
	return func(s *Service) {
		s.cache = c
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditor(auditor AuditRecorder) Option {
	return func(s *Service) {
		s.auditor = auditor
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service pulls business partner data from the upstream pool, stores it and
// issues the matching credentials into the partner's wallet.
type Service struct {
	upstream Upstream
	store    store.Store
	issuer   CredentialIssuer
	wallets  WalletLister
	cache    Cache
	cfg      Config
	auditor  AuditRecorder
	metrics  *Metrics
	logger   *slog.Logger
	now      func() time.Time

	flight singleflight.Group

	// base outlives requests; Close cancels it once pending pulls are drained
	// or the shutdown deadline passes.
	base   context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New builds the service. A nil upstream makes every pull fail as unavailable.
func New(upstream Upstream, st store.Store, issuer CredentialIssuer, wallets WalletLister, cfg Config, opts ...Option) *Service {
	if cfg.PullTimeout <= 0 {
		cfg.PullTimeout = defaultPullTimeout
	}
	if cfg.RefreshLimit <= 0 {
		cfg.RefreshLimit = defaultRefreshLimit
	}
	base, cancel := context.WithCancel(context.Background())
	s := &Service{
		upstream: upstream,
		store:    st,
		issuer:   issuer,
		wallets:  wallets,
		cfg:      cfg,
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
		base:     base,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Pull fetches the data of bpn, persists it and issues BpnCredential,
// NameCredential and AddressCredential when the partner has a wallet.
// Concurrent pulls of one BPN share a single upstream call. The shared pull
// runs detached from ctx, so a caller giving up does not abort it for others.
func (s *Service) Pull(ctx context.Context, bpn string) (*models.BusinessPartner, error) {
	bpn = strings.TrimSpace(bpn)
	if !validation.IsBPN(bpn) {
		return nil, dErrors.New(dErrors.CodeValidation, "invalid business partner number "+bpn)
	}

	requestID := requestcontext.RequestID(ctx)
	ch := s.flight.DoChan(bpn, func() (any, error) {
		pullCtx, cancel := context.WithTimeout(requestcontext.WithRequestID(s.base, requestID), s.cfg.PullTimeout)
		defer cancel()
		return s.pull(pullCtx, bpn)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		bp := *res.Val.(*models.BusinessPartner)
		bp.Addresses = slices.Clone(bp.Addresses)
		return &bp, nil
	}
}

// PullAsync schedules a pull that outlives the calling request. It is a no-op
// once Close has been called.
func (s *Service) PullAsync(ctx context.Context, bpn string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.WarnContext(ctx, "business partner pull skipped during shutdown", "bpn", bpn)
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	pullCtx := requestcontext.WithRequestID(s.base, requestcontext.RequestID(ctx))
	go func() {
		defer s.wg.Done()
		if _, err := s.Pull(pullCtx, bpn); err != nil {
			s.logger.WarnContext(pullCtx, "background business partner pull failed",
				"bpn", bpn,
				"error", err,
				"request_id", requestcontext.RequestID(pullCtx),
			)
		}
	}()
}

// Close stops accepting background pulls and waits for pending ones until ctx
// is done, then cancels whatever is still running.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	defer s.cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Refresh pulls the given BPNs, or every partner wallet when bpns is empty.
// Failures are reported per BPN.
func (s *Service) Refresh(ctx context.Context, bpns []string) (*models.RefreshResult, error) {
	if err := authz.RequireRole(ctx, authz.RoleUpdateWallets); err != nil {
		return nil, err
	}
	return s.refresh(ctx, bpns)
}

func (s *Service) refresh(ctx context.Context, bpns []string) (*models.RefreshResult, error) {
	if len(bpns) == 0 {
		all, err := s.partnerBPNs(ctx)
		if err != nil {
			return nil, err
		}
		bpns = all
	}

	result := &models.RefreshResult{Refreshed: []string{}, Failed: map[string]string{}}
	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.RefreshLimit)

	seen := make(map[string]struct{}, len(bpns))
	for _, bpn := range bpns {
		bpn = strings.TrimSpace(bpn)
		if _, dup := seen[bpn]; dup {
			continue
		}
		seen[bpn] = struct{}{}

		g.Go(func() error {
			_, err := s.Pull(ctx, bpn)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed[bpn] = err.Error()
				return nil
			}
			result.Refreshed = append(result.Refreshed, bpn)
			return nil
		})
	}
	_ = g.Wait()

	slices.Sort(result.Refreshed)
	s.logger.InfoContext(ctx, "business partner data refreshed",
		"refreshed", len(result.Refreshed),
		"failed", len(result.Failed),
		"request_id", requestcontext.RequestID(ctx),
	)
	return result, nil
}

// Get returns the stored data of bpn.
func (s *Service) Get(ctx context.Context, bpn string) (*models.BusinessPartner, error) {
	bpn = strings.TrimSpace(bpn)
	if !validation.IsBPN(bpn) {
		return nil, dErrors.New(dErrors.CodeValidation, "invalid business partner number "+bpn)
	}
	if err := authz.RequireView(ctx, bpn); err != nil {
		return nil, err
	}
	bp, err := s.store.FindByBPN(ctx, bpn)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no business partner data for "+bpn)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load business partner")
	}
	return bp, nil
}

func (s *Service) pull(ctx context.Context, bpn string) (*models.BusinessPartner, error) {
	start := time.Now()
	bp, err := s.fetch(ctx, bpn)
	if err != nil {
		s.metrics.observePull("failed", time.Since(start))
		s.record(ctx, bpn, audit.DecisionDenied, err.Error())
		return nil, err
	}

	bp.UpdatedAt = s.now().UTC().Truncate(time.Second)
	if err := s.store.Save(ctx, *bp); err != nil {
		s.metrics.observePull("failed", time.Since(start))
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "save business partner")
	}

	issued, err := s.issueCredentials(ctx, bp)
	if err != nil {
		s.metrics.observePull("failed", time.Since(start))
		s.record(ctx, bpn, audit.DecisionDenied, err.Error())
		return nil, err
	}

	s.metrics.observePull("succeeded", time.Since(start))
	s.logger.InfoContext(ctx, "business partner data pulled",
		"bpn", bpn,
		"credentials_issued", issued,
		"request_id", requestcontext.RequestID(ctx),
	)
	s.record(ctx, bpn, audit.DecisionGranted, fmt.Sprintf("%d credentials issued", issued))
	return bp, nil
}

// fetch reads through the cache. Cache failures degrade to an upstream call.
func (s *Service) fetch(ctx context.Context, bpn string) (*models.BusinessPartner, error) {
	if s.cache != nil {
		bp, err := s.cache.Find(ctx, bpn)
		if err == nil {
			return bp, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			s.logger.WarnContext(ctx, "business partner cache lookup failed", "bpn", bpn, "error", err)
		}
	}

	if s.upstream == nil {
		return nil, dErrors.New(dErrors.CodeUnavailable, "business partner pool not configured")
	}
	bp, err := s.upstream.LegalEntity(ctx, bpn)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Save(ctx, bp); err != nil {
			s.logger.WarnContext(ctx, "business partner cache write failed", "bpn", bpn, "error", err)
		}
	}
	return bp, nil
}

// issueCredentials returns how many credentials were newly issued. Partners
// without a wallet get none.
func (s *Service) issueCredentials(ctx context.Context, bp *models.BusinessPartner) (int, error) {
	type subject struct {
		typ  string
		data map[string]any
	}
	subjects := []subject{
		{walletmodels.TypeBpnCredential, bp.BPNSubject()},
		{walletmodels.TypeNameCredential, bp.NameSubject()},
	}
	if address := bp.AddressSubject(); address != nil {
		subjects = append(subjects, subject{walletmodels.TypeAddressCredential, address})
	}

	issued := 0
	for _, sub := range subjects {
		_, fresh, err := s.issuer.IssueFromAuthority(ctx, bp.BPN, sub.typ, sub.data)
		if err != nil {
			if issued == 0 && dErrors.HasCode(err, dErrors.CodeNotFound) {
				s.logger.DebugContext(ctx, "no wallet for business partner", "bpn", bp.BPN)
				return 0, nil
			}
			return issued, dErrors.Wrap(err, dErrors.CodeInternal, "issue "+sub.typ)
		}
		if fresh {
			issued++
			s.metrics.observeIssued(sub.typ)
		}
	}
	return issued, nil
}

func (s *Service) partnerBPNs(ctx context.Context) ([]string, error) {
	wallets, err := s.wallets.ListWallets(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list wallets")
	}
	bpns := make([]string, 0, len(wallets))
	for _, w := range wallets {
		if !w.Authority {
			bpns = append(bpns, w.BPN)
		}
	}
	return bpns, nil
}

func (s *Service) record(ctx context.Context, bpn, decision, reason string) {
	if s.auditor == nil {
		return
	}
	s.auditor.Record(ctx, audit.Event{
		Action:   audit.ActionPartnerDataPulled,
		BPN:      bpn,
		Target:   bpn,
		Decision: decision,
		Reason:   reason,
	})
}
