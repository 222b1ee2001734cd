package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"custodian/internal/authz"
	"custodian/internal/bpd/cache"
	"custodian/internal/bpd/models"
	"custodian/internal/bpd/store"
	walletmodels "custodian/internal/wallet/models"
	walletservice "custodian/internal/wallet/service"
	walletstore "custodian/internal/wallet/store"
	dErrors "custodian/pkg/domain-errors"
	"custodian/pkg/platform/audit"
	"custodian/pkg/requestcontext"
)

const (
	authorityBPN = "BPNL000000000000"
	holderBPN    = "BPNL000000000001"
	otherBPN     = "BPNL000000000002"
	unknownBPN   = "BPNL000000000009"
)

var pulledAt = time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)

type fakeUpstream struct {
	partners    map[string]models.BusinessPartner
	gate        chan struct{}
	calls       atomic.Int32
	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func (f *fakeUpstream) LegalEntity(ctx context.Context, bpn string) (*models.BusinessPartner, error) {
	f.calls.Add(1)
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		m := f.maxInflight.Load()
		if n <= m || f.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	bp, ok := f.partners[bpn]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "business partner "+bpn+" not found")
	}
	return &bp, nil
}

type recordingAuditor struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingAuditor) Record(_ context.Context, e audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingAuditor) decisions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Decision)
	}
	return out
}

type ServiceSuite struct {
	suite.Suite
	upstream *fakeUpstream
	store    *store.InMemoryStore
	wallets  *walletstore.InMemoryStore
	issuer   *walletservice.Service
	auditor  *recordingAuditor
	metrics  *Metrics
	service  *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.upstream = &fakeUpstream{partners: map[string]models.BusinessPartner{
		holderBPN: {
			BPN:       holderBPN,
			LegalName: "Acme GmbH",
			LegalForm: "GmbH",
			Addresses: []models.Address{{Country: "DE", City: "Berlin"}},
		},
		otherBPN: {BPN: otherBPN, LegalName: "Other AG", Addresses: []models.Address{}},
	}}
	s.store = store.NewInMemoryStore()
	s.wallets = walletstore.NewInMemoryStore()
	s.issuer = walletservice.New(s.wallets, walletservice.Config{AuthorityBPN: authorityBPN, DIDHost: "localhost:8080"})
	_, err := s.issuer.EnsureAuthorityWallet(context.Background())
	s.Require().NoError(err)

	s.auditor = &recordingAuditor{}
	s.metrics = NewMetrics(prometheus.NewRegistry())
	s.service = s.newService(Config{PullTimeout: 2 * time.Second, RefreshLimit: 2})
}

func (s *ServiceSuite) TearDownTest() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.service.Close(ctx)
}

func (s *ServiceSuite) newService(cfg Config, opts ...Option) *Service {
	opts = append([]Option{
		WithAuditor(s.auditor),
		WithMetrics(s.metrics),
		WithClock(func() time.Time { return pulledAt }),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	return New(s.upstream, s.store, s.issuer, s.wallets, cfg, opts...)
}

func (s *ServiceSuite) createWallet(bpn string) {
	ctx := requestcontext.WithIdentity(context.Background(), &requestcontext.Identity{
		Subject: "admin", Roles: []string{authz.RoleAddWallets},
	})
	_, err := s.issuer.Create(ctx, walletmodels.CreateWalletRequest{BPN: bpn, Name: "Partner " + bpn})
	s.Require().NoError(err)
}

func (s *ServiceSuite) heldTypes(bpn string) []string {
	w, err := s.wallets.WalletByBPN(context.Background(), bpn)
	s.Require().NoError(err)
	records, err := s.wallets.ListCredentials(context.Background(), walletmodels.CredentialFilter{HolderDID: w.DID})
	s.Require().NoError(err)
	types := make([]string, 0, len(records))
	for _, r := range records {
		types = append(types, r.Credential.Type[1])
	}
	return types
}

func caller(bpn string, roles ...string) context.Context {
	return requestcontext.WithIdentity(context.Background(), &requestcontext.Identity{Subject: "user", BPN: bpn, Roles: roles})
}

// =============================================================================
// Pull
// =============================================================================

func (s *ServiceSuite) TestPullIssuesCredentialsIntoWallet() {
	s.createWallet(holderBPN)

	bp, err := s.service.Pull(context.Background(), holderBPN)
	s.Require().NoError(err)
	s.Equal("Acme GmbH", bp.LegalName)
	s.True(bp.UpdatedAt.Equal(pulledAt))

	stored, err := s.store.FindByBPN(context.Background(), holderBPN)
	s.Require().NoError(err)
	s.Equal(bp, stored)

	s.ElementsMatch([]string{
		walletmodels.TypeBpnCredential,
		walletmodels.TypeNameCredential,
		walletmodels.TypeAddressCredential,
	}, s.heldTypes(holderBPN))
	s.Equal(3.0, testutil.ToFloat64(s.metrics.CredentialsIssued.WithLabelValues(walletmodels.TypeBpnCredential))+
		testutil.ToFloat64(s.metrics.CredentialsIssued.WithLabelValues(walletmodels.TypeNameCredential))+
		testutil.ToFloat64(s.metrics.CredentialsIssued.WithLabelValues(walletmodels.TypeAddressCredential)))
	s.Equal([]string{audit.DecisionGranted}, s.auditor.decisions())
}

func (s *ServiceSuite) TestRepeatedPullDoesNotDuplicateCredentials() {
	s.createWallet(holderBPN)

	for range 3 {
		_, err := s.service.Pull(context.Background(), holderBPN)
		s.Require().NoError(err)
	}

	s.Len(s.heldTypes(holderBPN), 3)
	s.Equal(3.0, testutil.ToFloat64(s.metrics.Pulls.WithLabelValues("succeeded")))
}

func (s *ServiceSuite) TestPullWithoutAddressesSkipsAddressCredential() {
	s.createWallet(otherBPN)

	_, err := s.service.Pull(context.Background(), otherBPN)
	s.Require().NoError(err)

	s.ElementsMatch([]string{walletmodels.TypeBpnCredential, walletmodels.TypeNameCredential}, s.heldTypes(otherBPN))
}

func (s *ServiceSuite) TestPullWithoutWalletOnlyStoresData() {
	_, err := s.service.Pull(context.Background(), holderBPN)
	s.Require().NoError(err)

	_, err = s.store.FindByBPN(context.Background(), holderBPN)
	s.NoError(err)
	records, err := s.wallets.ListCredentials(context.Background(), walletmodels.CredentialFilter{})
	s.Require().NoError(err)
	s.Empty(records)
}

func (s *ServiceSuite) TestPullErrors() {
	_, err := s.service.Pull(context.Background(), "not-a-bpn")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.Zero(s.upstream.calls.Load())

	_, err = s.service.Pull(context.Background(), unknownBPN)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	_, err = s.store.FindByBPN(context.Background(), unknownBPN)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	s.Equal([]string{audit.DecisionDenied}, s.auditor.decisions())
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Pulls.WithLabelValues("failed")))
}

func (s *ServiceSuite) TestPullWithoutUpstreamIsUnavailable() {
	svc := New(nil, s.store, s.issuer, s.wallets, Config{})
	defer svc.Close(context.Background()) //nolint:errcheck

	_, err := svc.Pull(context.Background(), holderBPN)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
}

func (s *ServiceSuite) TestPullReadsThroughCache() {
	mem := cache.NewMemoryCache(time.Minute, 16, nil)
	defer mem.Stop()
	svc := s.newService(Config{}, WithCache(mem))
	defer svc.Close(context.Background()) //nolint:errcheck

	for range 2 {
		_, err := svc.Pull(context.Background(), holderBPN)
		s.Require().NoError(err)
	}

	s.Equal(int32(1), s.upstream.calls.Load())
	cached, err := mem.Find(context.Background(), holderBPN)
	s.Require().NoError(err)
	s.Equal("Acme GmbH", cached.LegalName)
}

func (s *ServiceSuite) TestConcurrentPullsShareOneUpstreamCall() {
	s.createWallet(holderBPN)
	s.upstream.gate = make(chan struct{})

	const callers = 5
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.service.Pull(context.Background(), holderBPN)
			errs <- err
		}()
	}

	s.Eventually(func() bool { return s.upstream.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(s.upstream.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		s.NoError(err)
	}
	s.Equal(int32(1), s.upstream.calls.Load())
	s.Len(s.heldTypes(holderBPN), 3)
}

func (s *ServiceSuite) TestCallerCancellationDoesNotAbortSharedPull() {
	s.upstream.gate = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := s.service.Pull(ctx, holderBPN)
		done <- err
	}()
	s.Eventually(func() bool { return s.upstream.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	s.ErrorIs(<-done, context.Canceled)

	close(s.upstream.gate)
	s.Eventually(func() bool {
		_, err := s.store.FindByBPN(context.Background(), holderBPN)
		return err == nil
	}, time.Second, 5*time.Millisecond)
}

// =============================================================================
// Background pulls
// =============================================================================

func (s *ServiceSuite) TestPullAsyncIsDrainedOnClose() {
	s.createWallet(holderBPN)
	s.upstream.gate = make(chan struct{})

	s.service.PullAsync(requestcontext.WithRequestID(context.Background(), "req-1"), holderBPN)
	s.Eventually(func() bool { return s.upstream.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	closed := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		closed <- s.service.Close(ctx)
	}()
	close(s.upstream.gate)

	s.NoError(<-closed)
	s.Len(s.heldTypes(holderBPN), 3)

	s.service.PullAsync(context.Background(), otherBPN)
	s.Equal(int32(1), s.upstream.calls.Load())
}

func (s *ServiceSuite) TestCloseCancelsPullsPastDeadline() {
	s.upstream.gate = make(chan struct{})
	defer close(s.upstream.gate)

	s.service.PullAsync(context.Background(), holderBPN)
	s.Eventually(func() bool { return s.upstream.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	s.ErrorIs(s.service.Close(ctx), context.DeadlineExceeded)

	s.Eventually(func() bool { return s.upstream.inflight.Load() == 0 }, time.Second, 5*time.Millisecond)
	_, err := s.store.FindByBPN(context.Background(), holderBPN)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

// =============================================================================
// Refresh and Get
// =============================================================================

func (s *ServiceSuite) TestRefreshRequiresUpdateRole() {
	_, err := s.service.Refresh(caller(holderBPN, authz.RoleUpdateWallet), []string{holderBPN})
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	_, err = s.service.Refresh(context.Background(), nil)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *ServiceSuite) TestRefreshReportsPerBPN() {
	result, err := s.service.Refresh(caller("", authz.RoleUpdateWallets), []string{otherBPN, holderBPN, unknownBPN, holderBPN})
	s.Require().NoError(err)

	s.Equal([]string{holderBPN, otherBPN}, result.Refreshed)
	s.Len(result.Failed, 1)
	s.Equal("business partner "+unknownBPN+" not found", result.Failed[unknownBPN])
	s.Equal(int32(3), s.upstream.calls.Load())
}

func (s *ServiceSuite) TestRefreshAllCoversPartnerWallets() {
	s.createWallet(holderBPN)
	s.createWallet(otherBPN)

	result, err := s.service.Refresh(caller("", authz.RoleUpdateWallets), nil)
	s.Require().NoError(err)

	s.Equal([]string{holderBPN, otherBPN}, result.Refreshed)
	s.Empty(result.Failed)
	_, err = s.store.FindByBPN(context.Background(), authorityBPN)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestRefreshBoundsConcurrency() {
	for i := range 6 {
		bpn := "BPNL00000000010" + string(rune('0'+i))
		s.upstream.partners[bpn] = models.BusinessPartner{BPN: bpn, LegalName: "Partner " + bpn}
	}
	bpns := make([]string, 0, len(s.upstream.partners))
	for bpn := range s.upstream.partners {
		bpns = append(bpns, bpn)
	}
	s.upstream.gate = make(chan struct{})

	done := make(chan *models.RefreshResult, 1)
	go func() {
		result, err := s.service.Refresh(caller("", authz.RoleUpdateWallets), bpns)
		s.NoError(err)
		done <- result
	}()

	s.Eventually(func() bool { return s.upstream.inflight.Load() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	s.Equal(int32(2), s.upstream.maxInflight.Load())
	close(s.upstream.gate)

	result := <-done
	s.Len(result.Refreshed, len(bpns))
	s.Equal(int32(2), s.upstream.maxInflight.Load())
}

func (s *ServiceSuite) TestGet() {
	_, err := s.service.Pull(context.Background(), holderBPN)
	s.Require().NoError(err)

	bp, err := s.service.Get(caller(holderBPN, authz.RoleViewWallet), holderBPN)
	s.Require().NoError(err)
	s.Equal("Acme GmbH", bp.LegalName)

	_, err = s.service.Get(caller(otherBPN, authz.RoleViewWallet), holderBPN)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	_, err = s.service.Get(caller("", authz.RoleViewWallets), otherBPN)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = s.service.Get(caller("", authz.RoleViewWallets), "bpn")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

// =============================================================================
// Scheduler
// =============================================================================

func (s *ServiceSuite) TestSchedulerRejectsInvalidSpec() {
	_, err := NewScheduler(s.service, "every now and then", slog.New(slog.DiscardHandler))
	s.Error(err)
}

func (s *ServiceSuite) TestScheduledRunRefreshesAllWallets() {
	s.createWallet(holderBPN)
	sch, err := NewScheduler(s.service, "@every 1h", slog.New(slog.DiscardHandler))
	s.Require().NoError(err)

	sch.run()

	_, err = s.store.FindByBPN(context.Background(), holderBPN)
	s.NoError(err)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.ScheduledRuns.WithLabelValues("succeeded")))

	sch.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.NoError(sch.Stop(ctx))
}
