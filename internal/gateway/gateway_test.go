package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"github.com/tidwall/gjson"

	"custodian/internal/auth/jwtauth"
	dErrors "custodian/pkg/domain-errors"
	"custodian/pkg/platform/audit"
	"custodian/pkg/platform/httputil"
	"custodian/pkg/requestcontext"
)

const (
	validToken = "valid-token"
	otherToken = "other-token"
)

var (
	walletIdentity = &requestcontext.Identity{Subject: "user-1", BPN: "BPNL000000000001", Roles: []string{"view_wallet"}}
	otherIdentity  = &requestcontext.Identity{Subject: "user-2", BPN: "BPNL000000000002"}
)

type stubAuthenticator struct {
	mu         sync.Mutex
	calls      int
	identities map[string]*requestcontext.Identity
}

func (a *stubAuthenticator) Authenticate(_ context.Context, token string) (*requestcontext.Identity, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if identity, ok := a.identities[token]; ok {
		return identity, nil
	}
	return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token signature")
}

func (a *stubAuthenticator) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type spyCall struct {
	path     string
	id       string
	identity *requestcontext.Identity
}

// spyGroup stands in for the wallet handler group.
type spyGroup struct {
	mu    sync.Mutex
	calls []spyCall
}

func (s *spyGroup) Register(r chi.Router) {
	r.Get("/wallet/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.record(r)
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"id": chi.URLParam(r, "id")})
	})
	r.Get("/wallet/{id}/fail", func(w http.ResponseWriter, r *http.Request) {
		s.record(r)
		w.Header().Set("X-Handler", "wallet")
		http.Error(w, "teapot", http.StatusTeapot)
	})
}

func (s *spyGroup) record(r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, spyCall{
		path:     r.URL.Path,
		id:       chi.URLParam(r, "id"),
		identity: requestcontext.IdentityFrom(r.Context()),
	})
}

func (s *spyGroup) snapshot() []spyCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]spyCall(nil), s.calls...)
}

type fakeAuditor struct {
	mu     sync.Mutex
	events []audit.Event
}

func (f *fakeAuditor) Record(_ context.Context, event audit.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

type GatewaySuite struct {
	suite.Suite
	authn   *stubAuthenticator
	wallet  *spyGroup
	metrics *Metrics
	auditor *fakeAuditor
	gateway *Gateway
}

func TestGatewaySuite(t *testing.T) {
	suite.Run(t, new(GatewaySuite))
}

func (s *GatewaySuite) SetupTest() {
	s.authn = &stubAuthenticator{identities: map[string]*requestcontext.Identity{
		validToken: walletIdentity,
		otherToken: otherIdentity,
	}}
	s.wallet = &spyGroup{}
	s.metrics = NewMetrics(prometheus.NewRegistry())
	s.auditor = &fakeAuditor{}

	gw, err := New("/api", s.authn, RouteTable{
		{Group: GroupWallet, Prefix: "/wallet", Handler: s.wallet},
	}, WithMetrics(s.metrics), WithAuditor(s.auditor))
	s.Require().NoError(err)
	s.gateway = gw
}

func (s *GatewaySuite) serve(method, target, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	s.gateway.ServeHTTP(rec, req)
	return rec
}

func (s *GatewaySuite) TestDispatchesToWalletGroupWithStrippedPathAndIdentity() {
	rec := s.serve(http.MethodGet, "/api/wallet/123", "Bearer "+validToken)

	s.Equal(http.StatusOK, rec.Code)
	s.Equal("123", gjson.Get(rec.Body.String(), "id").String())

	calls := s.wallet.snapshot()
	s.Require().Len(calls, 1)
	s.Equal("/wallet/123", calls[0].path)
	s.Equal("123", calls[0].id)
	s.Same(walletIdentity, calls[0].identity)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Dispatches.WithLabelValues(GroupWallet, "200")))
}

func (s *GatewaySuite) TestMissingAuthorizationIsUnauthorized() {
	rec := s.serve(http.MethodGet, "/api/wallet/123", "")

	s.Equal(http.StatusUnauthorized, rec.Code)
	s.Equal("Bearer", rec.Header().Get("WWW-Authenticate"))
	s.Equal("unauthorized", gjson.Get(rec.Body.String(), "error").String())
	s.Equal("missing authorization header", gjson.Get(rec.Body.String(), "error_description").String())
	s.Empty(s.wallet.snapshot())
	s.Zero(s.authn.callCount())
	s.Equal(1.0, testutil.ToFloat64(s.metrics.AuthFailures.WithLabelValues(reasonMissingToken)))

	s.Require().Len(s.auditor.events, 1)
	s.Equal(audit.ActionAuthFailed, s.auditor.events[0].Action)
	s.Equal(audit.DecisionDenied, s.auditor.events[0].Decision)
}

func (s *GatewaySuite) TestMalformedAuthorizationIsUnauthorized() {
	for _, header := range []string{"Basic dXNlcjpwYXNz", "Bearer", "Bearer    ", validToken} {
		s.Run(header, func() {
			rec := s.serve(http.MethodGet, "/api/wallet/123", header)
			s.Equal(http.StatusUnauthorized, rec.Code)
		})
	}
	s.Empty(s.wallet.snapshot())
	s.Zero(s.authn.callCount())
}

func (s *GatewaySuite) TestSchemeWordIsCaseInsensitive() {
	rec := s.serve(http.MethodGet, "/api/wallet/123", "bearer "+validToken)
	s.Equal(http.StatusOK, rec.Code)
}

func (s *GatewaySuite) TestRejectedTokenIsUnauthorized() {
	rec := s.serve(http.MethodGet, "/api/wallet/123", "Bearer forged")

	s.Equal(http.StatusUnauthorized, rec.Code)
	s.Equal(`Bearer error="invalid_token"`, rec.Header().Get("WWW-Authenticate"))
	s.Equal("invalid token signature", gjson.Get(rec.Body.String(), "error_description").String())
	s.Empty(s.wallet.snapshot())
	s.Equal(1.0, testutil.ToFloat64(s.metrics.AuthFailures.WithLabelValues(reasonInvalidToken)))
}

func (s *GatewaySuite) TestAuthenticatorInternalMessagesAreHidden() {
	gw, err := New("/api", AuthenticatorFunc(func(context.Context, string) (*requestcontext.Identity, error) {
		return nil, context.DeadlineExceeded
	}), RouteTable{{Group: GroupWallet, Prefix: "/wallet", Handler: s.wallet}})
	s.Require().NoError(err)

	req := httptest.NewRequest(http.MethodGet, "/api/wallet/123", nil)
	req.Header.Set("Authorization", "Bearer "+validToken)
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)

	s.Equal(http.StatusUnauthorized, rec.Code)
	s.Equal("invalid token", gjson.Get(rec.Body.String(), "error_description").String())
}

func (s *GatewaySuite) TestNilIdentityIsUnauthorized() {
	gw, err := New("/api", AuthenticatorFunc(func(context.Context, string) (*requestcontext.Identity, error) {
		return nil, nil
	}), RouteTable{{Group: GroupWallet, Prefix: "/wallet", Handler: s.wallet}})
	s.Require().NoError(err)

	req := httptest.NewRequest(http.MethodGet, "/api/wallet/123", nil)
	req.Header.Set("Authorization", "Bearer "+validToken)
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)

	s.Equal(http.StatusUnauthorized, rec.Code)
	s.Empty(s.wallet.snapshot())
}

func (s *GatewaySuite) TestUnmatchedPathIsNotFound() {
	for _, target := range []string{"/api/unknown", "/api/walletx/123", "/api"} {
		s.Run(target, func() {
			rec := s.serve(http.MethodGet, target, "Bearer "+validToken)
			s.Equal(http.StatusNotFound, rec.Code)
			s.Equal("not_found", gjson.Get(rec.Body.String(), "error").String())
		})
	}
	s.Empty(s.wallet.snapshot())
}

func (s *GatewaySuite) TestOutsideRootIsNotFoundWithoutAuthentication() {
	for _, target := range []string{"/wallet/123", "/apix/wallet/123", "/"} {
		s.Run(target, func() {
			rec := s.serve(http.MethodGet, target, "Bearer "+validToken)
			s.Equal(http.StatusNotFound, rec.Code)
		})
	}
	s.Zero(s.authn.callCount())
}

func (s *GatewaySuite) TestGroupOwnsMethodAndPathMatching() {
	rec := s.serve(http.MethodPost, "/api/wallet/123", "Bearer "+validToken)
	s.Equal(http.StatusMethodNotAllowed, rec.Code)
	s.Equal("method_not_allowed", gjson.Get(rec.Body.String(), "error").String())

	rec = s.serve(http.MethodGet, "/api/wallet", "Bearer "+validToken)
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *GatewaySuite) TestHandlerErrorsPassThroughUnchanged() {
	rec := s.serve(http.MethodGet, "/api/wallet/123/fail", "Bearer "+validToken)

	s.Equal(http.StatusTeapot, rec.Code)
	s.Equal("wallet", rec.Header().Get("X-Handler"))
	s.Equal("teapot\n", rec.Body.String())
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Dispatches.WithLabelValues(GroupWallet, "418")))
}

func (s *GatewaySuite) TestRepeatedRequestsDispatchIndependently() {
	first := s.serve(http.MethodGet, "/api/wallet/123", "Bearer "+validToken)
	second := s.serve(http.MethodGet, "/api/wallet/123", "Bearer "+validToken)
	third := s.serve(http.MethodGet, "/api/wallet/123", "Bearer "+otherToken)

	s.Equal(http.StatusOK, first.Code)
	s.Equal(http.StatusOK, second.Code)
	s.Equal(first.Body.String(), second.Body.String())
	s.Equal(http.StatusOK, third.Code)

	calls := s.wallet.snapshot()
	s.Require().Len(calls, 3)
	s.Same(walletIdentity, calls[0].identity)
	s.Same(walletIdentity, calls[1].identity)
	s.Same(otherIdentity, calls[2].identity)
	s.Equal(3, s.authn.callCount())
}

func (s *GatewaySuite) TestEscapedPathIsStripped() {
	rec := s.serve(http.MethodGet, "/api/wallet/did:web:host%3A8080:BPNL000000000001", "Bearer "+validToken)

	s.Equal(http.StatusOK, rec.Code)
	calls := s.wallet.snapshot()
	s.Require().Len(calls, 1)
	s.Equal("/wallet/did:web:host:8080:BPNL000000000001", calls[0].path)
	s.Equal("did:web:host%3A8080:BPNL000000000001", calls[0].id)
}

func (s *GatewaySuite) TestMountedBelowChiRouter() {
	root := chi.NewRouter()
	root.Handle("/api", s.gateway)
	root.Handle("/api/*", s.gateway)

	req := httptest.NewRequest(http.MethodGet, "/api/wallet/123", nil)
	req.Header.Set("Authorization", "Bearer "+validToken)
	rec := httptest.NewRecorder()
	root.ServeHTTP(rec, req)

	s.Equal(http.StatusOK, rec.Code)
	calls := s.wallet.snapshot()
	s.Require().Len(calls, 1)
	s.Equal("123", calls[0].id)
}

func TestNewRejectsInvalidConfiguration(t *testing.T) {
	authn := &stubAuthenticator{}
	group := &spyGroup{}

	tests := []struct {
		name  string
		root  string
		authn Authenticator
		table RouteTable
	}{
		{"empty root", "", authn, nil},
		{"relative root", "api", authn, nil},
		{"slash root", "/", authn, nil},
		{"trailing slash root", "/api/", authn, nil},
		{"nil authenticator", "/api", nil, nil},
		{"relative prefix", "/api", authn, RouteTable{{Group: GroupWallet, Prefix: "wallets", Handler: group}}},
		{"slash prefix", "/api", authn, RouteTable{{Group: GroupWallet, Prefix: "/", Handler: group}}},
		{"nil handler", "/api", authn, RouteTable{{Group: GroupWallet, Prefix: "/wallets"}}},
		{"missing group", "/api", authn, RouteTable{{Prefix: "/wallets", Handler: group}}},
		{"duplicate prefix", "/api", authn, RouteTable{
			{Group: GroupWallet, Prefix: "/wallets", Handler: group},
			{Group: GroupVC, Prefix: "/wallets", Handler: group},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.root, tt.authn, tt.table)
			if err == nil {
				t.Fatalf("expected error for %s", tt.name)
			}
		})
	}
}

func TestRoutesAreExposed(t *testing.T) {
	groups := Groups{
		Wallet:              &spyGroup{},
		BusinessPartnerData: &spyGroup{},
		DIDDocument:         &spyGroup{},
		VC:                  &spyGroup{},
		VP:                  &spyGroup{},
	}
	gw, err := New("/api", &stubAuthenticator{}, DefaultRoutes(groups))
	if err != nil {
		t.Fatal(err)
	}

	want := []Route{
		{Group: GroupWallet, Prefix: "/wallets"},
		{Group: GroupBusinessPartnerData, Prefix: "/businessPartnerDataRefresh"},
		{Group: GroupBusinessPartnerData, Prefix: "/businessPartners"},
		{Group: GroupDIDDocument, Prefix: "/didDocuments"},
		{Group: GroupVC, Prefix: "/credentials"},
		{Group: GroupVP, Prefix: "/presentations"},
	}
	got := gw.Routes()
	if len(got) != len(want) {
		t.Fatalf("routes = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("route %d = %v, want %v", i, got[i], want[i])
		}
	}
}

// namedGroup answers every path with its own name.
type namedGroup string

func (g namedGroup) Register(r chi.Router) {
	r.HandleFunc("/*", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"group": string(g), "path": r.URL.Path})
	})
}

func TestDefaultRoutesDispatchToEachGroup(t *testing.T) {
	authn := &stubAuthenticator{identities: map[string]*requestcontext.Identity{validToken: walletIdentity}}
	gw, err := New("/api", authn, DefaultRoutes(Groups{
		Wallet:              namedGroup(GroupWallet),
		BusinessPartnerData: namedGroup(GroupBusinessPartnerData),
		DIDDocument:         namedGroup(GroupDIDDocument),
		VC:                  namedGroup(GroupVC),
		VP:                  namedGroup(GroupVP),
	}))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		target string
		group  string
		path   string
	}{
		{"/api/wallets", GroupWallet, "/wallets"},
		{"/api/wallets/BPNL000000000001/credentials", GroupWallet, "/wallets/BPNL000000000001/credentials"},
		{"/api/businessPartnerDataRefresh", GroupBusinessPartnerData, "/businessPartnerDataRefresh"},
		{"/api/businessPartners/BPNL000000000001", GroupBusinessPartnerData, "/businessPartners/BPNL000000000001"},
		{"/api/didDocuments/BPNL000000000001", GroupDIDDocument, "/didDocuments/BPNL000000000001"},
		{"/api/credentials/validation", GroupVC, "/credentials/validation"},
		{"/api/presentations", GroupVP, "/presentations"},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.target, nil)
			req.Header.Set("Authorization", "Bearer "+validToken)
			rec := httptest.NewRecorder()
			gw.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			body := rec.Body.String()
			if got := gjson.Get(body, "group").String(); got != tt.group {
				t.Fatalf("group = %q, want %q", got, tt.group)
			}
			if got := gjson.Get(body, "path").String(); got != tt.path {
				t.Fatalf("path = %q, want %q", got, tt.path)
			}
		})
	}
}

func TestJWTValidatorBehindGateway(t *testing.T) {
	secret := []byte("gateway-test-secret")
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	validator, err := jwtauth.NewValidator(jwtauth.Options{
		Algorithm:  "HS256",
		HMACSecret: secret,
		Issuer:     "custodian",
		ClientID:   "custodian",
		Now:        func() time.Time { return now },
	})
	if err != nil {
		t.Fatal(err)
	}
	wallet := &spyGroup{}
	gw, err := New("/api", validator, RouteTable{{Group: GroupWallet, Prefix: "/wallet", Handler: wallet}})
	if err != nil {
		t.Fatal(err)
	}

	issue := func(key []byte, issuedAt time.Time) string {
		token, err := jwtauth.NewIssuer(key, "custodian", "", "custodian", 15*time.Minute).
			Issue(requestcontext.WithTime(context.Background(), issuedAt), jwtauth.TokenRequest{
				Subject: "user-1",
				BPN:     "BPNL000000000001",
				Roles:   []string{"view_wallet"},
			})
		if err != nil {
			t.Fatal(err)
		}
		return token
	}

	tests := []struct {
		name        string
		token       string
		status      int
		description string
	}{
		{"valid", issue(secret, now.Add(-time.Minute)), http.StatusOK, ""},
		{"expired", issue(secret, now.Add(-time.Hour)), http.StatusUnauthorized, "token expired"},
		{"forged", issue([]byte("other-secret"), now.Add(-time.Minute)), http.StatusUnauthorized, "invalid token signature"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/wallet/123", nil)
			req.Header.Set("Authorization", "Bearer "+tt.token)
			rec := httptest.NewRecorder()
			gw.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.description != "" {
				if got := gjson.Get(rec.Body.String(), "error_description").String(); got != tt.description {
					t.Fatalf("description = %q, want %q", got, tt.description)
				}
			}
		})
	}

	calls := wallet.snapshot()
	if len(calls) != 1 {
		t.Fatalf("wallet group calls = %d, want 1", len(calls))
	}
	if calls[0].identity.Subject != "user-1" || calls[0].identity.BPN != "BPNL000000000001" {
		t.Fatalf("identity = %+v", calls[0].identity)
	}
}
