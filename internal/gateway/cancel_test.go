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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodian/pkg/requestcontext"
)

// spyWriter fails the test on any attempt to produce a response.
type spyWriter struct {
	mu      sync.Mutex
	header  http.Header
	status  int
	written int
}

func newSpyWriter() *spyWriter {
	return &spyWriter{header: http.Header{}}
}

func (w *spyWriter) Header() http.Header {
	return w.header
}

func (w *spyWriter) WriteHeader(code int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = code
}

func (w *spyWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.written += len(b)
	return len(b), nil
}

func (w *spyWriter) untouched() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status == 0 && w.written == 0 && len(w.header) == 0
}

// blockingAuthenticator signals entry and waits for release or cancellation.
type blockingAuthenticator struct {
	entered     chan struct{}
	release     chan struct{}
	ignoreCtx   bool
	enteredOnce sync.Once
}

func newBlockingAuthenticator(ignoreCtx bool) *blockingAuthenticator {
	return &blockingAuthenticator{
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
		ignoreCtx: ignoreCtx,
	}
}

func (a *blockingAuthenticator) Authenticate(ctx context.Context, _ string) (*requestcontext.Identity, error) {
	a.enteredOnce.Do(func() { close(a.entered) })
	if a.ignoreCtx {
		<-a.release
		return walletIdentity, nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-a.release:
		return walletIdentity, nil
	}
}

func serveAsync(ctx context.Context, gw *Gateway, w http.ResponseWriter) <-chan struct{} {
	req := httptest.NewRequest(http.MethodGet, "/api/wallet/123", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+validToken)
	done := make(chan struct{})
	go func() {
		defer close(done)
		gw.ServeHTTP(w, req)
	}()
	return done
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
}

func TestCancelledDuringAuthenticationEmitsNothing(t *testing.T) {
	for _, ignoreCtx := range []bool{false, true} {
		name := "authenticator honors cancellation"
		if ignoreCtx {
			name = "authenticator returns success after cancellation"
		}
		t.Run(name, func(t *testing.T) {
			authn := newBlockingAuthenticator(ignoreCtx)
			wallet := &spyGroup{}
			metrics := NewMetrics(prometheus.NewRegistry())
			gw, err := New("/api", authn, RouteTable{{Group: GroupWallet, Prefix: "/wallet", Handler: wallet}}, WithMetrics(metrics))
			require.NoError(t, err)

			ctx, cancel := context.WithCancel(context.Background())
			w := newSpyWriter()
			done := serveAsync(ctx, gw, w)

			waitFor(t, authn.entered)
			cancel()
			if ignoreCtx {
				close(authn.release)
			}
			waitFor(t, done)

			assert.True(t, w.untouched())
			assert.Empty(t, wallet.snapshot())
			assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Cancelled))
		})
	}
}

// slowGroup writes only after the request context is done.
type slowGroup struct {
	entered chan struct{}
}

func (g *slowGroup) Register(r chi.Router) {
	r.Get("/wallet/{id}", func(w http.ResponseWriter, r *http.Request) {
		close(g.entered)
		<-r.Context().Done()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("late"))
	})
}

func TestCancellationPropagatesToDispatchedGroup(t *testing.T) {
	group := &slowGroup{entered: make(chan struct{})}
	authn := &stubAuthenticator{identities: map[string]*requestcontext.Identity{validToken: walletIdentity}}
	gw, err := New("/api", authn, RouteTable{{Group: GroupWallet, Prefix: "/wallet", Handler: group}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	w := newSpyWriter()
	done := serveAsync(ctx, gw, w)

	waitFor(t, group.entered)
	cancel()
	waitFor(t, done)

	assert.True(t, w.untouched())
}
