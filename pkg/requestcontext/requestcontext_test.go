package requestcontext

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIdentityRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, IdentityFrom(ctx))

	identity := &Identity{Subject: "svc-user", BPN: "BPNL000000000001", Roles: []string{"view_wallet"}}
	ctx = WithIdentity(ctx, identity)

	assert.Same(t, identity, IdentityFrom(ctx))
	assert.True(t, IdentityFrom(ctx).HasRole("view_wallet"))
	assert.False(t, IdentityFrom(ctx).HasRole("view_wallets"))
}

func TestHasRoleOnNilIdentity(t *testing.T) {
	var identity *Identity
	assert.False(t, identity.HasRole("view_wallets"))
}

func TestNowFallsBackToWallClock(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, fixed, Now(WithTime(context.Background(), fixed)))
	assert.WithinDuration(t, time.Now(), Now(context.Background()), time.Second)
}

func TestRequestMetadata(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithClientIP(ctx, "10.0.0.1")
	ctx = WithUserAgent(ctx, "curl/8.0")

	assert.Equal(t, "req-1", RequestID(ctx))
	assert.Equal(t, "10.0.0.1", ClientIP(ctx))
	assert.Equal(t, "curl/8.0", UserAgent(ctx))
	assert.Equal(t, "", RequestID(context.Background()))
}
