package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodian/pkg/requestcontext"
)

type captureEmitter struct {
	events []Event
	err    error
}

func (c *captureEmitter) Emit(_ context.Context, event Event) error {
	c.events = append(c.events, event)
	return c.err
}

func TestRecorderEnrichesFromContext(t *testing.T) {
	emitter := &captureEmitter{}
	rec := NewRecorder(nil, emitter)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithRequestID(context.Background(), "req-1")
	ctx = requestcontext.WithTime(ctx, now)
	ctx = requestcontext.WithIdentity(ctx, &requestcontext.Identity{Subject: "user-1", BPN: "BPNL000000000001"})

	rec.Record(ctx, Event{Action: ActionWalletCreated, Target: "did:web:localhost:BPNL000000000001"})

	require.Len(t, emitter.events, 1)
	got := emitter.events[0]
	assert.Equal(t, "req-1", got.RequestID)
	assert.Equal(t, now, got.Timestamp)
	assert.Equal(t, "user-1", got.Subject)
	assert.Equal(t, "BPNL000000000001", got.BPN)
}

func TestRecorderKeepsExplicitFields(t *testing.T) {
	emitter := &captureEmitter{}
	rec := NewRecorder(nil, emitter)
	ctx := requestcontext.WithIdentity(context.Background(), &requestcontext.Identity{Subject: "user-1", BPN: "BPNL000000000001"})

	rec.Record(ctx, Event{Action: ActionPartnerDataPulled, BPN: "BPNL000000000002"})

	require.Len(t, emitter.events, 1)
	assert.Equal(t, "BPNL000000000002", emitter.events[0].BPN)
}

func TestRecorderSwallowsEmitErrors(t *testing.T) {
	rec := NewRecorder(nil, &captureEmitter{err: errors.New("sink down")})

	assert.NotPanics(t, func() {
		rec.Record(context.Background(), Event{Action: ActionAuthFailed})
	})
}

func TestNilRecorderIsNoop(t *testing.T) {
	var rec *Recorder
	assert.NotPanics(t, func() {
		rec.Record(context.Background(), Event{Action: ActionAuthFailed})
	})
}
