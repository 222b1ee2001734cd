package audit

import (
	"context"
	"log/slog"

	"custodian/pkg/requestcontext"
)

// Recorder fills request-scoped fields into events before emitting them.
// Emission failures are logged and never surface to the caller.
type Recorder struct {
	logger  *slog.Logger
	emitter Emitter
}

func NewRecorder(logger *slog.Logger, emitter Emitter) *Recorder {
	return &Recorder{logger: logger, emitter: emitter}
}

// Record emits event enriched with the caller identity, request id and
// request time taken from ctx.
func (r *Recorder) Record(ctx context.Context, event Event) {
	if r == nil || r.emitter == nil {
		return
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if identity := requestcontext.IdentityFrom(ctx); identity != nil {
		if event.Subject == "" {
			event.Subject = identity.Subject
		}
		if event.BPN == "" {
			event.BPN = identity.BPN
		}
	}

	if err := r.emitter.Emit(ctx, event); err != nil && r.logger != nil {
		r.logger.ErrorContext(ctx, "failed to emit audit event",
			"error", err,
			"action", event.Action,
			"request_id", event.RequestID,
		)
	}
}
