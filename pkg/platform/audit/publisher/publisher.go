package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	dErrors "custodian/pkg/domain-errors"
	"custodian/pkg/platform/audit"
)

// Publisher fans audit events out to every configured sink. With an async
// buffer, Emit only enqueues and a background goroutine delivers.
type Publisher struct {
	sinks  []audit.Sink
	events chan audit.Event
	wg     sync.WaitGroup
	logger *slog.Logger
	async  bool
	once   sync.Once
}

type Option func(*Publisher)

// WithAsyncBuffer enables background delivery with a queue of size events.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		if size > 0 {
			p.events = make(chan audit.Event, size)
			p.async = true
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func New(sinks []audit.Sink, opts ...Option) *Publisher {
	p := &Publisher{sinks: sinks}
	for _, opt := range opts {
		opt(p)
	}
	if p.async {
		p.wg.Add(1)
		go p.drain()
	}
	return p
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for event := range p.events {
		if err := p.deliver(context.Background(), event); err != nil && p.logger != nil {
			p.logger.Error("failed to deliver audit event",
				"error", err,
				"action", event.Action,
				"request_id", event.RequestID,
			)
		}
	}
}

func (p *Publisher) deliver(ctx context.Context, event audit.Event) error {
	var errs []error
	for _, sink := range p.sinks {
		if err := sink.Append(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Emit delivers event to all sinks. In async mode a full buffer drops the
// event and returns an internal error.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if !p.async {
		return p.deliver(ctx, event)
	}
	select {
	case p.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		if p.logger != nil {
			p.logger.Warn("audit buffer full, event dropped", "action", event.Action)
		}
		return dErrors.New(dErrors.CodeInternal, "audit buffer full")
	}
}

// Close stops accepting events and waits for queued ones to drain.
func (p *Publisher) Close() {
	p.once.Do(func() {
		if p.async {
			close(p.events)
			p.wg.Wait()
		}
	})
}
