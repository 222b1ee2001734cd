package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"custodian/pkg/requestcontext"
)

// Scheduler refreshes the data of every partner wallet on a cron schedule.
// A run still in progress when the next one is due skips the next one.
type Scheduler struct {
	cron    *cron.Cron
	service *Service
	logger  *slog.Logger
}

func NewScheduler(svc *Service, spec string, logger *slog.Logger) (*Scheduler, error) {
	log := cronLogger{logger: logger}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(log),
			cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
		),
		service: svc,
		logger:  logger,
	}
	if _, err := s.cron.AddFunc(spec, s.run); err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents further runs and waits for a running one until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run() {
	ctx := requestcontext.WithRequestID(s.service.base, "refresh-"+uuid.NewString())
	result, err := s.service.refresh(ctx, nil)
	if err != nil {
		s.service.metrics.observeScheduled("failed")
		s.logger.ErrorContext(ctx, "scheduled business partner refresh failed", "error", err)
		return
	}
	outcome := "succeeded"
	if len(result.Failed) > 0 {
		outcome = "partial"
	}
	s.service.metrics.observeScheduled(outcome)
}

// cronLogger adapts slog to the cron logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
