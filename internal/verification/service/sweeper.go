package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"veriflow/internal/verification/ledger"
	vmetrics "veriflow/internal/verification/metrics"
	"veriflow/internal/verification/models"
	"veriflow/internal/verification/ports"
)

const DefaultSweepInterval = 10 * time.Minute

// Sweeper periodically removes records older than the retention window.
// Expiry is a terminal outcome: the user is told once, and provider sessions
// get their provider-side data scheduled for deletion.
type Sweeper struct {
	ledger     *ledger.Ledger
	notifier   ports.Notifier
	reconciler ports.ReconcileScheduler
	maxAge     time.Duration
	interval   time.Duration
	logger     *slog.Logger
	metrics    *vmetrics.Metrics
}

type SweeperOption func(*Sweeper)

func WithSweepInterval(interval time.Duration) SweeperOption {
	return func(s *Sweeper) {
		s.interval = interval
	}
}

func WithSweepLogger(logger *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

func WithSweepMetrics(m *vmetrics.Metrics) SweeperOption {
	return func(s *Sweeper) {
		s.metrics = m
	}
}

func NewSweeper(led *ledger.Ledger, notifier ports.Notifier, reconciler ports.ReconcileScheduler, maxAge time.Duration, opts ...SweeperOption) (*Sweeper, error) {
	if led == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	if reconciler == nil {
		return nil, fmt.Errorf("reconcile scheduler is required")
	}
	if maxAge <= 0 {
		maxAge = ledger.DefaultMaxAge
	}

	s := &Sweeper{
		ledger:     led,
		notifier:   notifier,
		reconciler: reconciler,
		maxAge:     maxAge,
		interval:   DefaultSweepInterval,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Run ticks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one expiry pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := time.Now()
	for _, entry := range s.ledger.Entries() {
		rec := entry.Record
		if !rec.ExpiredAt(now, s.maxAge) {
			continue
		}

		s.ledger.Delete(entry.Key)
		s.metrics.IncRecordExpired()
		s.logger.InfoContext(ctx, "verification record expired",
			"session_key", entry.Key,
			"subject_id", rec.SubjectID,
			"age", now.Sub(rec.CreatedAt).String(),
		)

		if err := s.notifier.Notify(ctx, rec.SubjectID,
			"Your identity verification attempt expired without completing. You can start a new one at any time."); err != nil {
			s.metrics.IncNotificationFailure()
			s.logger.WarnContext(ctx, "failed to deliver expiry notice",
				"subject_id", rec.SubjectID,
				"error", err.Error(),
			)
		}

		if rec.Kind != models.KindPendingApproval {
			s.reconciler.Schedule(entry.Key, rec.SubjectID)
		}
	}
}
