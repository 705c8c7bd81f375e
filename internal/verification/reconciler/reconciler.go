// Package reconciler guarantees, best effort, that provider-held personal
// data is purged after a verification reaches a terminal disposition. Each
// reconciliation runs as a detached goroutine with its own error boundary;
// its failure never propagates to the caller that scheduled it.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	vmetrics "veriflow/internal/verification/metrics"
	"veriflow/internal/verification/ports"
	dErrors "veriflow/pkg/domain-errors"
)

const (
	DefaultGraceDelay  = 5 * time.Minute
	DefaultBaseDelay   = 30 * time.Second
	DefaultMaxAttempts = 12
)

// Deleter is the provider capability the reconciler needs.
type Deleter interface {
	DeleteSessionData(ctx context.Context, sessionKey string) error
}

type Reconciler struct {
	deleter  Deleter
	notifier ports.Notifier
	logger   *slog.Logger
	metrics  *vmetrics.Metrics

	graceDelay  time.Duration
	baseDelay   time.Duration
	maxAttempts int

	// wait is injectable so tests can observe backoff without sleeping.
	wait func(ctx context.Context, d time.Duration) error
}

type Option func(*Reconciler)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

func WithMetrics(m *vmetrics.Metrics) Option {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

func WithDelays(grace, base time.Duration) Option {
	return func(r *Reconciler) {
		r.graceDelay = grace
		r.baseDelay = base
	}
}

func WithMaxAttempts(n int) Option {
	return func(r *Reconciler) {
		r.maxAttempts = n
	}
}

func WithWaitFunc(wait func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Reconciler) {
		r.wait = wait
	}
}

func New(deleter Deleter, notifier ports.Notifier, opts ...Option) (*Reconciler, error) {
	if deleter == nil {
		return nil, fmt.Errorf("deleter is required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}

	r := &Reconciler{
		deleter:     deleter,
		notifier:    notifier,
		logger:      slog.Default(),
		graceDelay:  DefaultGraceDelay,
		baseDelay:   DefaultBaseDelay,
		maxAttempts: DefaultMaxAttempts,
		wait:        sleepContext,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// Schedule spawns a detached reconciliation for sessionKey. It returns
// immediately; the loop runs on a background context to completion or
// exhaustion regardless of the caller's lifetime.
func (r *Reconciler) Schedule(sessionKey, subjectID string) {
	go func() {
		_ = r.run(context.Background(), sessionKey, subjectID)
	}()
}

// run waits out the grace delay, then retries provider-side deletion with
// linearly increasing backoff: attempt n waits n x baseDelay. Only a
// still-processing response is retryable; any other failure, or exhausting
// the attempts, terminates as a permanent failure surfaced via notification.
func (r *Reconciler) run(ctx context.Context, sessionKey, subjectID string) error {
	if err := r.wait(ctx, r.graceDelay); err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if err := r.wait(ctx, time.Duration(attempt)*r.baseDelay); err != nil {
			return err
		}

		err := r.deleter.DeleteSessionData(ctx, sessionKey)
		if err == nil {
			r.metrics.IncReconciliation("success")
			r.logger.InfoContext(ctx, "provider session data deleted",
				"session_key", sessionKey,
				"attempt", attempt,
			)
			return nil
		}

		if !dErrors.Is(err, dErrors.CodeStillProcessing) {
			r.metrics.IncReconciliation("failed")
			r.logger.ErrorContext(ctx, "provider data deletion failed permanently",
				"session_key", sessionKey,
				"attempt", attempt,
				"error", err.Error(),
			)
			r.notifyFailure(ctx, subjectID)
			return err
		}

		lastErr = err
		r.logger.DebugContext(ctx, "provider still processing, will retry deletion",
			"session_key", sessionKey,
			"attempt", attempt,
		)
	}

	r.metrics.IncReconciliation("exhausted")
	r.logger.ErrorContext(ctx, "provider data deletion exhausted retries",
		"session_key", sessionKey,
		"attempts", r.maxAttempts,
	)
	r.notifyFailure(ctx, subjectID)
	return lastErr
}

func (r *Reconciler) notifyFailure(ctx context.Context, subjectID string) {
	if subjectID == "" {
		return
	}
	msg := "We could not confirm deletion of your verification data at the provider. It will be removed automatically by their retention policy."
	if err := r.notifier.Notify(ctx, subjectID, msg); err != nil {
		r.metrics.IncNotificationFailure()
		r.logger.WarnContext(ctx, "failed to deliver reconciliation notice",
			"subject_id", subjectID,
			"error", err.Error(),
		)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
