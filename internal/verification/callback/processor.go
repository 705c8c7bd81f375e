// Package callback consumes asynchronous disposition events from the
// identity-verification provider and drives the verification lifecycle:
// backend submission, ledger mutation, user notification and deletion
// reconciliation scheduling.
package callback

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"veriflow/internal/verification/ledger"
	vmetrics "veriflow/internal/verification/metrics"
	"veriflow/internal/verification/models"
	"veriflow/internal/verification/ports"
)

// ReviewNotifyPolicy controls whether REVIEWING dispositions notify the user
// on every delivery, only the first, or never.
type ReviewNotifyPolicy string

const (
	ReviewNotifyAlways ReviewNotifyPolicy = "always"
	ReviewNotifyFirst  ReviewNotifyPolicy = "first"
	ReviewNotifyNever  ReviewNotifyPolicy = "never"
)

// Valid reports whether p is a recognized policy.
func (p ReviewNotifyPolicy) Valid() bool {
	switch p {
	case ReviewNotifyAlways, ReviewNotifyFirst, ReviewNotifyNever:
		return true
	}
	return false
}

type Processor struct {
	ledger     *ledger.Ledger
	backend    ports.BackendClient
	notifier   ports.Notifier
	reconciler ports.ReconcileScheduler
	logger     *slog.Logger
	metrics    *vmetrics.Metrics

	reviewPolicy ReviewNotifyPolicy
}

type Option func(*Processor)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

func WithMetrics(m *vmetrics.Metrics) Option {
	return func(p *Processor) {
		p.metrics = m
	}
}

func WithReviewNotifyPolicy(policy ReviewNotifyPolicy) Option {
	return func(p *Processor) {
		p.reviewPolicy = policy
	}
}

func New(led *ledger.Ledger, backend ports.BackendClient, notifier ports.Notifier, reconciler ports.ReconcileScheduler, opts ...Option) (*Processor, error) {
	if led == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if backend == nil {
		return nil, fmt.Errorf("backend client is required")
	}
	if notifier == nil {
		return nil, fmt.Errorf("notifier is required")
	}
	if reconciler == nil {
		return nil, fmt.Errorf("reconcile scheduler is required")
	}

	p := &Processor{
		ledger:       led,
		backend:      backend,
		notifier:     notifier,
		reconciler:   reconciler,
		logger:       slog.Default(),
		metrics:      nil,
		reviewPolicy: ReviewNotifyFirst,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// HandleDisposition classifies one provider disposition event. The ledger
// mutation completes before it returns, so callers can acknowledge the
// callback as soon as it does. Duplicates for unknown or already-deleted keys
// are expected (the provider retries callbacks) and are acknowledged as
// no-ops. Notification failures are logged, never escalated.
func (p *Processor) HandleDisposition(ctx context.Context, sessionKey string, overall models.OverallStatus, reasons []string) {
	rec, ok := p.ledger.Get(sessionKey)
	if !ok {
		p.metrics.IncCallbackUnknownKey()
		p.logger.DebugContext(ctx, "disposition for unknown session key, acknowledging",
			"session_key", sessionKey,
			"status", string(overall),
		)
		return
	}

	switch overall {
	case models.StatusApproved:
		p.handleApproved(ctx, sessionKey, rec)
	case models.StatusDenied, models.StatusExpired, models.StatusSuspected:
		p.handleRejected(ctx, sessionKey, rec, overall, reasons)
	case models.StatusReviewing:
		p.handleReviewing(ctx, sessionKey, rec)
	default:
		p.logger.WarnContext(ctx, "unhandled disposition status, ignoring",
			"session_key", sessionKey,
			"status", string(overall),
		)
		return
	}
	p.metrics.IncCallbackProcessed(string(overall))
}

func (p *Processor) handleApproved(ctx context.Context, sessionKey string, rec models.VerificationRecord) {
	sub := models.Submission{
		SubjectID:   rec.SubjectID,
		ExternalKey: rec.ExternalKey,
		IsDebug:     rec.IsDebug(),
		ProviderRef: sessionKey,
	}
	if err := p.backend.SubmitVerification(ctx, sub); err != nil {
		// The record stays so a manual recheck can resubmit; provider-side
		// data is not scheduled for deletion yet.
		p.logger.ErrorContext(ctx, "backend submission failed, keeping record for resubmission",
			"session_key", sessionKey,
			"subject_id", rec.SubjectID,
			"error", err.Error(),
		)
		p.notify(ctx, rec.SubjectID,
			"Your identity verification was approved, but recording it failed. An operator can retry it; your session has been kept.")
		return
	}

	p.ledger.Delete(sessionKey)
	p.notify(ctx, rec.SubjectID,
		fmt.Sprintf("Your identity verification for %q succeeded.", rec.ExternalKey))
	p.reconciler.Schedule(sessionKey, rec.SubjectID)
}

func (p *Processor) handleRejected(ctx context.Context, sessionKey string, rec models.VerificationRecord, overall models.OverallStatus, reasons []string) {
	p.ledger.Delete(sessionKey)

	msg := fmt.Sprintf("Your identity verification for %q was not successful (%s).", rec.ExternalKey, strings.ToLower(string(overall)))
	if len(reasons) > 0 {
		msg += " Reasons: " + strings.Join(reasons, ", ")
	}
	p.notify(ctx, rec.SubjectID, msg)
	p.reconciler.Schedule(sessionKey, rec.SubjectID)
}

func (p *Processor) handleReviewing(ctx context.Context, sessionKey string, rec models.VerificationRecord) {
	switch p.reviewPolicy {
	case ReviewNotifyNever:
		return
	case ReviewNotifyFirst:
		if rec.ReviewNotified {
			return
		}
		rec.ReviewNotified = true
		p.ledger.Set(sessionKey, rec)
	}
	p.notify(ctx, rec.SubjectID, "Your identity verification is being reviewed. You will be notified once it completes.")
}

func (p *Processor) notify(ctx context.Context, subjectID, message string) {
	if err := p.notifier.Notify(ctx, subjectID, message); err != nil {
		p.metrics.IncNotificationFailure()
		p.logger.WarnContext(ctx, "failed to deliver notification",
			"subject_id", subjectID,
			"error", err.Error(),
		)
	}
}
