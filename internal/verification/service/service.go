// Package service implements the verification lifecycle coordinator: the
// state machine that owns record creation, manual approval, inspection and
// cancellation, plus the periodic age sweep.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"veriflow/internal/verification/ledger"
	vmetrics "veriflow/internal/verification/metrics"
	"veriflow/internal/verification/models"
	"veriflow/internal/verification/ports"
	dErrors "veriflow/pkg/domain-errors"
)

type Service struct {
	ledger       *ledger.Ledger
	provider     ports.ProviderClient
	backend      ports.BackendClient
	gate         ports.AdmissionGate
	reconciler   ports.ReconcileScheduler
	dispositions ports.DispositionHandler
	logger       *slog.Logger
	metrics      *vmetrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *vmetrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(
	led *ledger.Ledger,
	provider ports.ProviderClient,
	backend ports.BackendClient,
	gate ports.AdmissionGate,
	reconciler ports.ReconcileScheduler,
	dispositions ports.DispositionHandler,
	opts ...Option,
) (*Service, error) {
	if led == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("provider client is required")
	}
	if backend == nil {
		return nil, fmt.Errorf("backend client is required")
	}
	if gate == nil {
		return nil, fmt.Errorf("admission gate is required")
	}
	if reconciler == nil {
		return nil, fmt.Errorf("reconcile scheduler is required")
	}
	if dispositions == nil {
		return nil, fmt.Errorf("disposition handler is required")
	}

	svc := &Service{
		ledger:       led,
		provider:     provider,
		backend:      backend,
		gate:         gate,
		reconciler:   reconciler,
		dispositions: dispositions,
		logger:       slog.Default(),
	}

	for _, opt := range opts {
		opt(svc)
	}

	return svc, nil
}

// Initiate starts a verification attempt. Checks run in a fixed order:
// backend already-verified first, then live-record duplicate, then the
// admission gate. When the gate rejects, a pending-manual-approval record is
// created under a locally generated token; otherwise a provider session is
// created and stored under the provider's session key.
func (s *Service) Initiate(ctx context.Context, subjectID, externalKey string) (models.InitiateResult, error) {
	return s.initiate(ctx, subjectID, externalKey, false)
}

// InitiateDebug starts a debug verification attempt. Debug attempts bypass
// the admission gate but still honor uniqueness; their submission is flagged
// so the backend can segregate them.
func (s *Service) InitiateDebug(ctx context.Context, subjectID, externalKey string) (models.InitiateResult, error) {
	return s.initiate(ctx, subjectID, externalKey, true)
}

func (s *Service) initiate(ctx context.Context, subjectID, externalKey string, debug bool) (models.InitiateResult, error) {
	if subjectID == "" || externalKey == "" {
		return models.InitiateResult{}, dErrors.New(dErrors.CodeBadRequest, "subject and external key are required")
	}

	existing, err := s.backend.GetVerification(ctx, subjectID)
	if err != nil {
		return models.InitiateResult{}, dErrors.Wrap(err, dErrors.CodeBackend, "check existing verification")
	}
	if existing != nil && existing.ProviderRef != "" {
		return models.InitiateResult{}, dErrors.Newf(dErrors.CodeAlreadyVerified, "subject %s is already verified", subjectID)
	}

	if _, ok := s.ledger.FindBySubject(subjectID); ok {
		return models.InitiateResult{}, dErrors.Newf(dErrors.CodeAlreadyPending, "subject %s already has a verification in progress", subjectID)
	}

	if !debug && s.gate.Exceeded(ctx) {
		token := uuid.NewString()
		s.ledger.Set(token, models.VerificationRecord{
			SessionKey:  token,
			SubjectID:   subjectID,
			ExternalKey: externalKey,
			Kind:        models.KindPendingApproval,
			CreatedAt:   time.Now(),
		})
		s.metrics.IncSessionInitiated("pending")
		s.logger.InfoContext(ctx, "daily ceiling reached, queued for manual approval",
			"subject_id", subjectID,
			"approval_token", token,
		)
		return models.InitiateResult{Pending: true, ApprovalToken: token}, nil
	}

	kind := models.KindProviderSession
	mode := "provider"
	if debug {
		kind = models.KindDebug
		mode = "debug"
	}

	sess, err := s.provider.CreateSession(ctx, subjectID, externalKey)
	if err != nil {
		return models.InitiateResult{}, dErrors.Wrap(err, dErrors.CodeProvider, "create provider session")
	}

	s.ledger.Set(sess.SessionKey, models.VerificationRecord{
		SessionKey:          sess.SessionKey,
		SubjectID:           subjectID,
		ExternalKey:         externalKey,
		Kind:                kind,
		CreatedAt:           time.Now(),
		ClientCorrelationID: sess.ClientCorrelationID,
		SessionToken:        sess.SessionToken,
	})
	s.metrics.IncSessionInitiated(mode)
	s.logger.InfoContext(ctx, "provider session created",
		"subject_id", subjectID,
		"session_key", sess.SessionKey,
		"debug", debug,
	)
	return models.InitiateResult{SessionKey: sess.SessionKey, RedirectURL: sess.RedirectURL}, nil
}

// Approve promotes a pending-manual-approval record into a provider session.
// The old token key is removed and the record is re-inserted under the
// provider-issued session key with the approval stamped on it.
func (s *Service) Approve(ctx context.Context, token, approverID string) (models.InitiateResult, error) {
	rec, ok := s.ledger.Get(token)
	if !ok {
		return models.InitiateResult{}, dErrors.New(dErrors.CodeNotFound, "no verification awaiting approval under that token")
	}
	if rec.Kind != models.KindPendingApproval {
		return models.InitiateResult{}, dErrors.New(dErrors.CodeNotAwaitingApproval, "verification is not awaiting manual approval")
	}

	sess, err := s.provider.CreateSession(ctx, rec.SubjectID, rec.ExternalKey)
	if err != nil {
		return models.InitiateResult{}, dErrors.Wrap(err, dErrors.CodeProvider, "create provider session")
	}

	rec.SessionKey = sess.SessionKey
	rec.Kind = models.KindProviderSession
	rec.Approval = &models.Approval{ApprovedBy: approverID, ApprovedAt: time.Now()}
	rec.ClientCorrelationID = sess.ClientCorrelationID
	rec.SessionToken = sess.SessionToken
	s.ledger.Replace(token, sess.SessionKey, rec)

	s.metrics.IncSessionInitiated("provider")
	s.logger.InfoContext(ctx, "pending verification approved",
		"subject_id", rec.SubjectID,
		"session_key", sess.SessionKey,
		"approved_by", approverID,
	)
	return models.InitiateResult{SessionKey: sess.SessionKey, RedirectURL: sess.RedirectURL}, nil
}

// Inspect returns the subject's live record status, falling back to the
// backend's terminal mapping when no live record exists.
func (s *Service) Inspect(ctx context.Context, subjectID string) (models.StatusView, error) {
	if rec, ok := s.ledger.FindBySubject(subjectID); ok {
		return models.StatusView{
			SubjectID:   rec.SubjectID,
			ExternalKey: rec.ExternalKey,
			State:       string(rec.Kind),
			SessionKey:  rec.SessionKey,
			CreatedAt:   rec.CreatedAt,
		}, nil
	}

	mapping, err := s.backend.GetVerification(ctx, subjectID)
	if err != nil {
		return models.StatusView{}, dErrors.Wrap(err, dErrors.CodeBackend, "look up verification")
	}
	if mapping == nil {
		return models.StatusView{}, dErrors.Newf(dErrors.CodeNotFound, "no verification for subject %s", subjectID)
	}
	return models.StatusView{
		SubjectID:   subjectID,
		ExternalKey: mapping.ExternalKey,
		State:       "verified",
		CreatedAt:   mapping.VerifiedAt,
		Verified:    true,
	}, nil
}

// Cancel removes the subject's live record. Provider sessions get their
// provider-side data scheduled for deletion.
func (s *Service) Cancel(ctx context.Context, subjectID string) error {
	rec, ok := s.ledger.FindBySubject(subjectID)
	if !ok {
		return dErrors.Newf(dErrors.CodeNotFound, "no verification in progress for subject %s", subjectID)
	}

	s.ledger.Delete(rec.SessionKey)
	if rec.Kind != models.KindPendingApproval {
		s.reconciler.Schedule(rec.SessionKey, rec.SubjectID)
	}
	s.logger.InfoContext(ctx, "verification cancelled",
		"subject_id", subjectID,
		"session_key", rec.SessionKey,
	)
	return nil
}

// Recheck polls the provider for the subject's session status and, when the
// provider reports a decision, routes it through the disposition handler.
// This is the manual retry path after a failed backend submission.
func (s *Service) Recheck(ctx context.Context, subjectID string) (models.SessionStatus, error) {
	rec, ok := s.ledger.FindBySubject(subjectID)
	if !ok {
		return models.SessionStatus{}, dErrors.Newf(dErrors.CodeNotFound, "no verification in progress for subject %s", subjectID)
	}
	if rec.Kind == models.KindPendingApproval {
		return models.SessionStatus{}, dErrors.New(dErrors.CodeBadRequest, "verification is awaiting manual approval, nothing to recheck")
	}

	status, err := s.provider.SessionStatus(ctx, rec.SessionKey)
	if err != nil {
		return models.SessionStatus{}, dErrors.Wrap(err, dErrors.CodeProvider, "poll session status")
	}

	if status.Final || status.Overall != models.StatusReviewing {
		s.dispositions.HandleDisposition(ctx, rec.SessionKey, status.Overall, status.Reasons())
	}
	return status, nil
}
