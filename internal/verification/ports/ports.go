// Package ports defines shared interfaces for the verification module.
// Interfaces are placed here when consumed by multiple services to avoid
// duplication.
package ports

import (
	"context"

	"veriflow/internal/verification/models"
)

// ProviderClient talks to the identity-verification provider.
type ProviderClient interface {
	// CreateSession opens a provider session for the subject and returns the
	// provider-issued session key plus redirect material.
	CreateSession(ctx context.Context, subjectID, externalKey string) (models.ProviderSession, error)

	// SessionStatus polls the provider's current disposition for a session.
	SessionStatus(ctx context.Context, sessionKey string) (models.SessionStatus, error)

	// DeleteSessionData purges provider-held personal data for a session.
	// Returns a still_processing domain error while the provider is busy.
	DeleteSessionData(ctx context.Context, sessionKey string) error
}

// BackendClient talks to the backend record store. Implementations own their
// auth session state and re-authenticate transparently.
type BackendClient interface {
	Authenticate(ctx context.Context) error

	// RecentVerificationCount returns the verification count the admission
	// gate compares against its daily ceiling.
	RecentVerificationCount(ctx context.Context) (int, error)

	// SubmitVerification records an approved attempt downstream. Idempotency
	// is the backend's responsibility.
	SubmitVerification(ctx context.Context, sub models.Submission) error

	// GetVerification returns the subject's terminal mapping, or (nil, nil)
	// when none exists.
	GetVerification(ctx context.Context, subjectID string) (*models.VerifiedMapping, error)
}

// Notifier delivers best-effort user notifications. Callers log failures and
// never escalate them.
type Notifier interface {
	Notify(ctx context.Context, subjectID, message string) error
}

// AdmissionGate decides whether automatic provider-session creation is
// currently allowed.
type AdmissionGate interface {
	Exceeded(ctx context.Context) bool
}

// ReconcileScheduler spawns detached provider-data deletion for a session
// that reached a terminal disposition.
type ReconcileScheduler interface {
	Schedule(sessionKey, subjectID string)
}

// DispositionHandler consumes a classified provider disposition. Implemented
// by the callback processor; also driven by the manual recheck path.
type DispositionHandler interface {
	HandleDisposition(ctx context.Context, sessionKey string, overall models.OverallStatus, reasons []string)
}
