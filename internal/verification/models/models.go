// Package models holds the verification domain types shared across the
// ledger, coordinator, callback and reconciliation modules.
package models

import (
	"fmt"
	"time"
)

// Kind classifies a verification record's stage.
type Kind string

const (
	// KindPendingApproval: the admission gate rejected automatic session
	// creation; the record waits for an admin to approve it out of band.
	KindPendingApproval Kind = "pending_manual_approval"
	// KindProviderSession: a provider session exists; the record is keyed by
	// the provider's session key.
	KindProviderSession Kind = "provider_session"
	// KindDebug: a provider session created through the debug path; its
	// submission is flagged so the backend can segregate it.
	KindDebug Kind = "debug"
)

// Valid reports whether k is one of the recognized kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindPendingApproval, KindProviderSession, KindDebug:
		return true
	}
	return false
}

// Approval records who crossed the manual-approval gate and when.
type Approval struct {
	ApprovedBy string    `json:"approvedBy"`
	ApprovedAt time.Time `json:"approvedAt"`
}

// VerificationRecord is one verification attempt. SessionKey, SubjectID and
// ExternalKey are immutable after creation; Kind may transition
// pending_manual_approval -> provider_session exactly once (under a new key).
type VerificationRecord struct {
	SessionKey          string    `json:"sessionKey"`
	SubjectID           string    `json:"subjectId"`
	ExternalKey         string    `json:"externalKey"`
	Kind                Kind      `json:"kind"`
	CreatedAt           time.Time `json:"createdAt"`
	Approval            *Approval `json:"approval,omitempty"`
	ClientCorrelationID string    `json:"clientCorrelationId,omitempty"`
	SessionToken        string    `json:"sessionToken,omitempty"`
	// ReviewNotified supports the notify-once policy for REVIEWING callbacks.
	ReviewNotified bool `json:"reviewNotified,omitempty"`
}

// Validate enforces the schema required for a record to survive hydration.
func (r VerificationRecord) Validate() error {
	if r.SessionKey == "" {
		return fmt.Errorf("missing sessionKey")
	}
	if r.SubjectID == "" {
		return fmt.Errorf("missing subjectId")
	}
	if r.ExternalKey == "" {
		return fmt.Errorf("missing externalKey")
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("unrecognized kind %q", r.Kind)
	}
	if r.CreatedAt.IsZero() {
		return fmt.Errorf("missing createdAt")
	}
	return nil
}

// ExpiredAt reports whether the record has aged past maxAge at the given
// instant.
func (r VerificationRecord) ExpiredAt(now time.Time, maxAge time.Duration) bool {
	return now.Sub(r.CreatedAt) > maxAge
}

// IsDebug reports whether the record's submission must carry the debug flag.
func (r VerificationRecord) IsDebug() bool {
	return r.Kind == KindDebug
}

// OverallStatus is the provider's disposition classification for a session.
type OverallStatus string

const (
	StatusApproved  OverallStatus = "APPROVED"
	StatusDenied    OverallStatus = "DENIED"
	StatusExpired   OverallStatus = "EXPIRED"
	StatusSuspected OverallStatus = "SUSPECTED"
	StatusReviewing OverallStatus = "REVIEWING"
)

// Terminal reports whether the status ends the verification attempt.
func (s OverallStatus) Terminal() bool {
	switch s {
	case StatusApproved, StatusDenied, StatusExpired, StatusSuspected:
		return true
	}
	return false
}

// ProviderSession is the provider's response to session creation.
type ProviderSession struct {
	SessionKey          string
	SessionToken        string
	RedirectURL         string
	ClientCorrelationID string
}

// SessionStatus is the provider's answer to a status poll.
type SessionStatus struct {
	Overall          OverallStatus
	Final            bool
	DenyReasons      []string
	SuspicionReasons []string
}

// Reasons flattens deny and suspicion reasons into one list for notifications.
func (s SessionStatus) Reasons() []string {
	out := make([]string, 0, len(s.DenyReasons)+len(s.SuspicionReasons))
	out = append(out, s.DenyReasons...)
	out = append(out, s.SuspicionReasons...)
	return out
}

// Submission is what the coordinator hands the backend on approval.
type Submission struct {
	SubjectID   string
	ExternalKey string
	IsDebug     bool
	ProviderRef string
}

// VerifiedMapping is the backend's terminal record for a subject. A non-empty
// ProviderRef marks a completed scan.
type VerifiedMapping struct {
	SubjectID   string    `json:"subjectId"`
	ExternalKey string    `json:"externalKey"`
	ProviderRef string    `json:"providerRef"`
	VerifiedAt  time.Time `json:"verifiedAt"`
}

// InitiateResult tells the caller how their verification attempt started.
type InitiateResult struct {
	// Pending is true when the admission gate rejected automatic session
	// creation and the attempt awaits manual approval.
	Pending bool
	// ApprovalToken identifies the pending record for the out-of-band
	// approve call. Empty unless Pending.
	ApprovalToken string
	// SessionKey and RedirectURL describe the created provider session.
	// Empty when Pending.
	SessionKey  string
	RedirectURL string
}

// StatusView is the read-only answer to an inspect call.
type StatusView struct {
	SubjectID   string
	ExternalKey string
	// State is the record's kind for live attempts, or "verified" when only
	// a terminal backend mapping exists.
	State      string
	SessionKey string
	CreatedAt  time.Time
	Verified   bool
}
