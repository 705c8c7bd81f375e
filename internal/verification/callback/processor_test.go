package callback

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"veriflow/internal/verification/ledger"
	"veriflow/internal/verification/models"
	dErrors "veriflow/pkg/domain-errors"
)

// =============================================================================
// Callback Processor Test Suite
// =============================================================================
// The processor owns the terminal-disposition branching: what gets deleted,
// who gets told what, and when provider-side cleanup is scheduled. Each branch
// is pinned against a real ledger and recording fakes.

type fakeBackend struct {
	submissions []models.Submission
	submitErr   error
}

func (b *fakeBackend) Authenticate(_ context.Context) error { return nil }

func (b *fakeBackend) RecentVerificationCount(_ context.Context) (int, error) { return 0, nil }

func (b *fakeBackend) SubmitVerification(_ context.Context, sub models.Submission) error {
	b.submissions = append(b.submissions, sub)
	return b.submitErr
}

func (b *fakeBackend) GetVerification(_ context.Context, _ string) (*models.VerifiedMapping, error) {
	return nil, nil
}

type fakeNotifier struct {
	messages []string
	subjects []string
	err      error
}

func (n *fakeNotifier) Notify(_ context.Context, subjectID, message string) error {
	n.subjects = append(n.subjects, subjectID)
	n.messages = append(n.messages, message)
	return n.err
}

type fakeScheduler struct {
	scheduled []string
}

func (s *fakeScheduler) Schedule(sessionKey, _ string) {
	s.scheduled = append(s.scheduled, sessionKey)
}

type ProcessorSuite struct {
	suite.Suite
	ledger    *ledger.Ledger
	backend   *fakeBackend
	notifier  *fakeNotifier
	scheduler *fakeScheduler
}

func TestProcessorSuite(t *testing.T) {
	suite.Run(t, new(ProcessorSuite))
}

func (s *ProcessorSuite) SetupTest() {
	var err error
	s.ledger, err = ledger.New(filepath.Join(s.T().TempDir(), "verifications.json"))
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = s.ledger.Close() })

	s.backend = &fakeBackend{}
	s.notifier = &fakeNotifier{}
	s.scheduler = &fakeScheduler{}
}

func (s *ProcessorSuite) newProcessor(opts ...Option) *Processor {
	p, err := New(s.ledger, s.backend, s.notifier, s.scheduler, opts...)
	s.Require().NoError(err)
	return p
}

func (s *ProcessorSuite) seed(key, subject string) models.VerificationRecord {
	rec := models.VerificationRecord{
		SessionKey:  key,
		SubjectID:   subject,
		ExternalKey: "acct-" + subject,
		Kind:        models.KindProviderSession,
		CreatedAt:   time.Now(),
	}
	s.ledger.Set(key, rec)
	return rec
}

func (s *ProcessorSuite) TestNew() {
	s.Run("nil ledger returns error", func() {
		_, err := New(nil, s.backend, s.notifier, s.scheduler)
		s.Error(err)
	})

	s.Run("nil reconcile scheduler returns error", func() {
		_, err := New(s.ledger, s.backend, s.notifier, nil)
		s.Error(err)
	})
}

// =============================================================================
// Terminal Dispositions
// =============================================================================

func (s *ProcessorSuite) TestApprovedSubmitsDeletesAndSchedules() {
	s.seed("sess-1", "u1")
	p := s.newProcessor()

	p.HandleDisposition(context.Background(), "sess-1", models.StatusApproved, nil)

	s.Require().Len(s.backend.submissions, 1)
	s.Equal("u1", s.backend.submissions[0].SubjectID)
	s.Equal("sess-1", s.backend.submissions[0].ProviderRef)
	s.False(s.backend.submissions[0].IsDebug)

	_, ok := s.ledger.Get("sess-1")
	s.False(ok, "record removed after successful submission")
	s.Len(s.notifier.messages, 1, "exactly one success notification")
	s.Equal([]string{"sess-1"}, s.scheduler.scheduled)
}

func (s *ProcessorSuite) TestApprovedBackendFailureKeepsRecord() {
	s.seed("sess-1", "u1")
	s.backend.submitErr = dErrors.New(dErrors.CodeBackend, "submit rejected")
	p := s.newProcessor()

	p.HandleDisposition(context.Background(), "sess-1", models.StatusApproved, nil)

	_, ok := s.ledger.Get("sess-1")
	s.True(ok, "record kept so a manual recheck can resubmit")
	s.Empty(s.scheduler.scheduled, "provider data not scheduled for deletion yet")
	s.Require().Len(s.notifier.messages, 1)
	s.Contains(s.notifier.messages[0], "recording it failed")
}

func (s *ProcessorSuite) TestDeniedDeletesAndNotifiesWithReasons() {
	s.seed("sess-1", "u1")
	p := s.newProcessor()

	p.HandleDisposition(context.Background(), "sess-1", models.StatusDenied, []string{"DOC_INVALID"})

	_, ok := s.ledger.Get("sess-1")
	s.False(ok)
	s.Require().Len(s.notifier.messages, 1)
	s.Contains(s.notifier.messages[0], "DOC_INVALID")
	s.Equal([]string{"sess-1"}, s.scheduler.scheduled)
	s.Empty(s.backend.submissions)
}

func (s *ProcessorSuite) TestDebugRecordSubmitsWithDebugFlag() {
	rec := s.seed("sess-1", "u1")
	rec.Kind = models.KindDebug
	s.ledger.Set("sess-1", rec)
	p := s.newProcessor()

	p.HandleDisposition(context.Background(), "sess-1", models.StatusApproved, nil)

	s.Require().Len(s.backend.submissions, 1)
	s.True(s.backend.submissions[0].IsDebug)
}

// =============================================================================
// Idempotence & Unknowns
// =============================================================================

func (s *ProcessorSuite) TestDuplicateTerminalDeliveryIsNoOp() {
	s.seed("sess-1", "u1")
	p := s.newProcessor()

	p.HandleDisposition(context.Background(), "sess-1", models.StatusDenied, nil)
	p.HandleDisposition(context.Background(), "sess-1", models.StatusDenied, nil)

	s.Len(s.notifier.messages, 1, "no duplicate notification on redelivery")
	s.Len(s.scheduler.scheduled, 1)
}

func (s *ProcessorSuite) TestUnknownKeyAcknowledged() {
	p := s.newProcessor()

	p.HandleDisposition(context.Background(), "missing", models.StatusApproved, nil)

	s.Empty(s.backend.submissions)
	s.Empty(s.notifier.messages)
	s.Empty(s.scheduler.scheduled)
}

func (s *ProcessorSuite) TestUnknownStatusIgnored() {
	s.seed("sess-1", "u1")
	p := s.newProcessor()

	p.HandleDisposition(context.Background(), "sess-1", models.OverallStatus("WAT"), nil)

	_, ok := s.ledger.Get("sess-1")
	s.True(ok, "record untouched")
	s.Empty(s.notifier.messages)
}

// =============================================================================
// Reviewing Policy
// =============================================================================

func (s *ProcessorSuite) TestReviewingKeepsRecord() {
	s.seed("sess-1", "u1")
	p := s.newProcessor(WithReviewNotifyPolicy(ReviewNotifyNever))

	p.HandleDisposition(context.Background(), "sess-1", models.StatusReviewing, nil)

	_, ok := s.ledger.Get("sess-1")
	s.True(ok)
	s.Empty(s.notifier.messages)
	s.Empty(s.scheduler.scheduled)
}

func (s *ProcessorSuite) TestReviewingNotifyFirstOnly() {
	s.seed("sess-1", "u1")
	p := s.newProcessor(WithReviewNotifyPolicy(ReviewNotifyFirst))

	p.HandleDisposition(context.Background(), "sess-1", models.StatusReviewing, nil)
	p.HandleDisposition(context.Background(), "sess-1", models.StatusReviewing, nil)

	s.Len(s.notifier.messages, 1)

	rec, ok := s.ledger.Get("sess-1")
	s.Require().True(ok)
	s.True(rec.ReviewNotified)
}

func (s *ProcessorSuite) TestReviewingNotifyAlways() {
	s.seed("sess-1", "u1")
	p := s.newProcessor(WithReviewNotifyPolicy(ReviewNotifyAlways))

	p.HandleDisposition(context.Background(), "sess-1", models.StatusReviewing, nil)
	p.HandleDisposition(context.Background(), "sess-1", models.StatusReviewing, nil)

	s.Len(s.notifier.messages, 2)
}

func (s *ProcessorSuite) TestNotificationFailureDoesNotBlockMutation() {
	s.seed("sess-1", "u1")
	s.notifier.err = dErrors.New(dErrors.CodeInternal, "chat unreachable")
	p := s.newProcessor()

	p.HandleDisposition(context.Background(), "sess-1", models.StatusDenied, nil)

	_, ok := s.ledger.Get("sess-1")
	s.False(ok, "ledger mutation committed despite notification failure")
	s.Equal([]string{"sess-1"}, s.scheduler.scheduled)
}
