package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"veriflow/internal/verification/models"
)

// =============================================================================
// Ledger Test Suite
// =============================================================================
// Justification for unit tests: the ledger owns the durability contract
// (atomic snapshot swap, corruption recovery, hydration validation) which the
// service-level tests only exercise through the in-memory surface.

type LedgerSuite struct {
	suite.Suite
	dir  string
	path string
}

func TestLedgerSuite(t *testing.T) {
	suite.Run(t, new(LedgerSuite))
}

func (s *LedgerSuite) SetupTest() {
	s.dir = s.T().TempDir()
	s.path = filepath.Join(s.dir, "verifications.json")
}

func (s *LedgerSuite) newLedger(opts ...Option) *Ledger {
	l, err := New(s.path, opts...)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = l.Close() })
	return l
}

func record(key, subject string) models.VerificationRecord {
	return models.VerificationRecord{
		SessionKey:  key,
		SubjectID:   subject,
		ExternalKey: "acct-" + subject,
		Kind:        models.KindProviderSession,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
}

func (s *LedgerSuite) TestNew() {
	s.Run("empty path returns error", func() {
		_, err := New("")
		s.Error(err)
	})
}

// =============================================================================
// In-Memory Semantics
// =============================================================================

func (s *LedgerSuite) TestReadYourWrites() {
	l := s.newLedger()

	rec := record("sess-1", "u1")
	l.Set("sess-1", rec)

	got, ok := l.Get("sess-1")
	s.True(ok)
	s.Equal(rec, got)
	s.Equal(1, l.Len())

	s.True(l.Delete("sess-1"))
	_, ok = l.Get("sess-1")
	s.False(ok)
	s.False(l.Delete("sess-1"), "second delete reports absence")
}

func (s *LedgerSuite) TestFindBySubject() {
	l := s.newLedger()
	l.Set("sess-1", record("sess-1", "u1"))
	l.Set("sess-2", record("sess-2", "u2"))

	rec, ok := l.FindBySubject("u2")
	s.True(ok)
	s.Equal("sess-2", rec.SessionKey)

	_, ok = l.FindBySubject("u3")
	s.False(ok)
}

func (s *LedgerSuite) TestReplace() {
	l := s.newLedger()
	pending := record("token-1", "u1")
	pending.Kind = models.KindPendingApproval
	l.Set("token-1", pending)

	promoted := pending
	promoted.SessionKey = "sess-9"
	promoted.Kind = models.KindProviderSession
	l.Replace("token-1", "sess-9", promoted)

	_, ok := l.Get("token-1")
	s.False(ok, "old key must be gone")
	got, ok := l.Get("sess-9")
	s.True(ok)
	s.Equal(models.KindProviderSession, got.Kind)
	s.Equal(1, l.Len())
}

// =============================================================================
// Persistence
// =============================================================================

func (s *LedgerSuite) TestRoundTrip() {
	l := s.newLedger()
	l.Set("sess-1", record("sess-1", "u1"))
	l.Set("sess-2", record("sess-2", "u2"))
	s.Require().NoError(l.ForceFlush())

	// A fresh ledger hydrated from the same snapshot sees the same mapping.
	reloaded := s.newLedger()
	s.Require().NoError(reloaded.Load())
	s.Equal(2, reloaded.Len())

	got, ok := reloaded.Get("sess-1")
	s.True(ok)
	s.Equal("u1", got.SubjectID)
}

func (s *LedgerSuite) TestForceFlushLeavesNoStagingFile() {
	l := s.newLedger()
	l.Set("sess-1", record("sess-1", "u1"))
	s.Require().NoError(l.ForceFlush())

	_, err := os.Stat(s.path)
	s.NoError(err)
	_, err = os.Stat(s.path + ".tmp")
	s.True(os.IsNotExist(err), "staging file must be renamed away")
}

func (s *LedgerSuite) TestDebouncedPersistReachesDisk() {
	l := s.newLedger()
	for i := 0; i < 50; i++ {
		l.Set("sess-1", record("sess-1", "u1"))
	}
	// Close drains the writer and flushes the final state.
	s.Require().NoError(l.Close())

	raw, err := os.ReadFile(s.path)
	s.Require().NoError(err)
	var stored map[string]models.VerificationRecord
	s.Require().NoError(json.Unmarshal(raw, &stored))
	s.Len(stored, 1)
}

// =============================================================================
// Hydration
// =============================================================================

func (s *LedgerSuite) TestLoadMissingFileStartsEmpty() {
	l := s.newLedger()
	s.NoError(l.Load())
	s.Equal(0, l.Len())
}

func (s *LedgerSuite) TestLoadDropsInvalidRecordsAndRepersists() {
	valid := record("sess-1", "u1")
	invalid := record("sess-2", "")
	invalid.SubjectID = ""
	stored := map[string]models.VerificationRecord{
		"sess-1": valid,
		"sess-2": invalid,
	}
	raw, err := json.Marshal(stored)
	s.Require().NoError(err)
	s.Require().NoError(os.WriteFile(s.path, raw, 0o600))

	l := s.newLedger()
	s.Require().NoError(l.Load())

	s.Equal(1, l.Len())
	_, ok := l.Get("sess-1")
	s.True(ok)

	// The cleaned set is persisted back immediately.
	raw, err = os.ReadFile(s.path)
	s.Require().NoError(err)
	var repersisted map[string]models.VerificationRecord
	s.Require().NoError(json.Unmarshal(raw, &repersisted))
	s.Len(repersisted, 1)
	s.Contains(repersisted, "sess-1")
}

func (s *LedgerSuite) TestLoadDropsAgedRecords() {
	old := record("sess-old", "u1")
	old.CreatedAt = time.Now().Add(-25 * time.Hour)
	fresh := record("sess-new", "u2")
	raw, err := json.Marshal(map[string]models.VerificationRecord{
		"sess-old": old,
		"sess-new": fresh,
	})
	s.Require().NoError(err)
	s.Require().NoError(os.WriteFile(s.path, raw, 0o600))

	l := s.newLedger()
	s.Require().NoError(l.Load())

	s.Equal(1, l.Len())
	_, ok := l.Get("sess-new")
	s.True(ok)
}

func (s *LedgerSuite) TestLoadCorruptSnapshotMovesBackupAndStartsEmpty() {
	s.Require().NoError(os.WriteFile(s.path, []byte("{not json"), 0o600))

	l := s.newLedger()
	s.Require().NoError(l.Load())
	s.Equal(0, l.Len())

	// The corrupt file was renamed aside as a timestamped backup.
	matches, err := filepath.Glob(s.path + ".backup.*")
	s.Require().NoError(err)
	s.Len(matches, 1)
	_, err = os.Stat(s.path)
	s.True(os.IsNotExist(err))
}

func (s *LedgerSuite) TestLoadFillsSessionKeyFromMapKey() {
	rec := record("ignored", "u1")
	rec.SessionKey = ""
	raw, err := json.Marshal(map[string]models.VerificationRecord{"sess-7": rec})
	s.Require().NoError(err)
	s.Require().NoError(os.WriteFile(s.path, raw, 0o600))

	l := s.newLedger()
	s.Require().NoError(l.Load())

	got, ok := l.Get("sess-7")
	s.True(ok)
	s.Equal("sess-7", got.SessionKey)
}
