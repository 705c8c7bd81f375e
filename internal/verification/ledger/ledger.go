// Package ledger implements the durable verification ledger: an in-memory
// mapping from session key to verification record, mirrored to a single JSON
// snapshot on disk. In-memory mutations are immediate (read-your-writes);
// durability is handled by a debounced background writer so bursts of
// mutations coalesce into at most one in-flight persist plus one follow-up.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"veriflow/internal/verification/models"
	vmetrics "veriflow/internal/verification/metrics"
	dErrors "veriflow/pkg/domain-errors"
)

// DefaultMaxAge is the retention window after which records are dropped on
// hydration and by the periodic sweep.
const DefaultMaxAge = 24 * time.Hour

// Entry pairs a session key with its record for iteration snapshots.
type Entry struct {
	Key    string
	Record models.VerificationRecord
}

type Ledger struct {
	mu      sync.RWMutex
	records map[string]models.VerificationRecord

	path   string
	maxAge time.Duration

	logger  *slog.Logger
	metrics *vmetrics.Metrics

	// writeMu serializes snapshot writes between the background writer and
	// ForceFlush.
	writeMu sync.Mutex

	// signal has capacity 1: a mutation during an in-flight persist queues
	// exactly one follow-up pass, further mutations fold into it.
	signal    chan struct{}
	done      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once
}

type Option func(*Ledger)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

func WithMaxAge(maxAge time.Duration) Option {
	return func(l *Ledger) {
		l.maxAge = maxAge
	}
}

func WithMetrics(m *vmetrics.Metrics) Option {
	return func(l *Ledger) {
		l.metrics = m
	}
}

// New builds a ledger persisting to path and starts its background writer.
// Call Load before serving to hydrate prior state, and Close on shutdown.
func New(path string, opts ...Option) (*Ledger, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger path is required")
	}

	l := &Ledger{
		records: make(map[string]models.VerificationRecord),
		path:    path,
		maxAge:  DefaultMaxAge,
		logger:  slog.Default(),
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}

	for _, opt := range opts {
		opt(l)
	}

	go l.writeLoop()

	return l, nil
}

// Get returns the record at key.
func (l *Ledger) Get(key string) (models.VerificationRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[key]
	return rec, ok
}

// Set stores the record at key and schedules a persist.
func (l *Ledger) Set(key string, rec models.VerificationRecord) {
	l.mu.Lock()
	l.records[key] = rec
	l.mu.Unlock()
	l.markDirty()
}

// Delete removes the record at key, reporting whether it existed.
func (l *Ledger) Delete(key string) bool {
	l.mu.Lock()
	_, ok := l.records[key]
	delete(l.records, key)
	l.mu.Unlock()
	if ok {
		l.markDirty()
	}
	return ok
}

// Replace atomically removes the record at oldKey and stores rec at newKey.
// Used when a pending-approval record is promoted to a provider session under
// the provider-issued key.
func (l *Ledger) Replace(oldKey, newKey string, rec models.VerificationRecord) {
	l.mu.Lock()
	delete(l.records, oldKey)
	l.records[newKey] = rec
	l.mu.Unlock()
	l.markDirty()
}

// Clear removes all records.
func (l *Ledger) Clear() {
	l.mu.Lock()
	l.records = make(map[string]models.VerificationRecord)
	l.mu.Unlock()
	l.markDirty()
}

// Len returns the number of live records.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Entries returns a point-in-time copy of all records.
func (l *Ledger) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, 0, len(l.records))
	for key, rec := range l.records {
		out = append(out, Entry{Key: key, Record: rec})
	}
	return out
}

// FindBySubject scans for the live record belonging to subjectID. The ledger
// holds at most one live record per subject, enforced by the coordinator.
func (l *Ledger) FindBySubject(subjectID string) (models.VerificationRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, rec := range l.records {
		if rec.SubjectID == subjectID {
			return rec, true
		}
	}
	return models.VerificationRecord{}, false
}

// Load hydrates the ledger from its snapshot. Corrupt snapshots are renamed
// aside as timestamped backups and the ledger starts empty; records failing
// validation are dropped with a warning; records past the retention window
// are dropped silently. Any drop triggers an immediate re-persist. Load only
// returns an error for unexpected I/O failures.
func (l *Ledger) Load() error {
	raw, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodePersistence, "read ledger snapshot")
	}

	var stored map[string]models.VerificationRecord
	if err := json.Unmarshal(raw, &stored); err != nil {
		backup := fmt.Sprintf("%s.backup.%d", l.path, time.Now().Unix())
		if renameErr := os.Rename(l.path, backup); renameErr != nil {
			l.logger.Error("failed to move corrupt ledger snapshot aside",
				"path", l.path,
				"error", renameErr.Error(),
			)
		}
		l.logger.Warn("ledger snapshot corrupt, starting empty",
			"path", l.path,
			"backup", backup,
			"error", err.Error(),
		)
		return nil
	}

	now := time.Now()
	kept := make(map[string]models.VerificationRecord, len(stored))
	dropped := 0
	for key, rec := range stored {
		if rec.SessionKey == "" {
			rec.SessionKey = key
		}
		if err := rec.Validate(); err != nil {
			l.logger.Warn("dropping invalid verification record",
				"session_key", key,
				"error", err.Error(),
			)
			dropped++
			continue
		}
		if rec.ExpiredAt(now, l.maxAge) {
			dropped++
			continue
		}
		kept[key] = rec
	}

	l.mu.Lock()
	l.records = kept
	l.mu.Unlock()

	if dropped > 0 {
		if err := l.persist(); err != nil {
			l.logger.Error("failed to re-persist cleaned ledger",
				"error", err.Error(),
			)
		}
	}

	l.logger.Info("ledger hydrated",
		"records", len(kept),
		"dropped", dropped,
	)
	return nil
}

// ForceFlush synchronously writes the current state to disk. Used as the
// shutdown durability barrier.
func (l *Ledger) ForceFlush() error {
	return l.persist()
}

// Close stops the background writer and flushes a final snapshot. Safe to
// call more than once.
func (l *Ledger) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	<-l.exited
	return l.persist()
}

// markDirty schedules an asynchronous persist. The non-blocking send onto the
// capacity-1 channel coalesces bursts: at most one persist runs plus at most
// one more is queued.
func (l *Ledger) markDirty() {
	select {
	case l.signal <- struct{}{}:
	default:
	}
}

func (l *Ledger) writeLoop() {
	defer close(l.exited)
	for {
		select {
		case <-l.done:
			return
		case <-l.signal:
			if err := l.persist(); err != nil {
				l.metrics.IncLedgerPersistError()
				l.logger.Error("ledger persist failed",
					"path", l.path,
					"error", err.Error(),
				)
			}
		}
	}
}

// persist writes the full snapshot to a staging file and renames it over the
// canonical path, so readers never observe a half-written file.
func (l *Ledger) persist() error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.mu.RLock()
	snapshot := make(map[string]models.VerificationRecord, len(l.records))
	for key, rec := range l.records {
		snapshot[key] = rec
	}
	l.mu.RUnlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodePersistence, "marshal ledger snapshot")
	}

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return dErrors.Wrap(err, dErrors.CodePersistence, "create ledger directory")
		}
	}

	tmp := l.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodePersistence, "open staging file")
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return dErrors.Wrap(err, dErrors.CodePersistence, "write staging file")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return dErrors.Wrap(err, dErrors.CodePersistence, "sync staging file")
	}
	if err := f.Close(); err != nil {
		return dErrors.Wrap(err, dErrors.CodePersistence, "close staging file")
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return dErrors.Wrap(err, dErrors.CodePersistence, "swap ledger snapshot")
	}
	return nil
}
