package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chiyoko-haruka/chiyoko/telemetry"
)

// DefaultTimeout bounds one backend load or save. Backend I/O runs under the store lock, so an
// unbounded call would block every reader.
const DefaultTimeout = 10 * time.Second

// PersistError reports that a change was applied in memory but could not be written.
type PersistError struct {
	Backend string
	Err     error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persist to %s backend: %v", e.Backend, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }

// Store is the in-memory working copy of the document plus its backend.
// Every read and write of the document happens under mu.
type Store struct {
	mu         sync.Mutex
	backend    Backend
	doc        *Document
	lastReload time.Time
	dirty      bool // in-memory changes not yet persisted
	timeout    time.Duration

	now func() time.Time
}

// Open loads the document from backend. It never fails: a missing or unreadable document
// is logged and replaced by an empty one.
func Open(ctx context.Context, backend Backend) *Store {
	s := &Store{backend: backend, timeout: DefaultTimeout, now: time.Now}
	doc, err := s.load(ctx)
	if err != nil {
		if errors.Is(err, ErrNoDocument) {
			slog.Warn("no monitor document found, starting empty", slog.String("backend", backend.Name()), slog.String("component", "store"))
		} else {
			slog.Warn("failed to load monitor document, starting empty", slog.String("backend", backend.Name()), slog.Any("err", err), slog.String("component", "store"))
		}
		doc = NewDocument()
	}
	s.doc = doc
	s.lastReload = s.now()
	return s
}

// SetTimeout changes the bound on backend I/O. Non-positive values restore DefaultTimeout.
func (s *Store) SetTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultTimeout
	}
	s.mu.Lock()
	s.timeout = d
	s.mu.Unlock()
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend { return s.backend }

func (s *Store) load(ctx context.Context) (*Document, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	doc, err := s.backend.Load(ctx)
	if err != nil {
		return nil, err
	}
	for _, key := range doc.sanitize() {
		slog.Warn("dropped invalid guild entry from monitor document", slog.String("guild_id", key), slog.String("component", "store"))
	}
	return doc, nil
}

// View calls fn with the working copy under the lock. fn must not retain or mutate doc.
func (s *Store) View(fn func(doc *Document)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.doc)
}

// Snapshot returns a deep copy of the working copy.
func (s *Store) Snapshot() *Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}

// Mutate applies fn to the working copy without persisting. If fn returns an error the
// working copy is left untouched.
func (s *Store) Mutate(fn func(doc *Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutateLocked(fn)
}

func (s *Store) mutateLocked(fn func(doc *Document) error) error {
	next := s.doc.Clone()
	if err := fn(next); err != nil {
		return err
	}
	s.doc = next
	s.dirty = true
	return nil
}

// Update applies fn and persists the result as one critical section. A persistence failure
// is returned as *PersistError; the in-memory change is kept and retried on the next save.
func (s *Store) Update(ctx context.Context, fn func(doc *Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutateLocked(fn); err != nil {
		return err
	}
	return s.saveLocked(ctx)
}

// Save persists the working copy.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx)
}

func (s *Store) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	d := s.timeout
	if d <= 0 {
		d = DefaultTimeout
	}
	return context.WithTimeout(ctx, d)
}

func (s *Store) saveLocked(ctx context.Context) error {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	if err := s.backend.Save(ctx, s.doc); err != nil {
		telemetry.ObserveStoreSave(err)
		slog.Error("failed to persist monitor document", slog.String("backend", s.backend.Name()), slog.Any("err", err), slog.String("component", "store"))
		return &PersistError{Backend: s.backend.Name(), Err: err}
	}
	telemetry.ObserveStoreSave(nil)
	s.dirty = false
	return nil
}

// ReloadIfStale reloads the document from the backend when more than maxAge has passed
// since the last reload, picking up edits made by other processes. A failed reload keeps
// the current working copy. Unsaved in-memory changes are flushed instead of reloaded.
func (s *Store) ReloadIfStale(ctx context.Context, maxAge time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if now.Sub(s.lastReload) <= maxAge {
		return false, nil
	}
	s.lastReload = now
	if s.dirty {
		return false, s.saveLocked(ctx)
	}
	doc, err := s.load(ctx)
	if err != nil {
		if errors.Is(err, ErrNoDocument) {
			return false, nil
		}
		slog.Warn("monitor document reload failed, keeping working copy", slog.Any("err", err), slog.String("component", "store"))
		return false, err
	}
	s.doc = doc
	slog.Debug("monitor document reloaded", slog.String("backend", s.backend.Name()), slog.String("component", "store"))
	return true, nil
}

// Counts returns guild, streamer and live totals of the working copy.
func (s *Store) Counts() (guilds, streamers, live int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Counts()
}
