// Package memstore is an in-process VersionedStore with the same
// compare-and-swap contract as the remote backends. It backs local runs and
// the service tests.
package memstore

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/okian/scoreboard/internal/adapters/store"
	"github.com/okian/scoreboard/internal/domain/model"
)

const backendName = "memory"

// WriteHook runs before every Write with the 1-based write number. A non-nil
// error is returned to the caller and the write is not applied.
type WriteHook func(ctx context.Context, n int) error

// Store is a mutex-guarded document with an integer revision.
type Store struct {
	mu       sync.RWMutex
	exists   bool
	records  []model.ScoreRecord
	revision int
	writes   int
	hook     WriteHook
}

// Option configures a Store.
type Option func(*Store)

// WithRecords seeds the store with an existing document.
func WithRecords(records []model.ScoreRecord) Option {
	return func(s *Store) {
		s.exists = true
		s.records = append([]model.ScoreRecord(nil), records...)
		s.revision = 1
	}
}

// WithWriteHook installs a hook used to inject faults or interleave writers.
func WithWriteHook(h WriteHook) Option {
	return func(s *Store) {
		s.hook = h
	}
}

// New creates an empty, unprovisioned store.
func New(opts ...Option) *Store {
	s := &Store{}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements store.VersionedStore.
func (s *Store) Name() string { return backendName }

// Fetch implements store.VersionedStore.
func (s *Store) Fetch(ctx context.Context) (model.Document, error) {
	if err := ctx.Err(); err != nil {
		return model.Document{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.exists {
		return model.Document{}, fmt.Errorf("memstore fetch: %w", store.ErrNotFound)
	}
	return model.Document{
		Records:  append([]model.ScoreRecord(nil), s.records...),
		Revision: s.rev(),
	}, nil
}

// Provision implements store.VersionedStore.
func (s *Store) Provision(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exists {
		return "", fmt.Errorf("memstore provision: %w", store.ErrConflict)
	}
	s.exists = true
	s.records = nil
	s.revision++
	return s.rev(), nil
}

// Write implements store.VersionedStore.
func (s *Store) Write(ctx context.Context, records []model.ScoreRecord, expectedRevision string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.writes++
	n := s.writes
	hook := s.hook
	s.mu.Unlock()

	// The hook runs unlocked so it may call Put to simulate a concurrent writer.
	if hook != nil {
		if err := hook(ctx, n); err != nil {
			return "", err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.exists {
		return "", fmt.Errorf("memstore write: %w", store.ErrNotFound)
	}
	if expectedRevision != s.rev() {
		return "", fmt.Errorf("memstore write: %w: have %s, want %s", store.ErrConflict, s.rev(), expectedRevision)
	}
	s.records = append([]model.ScoreRecord(nil), records...)
	s.revision++
	return s.rev(), nil
}

// Put replaces the document unconditionally, as an external writer would.
func (s *Store) Put(records []model.ScoreRecord) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exists = true
	s.records = append([]model.ScoreRecord(nil), records...)
	s.revision++
	return s.rev()
}

// Remove deletes the document, as an external actor would.
func (s *Store) Remove() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exists = false
	s.records = nil
	s.revision++
}

// Records returns a copy of the stored records.
func (s *Store) Records() []model.ScoreRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.ScoreRecord(nil), s.records...)
}

// Writes returns how many Write calls were made, successful or not.
func (s *Store) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

func (s *Store) rev() string {
	return strconv.Itoa(s.revision)
}
