// Package store defines the versioned single-document store contract used to
// persist the leaderboard, plus the codec and error taxonomy shared by its
// backends.
//
// A backend exposes get/put-with-revision semantics: Fetch returns the current
// records and an opaque revision, Write replaces the records only if the
// supplied revision still matches. Every mutation is therefore a
// fetch -> transform -> write cycle and ErrConflict is an expected outcome.
package store

import (
	"context"

	"github.com/okian/scoreboard/internal/domain/model"
)

// VersionedStore is a remote single-document store with compare-and-swap writes.
type VersionedStore interface {
	// Fetch returns the current records and revision.
	// Returns ErrNotFound if the document has never been created.
	Fetch(ctx context.Context) (model.Document, error)

	// Provision creates the document with an empty record set, creating any
	// parent container first. It never overwrites an existing document: if one
	// appeared concurrently it returns ErrConflict so the caller re-fetches.
	Provision(ctx context.Context) (string, error)

	// Write replaces the document content if expectedRevision is still current
	// and returns the new revision. Returns ErrConflict without side effects
	// otherwise.
	Write(ctx context.Context, records []model.ScoreRecord, expectedRevision string) (string, error)

	// Name identifies the backend in logs and metrics.
	Name() string
}

// Verifier is implemented by backends that can check their credentials before
// serving traffic.
type Verifier interface {
	Verify(ctx context.Context) error
}
