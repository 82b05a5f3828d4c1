// Package store persists each user's list of hangout records.
// MongoStore is the production backend; MemoryStore serves tests and
// single-process development runs.
package store

import (
	"context"
	"errors"

	"github.com/observer/hangouts/internal/domain"
)

var (
	// ErrNotFound is returned when the owner has no record about the peer
	ErrNotFound = errors.New("store: hangout not found")

	// ErrClosed is returned when operations are attempted on a closed store
	ErrClosed = errors.New("store: closed")
)

// HangoutStore defines per-user hangout persistence.
// All implementations must be safe for concurrent use.
type HangoutStore interface {
	// List returns owner's hangouts; an unknown owner yields an empty list.
	List(ctx context.Context, owner string) ([]domain.Hangout, error)

	// Get returns owner's record about peer or ErrNotFound.
	Get(ctx context.Context, owner, peer string) (*domain.Hangout, error)

	// Upsert replaces owner's record about h.Username, appending it if absent.
	Upsert(ctx context.Context, owner string, h domain.Hangout) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close(ctx context.Context) error
}
