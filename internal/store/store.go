// Package store is the boundary to the shared record store. Every backend
// applies a record.Mutation atomically (no read-then-write across the wire)
// and delivers post-mutation snapshots to subscribers.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/1ureka/mirror/internal/record"
)

var (
	// ErrNotFound is returned when no record matches the code.
	ErrNotFound = errors.New("record not found")

	// ErrExists is returned when inserting over a record that is still open.
	ErrExists = errors.New("open record already exists")

	// ErrStoreClosed is returned by operations on a closed store.
	ErrStoreClosed = errors.New("store closed")
)

// Store is a keyed record store with subscribe-on-change semantics.
type Store interface {
	// Insert creates rec. A closed record with the same code is replaced;
	// an open one yields ErrExists.
	Insert(ctx context.Context, rec *record.Record) (*record.Record, error)

	// Get returns the record for code or ErrNotFound.
	Get(ctx context.Context, code string) (*record.Record, error)

	// Update atomically applies m and returns the resulting record. Errors
	// from record.Mutation.Apply are returned unchanged (wrapped).
	Update(ctx context.Context, code string, m record.Mutation) (*record.Record, error)

	// Subscribe delivers a full snapshot after every effective update of the
	// record matching code. Delivery is at-least-once and may coalesce
	// intermediate snapshots, never reorder them.
	Subscribe(ctx context.Context, code string) (Subscription, error)

	// Close releases backend resources.
	Close() error
}

// Subscription is a live feed of snapshots for one code.
type Subscription interface {
	Updates() <-chan *record.Record
	Close() error
}

// now is overridable in tests.
var now = func() time.Time { return time.Now().UTC() }

// maxCASRetries bounds optimistic-concurrency retry loops in backends that
// implement Update as compare-and-swap on the record revision.
const maxCASRetries = 16
