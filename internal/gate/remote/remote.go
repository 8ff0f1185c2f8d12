package remote

import (
	"context"
	"fmt"
	"time"
)

// Record is one row of the remote tabular system of record. The same row
// shape carries tokens, visitor records and resident directory entries,
// discriminated by Kind — mirroring the single worksheet the facility
// administrators maintain.
type Record struct {
	ID           string
	Kind         string // "token" | "visitor" | "resident"
	ResidentID   string
	Name         string
	Purpose      string
	Status       string
	VehiclePlate string
	TokenID      string
	AccessCode   string
	StartsAt     time.Time
	EndsAt       time.Time

	// Version is the optimistic-concurrency cell: writers send the
	// version they last observed, the store bumps it on every update.
	Version string
}

// RejectedError is a permanent write rejection: the remote holds the id
// with content that diverged from what the writer based its update on.
// Every other WriteRecord error is transient and retried.
type RejectedError struct {
	ID     string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("remote: write of %s rejected: %s", e.ID, e.Reason)
}

// Store is the remote system of record. The core treats it purely as an
// eventually consistent replica target; nothing here is transactional
// across records.
type Store interface {
	// FetchSince returns records added after cursor, in order, plus the
	// cursor to resume from. An empty cursor reads from the beginning.
	FetchSince(ctx context.Context, cursor string) ([]Record, string, error)

	// WriteRecord upserts one record keyed by its ID and returns the
	// stored version. Writing identical content again is a no-op
	// returning the current version, which is what makes a retried
	// push idempotent.
	WriteRecord(ctx context.Context, rec Record) (string, error)
}
