package store

import (
	"context"
	"errors"
	"time"

	"github.com/colonia-access/gatekeeper/internal/gate/types"
)

// SyncState tracks where a cached entry stands relative to the remote
// system of record.
type SyncState string

const (
	SyncLocalOnly       SyncState = "local_only"
	SyncSyncing         SyncState = "syncing"
	SyncSynced          SyncState = "synced"
	SyncConflictPending SyncState = "conflict_pending"
)

// EntryKind discriminates what a CacheEntry wraps.
type EntryKind string

const (
	KindToken    EntryKind = "token"
	KindVisitor  EntryKind = "visitor"
	KindResident EntryKind = "resident"
)

var (
	ErrNotFound = errors.New("store: entry not found")

	// ErrStorage wraps local durable-storage failures (disk full,
	// corruption). Callers treat these as fatal to further writes.
	ErrStorage = errors.New("store: storage failure")
)

// CacheEntry is the unit of local persistence and of synchronization.
// Exactly one of Token, Visitor or Resident is set, matching Kind.
// Seq is assigned by the store on first insert and is the push cursor:
// strictly increasing in insertion order.
type CacheEntry struct {
	Seq      int64
	Kind     EntryKind
	Token    *types.AccessToken
	Visitor  *types.VisitorRecord
	Resident *types.Resident

	SyncState      SyncState
	RemoteVersion  string
	RemoteSnapshot string // JSON of the diverging remote row, set on conflict

	UpdatedAt time.Time
}

// ID returns the wrapped entity's id.
func (e CacheEntry) ID() string {
	switch e.Kind {
	case KindToken:
		if e.Token != nil {
			return e.Token.ID
		}
	case KindVisitor:
		if e.Visitor != nil {
			return e.Visitor.ID
		}
	case KindResident:
		if e.Resident != nil {
			return e.Resident.ID
		}
	}
	return ""
}

// CacheStore is the durable local mapping from entity id to CacheEntry.
// It is the single shared mutable resource between the request paths and
// the reconciler; every mutation is atomic per entry.
type CacheStore interface {
	// Put upserts the entry by its entity id, assigning the next
	// sequence number if it is new, and returns the stored entry.
	Put(ctx context.Context, e CacheEntry) (CacheEntry, error)

	// Get returns the entry for id, or ErrNotFound.
	Get(ctx context.Context, id string) (CacheEntry, error)

	// ListUnsynced returns entries not yet in SyncSynced state, ordered
	// by sequence number ascending. It reflects current state and may be
	// called repeatedly.
	ListUnsynced(ctx context.Context) ([]CacheEntry, error)

	// MarkSynced records a successful push or pull of id. Idempotent.
	MarkSynced(ctx context.Context, id, remoteVersion string) error

	// MarkConflict parks id in SyncConflictPending, keeping the local
	// row and the remote snapshot for manual resolution. Idempotent.
	MarkConflict(ctx context.Context, id, remoteSnapshot string) error

	// TransitionToken atomically moves a token from one of the given
	// statuses to the target status, returning whether the transition
	// happened. A successful transition flips the entry back to
	// SyncLocalOnly so the new status is pushed out. This is the
	// compare-and-swap that makes consumption at-most-once.
	TransitionToken(ctx context.Context, id string, from []types.TokenStatus, to types.TokenStatus) (bool, error)

	// FindResidentByName looks up the mirrored resident directory,
	// case-insensitively, or returns ErrNotFound.
	FindResidentByName(ctx context.Context, name string) (types.Resident, error)

	// Cursor and SetCursor persist the reconciler's pull position.
	Cursor(ctx context.Context) (string, error)
	SetCursor(ctx context.Context, cursor string) error
}
