package sync_test

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/google/uuid"

	remotepkg "github.com/colonia-access/gatekeeper/internal/gate/remote"
	remotemem "github.com/colonia-access/gatekeeper/internal/gate/remote/memory"
	"github.com/colonia-access/gatekeeper/internal/gate/store"
	storemem "github.com/colonia-access/gatekeeper/internal/gate/store/memory"
	gatesync "github.com/colonia-access/gatekeeper/internal/gate/sync"
	"github.com/colonia-access/gatekeeper/internal/gate/types"
)

func silentLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestReconciler(t *testing.T) (*gatesync.Reconciler, *storemem.CacheStore, *remotemem.Store) {
	t.Helper()
	cache := storemem.NewCacheStore()
	rem := remotemem.New()
	rec := gatesync.NewReconciler(cache, rem, gatesync.Config{
		Interval:    time.Hour, // tests drive passes explicitly
		PushTimeout: time.Second,
		BackoffBase: time.Millisecond,
		BackoffCap:  2 * time.Millisecond,
	}, silentLogger())
	return rec, cache, rem
}

func putToken(t *testing.T, cache *storemem.CacheStore, status types.TokenStatus, syncState store.SyncState, remoteVersion string) store.CacheEntry {
	t.Helper()
	issued := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	e, err := cache.Put(context.Background(), store.CacheEntry{
		Kind: store.KindToken,
		Token: &types.AccessToken{
			ID:          uuid.NewString(),
			ResidentID:  "res-001",
			VisitorName: "Juan Perez",
			IssuedAt:    issued,
			ExpiresAt:   issued.Add(4 * time.Hour),
			Purpose:     types.PurposeVehicular,
			Status:      status,
		},
		SyncState:     syncState,
		RemoteVersion: remoteVersion,
	})
	if err != nil {
		t.Fatalf("put token: %v", err)
	}
	return e
}

func TestSyncOnce_PushesUnsyncedOldestFirst(t *testing.T) {
	rec, cache, rem := newTestReconciler(t)
	ctx := context.Background()

	first := putToken(t, cache, types.StatusPending, store.SyncLocalOnly, "")
	second := putToken(t, cache, types.StatusPending, store.SyncLocalOnly, "")

	rec.SyncOnce(ctx)

	records := rem.Records()
	if len(records) != 2 {
		t.Fatalf("expected 2 remote records, got %d", len(records))
	}
	if records[0].ID != first.ID() || records[1].ID != second.ID() {
		t.Errorf("push order wrong: %s, %s", records[0].ID, records[1].ID)
	}

	for _, id := range []string{first.ID(), second.ID()} {
		got, err := cache.Get(ctx, id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if got.SyncState != store.SyncSynced {
			t.Errorf("%s: expected synced, got %s", id, got.SyncState)
		}
		if got.RemoteVersion != "1" {
			t.Errorf("%s: expected remote version 1, got %q", id, got.RemoteVersion)
		}
	}
}

func TestSyncOnce_RetriedPushDoesNotDuplicate(t *testing.T) {
	rec, cache, rem := newTestReconciler(t)
	ctx := context.Background()

	e := putToken(t, cache, types.StatusPending, store.SyncLocalOnly, "")

	rec.SyncOnce(ctx)

	// Simulate a lost acknowledgement: the entry is flipped back to
	// unsynced with identical content and pushed again.
	got, err := cache.Get(ctx, e.ID())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.SyncState = store.SyncLocalOnly
	if _, err := cache.Put(ctx, got); err != nil {
		t.Fatalf("re-put: %v", err)
	}

	rec.SyncOnce(ctx)

	if n := len(rem.Records()); n != 1 {
		t.Fatalf("expected exactly 1 remote record after retry, got %d", n)
	}
	final, err := cache.Get(ctx, e.ID())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.SyncState != store.SyncSynced {
		t.Errorf("expected synced after retry, got %s", final.SyncState)
	}
}

func TestSyncOnce_TransientFailureRetriesWithBackoff(t *testing.T) {
	rec, cache, rem := newTestReconciler(t)
	ctx := context.Background()

	e := putToken(t, cache, types.StatusPending, store.SyncLocalOnly, "")

	rem.FailWrites(errors.New("connection refused"))
	rec.SyncOnce(ctx)

	got, err := cache.Get(ctx, e.ID())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SyncState != store.SyncLocalOnly {
		t.Fatalf("transient failure must leave entry unsynced, got %s", got.SyncState)
	}
	if rem.WriteCalls() != 1 {
		t.Fatalf("expected 1 write attempt, got %d", rem.WriteCalls())
	}

	// Connectivity returns; after the backoff window the entry syncs.
	rem.FailWrites(nil)
	time.Sleep(10 * time.Millisecond)
	rec.SyncOnce(ctx)

	got, err = cache.Get(ctx, e.ID())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SyncState != store.SyncSynced {
		t.Errorf("expected synced after recovery, got %s", got.SyncState)
	}
}

func TestSyncOnce_PermanentRejectionParksConflict(t *testing.T) {
	rec, cache, rem := newTestReconciler(t)
	ctx := context.Background()

	e := putToken(t, cache, types.StatusPending, store.SyncLocalOnly, "")

	// The remote already holds the id with different content.
	rem.Seed(remotepkg.Record{
		ID:       e.ID(),
		Kind:     "token",
		Name:     "Somebody Else",
		Status:   "active",
		StartsAt: time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC),
		EndsAt:   time.Date(2026, 5, 2, 13, 0, 0, 0, time.UTC),
		Version:  "3",
	})

	rec.SyncOnce(ctx)

	got, err := cache.Get(ctx, e.ID())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SyncState != store.SyncConflictPending {
		t.Errorf("expected conflict_pending, got %s", got.SyncState)
	}
	if got.RemoteSnapshot == "" {
		t.Error("expected a retained conflict snapshot")
	}
	// The local row survives for manual resolution.
	if got.Token == nil || got.Token.VisitorName != "Juan Perez" {
		t.Errorf("local row lost: %+v", got.Token)
	}
}

func TestSyncOnce_PullCreatesSyncedEntries(t *testing.T) {
	rec, cache, rem := newTestReconciler(t)
	ctx := context.Background()

	rem.Seed(
		remotepkg.Record{
			ID: "res-009", Kind: "resident", ResidentID: "res-009",
			Name: "Maria Lopez", AccessCode: "lopez555",
		},
		remotepkg.Record{
			ID: uuid.NewString(), Kind: "token", ResidentID: "res-009",
			Name: "Plomero", Purpose: "vehicular", Status: "pending",
			StartsAt: time.Date(2026, 5, 3, 8, 0, 0, 0, time.UTC),
			EndsAt:   time.Date(2026, 5, 3, 18, 0, 0, 0, time.UTC),
		},
	)

	rec.SyncOnce(ctx)

	res, err := cache.FindResidentByName(ctx, "Maria Lopez")
	if err != nil {
		t.Fatalf("resident not mirrored: %v", err)
	}
	if res.AccessCode != "lopez555" {
		t.Errorf("access code not mirrored: %q", res.AccessCode)
	}

	entry, err := cache.Get(ctx, "res-009")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if entry.SyncState != store.SyncSynced {
		t.Errorf("pulled entry should be synced, got %s", entry.SyncState)
	}

	cursor, err := cache.Cursor(ctx)
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	if cursor != "2" {
		t.Errorf("expected cursor 2 after pulling both rows, got %q", cursor)
	}

	// A second pass pulls nothing new and changes nothing.
	rec.SyncOnce(ctx)
	if unsynced, _ := cache.ListUnsynced(ctx); len(unsynced) != 0 {
		t.Errorf("expected no unsynced entries, got %d", len(unsynced))
	}
}

func TestSyncOnce_LocalConsumedBeatsRemotePending(t *testing.T) {
	rec, cache, rem := newTestReconciler(t)
	ctx := context.Background()

	// Token synced at version 1 while pending, then consumed at the gate
	// while the remote still shows pending.
	e := putToken(t, cache, types.StatusConsumed, store.SyncLocalOnly, "1")
	pending, err := cache.Get(ctx, e.ID())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	rem.Seed(remotepkg.Record{
		ID: e.ID(), Kind: "token", ResidentID: "res-001",
		Name: "Juan Perez", Purpose: "vehicular", Status: "pending",
		StartsAt: pending.Token.IssuedAt, EndsAt: pending.Token.ExpiresAt,
		Version:  "1",
	})

	rec.SyncOnce(ctx)

	// Global state converges on consumed: remote row updated, local intact.
	remoteRec, ok := rem.Get(e.ID())
	if !ok {
		t.Fatal("remote record vanished")
	}
	if remoteRec.Status != "consumed" {
		t.Errorf("remote status: got %q want consumed", remoteRec.Status)
	}

	local, err := cache.Get(ctx, e.ID())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if local.Token.Status != types.StatusConsumed {
		t.Errorf("local consumption fact lost: %s", local.Token.Status)
	}
	if local.SyncState != store.SyncSynced {
		t.Errorf("expected synced after converging, got %s", local.SyncState)
	}
}

func TestSyncOnce_NewerRemoteIssuanceWins(t *testing.T) {
	rec, cache, rem := newTestReconciler(t)
	ctx := context.Background()

	e := putToken(t, cache, types.StatusActive, store.SyncSynced, "1")
	local, err := cache.Get(ctx, e.ID())
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	// The remote holds a re-issued (newer) version of the same token.
	newer := local.Token.IssuedAt.Add(2 * time.Hour)
	rem.Seed(remotepkg.Record{
		ID: e.ID(), Kind: "token", ResidentID: "res-001",
		Name: "Juan Perez", Purpose: "vehicular", Status: "active",
		StartsAt: newer, EndsAt: newer.Add(4 * time.Hour),
		Version:  "2",
	})

	rec.SyncOnce(ctx)

	got, err := cache.Get(ctx, e.ID())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Token.IssuedAt.Equal(newer) {
		t.Errorf("expected adopted remote issuance %v, got %v", newer, got.Token.IssuedAt)
	}
	if got.SyncState != store.SyncSynced || got.RemoteVersion != "2" {
		t.Errorf("expected synced v2, got %s v%s", got.SyncState, got.RemoteVersion)
	}
}

func TestSyncOnce_KindMismatchParksConflict(t *testing.T) {
	rec, cache, rem := newTestReconciler(t)
	ctx := context.Background()

	e := putToken(t, cache, types.StatusPending, store.SyncSynced, "1")
	rem.Seed(remotepkg.Record{
		ID: e.ID(), Kind: "visitor", ResidentID: "res-001",
		Name: "Juan Perez",
		StartsAt: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	})

	rec.SyncOnce(ctx)

	got, err := cache.Get(ctx, e.ID())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SyncState != store.SyncConflictPending {
		t.Errorf("expected conflict_pending on kind mismatch, got %s", got.SyncState)
	}
}

func TestReconciler_StartStopWithNoRemote(t *testing.T) {
	cache := storemem.NewCacheStore()
	rec := gatesync.NewReconciler(cache, nil, gatesync.Config{}, silentLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec.Start(ctx)
	// Stop should return immediately: sync is disabled offline.
	rec.Stop()
}

func TestReconciler_StopIsIdempotent(t *testing.T) {
	rec, _, _ := newTestReconciler(t)

	ctx, cancel := context.WithCancel(context.Background())
	rec.Start(ctx)

	cancel()
	// Multiple stops should not panic.
	rec.Stop()
	rec.Stop()
}
