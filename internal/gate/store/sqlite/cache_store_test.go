package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/colonia-access/gatekeeper/internal/gate/store"
	"github.com/colonia-access/gatekeeper/internal/gate/store/sqlite"
	"github.com/colonia-access/gatekeeper/internal/gate/types"
)

func newTestStore(t *testing.T) *sqlite.CacheStore {
	t.Helper()
	conn := openTestDB(t)
	return sqlite.NewCacheStore(conn, newTestWriter(t, conn))
}

func tokenEntry(status types.TokenStatus) store.CacheEntry {
	issued := time.Now().UTC().Truncate(time.Second)
	return store.CacheEntry{
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
		SyncState: store.SyncLocalOnly,
	}
}

func TestPut_AssignsIncreasingSequence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var last int64
	for i := 0; i < 3; i++ {
		stored, err := s.Put(ctx, tokenEntry(types.StatusPending))
		if err != nil {
			t.Fatalf("Put: %v", err)
		}
		if stored.Seq <= last {
			t.Errorf("expected increasing seq, got %d after %d", stored.Seq, last)
		}
		last = stored.Seq
	}
}

func TestPut_UpsertKeepsSequence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := tokenEntry(types.StatusPending)
	stored, err := s.Put(ctx, e)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	e.Token.Status = types.StatusActive
	again, err := s.Put(ctx, e)
	if err != nil {
		t.Fatalf("Put upsert: %v", err)
	}
	if again.Seq != stored.Seq {
		t.Errorf("upsert changed seq: %d -> %d", stored.Seq, again.Seq)
	}
	if again.Token.Status != types.StatusActive {
		t.Errorf("expected updated status, got %q", again.Token.Status)
	}
}

func TestGet_RoundTripsAllKinds(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tok := tokenEntry(types.StatusActive)
	if _, err := s.Put(ctx, tok); err != nil {
		t.Fatalf("put token: %v", err)
	}

	exit := time.Now().UTC().Truncate(time.Second).Add(time.Hour)
	vis := store.CacheEntry{
		Kind: store.KindVisitor,
		Visitor: &types.VisitorRecord{
			ID:           uuid.NewString(),
			TokenID:      tok.Token.ID,
			ResidentID:   "res-001",
			Name:         "Maria Gonzalez",
			VehiclePlate: "ABC-123",
			EntryAt:      time.Now().UTC().Truncate(time.Second),
			ExitAt:       &exit,
		},
		SyncState: store.SyncLocalOnly,
	}
	if _, err := s.Put(ctx, vis); err != nil {
		t.Fatalf("put visitor: %v", err)
	}

	res := store.CacheEntry{
		Kind:      store.KindResident,
		Resident:  &types.Resident{ID: "res-001", Name: "Jesus Jaramillo", AccessCode: "jaramillo203"},
		SyncState: store.SyncSynced,
	}
	if _, err := s.Put(ctx, res); err != nil {
		t.Fatalf("put resident: %v", err)
	}

	gotTok, err := s.Get(ctx, tok.Token.ID)
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	if gotTok.Token == nil || gotTok.Token.VisitorName != "Juan Perez" ||
		gotTok.Token.Purpose != types.PurposeVehicular || gotTok.Token.Status != types.StatusActive {
		t.Errorf("token round-trip mismatch: %+v", gotTok.Token)
	}
	if !gotTok.Token.ExpiresAt.Equal(tok.Token.ExpiresAt) {
		t.Errorf("expiresAt: got %v want %v", gotTok.Token.ExpiresAt, tok.Token.ExpiresAt)
	}

	gotVis, err := s.Get(ctx, vis.Visitor.ID)
	if err != nil {
		t.Fatalf("get visitor: %v", err)
	}
	if gotVis.Visitor == nil || gotVis.Visitor.TokenID != tok.Token.ID ||
		gotVis.Visitor.VehiclePlate != "ABC-123" || gotVis.Visitor.ExitAt == nil {
		t.Errorf("visitor round-trip mismatch: %+v", gotVis.Visitor)
	}

	gotRes, err := s.Get(ctx, "res-001")
	if err != nil {
		t.Fatalf("get resident: %v", err)
	}
	if gotRes.Resident == nil || gotRes.Resident.AccessCode != "jaramillo203" {
		t.Errorf("resident round-trip mismatch: %+v", gotRes.Resident)
	}
}

func TestGet_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get(context.Background(), "no-such-id")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListUnsynced_OrderedBySeq_ExcludesSyncedAndConflicted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Put(ctx, tokenEntry(types.StatusPending))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	second, err := s.Put(ctx, tokenEntry(types.StatusPending))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	synced, err := s.Put(ctx, tokenEntry(types.StatusPending))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	conflicted, err := s.Put(ctx, tokenEntry(types.StatusPending))
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	if err := s.MarkSynced(ctx, synced.ID(), "v1"); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}
	if err := s.MarkConflict(ctx, conflicted.ID(), `{"status":"pending"}`); err != nil {
		t.Fatalf("MarkConflict: %v", err)
	}

	got, err := s.ListUnsynced(ctx)
	if err != nil {
		t.Fatalf("ListUnsynced: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 unsynced entries, got %d", len(got))
	}
	if got[0].ID() != first.ID() || got[1].ID() != second.ID() {
		t.Errorf("unexpected order: %s, %s", got[0].ID(), got[1].ID())
	}
	if got[0].Seq >= got[1].Seq {
		t.Errorf("expected ascending seq, got %d then %d", got[0].Seq, got[1].Seq)
	}

	// Restartable: a second call reflects the same current state.
	again, err := s.ListUnsynced(ctx)
	if err != nil {
		t.Fatalf("ListUnsynced again: %v", err)
	}
	if len(again) != 2 {
		t.Errorf("expected 2 entries on repeat call, got %d", len(again))
	}
}

func TestMarkSynced_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e, err := s.Put(ctx, tokenEntry(types.StatusPending))
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := s.MarkSynced(ctx, e.ID(), "v7"); err != nil {
			t.Fatalf("MarkSynced call %d: %v", i+1, err)
		}
	}

	got, err := s.Get(ctx, e.ID())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SyncState != store.SyncSynced || got.RemoteVersion != "v7" {
		t.Errorf("got state=%s version=%s", got.SyncState, got.RemoteVersion)
	}
}

func TestMarkSynced_UnknownID(t *testing.T) {
	s := newTestStore(t)
	if err := s.MarkSynced(context.Background(), "ghost", "v1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkConflict_RetainsSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e, err := s.Put(ctx, tokenEntry(types.StatusConsumed))
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	snap := `{"status":"pending","resident":"res-001"}`
	if err := s.MarkConflict(ctx, e.ID(), snap); err != nil {
		t.Fatalf("MarkConflict: %v", err)
	}
	if err := s.MarkConflict(ctx, e.ID(), snap); err != nil {
		t.Fatalf("MarkConflict repeat: %v", err)
	}

	got, err := s.Get(ctx, e.ID())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SyncState != store.SyncConflictPending {
		t.Errorf("expected conflict_pending, got %s", got.SyncState)
	}
	if got.RemoteSnapshot != snap {
		t.Errorf("snapshot lost: %q", got.RemoteSnapshot)
	}
	// The local row itself is retained untouched.
	if got.Token == nil || got.Token.Status != types.StatusConsumed {
		t.Errorf("local token mutated: %+v", got.Token)
	}
}

func TestTransitionToken_CASSemantics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e, err := s.Put(ctx, tokenEntry(types.StatusActive))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	id := e.ID()

	ok, err := s.TransitionToken(ctx, id,
		[]types.TokenStatus{types.StatusPending, types.StatusActive}, types.StatusConsumed)
	if err != nil {
		t.Fatalf("TransitionToken: %v", err)
	}
	if !ok {
		t.Fatal("expected first transition to win")
	}

	// Second attempt must observe the consumed status and lose.
	ok, err = s.TransitionToken(ctx, id,
		[]types.TokenStatus{types.StatusPending, types.StatusActive}, types.StatusConsumed)
	if err != nil {
		t.Fatalf("TransitionToken repeat: %v", err)
	}
	if ok {
		t.Fatal("expected second transition to lose")
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Token.Status != types.StatusConsumed {
		t.Errorf("expected consumed, got %s", got.Token.Status)
	}
	// A status change re-queues the entry for push.
	if got.SyncState != store.SyncLocalOnly {
		t.Errorf("expected local_only after transition, got %s", got.SyncState)
	}
}

func TestTransitionToken_ConsumptionSurvivesStaleMark(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e, err := s.Put(ctx, tokenEntry(types.StatusActive))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	id := e.ID()

	if _, err := s.TransitionToken(ctx, id,
		[]types.TokenStatus{types.StatusActive}, types.StatusConsumed); err != nil {
		t.Fatalf("consume: %v", err)
	}

	// A reconciler markSynced for the consumed row records the sync but
	// must not roll the status back.
	if err := s.MarkSynced(ctx, id, "v2"); err != nil {
		t.Fatalf("MarkSynced: %v", err)
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Token.Status != types.StatusConsumed {
		t.Errorf("consumption fact lost: %s", got.Token.Status)
	}
}

func TestFindResidentByName_CaseInsensitive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, store.CacheEntry{
		Kind:      store.KindResident,
		Resident:  &types.Resident{ID: "res-002", Name: "Maria Lopez", AccessCode: "lopez555"},
		SyncState: store.SyncSynced,
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.FindResidentByName(ctx, "  maria lopez ")
	if err != nil {
		t.Fatalf("FindResidentByName: %v", err)
	}
	if got.ID != "res-002" {
		t.Errorf("got resident %q", got.ID)
	}

	if _, err := s.FindResidentByName(ctx, "nobody"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGet_CanceledContextIsNotAStorageFailure(t *testing.T) {
	s := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Get(ctx, "any-id")
	if err == nil {
		t.Fatal("expected an error from Get with a canceled context")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	// A client hanging up is not disk trouble; tagging it ErrStorage
	// would latch the service into refusing issuance.
	if errors.Is(err, store.ErrStorage) {
		t.Fatalf("cancellation classified as storage failure: %v", err)
	}
}

func TestCursor_PersistedAcrossCalls(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cur, err := s.Cursor(ctx)
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	if cur != "" {
		t.Errorf("expected empty initial cursor, got %q", cur)
	}

	if err := s.SetCursor(ctx, "42"); err != nil {
		t.Fatalf("SetCursor: %v", err)
	}
	cur, err = s.Cursor(ctx)
	if err != nil {
		t.Fatalf("Cursor: %v", err)
	}
	if cur != "42" {
		t.Errorf("expected cursor 42, got %q", cur)
	}
}
