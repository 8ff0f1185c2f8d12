package sync

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/colonia-access/gatekeeper/internal/gate/remote"
	"github.com/colonia-access/gatekeeper/internal/gate/store"
	"github.com/colonia-access/gatekeeper/internal/gate/types"
)

// Reconciler keeps the Local Cache Store and the remote system of record
// eventually consistent. It runs as a background loop, never on the
// admission path: remote unreachability degrades to offline mode and the
// loop simply keeps retrying.
type Reconciler struct {
	cache    store.CacheStore
	remote   remote.Store
	interval time.Duration
	pushTO   time.Duration
	backoff  *backoff
	logger   *log.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// Config holds the parameters for NewReconciler.
type Config struct {
	// Interval is how often a sync pass runs. Defaults to 30s.
	Interval time.Duration

	// PushTimeout bounds each individual record push so one stuck write
	// cannot stall the rest of the pass. Defaults to 10s.
	PushTimeout time.Duration

	// BackoffBase/BackoffCap shape the per-entry retry schedule after
	// transient push failures. Defaults 1s / 60s.
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// NewReconciler creates a reconciler but does not start it. A nil remote
// disables syncing entirely (pure offline deployment).
func NewReconciler(cache store.CacheStore, rem remote.Store, cfg Config, logger *log.Logger) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = 10 * time.Second
	}

	return &Reconciler{
		cache:    cache,
		remote:   rem,
		interval: cfg.Interval,
		pushTO:   cfg.PushTimeout,
		backoff:  newBackoff(cfg.BackoffBase, cfg.BackoffCap),
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start begins the background sync loop. It runs an immediate pass on
// startup, then repeats on the configured interval. The loop exits when
// ctx is cancelled or Stop is called.
func (r *Reconciler) Start(ctx context.Context) {
	if r.remote == nil {
		r.logger.Printf("sync disabled (no remote configured)")
		close(r.done)
		return
	}

	ctx, r.cancel = context.WithCancel(ctx)

	go r.loop(ctx)

	r.logger.Printf("sync reconciler started (interval=%s)", r.interval)
}

// Stop signals the reconciler to exit and waits for it to finish.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	<-r.done
}

func (r *Reconciler) loop(ctx context.Context) {
	defer close(r.done)

	r.SyncOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.SyncOnce(ctx)
		}
	}
}

// SyncOnce runs one push-then-pull pass. Exported so tests (and a future
// admin trigger) can drive passes deterministically.
func (r *Reconciler) SyncOnce(ctx context.Context) {
	if err := r.push(ctx); err != nil {
		r.logger.Printf("sync push: %v", err)
	}
	if err := r.pull(ctx); err != nil {
		r.logger.Printf("sync pull: %v", err)
	}
}

// push writes every unsynced entry to the remote, oldest first. Transient
// failures are retried on later passes with per-entry backoff; permanent
// rejections park the entry in conflict_pending.
func (r *Reconciler) push(ctx context.Context) error {
	entries, err := r.cache.ListUnsynced(ctx)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, e := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		id := e.ID()
		if !r.backoff.due(id, now) {
			continue
		}

		rec, err := recordFromEntry(e)
		if err != nil {
			// Structurally unconvertible rows need an operator.
			r.logger.Printf("sync push %s: %v", id, err)
			if err := r.cache.MarkConflict(ctx, id, conflictNote(err.Error())); err != nil {
				return err
			}
			continue
		}

		pushCtx, cancel := context.WithTimeout(ctx, r.pushTO)
		version, err := r.remote.WriteRecord(pushCtx, rec)
		cancel()

		var rejected *remote.RejectedError
		switch {
		case err == nil:
			if err := r.cache.MarkSynced(ctx, id, version); err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
			r.backoff.reset(id)

		case errors.As(err, &rejected):
			r.logger.Printf("sync push %s: rejected: %s", id, rejected.Reason)
			if err := r.cache.MarkConflict(ctx, id, conflictNote(rejected.Reason)); err != nil {
				return err
			}
			r.backoff.reset(id)

		default:
			// Transient (network, timeout): entry stays unsynced,
			// the next pass retries it after backoff. One entry's
			// timeout never aborts the rest of the pass.
			r.logger.Printf("sync push %s: transient: %v", id, err)
			r.backoff.failure(id, now)
		}
	}
	return nil
}

// pull applies remote changes since the persisted cursor. The cursor only
// advances after every fetched record has been applied, so a failed pass
// re-reads the same rows next time.
func (r *Reconciler) pull(ctx context.Context) error {
	cursor, err := r.cache.Cursor(ctx)
	if err != nil {
		return err
	}

	records, next, err := r.remote.FetchSince(ctx, cursor)
	if err != nil {
		return err
	}

	for _, rec := range records {
		if err := r.apply(ctx, rec); err != nil {
			return err
		}
	}

	if next != cursor {
		if err := r.cache.SetCursor(ctx, next); err != nil {
			return err
		}
	}
	return nil
}

// apply reconciles one remote record against the local cache.
func (r *Reconciler) apply(ctx context.Context, rec remote.Record) error {
	local, err := r.cache.Get(ctx, rec.ID)
	if errors.Is(err, store.ErrNotFound) {
		entry, err := entryFromRecord(rec)
		if err != nil {
			r.logger.Printf("sync pull %s: %v", rec.ID, err)
			return nil
		}
		entry.SyncState = store.SyncSynced
		_, err = r.cache.Put(ctx, entry)
		return err
	}
	if err != nil {
		return err
	}

	// Already under manual review: leave it alone.
	if local.SyncState == store.SyncConflictPending {
		return nil
	}

	if string(local.Kind) != rec.Kind {
		return r.cache.MarkConflict(ctx, rec.ID, snapshotJSON(rec))
	}

	localRec, err := recordFromEntry(local)
	if err != nil {
		return r.cache.MarkConflict(ctx, rec.ID, snapshotJSON(rec))
	}

	if recordsMatch(localRec, rec) {
		// Same content both sides; record the version if we had not.
		if local.SyncState != store.SyncSynced || local.RemoteVersion != rec.Version {
			return r.cache.MarkSynced(ctx, rec.ID, rec.Version)
		}
		return nil
	}

	switch local.Kind {
	case store.KindToken:
		return r.applyToken(ctx, local, rec)

	case store.KindResident:
		// The administrators' sheet is authoritative for the directory.
		return r.adopt(ctx, rec)

	case store.KindVisitor:
		// Visitor history is immutable once synced: a diverging remote
		// row for a record we already pushed is an operator problem.
		if local.SyncState == store.SyncSynced {
			return r.cache.MarkConflict(ctx, rec.ID, snapshotJSON(rec))
		}
		// Not pushed yet: our copy is the newer fact.
		return nil
	}
	return r.cache.MarkConflict(ctx, rec.ID, snapshotJSON(rec))
}

func (r *Reconciler) applyToken(ctx context.Context, local store.CacheEntry, rec remote.Record) error {
	localStatus := local.Token.Status
	remoteStatus := types.TokenStatus(rec.Status)

	// A locally recorded Consumed or Revoked always beats a remote row
	// still showing Pending/Active: the gate already acted on it. The
	// entry stays unsynced, so the next push republishes the real state.
	if (localStatus == types.StatusConsumed || localStatus == types.StatusRevoked) &&
		(remoteStatus == types.StatusPending || remoteStatus == types.StatusActive || remoteStatus == "") {
		return nil
	}

	localRec, err := recordFromEntry(local)
	if err != nil {
		return r.cache.MarkConflict(ctx, rec.ID, snapshotJSON(rec))
	}

	// Otherwise the most recently issued version wins.
	if newerThan(rec, localRec) {
		return r.adopt(ctx, rec)
	}
	if newerThan(localRec, rec) {
		return nil // push will publish ours
	}

	// Same issuance instant, different content: needs a human.
	return r.cache.MarkConflict(ctx, rec.ID, snapshotJSON(rec))
}

// adopt replaces the local entry with the remote record, marked synced.
func (r *Reconciler) adopt(ctx context.Context, rec remote.Record) error {
	entry, err := entryFromRecord(rec)
	if err != nil {
		return r.cache.MarkConflict(ctx, rec.ID, snapshotJSON(rec))
	}
	entry.SyncState = store.SyncSynced
	_, err = r.cache.Put(ctx, entry)
	return err
}

// recordsMatch compares record content ignoring the version cell.
func recordsMatch(a, b remote.Record) bool {
	a.Version, b.Version = "", ""
	return a.ID == b.ID && a.Kind == b.Kind && a.ResidentID == b.ResidentID &&
		a.Name == b.Name && a.Purpose == b.Purpose && a.Status == b.Status &&
		a.VehiclePlate == b.VehiclePlate && a.TokenID == b.TokenID &&
		a.AccessCode == b.AccessCode &&
		a.StartsAt.Equal(b.StartsAt) && a.EndsAt.Equal(b.EndsAt)
}

func snapshotJSON(rec remote.Record) string {
	b, err := json.Marshal(rec)
	if err != nil {
		return conflictNote(err.Error())
	}
	return string(b)
}

func conflictNote(msg string) string {
	b, _ := json.Marshal(map[string]string{"note": msg})
	return string(b)
}
