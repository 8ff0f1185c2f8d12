package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/colonia-access/gatekeeper/internal/db"
	"github.com/colonia-access/gatekeeper/internal/gate/store"
	"github.com/colonia-access/gatekeeper/internal/gate/types"
)

// CacheStore is the durable Local Cache Store. Reads go straight to the
// connection; every mutation runs as one transaction on the shared
// single-writer Worker, which is what makes per-entry updates atomic.
type CacheStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewCacheStore(db *sql.DB, writer *dbpkg.Worker) *CacheStore {
	return &CacheStore{db: db, writer: writer}
}

const entryColumns = `
seq, entity_id, kind, resident_id, name, purpose, status,
token_id, vehicle_plate, entry_at_ms, exit_at_ms, access_code,
issued_at_ms, expires_at_ms, sync_state, remote_version, remote_snapshot,
updated_at_ms`

func (s *CacheStore) Put(ctx context.Context, e store.CacheEntry) (store.CacheEntry, error) {
	id := e.ID()
	if id == "" {
		return store.CacheEntry{}, fmt.Errorf("put: entry has no entity id")
	}

	row, err := rowFromEntry(e)
	if err != nil {
		return store.CacheEntry{}, err
	}
	nowMs := time.Now().UTC().UnixMilli()

	var stored store.CacheEntry
	err = s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO cache_entries(
  entity_id, kind, resident_id, name, purpose, status,
  token_id, vehicle_plate, entry_at_ms, exit_at_ms, access_code,
  issued_at_ms, expires_at_ms, sync_state, remote_version, remote_snapshot,
  created_at_ms, updated_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(entity_id) DO UPDATE SET
  kind = excluded.kind,
  resident_id = excluded.resident_id,
  name = excluded.name,
  purpose = excluded.purpose,
  status = excluded.status,
  token_id = excluded.token_id,
  vehicle_plate = excluded.vehicle_plate,
  entry_at_ms = excluded.entry_at_ms,
  exit_at_ms = excluded.exit_at_ms,
  access_code = excluded.access_code,
  issued_at_ms = excluded.issued_at_ms,
  expires_at_ms = excluded.expires_at_ms,
  sync_state = excluded.sync_state,
  remote_version = excluded.remote_version,
  remote_snapshot = excluded.remote_snapshot,
  updated_at_ms = excluded.updated_at_ms;
`,
			id, row.kind, row.residentID, row.name, row.purpose, row.status,
			row.tokenID, row.vehiclePlate, row.entryAtMs, row.exitAtMs, row.accessCode,
			row.issuedAtMs, row.expiresAtMs, row.syncState, row.remoteVersion, row.remoteSnapshot,
			nowMs, nowMs,
		); err != nil {
			return fmt.Errorf("put %s: %w", id, err)
		}

		got, err := scanEntry(tx.QueryRowContext(ctx,
			`SELECT `+entryColumns+` FROM cache_entries WHERE entity_id = ?;`, id))
		if err != nil {
			return fmt.Errorf("put %s: readback: %w", id, err)
		}
		stored = got
		return nil
	})
	if err != nil {
		return store.CacheEntry{}, storageErr(err)
	}
	return stored, nil
}

func (s *CacheStore) Get(ctx context.Context, id string) (store.CacheEntry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM cache_entries WHERE entity_id = ?;`, id))
	if err == sql.ErrNoRows {
		return store.CacheEntry{}, store.ErrNotFound
	}
	if err != nil {
		return store.CacheEntry{}, storageErr(fmt.Errorf("get %s: %w", id, err))
	}
	return e, nil
}

func (s *CacheStore) ListUnsynced(ctx context.Context) ([]store.CacheEntry, error) {
	// Conflicted entries are parked for manual review, not retried.
	rows, err := s.db.QueryContext(ctx, `
SELECT `+entryColumns+`
FROM cache_entries
WHERE sync_state IN ('local_only', 'syncing')
ORDER BY seq ASC;`)
	if err != nil {
		return nil, storageErr(fmt.Errorf("listUnsynced: %w", err))
	}
	defer rows.Close()

	var out []store.CacheEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, storageErr(fmt.Errorf("listUnsynced scan: %w", err))
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(fmt.Errorf("listUnsynced rows: %w", err))
	}
	return out, nil
}

func (s *CacheStore) MarkSynced(ctx context.Context, id, remoteVersion string) error {
	return s.mark(ctx, id, "markSynced", `
UPDATE cache_entries
SET sync_state = 'synced', remote_version = ?, remote_snapshot = '', updated_at_ms = ?
WHERE entity_id = ?;`, remoteVersion)
}

func (s *CacheStore) MarkConflict(ctx context.Context, id, remoteSnapshot string) error {
	return s.mark(ctx, id, "markConflict", `
UPDATE cache_entries
SET sync_state = 'conflict_pending', remote_snapshot = ?, updated_at_ms = ?
WHERE entity_id = ?;`, remoteSnapshot)
}

func (s *CacheStore) mark(ctx context.Context, id, op, query, arg string) error {
	nowMs := time.Now().UTC().UnixMilli()
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, arg, nowMs, id)
		if err != nil {
			return fmt.Errorf("%s %s: %w", op, id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrNotFound
		}
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return err
	}
	return storageErr(err)
}

func (s *CacheStore) TransitionToken(ctx context.Context, id string, from []types.TokenStatus, to types.TokenStatus) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	args := make([]any, 0, len(from)+3)
	args = append(args, string(to), time.Now().UTC().UnixMilli(), id)
	for _, st := range from {
		args = append(args, string(st))
	}

	var changed bool
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		// The conditional UPDATE is the compare-and-swap: under the
		// single-writer worker at most one concurrent scan can match
		// the status precondition.
		res, err := tx.ExecContext(ctx, `
UPDATE cache_entries
SET status = ?, sync_state = 'local_only', updated_at_ms = ?
WHERE entity_id = ? AND kind = 'token' AND status IN (`+placeholders+`);`, args...)
		if err != nil {
			return fmt.Errorf("transition %s -> %s: %w", id, to, err)
		}
		n, _ := res.RowsAffected()
		changed = n == 1
		return nil
	})
	if err != nil {
		return false, storageErr(err)
	}
	return changed, nil
}

func (s *CacheStore) FindResidentByName(ctx context.Context, name string) (types.Resident, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx, `
SELECT `+entryColumns+`
FROM cache_entries
WHERE kind = 'resident' AND LOWER(TRIM(name)) = LOWER(TRIM(?))
LIMIT 1;`, name))
	if err == sql.ErrNoRows {
		return types.Resident{}, store.ErrNotFound
	}
	if err != nil {
		return types.Resident{}, storageErr(fmt.Errorf("findResident %q: %w", name, err))
	}
	if e.Resident == nil {
		return types.Resident{}, store.ErrNotFound
	}
	return *e.Resident, nil
}

func (s *CacheStore) Cursor(ctx context.Context) (string, error) {
	var cursor string
	err := s.db.QueryRowContext(ctx, `SELECT cursor FROM sync_cursor WHERE id = 1;`).Scan(&cursor)
	if err != nil {
		return "", storageErr(fmt.Errorf("cursor: %w", err))
	}
	return cursor, nil
}

func (s *CacheStore) SetCursor(ctx context.Context, cursor string) error {
	nowMs := time.Now().UTC().UnixMilli()
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE sync_cursor SET cursor = ?, updated_at_ms = ? WHERE id = 1;`,
			cursor, nowMs); err != nil {
			return fmt.Errorf("setCursor: %w", err)
		}
		return nil
	})
	return storageErr(err)
}

// storageErr tags database failures as fatal storage errors while letting
// context cancellation pass through untouched. Callers wrap before getting
// here, so the check has to unwrap.
func storageErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", store.ErrStorage, err)
}
