package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type SeedDevOptions struct {
	// Residents to pre-create in dev so the portal has someone to log
	// in as before the first successful pull from the remote sheet.
	Residents []SeedResident
}

type SeedResident struct {
	ID         string
	Name       string
	AccessCode string
}

func SeedDev(ctx context.Context, db *sql.DB, opt SeedDevOptions) error {
	now := time.Now().UTC().UnixMilli()

	residents := opt.Residents
	if len(residents) == 0 {
		// Minimal starter resident
		residents = []SeedResident{
			{ID: "res-dev-001", Name: "Jesus Jaramillo", AccessCode: "jaramillo203"},
		}
	}

	for _, r := range residents {
		if r.ID == "" || r.Name == "" || r.AccessCode == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, `
INSERT INTO cache_entries(
  entity_id, kind, resident_id, name, access_code,
  sync_state, created_at_ms, updated_at_ms
) VALUES (?, 'resident', ?, ?, ?, 'synced', ?, ?)
ON CONFLICT(entity_id) DO UPDATE SET
  name = excluded.name,
  access_code = excluded.access_code,
  updated_at_ms = excluded.updated_at_ms;
`, r.ID, r.ID, r.Name, r.AccessCode, now, now); err != nil {
			return fmt.Errorf("seed resident %s: %w", r.ID, err)
		}
	}

	return nil
}
