package sqlite

import (
	"fmt"
	"time"

	"github.com/colonia-access/gatekeeper/internal/gate/store"
	"github.com/colonia-access/gatekeeper/internal/gate/types"
)

// entryRow is the flattened column form of a CacheEntry. Nullable columns
// map to pointers so unrelated kinds leave them NULL.
type entryRow struct {
	kind           string
	residentID     *string
	name           *string
	purpose        *string
	status         *string
	tokenID        *string
	vehiclePlate   *string
	entryAtMs      *int64
	exitAtMs       *int64
	accessCode     *string
	issuedAtMs     *int64
	expiresAtMs    *int64
	syncState      string
	remoteVersion  string
	remoteSnapshot string
}

func rowFromEntry(e store.CacheEntry) (entryRow, error) {
	r := entryRow{
		kind:           string(e.Kind),
		syncState:      string(e.SyncState),
		remoteVersion:  e.RemoteVersion,
		remoteSnapshot: e.RemoteSnapshot,
	}
	if r.syncState == "" {
		r.syncState = string(store.SyncLocalOnly)
	}

	switch e.Kind {
	case store.KindToken:
		t := e.Token
		if t == nil {
			return entryRow{}, fmt.Errorf("token entry without token")
		}
		r.residentID = optStr(t.ResidentID)
		r.name = optStr(t.VisitorName)
		r.purpose = optStr(string(t.Purpose))
		r.status = optStr(string(t.Status))
		r.issuedAtMs = optMs(t.IssuedAt)
		r.expiresAtMs = optMs(t.ExpiresAt)

	case store.KindVisitor:
		v := e.Visitor
		if v == nil {
			return entryRow{}, fmt.Errorf("visitor entry without visitor")
		}
		r.residentID = optStr(v.ResidentID)
		r.name = optStr(v.Name)
		r.tokenID = optStr(v.TokenID)
		r.vehiclePlate = optStr(v.VehiclePlate)
		r.entryAtMs = optMs(v.EntryAt)
		if v.ExitAt != nil {
			r.exitAtMs = optMs(*v.ExitAt)
		}

	case store.KindResident:
		res := e.Resident
		if res == nil {
			return entryRow{}, fmt.Errorf("resident entry without resident")
		}
		r.residentID = optStr(res.ID)
		r.name = optStr(res.Name)
		r.accessCode = optStr(res.AccessCode)

	default:
		return entryRow{}, fmt.Errorf("unknown entry kind %q", e.Kind)
	}

	return r, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc rowScanner) (store.CacheEntry, error) {
	var (
		seq         int64
		entityID    string
		r           entryRow
		updatedAtMs int64
	)
	if err := sc.Scan(
		&seq, &entityID, &r.kind, &r.residentID, &r.name, &r.purpose, &r.status,
		&r.tokenID, &r.vehiclePlate, &r.entryAtMs, &r.exitAtMs, &r.accessCode,
		&r.issuedAtMs, &r.expiresAtMs, &r.syncState, &r.remoteVersion, &r.remoteSnapshot,
		&updatedAtMs,
	); err != nil {
		return store.CacheEntry{}, err
	}

	e := store.CacheEntry{
		Seq:            seq,
		Kind:           store.EntryKind(r.kind),
		SyncState:      store.SyncState(r.syncState),
		RemoteVersion:  r.remoteVersion,
		RemoteSnapshot: r.remoteSnapshot,
		UpdatedAt:      time.UnixMilli(updatedAtMs).UTC(),
	}

	switch e.Kind {
	case store.KindToken:
		e.Token = &types.AccessToken{
			ID:          entityID,
			ResidentID:  deref(r.residentID),
			VisitorName: deref(r.name),
			Purpose:     types.Purpose(deref(r.purpose)),
			Status:      types.TokenStatus(deref(r.status)),
			IssuedAt:    msTime(r.issuedAtMs),
			ExpiresAt:   msTime(r.expiresAtMs),
		}
	case store.KindVisitor:
		v := &types.VisitorRecord{
			ID:           entityID,
			TokenID:      deref(r.tokenID),
			ResidentID:   deref(r.residentID),
			Name:         deref(r.name),
			VehiclePlate: deref(r.vehiclePlate),
			EntryAt:      msTime(r.entryAtMs),
		}
		if r.exitAtMs != nil {
			t := msTime(r.exitAtMs)
			v.ExitAt = &t
		}
		e.Visitor = v
	case store.KindResident:
		e.Resident = &types.Resident{
			ID:         entityID,
			Name:       deref(r.name),
			AccessCode: deref(r.accessCode),
		}
	default:
		return store.CacheEntry{}, fmt.Errorf("row %s has unknown kind %q", entityID, r.kind)
	}

	return e, nil
}

func optStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optMs(t time.Time) *int64 {
	if t.IsZero() {
		return nil
	}
	ms := t.UTC().UnixMilli()
	return &ms
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func msTime(ms *int64) time.Time {
	if ms == nil {
		return time.Time{}
	}
	return time.UnixMilli(*ms).UTC()
}
