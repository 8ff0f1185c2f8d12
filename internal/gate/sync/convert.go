package sync

import (
	"fmt"
	"time"

	"github.com/colonia-access/gatekeeper/internal/gate/remote"
	"github.com/colonia-access/gatekeeper/internal/gate/store"
	"github.com/colonia-access/gatekeeper/internal/gate/types"
)

// recordFromEntry flattens a cache entry into the remote row shape.
func recordFromEntry(e store.CacheEntry) (remote.Record, error) {
	switch e.Kind {
	case store.KindToken:
		t := e.Token
		if t == nil {
			return remote.Record{}, fmt.Errorf("token entry %q has no token", e.ID())
		}
		return remote.Record{
			ID:         t.ID,
			Kind:       string(store.KindToken),
			ResidentID: t.ResidentID,
			Name:       t.VisitorName,
			Purpose:    string(t.Purpose),
			Status:     string(t.Status),
			StartsAt:   t.IssuedAt,
			EndsAt:     t.ExpiresAt,
			Version:    e.RemoteVersion,
		}, nil

	case store.KindVisitor:
		v := e.Visitor
		if v == nil {
			return remote.Record{}, fmt.Errorf("visitor entry %q has no visitor", e.ID())
		}
		rec := remote.Record{
			ID:           v.ID,
			Kind:         string(store.KindVisitor),
			ResidentID:   v.ResidentID,
			Name:         v.Name,
			VehiclePlate: v.VehiclePlate,
			TokenID:      v.TokenID,
			StartsAt:     v.EntryAt,
			Version:      e.RemoteVersion,
		}
		if v.ExitAt != nil {
			rec.EndsAt = *v.ExitAt
		}
		return rec, nil

	case store.KindResident:
		r := e.Resident
		if r == nil {
			return remote.Record{}, fmt.Errorf("resident entry %q has no resident", e.ID())
		}
		return remote.Record{
			ID:         r.ID,
			Kind:       string(store.KindResident),
			ResidentID: r.ID,
			Name:       r.Name,
			AccessCode: r.AccessCode,
			Version:    e.RemoteVersion,
		}, nil
	}
	return remote.Record{}, fmt.Errorf("entry %q has unknown kind %q", e.ID(), e.Kind)
}

// entryFromRecord builds a cache entry for a remote row first seen in a
// pull. The caller decides the sync state.
func entryFromRecord(rec remote.Record) (store.CacheEntry, error) {
	switch store.EntryKind(rec.Kind) {
	case store.KindToken:
		status := types.TokenStatus(rec.Status)
		if status == "" {
			status = types.StatusPending
		}
		return store.CacheEntry{
			Kind: store.KindToken,
			Token: &types.AccessToken{
				ID:          rec.ID,
				ResidentID:  rec.ResidentID,
				VisitorName: rec.Name,
				IssuedAt:    rec.StartsAt,
				ExpiresAt:   rec.EndsAt,
				Purpose:     types.Purpose(rec.Purpose),
				Status:      status,
			},
			RemoteVersion: rec.Version,
		}, nil

	case store.KindVisitor:
		v := &types.VisitorRecord{
			ID:           rec.ID,
			TokenID:      rec.TokenID,
			ResidentID:   rec.ResidentID,
			Name:         rec.Name,
			VehiclePlate: rec.VehiclePlate,
			EntryAt:      rec.StartsAt,
		}
		if !rec.EndsAt.IsZero() {
			exit := rec.EndsAt
			v.ExitAt = &exit
		}
		return store.CacheEntry{
			Kind:          store.KindVisitor,
			Visitor:       v,
			RemoteVersion: rec.Version,
		}, nil

	case store.KindResident:
		return store.CacheEntry{
			Kind: store.KindResident,
			Resident: &types.Resident{
				ID:         rec.ID,
				Name:       rec.Name,
				AccessCode: rec.AccessCode,
			},
			RemoteVersion: rec.Version,
		}, nil
	}
	return store.CacheEntry{}, fmt.Errorf("remote record %q has unknown kind %q", rec.ID, rec.Kind)
}

// newerThan compares the conflict-resolution timestamps of two records of
// the same kind: issuance time for tokens, entry time for visitors.
func newerThan(a, b remote.Record) bool {
	return timestampOf(a).After(timestampOf(b))
}

func timestampOf(rec remote.Record) time.Time {
	return rec.StartsAt
}
