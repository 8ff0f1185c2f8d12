package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/colonia-access/gatekeeper/internal/gate/store"
	"github.com/colonia-access/gatekeeper/internal/gate/types"
)

// CacheStore is an in-memory CacheStore for tests and dev environments.
// The single mutex gives the same per-entry atomicity the sqlite store
// gets from its single-writer worker.
type CacheStore struct {
	mu      sync.Mutex
	entries map[string]store.CacheEntry
	nextSeq int64
	cursor  string
}

func NewCacheStore() *CacheStore {
	return &CacheStore{entries: make(map[string]store.CacheEntry)}
}

func (s *CacheStore) Put(_ context.Context, e store.CacheEntry) (store.CacheEntry, error) {
	id := e.ID()
	if id == "" {
		return store.CacheEntry{}, store.ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[id]; ok {
		e.Seq = existing.Seq
	} else {
		s.nextSeq++
		e.Seq = s.nextSeq
	}
	if e.SyncState == "" {
		e.SyncState = store.SyncLocalOnly
	}
	e.UpdatedAt = time.Now().UTC()
	s.entries[id] = clone(e)
	return clone(e), nil
}

func (s *CacheStore) Get(_ context.Context, id string) (store.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return store.CacheEntry{}, store.ErrNotFound
	}
	return clone(e), nil
}

func (s *CacheStore) ListUnsynced(_ context.Context) ([]store.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.CacheEntry
	for _, e := range s.entries {
		if e.SyncState == store.SyncLocalOnly || e.SyncState == store.SyncSyncing {
			out = append(out, clone(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *CacheStore) MarkSynced(_ context.Context, id, remoteVersion string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return store.ErrNotFound
	}
	e.SyncState = store.SyncSynced
	e.RemoteVersion = remoteVersion
	e.RemoteSnapshot = ""
	e.UpdatedAt = time.Now().UTC()
	s.entries[id] = e
	return nil
}

func (s *CacheStore) MarkConflict(_ context.Context, id, remoteSnapshot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return store.ErrNotFound
	}
	e.SyncState = store.SyncConflictPending
	e.RemoteSnapshot = remoteSnapshot
	e.UpdatedAt = time.Now().UTC()
	s.entries[id] = e
	return nil
}

func (s *CacheStore) TransitionToken(_ context.Context, id string, from []types.TokenStatus, to types.TokenStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok || e.Kind != store.KindToken || e.Token == nil {
		return false, nil
	}
	matched := false
	for _, st := range from {
		if e.Token.Status == st {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}

	tok := *e.Token
	tok.Status = to
	e.Token = &tok
	e.SyncState = store.SyncLocalOnly
	e.UpdatedAt = time.Now().UTC()
	s.entries[id] = e
	return true, nil
}

func (s *CacheStore) FindResidentByName(_ context.Context, name string) (types.Resident, error) {
	want := strings.ToLower(strings.TrimSpace(name))

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.Kind != store.KindResident || e.Resident == nil {
			continue
		}
		if strings.ToLower(strings.TrimSpace(e.Resident.Name)) == want {
			return *e.Resident, nil
		}
	}
	return types.Resident{}, store.ErrNotFound
}

func (s *CacheStore) Cursor(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor, nil
}

func (s *CacheStore) SetCursor(_ context.Context, cursor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = cursor
	return nil
}

// clone deep-copies the wrapped entity so callers cannot mutate stored state.
func clone(e store.CacheEntry) store.CacheEntry {
	if e.Token != nil {
		t := *e.Token
		e.Token = &t
	}
	if e.Visitor != nil {
		v := *e.Visitor
		if v.ExitAt != nil {
			x := *v.ExitAt
			v.ExitAt = &x
		}
		e.Visitor = &v
	}
	if e.Resident != nil {
		r := *e.Resident
		e.Resident = &r
	}
	return e
}
