package memory

import (
	"context"
	"strconv"
	"sync"

	"github.com/colonia-access/gatekeeper/internal/gate/remote"
)

// Store is an in-memory remote system of record for tests and for dev
// environments with no spreadsheet configured. It implements the same
// upsert-by-id and optimistic-version semantics as the sheets adapter,
// plus failure injection for exercising the reconciler's retry paths.
type Store struct {
	mu      sync.Mutex
	order   []string // append order, drives FetchSince
	records map[string]remote.Record

	writeCalls int
	failWrites error // when set, WriteRecord returns this error
}

func New() *Store {
	return &Store{records: make(map[string]remote.Record)}
}

func (s *Store) FetchSince(_ context.Context, cursor string) ([]remote.Record, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			start = 0
		} else if n > len(s.order) {
			start = len(s.order)
		} else {
			start = n
		}
	}

	out := make([]remote.Record, 0, len(s.order)-start)
	for _, id := range s.order[start:] {
		out = append(out, s.records[id])
	}
	return out, strconv.Itoa(len(s.order)), nil
}

func (s *Store) WriteRecord(_ context.Context, rec remote.Record) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writeCalls++
	if s.failWrites != nil {
		return "", s.failWrites
	}

	existing, ok := s.records[rec.ID]
	if !ok {
		rec.Version = "1"
		s.records[rec.ID] = rec
		s.order = append(s.order, rec.ID)
		return rec.Version, nil
	}

	if contentEqual(existing, rec) {
		return existing.Version, nil
	}
	if rec.Version != existing.Version {
		return "", &remote.RejectedError{ID: rec.ID, Reason: "version mismatch"}
	}

	n, _ := strconv.Atoi(existing.Version)
	rec.Version = strconv.Itoa(n + 1)
	s.records[rec.ID] = rec
	return rec.Version, nil
}

// Seed inserts records directly, as if another portal had written them.
func (s *Store) Seed(recs ...remote.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range recs {
		if rec.Version == "" {
			rec.Version = "1"
		}
		if _, ok := s.records[rec.ID]; !ok {
			s.order = append(s.order, rec.ID)
		}
		s.records[rec.ID] = rec
	}
}

// FailWrites makes every WriteRecord return err until called with nil.
func (s *Store) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites = err
}

// WriteCalls returns how many WriteRecord attempts were made.
func (s *Store) WriteCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeCalls
}

// Records returns a snapshot of stored records in append order.
func (s *Store) Records() []remote.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]remote.Record, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id])
	}
	return out
}

// Get returns the stored record for id.
func (s *Store) Get(id string) (remote.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	return rec, ok
}

func contentEqual(a, b remote.Record) bool {
	a.Version, b.Version = "", ""
	return a == b
}
