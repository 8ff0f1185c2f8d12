package sync

import (
	"math/rand"
	"sync"
	"time"
)

// backoff tracks per-entry retry schedules for push failures: exponential
// from base to cap with up to 25% jitter so a flock of failed entries does
// not retry in lockstep.
type backoff struct {
	base time.Duration
	cap  time.Duration

	mu    sync.Mutex
	fails map[string]int
	next  map[string]time.Time
}

func newBackoff(base, cap time.Duration) *backoff {
	if base <= 0 {
		base = time.Second
	}
	if cap < base {
		cap = 60 * time.Second
	}
	return &backoff{
		base:  base,
		cap:   cap,
		fails: make(map[string]int),
		next:  make(map[string]time.Time),
	}
}

// due reports whether id may be attempted at time now.
func (b *backoff) due(id string, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	at, ok := b.next[id]
	return !ok || !now.Before(at)
}

// failure records a transient failure and schedules the next attempt.
func (b *backoff) failure(id string, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.fails[id]
	d := b.base << n
	if d > b.cap || d <= 0 {
		d = b.cap
	} else {
		b.fails[id] = n + 1
	}
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	b.next[id] = now.Add(d + jitter)
}

// reset clears the schedule after a success (or a terminal outcome).
func (b *backoff) reset(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.fails, id)
	delete(b.next, id)
}
