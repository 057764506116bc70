package mcp

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// profileTracker remembers the profile each session analyzed last, so that
// follow-up tool calls may omit profile_id. Entries expire after window.
type profileTracker struct {
	mu     sync.Mutex
	last   map[string]trackedProfile
	window time.Duration
}

type trackedProfile struct {
	id uuid.UUID
	at time.Time
}

func newProfileTracker(window time.Duration) *profileTracker {
	return &profileTracker{
		last:   make(map[string]trackedProfile),
		window: window,
	}
}

// Record notes that session analyzed profile id.
func (t *profileTracker) Record(session string, id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last[session] = trackedProfile{id: id, at: time.Now()}

	if len(t.last) > 1000 {
		t.purgeStale()
	}
}

// Last returns the profile session analyzed last within the window.
func (t *profileTracker) Last(session string) (uuid.UUID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.last[session]
	if !ok {
		return uuid.Nil, false
	}
	if time.Since(p.at) > t.window {
		delete(t.last, session)
		return uuid.Nil, false
	}
	return p.id, true
}

// purgeStale must be called with mu held.
func (t *profileTracker) purgeStale() {
	now := time.Now()
	for k, p := range t.last {
		if now.Sub(p.at) > t.window {
			delete(t.last, k)
		}
	}
}
