package chat

import (
	"sync"
	"time"
)

type typingKey struct {
	projectID string
	userID    string
}

// Tracker holds ephemeral typing presence per (project, user). Every
// entry carries a timer that clears it after the TTL; explicit clears
// and message sends cancel the timer so only one expiry path fires.
type Tracker struct {
	mu       sync.Mutex
	ttl      time.Duration
	entries  map[typingKey]*time.Timer
	onExpire func(projectID, userID string)
}

// NewTracker builds a tracker. onExpire runs outside the tracker lock
// whenever an entry times out (not when it is cleared explicitly).
func NewTracker(ttl time.Duration, onExpire func(projectID, userID string)) *Tracker {
	return &Tracker{
		ttl:      ttl,
		entries:  make(map[typingKey]*time.Timer),
		onExpire: onExpire,
	}
}

// Set marks the user as typing and returns true when that is a
// transition into the typing state. A repeat while already typing
// just pushes the expiry out and returns false.
func (t *Tracker) Set(projectID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := typingKey{projectID: projectID, userID: userID}
	if timer, ok := t.entries[key]; ok {
		timer.Stop()
		timer.Reset(t.ttl)
		return false
	}
	t.entries[key] = time.AfterFunc(t.ttl, func() { t.expire(key) })
	return true
}

// Clear removes the user's typing entry and cancels its timer. It
// returns true if the user was typing; the caller owns any
// stopped-typing notification.
func (t *Tracker) Clear(projectID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := typingKey{projectID: projectID, userID: userID}
	timer, ok := t.entries[key]
	if !ok {
		return false
	}
	timer.Stop()
	delete(t.entries, key)
	return true
}

// Active reports whether the user currently counts as typing.
func (t *Tracker) Active(projectID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[typingKey{projectID: projectID, userID: userID}]
	return ok
}

func (t *Tracker) expire(key typingKey) {
	t.mu.Lock()
	_, ok := t.entries[key]
	if ok {
		delete(t.entries, key)
	}
	t.mu.Unlock()
	// A Clear that raced the timer wins; the callback only fires for
	// entries the timer itself removed.
	if ok && t.onExpire != nil {
		t.onExpire(key.projectID, key.userID)
	}
}
