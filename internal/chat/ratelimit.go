package chat

import (
	"sync"
	"time"
)

type rateWindow struct {
	start time.Time
	count int
}

// Limiter is a fixed-window message rate limiter keyed by sender ID.
// The first message from a sender opens a window; once max messages
// land inside it further ones are refused until the window elapses,
// at which point the next message opens a fresh window.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*rateWindow
	window  time.Duration
	max     int
	now     func() time.Time
}

func NewLimiter(window time.Duration, max int) *Limiter {
	return &Limiter{
		windows: make(map[string]*rateWindow),
		window:  window,
		max:     max,
		now:     time.Now,
	}
}

// Allow reports whether the sender may send another message now, and
// counts the message against the current window if so. Refused
// messages do not extend or reset the window.
func (l *Limiter) Allow(senderID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[senderID]
	if !ok || now.Sub(w.start) >= l.window {
		l.windows[senderID] = &rateWindow{start: now, count: 1}
		return true
	}
	if w.count >= l.max {
		return false
	}
	w.count++
	return true
}
