// Package presence tracks other users' online status and active-typing state.
// State is rebuilt purely from live events; nothing here persists across a
// reconnect and no reconciliation is attempted beyond waiting for fresh events.
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/reviewdeck/pkg/models"
)

// DefaultTypingTTL bounds how long a user stays "typing" when the matching
// typing_stop event never arrives.
const DefaultTypingTTL = 10 * time.Second

// Tracker owns the presence map and the typing set. All mutation goes through
// its methods; reads return snapshots.
type Tracker struct {
	mu        sync.Mutex
	presence  map[string]models.PresenceRecord
	typing    map[string]*time.Timer
	typingTTL time.Duration
	closed    bool
}

// Options configures a Tracker.
type Options struct {
	TypingTTL time.Duration // default 10s; <0 disables the implicit timeout
}

// NewTracker creates an empty tracker.
func NewTracker(opts Options) *Tracker {
	ttl := opts.TypingTTL
	if ttl == 0 {
		ttl = DefaultTypingTTL
	}
	return &Tracker{
		presence:  make(map[string]models.PresenceRecord),
		typing:    make(map[string]*time.Timer),
		typingTTL: ttl,
	}
}

// UpdatePresence replaces the user's record wholesale.
func (t *Tracker) UpdatePresence(rec models.PresenceRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || rec.UserID == "" {
		return
	}
	t.presence[rec.UserID] = rec
}

// Presence returns the last-known record for one user.
func (t *Tracker) Presence(userID string) (models.PresenceRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.presence[userID]
	return rec, ok
}

// ListPresence returns all known presence records ordered by user id.
func (t *Tracker) ListPresence() []models.PresenceRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]models.PresenceRecord, 0, len(t.presence))
	for _, rec := range t.presence {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// OnlineCount reports how many users are currently in the online state.
func (t *Tracker) OnlineCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, rec := range t.presence {
		if rec.Status == models.PresenceOnline {
			n++
		}
	}
	return n
}

// TypingStart adds the user to the typing set. Each typing_start carries an
// implicit TTL: if no typing_stop arrives in time, membership lapses on its
// own. A repeat start refreshes the TTL.
func (t *Tracker) TypingStart(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || userID == "" {
		return
	}

	if timer, ok := t.typing[userID]; ok && timer != nil {
		timer.Stop()
	}

	if t.typingTTL < 0 {
		t.typing[userID] = nil
		return
	}

	t.typing[userID] = time.AfterFunc(t.typingTTL, func() {
		t.TypingStop(userID)
	})
}

// TypingStop removes the user from the typing set and disarms its TTL timer.
// Stopping a user who is not typing is a no-op.
func (t *Tracker) TypingStop(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if timer, ok := t.typing[userID]; ok {
		if timer != nil {
			timer.Stop()
		}
		delete(t.typing, userID)
	}
}

// IsTyping reports whether the user is in the typing set.
func (t *Tracker) IsTyping(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.typing[userID]
	return ok
}

// TypingUsers returns the typing set ordered by user id.
func (t *Tracker) TypingUsers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, len(t.typing))
	for userID := range t.typing {
		out = append(out, userID)
	}
	sort.Strings(out)
	return out
}

// Clear drops all presence and typing state. Called around reconnects; the
// server re-populates both through fresh events.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.presence = make(map[string]models.PresenceRecord)
	for userID, timer := range t.typing {
		if timer != nil {
			timer.Stop()
		}
		delete(t.typing, userID)
	}
}

// Close disarms every typing timer and seals the tracker.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	t.closed = true

	for userID, timer := range t.typing {
		if timer != nil {
			timer.Stop()
		}
		delete(t.typing, userID)
	}
}
