// Package notifications maintains the bounded, newest-first collection of
// inbound notifications with read/unread accounting.
package notifications

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/reviewdeck/pkg/models"
)

const (
	// DefaultCapacity is the maximum number of retained notifications.
	DefaultCapacity = 100

	// DefaultAutoReadDelay is how long a transient notification stays unread
	// before it is marked read implicitly.
	DefaultAutoReadDelay = 5 * time.Second
)

// Store holds notifications newest-first, bounded by capacity. The unread
// counter is maintained incrementally on every transition and always equals
// the number of unread records.
type Store struct {
	mu            sync.Mutex
	records       []models.NotificationRecord
	unread        int
	capacity      int
	autoReadDelay time.Duration
	timers        map[string]*time.Timer
	closed        bool
}

// Options configures a Store.
type Options struct {
	Capacity      int           // default 100
	AutoReadDelay time.Duration // default 5s; <0 disables auto-read
}

// NewStore creates an empty notification store.
func NewStore(opts Options) *Store {
	capacity := opts.Capacity
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	delay := opts.AutoReadDelay
	if delay == 0 {
		delay = DefaultAutoReadDelay
	}
	return &Store{
		capacity:      capacity,
		autoReadDelay: delay,
		timers:        make(map[string]*time.Timer),
	}
}

// Add inserts a notification at the head of the sequence. A missing id gets a
// collision-resistant client-generated one; a zero timestamp is stamped with
// arrival time. Insertion above capacity evicts the oldest record regardless
// of its read state. Returns the stored record.
func (s *Store) Add(n models.NotificationRecord) models.NotificationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return n
	}

	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}
	n.Read = false

	s.records = append([]models.NotificationRecord{n}, s.records...)
	s.unread++

	for len(s.records) > s.capacity {
		evicted := s.records[len(s.records)-1]
		s.records = s.records[:len(s.records)-1]
		s.cancelTimerLocked(evicted.ID)
		if !evicted.Read {
			s.unread--
		}
	}

	s.scheduleAutoReadLocked(n)

	log.Debug().
		Str("notification_id", n.ID).
		Str("type", string(n.Type)).
		Int("unread", s.unread).
		Msg("Notification added")

	return n
}

// scheduleAutoReadLocked arms the implicit mark-read timer for transient
// notification types. Errors and warnings stay unread until dismissed.
func (s *Store) scheduleAutoReadLocked(n models.NotificationRecord) {
	if s.autoReadDelay < 0 {
		return
	}
	if n.Type == models.NotifyError || n.Type == models.NotifyWarning {
		return
	}

	id := n.ID
	s.timers[id] = time.AfterFunc(s.autoReadDelay, func() {
		s.MarkRead(id)
	})
}

// MarkRead flips one record's read flag. Marking an already-read or unknown id
// leaves the counter untouched; the counter never goes negative.
func (s *Store) MarkRead(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	s.cancelTimerLocked(id)

	for i := range s.records {
		if s.records[i].ID != id {
			continue
		}
		if s.records[i].Read {
			return false
		}
		s.records[i].Read = true
		if s.unread > 0 {
			s.unread--
		}
		return true
	}
	return false
}

// MarkAllRead flips every record and zeroes the counter. Idempotent.
func (s *Store) MarkAllRead() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	for i := range s.records {
		s.records[i].Read = true
	}
	s.unread = 0

	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
}

// CancelAutoRead disarms the implicit mark-read timer for one notification,
// e.g. because the user is already interacting with it.
func (s *Store) CancelAutoRead(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelTimerLocked(id)
}

func (s *Store) cancelTimerLocked(id string) {
	if timer, ok := s.timers[id]; ok {
		timer.Stop()
		delete(s.timers, id)
	}
}

// List returns a newest-first snapshot of the stored notifications.
func (s *Store) List() []models.NotificationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.NotificationRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Get returns one notification by id.
func (s *Store) Get(id string) (models.NotificationRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range s.records {
		if n.ID == id {
			return n, true
		}
	}
	return models.NotificationRecord{}, false
}

// UnreadCount returns the number of unread notifications.
func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// Len returns the number of stored notifications.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Clear drops every record and disarms all timers.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	s.records = nil
	s.unread = 0
}

// Close disarms every pending timer and seals the store. A timer that fires
// after Close must not act on stale records.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true

	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
}
