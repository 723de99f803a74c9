// Package session keeps per-conversation state in memory: the surfaces
// rendered so far, the last vehicle appraisal and the last confirmed
// booking. Idle sessions expire.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maypok86/otter/v2"

	"tradein/internal/a2ui"
	appLog "tradein/internal/log"
	"tradein/internal/valuation"
)

const (
	DefaultTTL     = 30 * time.Minute
	defaultMaxSize = 10_000
)

// Session is one conversation. Callers hold Lock for the whole turn; the
// fields are not otherwise synchronized.
type Session struct {
	ID      string
	Created time.Time

	mu sync.Mutex

	Surfaces *a2ui.Registry

	Vehicle  *valuation.Vehicle
	Estimate *valuation.Estimate

	// Confirmation is the details line of the last booking.
	Confirmation string
	// SelectedSlot is the RFC 3339 UTC start picked from the slot list.
	SelectedSlot string
}

func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// HasVehicle reports whether an appraisal was made in this session.
func (s *Session) HasVehicle() bool { return s.Vehicle != nil }

type Store struct {
	cache *otter.Cache[string, *Session]
	now   func() time.Time

	// create serializes GetOrCreate so two first turns with the same id
	// share one session.
	create sync.Mutex
}

// NewStore builds a store whose sessions expire ttl after their last
// access.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cache := otter.Must(&otter.Options[string, *Session]{
		MaximumSize:      defaultMaxSize,
		ExpiryCalculator: otter.ExpiryAccessing[string, *Session](ttl),
		// Runs on otter's goroutine, possibly mid-turn: read only the
		// immutable fields.
		OnDeletion: func(e otter.DeletionEvent[string, *Session]) {
			if e.WasEvicted() {
				appLog.Debug("session expired", "session_id", e.Key, "age", time.Since(e.Value.Created).String())
			}
		},
	})
	return &Store{cache: cache, now: time.Now}
}

// Get returns a live session.
func (s *Store) Get(id string) (*Session, bool) {
	if id == "" {
		return nil, false
	}
	return s.cache.GetIfPresent(id)
}

// GetOrCreate returns the session for id, creating it when id is unknown.
// An empty or malformed id gets a fresh uuid.
func (s *Store) GetOrCreate(id string) (sess *Session, created bool) {
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
	}
	if existing, ok := s.cache.GetIfPresent(id); ok {
		return existing, false
	}
	s.create.Lock()
	defer s.create.Unlock()
	if existing, ok := s.cache.GetIfPresent(id); ok {
		return existing, false
	}
	sess = &Session{ID: id, Created: s.now(), Surfaces: a2ui.NewRegistry()}
	s.cache.Set(id, sess)
	appLog.Debug("session created", "session_id", id, "sessions", s.Len())
	return sess, true
}

func (s *Store) Delete(id string) {
	s.cache.Invalidate(id)
}

// Len is approximate.
func (s *Store) Len() int {
	return s.cache.EstimatedSize()
}
