package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tripwise/planner/backend/internal/metrics"
	"github.com/tripwise/planner/backend/internal/model/chat"
)

// entry guards one user's session. removed is set once the entry leaves the
// index so that writers holding a stale pointer retry on a fresh entry.
type entry struct {
	mu      sync.Mutex
	session chat.Session
	removed bool
}

// MemoryStore is an in-process Store with lazy and sweep-based expiry.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*entry
	opts    Options
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*entry),
		opts:    opts.withDefaults(),
	}
}

// GetOrCreate implements Store.
func (s *MemoryStore) GetOrCreate(_ context.Context, userID string) (chat.Session, error) {
	now := s.opts.Now()
	for {
		e := s.lookupOrInsert(userID, now)

		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			continue
		}
		if e.session.Expired(now, s.opts.TTL) {
			s.expireLocked(userID, e)
			continue
		}
		snapshot := e.session.Clone()
		e.mu.Unlock()
		return snapshot, nil
	}
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, userID string, msgs ...chat.Message) (chat.Session, error) {
	now := s.opts.Now()
	for {
		e := s.lookupOrInsert(userID, now)

		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			continue
		}
		if e.session.Expired(now, s.opts.TTL) {
			s.expireLocked(userID, e)
			continue
		}

		for _, msg := range msgs {
			if msg.ID == "" {
				msg.ID = uuid.NewString()
			}
			if msg.CreatedAt.IsZero() {
				msg.CreatedAt = now
			}
			e.session.Messages = append(e.session.Messages, msg)
		}
		e.session.Messages = capMessages(e.session.Messages, s.opts.MaxMessages)
		e.session.LastActivity = now

		snapshot := e.session.Clone()
		e.mu.Unlock()
		return snapshot, nil
	}
}

// Peek implements Store.
func (s *MemoryStore) Peek(_ context.Context, userID string) (chat.Session, bool, error) {
	s.mu.RLock()
	e, ok := s.entries[userID]
	s.mu.RUnlock()
	if !ok {
		return chat.Session{}, false, nil
	}

	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return chat.Session{}, false, nil
	}
	if e.session.Expired(s.opts.Now(), s.opts.TTL) {
		s.expireLocked(userID, e)
		return chat.Session{}, false, nil
	}
	snapshot := e.session.Clone()
	e.mu.Unlock()
	return snapshot, true, nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(_ context.Context, userID string) error {
	s.mu.Lock()
	e, ok := s.entries[userID]
	if ok {
		delete(s.entries, userID)
	}
	size := len(s.entries)
	s.mu.Unlock()

	if !ok {
		return nil
	}

	e.mu.Lock()
	e.removed = true
	e.mu.Unlock()

	metrics.SetActiveSessions(size)
	log.Debug().Str("component", "session").Str("user_id", userID).Msg("session cleared")
	return nil
}

// EvictExpired implements Store.
func (s *MemoryStore) EvictExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.RLock()
	candidates := make(map[string]*entry, len(s.entries))
	for id, e := range s.entries {
		candidates[id] = e
	}
	s.mu.RUnlock()

	evicted := 0
	for id, e := range candidates {
		e.mu.Lock()
		if e.removed || !e.session.Expired(now, s.opts.TTL) {
			e.mu.Unlock()
			continue
		}
		e.removed = true
		e.mu.Unlock()

		s.remove(id, e)
		evicted++
	}

	metrics.AddEvicted(evicted)
	return evicted, nil
}

// Len reports the number of indexed sessions, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryStore) lookupOrInsert(userID string, now time.Time) *entry {
	s.mu.RLock()
	e, ok := s.entries[userID]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[userID]; ok {
		return e
	}

	e = &entry{session: chat.Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		Messages:     make([]chat.Message, 0, 8),
		CreatedAt:    now,
		LastActivity: now,
	}}
	s.entries[userID] = e
	metrics.SetActiveSessions(len(s.entries))
	return e
}

// expireLocked retires an entry whose lock the caller holds, releasing it.
func (s *MemoryStore) expireLocked(userID string, e *entry) {
	e.removed = true
	e.mu.Unlock()
	s.remove(userID, e)
	metrics.AddEvicted(1)
}

func (s *MemoryStore) remove(userID string, e *entry) {
	s.mu.Lock()
	if cur, ok := s.entries[userID]; ok && cur == e {
		delete(s.entries, userID)
	}
	size := len(s.entries)
	s.mu.Unlock()

	metrics.SetActiveSessions(size)
}
