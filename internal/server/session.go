package server

import (
	"time"

	"github.com/patrickmn/go-cache"

	"rag-apps/internal/classifier"
	"rag-apps/internal/history"
	"rag-apps/internal/models"
)

// Session is the per-client state kept between requests.
type Session struct {
	ID      string
	History *history.Log
	Board   *classifier.Board
}

// SessionStore keeps sessions in memory, expiring them after ttl of
// inactivity.
type SessionStore struct {
	cache       *cache.Cache
	maxTurns    int
	departments []string
}

func NewSessionStore(ttl time.Duration, maxTurns int, departments []string) *SessionStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SessionStore{
		cache:       cache.New(ttl, 10*time.Minute),
		maxTurns:    maxTurns,
		departments: departments,
	}
}

// Get returns the session for id, creating it on first use. Every access
// pushes the expiry back.
func (s *SessionStore) Get(id string) *Session {
	if x, found := s.cache.Get(id); found {
		sess := x.(*Session)
		s.cache.Set(id, sess, cache.DefaultExpiration)
		return sess
	}
	sess := &Session{
		ID:      id,
		History: history.NewLogWithSystem(s.maxTurns, models.DefaultSystemPrompt),
		Board:   classifier.NewBoard(s.departments...),
	}
	// Add fails when a concurrent request created the session first.
	if err := s.cache.Add(id, sess, cache.DefaultExpiration); err != nil {
		if x, found := s.cache.Get(id); found {
			return x.(*Session)
		}
	}
	return sess
}

func (s *SessionStore) Delete(id string) {
	s.cache.Delete(id)
}

func (s *SessionStore) Count() int {
	return s.cache.ItemCount()
}
