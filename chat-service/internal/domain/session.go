package domain

import (
	"sync"
	"time"
)

// Session is the per-socket state: who is connected and since when.
type Session struct {
	ID            string
	participant   Participant
	authenticated bool
	CreatedAt     time.Time
	lastActiveAt  time.Time
	mu            sync.RWMutex
}

func NewSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		CreatedAt:    now,
		lastActiveAt: now,
	}
}

func (s *Session) Authenticate(p Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participant = p
	s.authenticated = true
	s.lastActiveAt = time.Now()
}

func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

func (s *Session) Participant() Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.participant
}

func (s *Session) UpdateActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActiveAt = time.Now()
}

func (s *Session) LastActiveAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActiveAt
}
