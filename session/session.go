// Package session tracks per-conversation state: the ordered turn history
// and the lock that serializes processing of one conversation.
package session

import (
	"strings"
	"sync"

	"github.com/picobot/picobot/core"
)

// Session is one conversation's turn history.
//
// Processing a message is a multi-step read-modify-write over the history
// (compact, recall, complete, append), so the lock is held explicitly by the
// caller across the whole exchange rather than per accessor.
type Session struct {
	ID string

	mu    sync.Mutex
	turns []core.Message
}

// Lock takes the session's turn lock.
func (s *Session) Lock() { s.mu.Lock() }

// Unlock releases the session's turn lock.
func (s *Session) Unlock() { s.mu.Unlock() }

// Turns returns a copy of the history. Caller must hold the lock.
func (s *Session) Turns() []core.Message {
	out := make([]core.Message, len(s.turns))
	copy(out, s.turns)
	return out
}

// Append adds turns to the history, skipping empty ones. Caller must hold
// the lock.
func (s *Session) Append(turns ...core.Message) {
	for _, turn := range turns {
		if strings.TrimSpace(turn.Content) == "" {
			continue
		}
		s.turns = append(s.turns, turn)
	}
}

// Len returns the number of turns. Caller must hold the lock.
func (s *Session) Len() int {
	return len(s.turns)
}

// UserTurnCount returns how many user turns the history holds. Caller must
// hold the lock.
func (s *Session) UserTurnCount() int {
	return core.CountByRole(s.turns, core.RoleUser)
}

// Sessions is a registry of live sessions keyed by id.
type Sessions struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessions creates an empty registry.
func NewSessions() *Sessions {
	return &Sessions{sessions: make(map[string]*Session)}
}

// Get returns the session for id, creating it on first use.
func (r *Sessions) Get(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		s = &Session{ID: id}
		r.sessions[id] = s
	}
	return s
}

// Remove drops the session for id.
func (r *Sessions) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}
