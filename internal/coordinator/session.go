package coordinator

import (
	"sync"
	"time"

	"github.com/dakarenzi/AI-Tutor/internal/safety"
)

type sessionState struct {
	ledger   *safety.FactLedger
	lastSeen time.Time
}

// Sessions owns per-session state that lives only in this process: the
// fact ledger used for contradiction checks. A ledger is created on first
// use and dropped on session clear or after going idle.
type Sessions struct {
	mu    sync.Mutex
	state map[string]*sessionState
	now   func() time.Time
}

// NewSessions creates an empty session registry.
func NewSessions() *Sessions {
	return &Sessions{state: make(map[string]*sessionState), now: time.Now}
}

// Ledger returns the session's ledger, creating it if needed.
func (s *Sessions) Ledger(sessionID string) *safety.FactLedger {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.state[sessionID]
	if !ok {
		st = &sessionState{ledger: safety.NewFactLedger()}
		s.state[sessionID] = st
	}
	st.lastSeen = s.now()
	return st.ledger
}

// Clear drops the session's state.
func (s *Sessions) Clear(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.state[sessionID]; ok {
		st.ledger.Clear()
		delete(s.state, sessionID)
	}
}

// EvictIdle drops sessions not seen for longer than idle and returns how many went.
func (s *Sessions) EvictIdle(idle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-idle)
	n := 0
	for id, st := range s.state {
		if st.lastSeen.Before(cutoff) {
			delete(s.state, id)
			n++
		}
	}
	return n
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state)
}
