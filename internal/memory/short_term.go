// Package memory implements the two conversation memory tiers and the
// progress aggregation built on top of them.
package memory

import (
	"sync"

	"github.com/dakarenzi/AI-Tutor/internal/domain"
)

// DefaultShortTermSize is the number of turns kept when no size is configured.
const DefaultShortTermSize = 5

// ShortTerm is a fixed-capacity FIFO ring of recent messages.
// Adding to a full ring evicts the oldest message; order is never changed.
type ShortTerm struct {
	buf  []domain.Message
	size int
	head int // next write position
	n    int
	mu   sync.RWMutex
}

// NewShortTerm creates a ring holding at most size messages.
func NewShortTerm(size int) *ShortTerm {
	if size <= 0 {
		size = DefaultShortTermSize
	}
	return &ShortTerm{
		buf:  make([]domain.Message, size),
		size: size,
	}
}

// AddMessage appends msg, evicting the oldest message when full.
func (s *ShortTerm) AddMessage(msg domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf[s.head] = msg
	s.head = (s.head + 1) % s.size
	if s.n < s.size {
		s.n++
	}
}

// GetMessages returns every held message, oldest first.
func (s *ShortTerm) GetMessages() []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastLocked(s.n)
}

// GetLastMessages returns the newest n messages, oldest first.
func (s *ShortTerm) GetLastMessages(n int) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n > s.n {
		n = s.n
	}
	if n < 0 {
		n = 0
	}
	return s.lastLocked(n)
}

func (s *ShortTerm) lastLocked(n int) []domain.Message {
	out := make([]domain.Message, n)
	start := (s.head - n + s.size) % s.size
	for i := 0; i < n; i++ {
		out[i] = s.buf[(start+i)%s.size]
	}
	return out
}

// Clear drops every message.
func (s *ShortTerm) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.buf)
	s.head = 0
	s.n = 0
}

// GetCount returns the number of held messages.
func (s *ShortTerm) GetCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.n
}

// Capacity returns the maximum number of messages held.
func (s *ShortTerm) Capacity() int {
	return s.size
}
