package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/containerd/errdefs"

	"github.com/dakarenzi/AI-Tutor/internal/domain"
)

// ErrNotFound is returned by Load for sessions that have never been saved.
// It is a signal, not a failure: callers start the session from defaults.
var ErrNotFound = fmt.Errorf("session memory not found: %w", errdefs.ErrNotFound)

// IsNotFound reports whether err is the not-found signal.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errdefs.IsNotFound(err)
}

// LongTerm is the durable per-session memory store.
//
// Concurrent writers for the same session are not serialized: whichever
// Save or AddMessage lands last determines the stored state.
type LongTerm interface {
	// Load returns the stored memory or ErrNotFound.
	Load(ctx context.Context, sessionID string) (*domain.MemoryData, error)
	// Save replaces the stored memory.
	Save(ctx context.Context, sessionID string, data *domain.MemoryData) error
	// Update merges a partial change, creating the session if needed.
	Update(ctx context.Context, sessionID string, update domain.MemoryUpdate) error
	// AddMessage appends msg, keeping only the newest short-term-size messages.
	AddMessage(ctx context.Context, sessionID string, msg domain.Message) error
	// GetHistory returns up to limit recent messages; limit <= 0 returns all.
	GetHistory(ctx context.Context, sessionID string, limit int) ([]domain.Message, error)
	// Clear deletes the session.
	Clear(ctx context.Context, sessionID string) error
}

// LoadOrDefault loads the session, mapping the not-found signal to fresh defaults.
func LoadOrDefault(ctx context.Context, lt LongTerm, sessionID string, now time.Time) (*domain.MemoryData, bool, error) {
	data, err := lt.Load(ctx, sessionID)
	if IsNotFound(err) {
		return domain.NewMemoryData(now), false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// AppendCapped appends msg to messages and keeps the newest limit entries.
func AppendCapped(messages []domain.Message, msg domain.Message, limit int) []domain.Message {
	messages = append(messages, msg)
	if limit > 0 && len(messages) > limit {
		messages = append([]domain.Message(nil), messages[len(messages)-limit:]...)
	}
	return messages
}

// TailMessages returns the newest limit messages; limit <= 0 returns all.
func TailMessages(messages []domain.Message, limit int) []domain.Message {
	if limit <= 0 || limit >= len(messages) {
		return append([]domain.Message(nil), messages...)
	}
	return append([]domain.Message(nil), messages[len(messages)-limit:]...)
}

// InMemory is a process-local LongTerm used for tests and single-node runs.
type InMemory struct {
	mu            sync.Mutex
	sessions      map[string]*domain.MemoryData
	shortTermSize int
	now           func() time.Time
}

// NewInMemory creates an empty InMemory store.
func NewInMemory(shortTermSize int) *InMemory {
	if shortTermSize <= 0 {
		shortTermSize = DefaultShortTermSize
	}
	return &InMemory{
		sessions:      make(map[string]*domain.MemoryData),
		shortTermSize: shortTermSize,
		now:           time.Now,
	}
}

var _ LongTerm = (*InMemory)(nil)

// Load implements LongTerm.
func (m *InMemory) Load(_ context.Context, sessionID string) (*domain.MemoryData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneMemory(data), nil
}

// Save implements LongTerm.
func (m *InMemory) Save(_ context.Context, sessionID string, data *domain.MemoryData) error {
	if data == nil {
		return fmt.Errorf("save session %s: nil memory: %w", sessionID, errdefs.ErrInvalidArgument)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[sessionID] = cloneMemory(data)
	return nil
}

// Update implements LongTerm.
func (m *InMemory) Update(ctx context.Context, sessionID string, update domain.MemoryUpdate) error {
	data, _, err := LoadOrDefault(ctx, m, sessionID, m.now())
	if err != nil {
		return err
	}
	update.Apply(data, m.now())
	return m.Save(ctx, sessionID, data)
}

// AddMessage implements LongTerm.
func (m *InMemory) AddMessage(ctx context.Context, sessionID string, msg domain.Message) error {
	data, _, err := LoadOrDefault(ctx, m, sessionID, m.now())
	if err != nil {
		return err
	}
	data.RecentMessages = AppendCapped(data.RecentMessages, msg, m.shortTermSize)
	data.LastUpdated = m.now()
	return m.Save(ctx, sessionID, data)
}

// GetHistory implements LongTerm.
func (m *InMemory) GetHistory(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	data, err := m.Load(ctx, sessionID)
	if IsNotFound(err) {
		return []domain.Message{}, nil
	}
	if err != nil {
		return nil, err
	}
	return TailMessages(data.RecentMessages, limit), nil
}

// Clear implements LongTerm.
func (m *InMemory) Clear(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

func cloneMemory(d *domain.MemoryData) *domain.MemoryData {
	c := *d
	c.RecentMessages = append([]domain.Message(nil), d.RecentMessages...)
	c.Strengths = append([]string(nil), d.Strengths...)
	c.Weaknesses = append([]string(nil), d.Weaknesses...)
	c.ProgressHistory = append([]domain.ProgressEntry(nil), d.ProgressHistory...)
	c.Goals = append([]string(nil), d.Goals...)
	return &c
}
