package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dakarenzi/AI-Tutor/internal/domain"
	"github.com/dakarenzi/AI-Tutor/internal/memory"
	"github.com/dakarenzi/AI-Tutor/internal/shared"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db            *sql.DB
	shortTermSize int
	now           func() time.Time

	// sessionMu serializes read-modify-write cycles on session rows so
	// that concurrent writers in this process do not hit SQLITE_BUSY.
	sessionMu sync.Mutex
}

var _ Repository = (*SQLiteStore)(nil)

// NewSQLite opens (creating if needed) the database at dbPath. shortTermSize
// caps the messages kept per session.
func NewSQLite(dbPath string, shortTermSize int) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if shortTermSize <= 0 {
		shortTermSize = memory.DefaultShortTermSize
	}
	s := &SQLiteStore{db: db, shortTermSize: shortTermSize, now: time.Now}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		data_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);

	CREATE TABLE IF NOT EXISTS rate_counters (
		key TEXT PRIMARY KEY,
		count INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rate_counters_expires ON rate_counters(expires_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// Load implements memory.LongTerm.
func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (*domain.MemoryData, error) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	return s.loadLocked(ctx, sessionID)
}

func (s *SQLiteStore) loadLocked(ctx context.Context, sessionID string) (*domain.MemoryData, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT data_json FROM sessions WHERE session_id = ?`, sessionID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session %s: %w", sessionID, err)
	}

	var data domain.MemoryData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &data, nil
}

// Save implements memory.LongTerm.
func (s *SQLiteStore) Save(ctx context.Context, sessionID string, data *domain.MemoryData) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	return s.saveLocked(ctx, sessionID, data)
}

func (s *SQLiteStore) saveLocked(ctx context.Context, sessionID string, data *domain.MemoryData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sessionID, err)
	}

	query := `
		INSERT INTO sessions (session_id, data_json, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			data_json = excluded.data_json,
			updated_at = excluded.updated_at`

	created := data.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	return shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "save_session", func() error {
		if _, err := s.db.ExecContext(ctx, query, sessionID, string(raw), created.Unix(), s.now().Unix()); err != nil {
			return fmt.Errorf("upsert session %s: %w", sessionID, err)
		}
		return nil
	})
}

// modify loads (or defaults) the session, applies fn and saves the result.
func (s *SQLiteStore) modify(ctx context.Context, sessionID string, fn func(*domain.MemoryData)) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	data, err := s.loadLocked(ctx, sessionID)
	if memory.IsNotFound(err) {
		data, err = domain.NewMemoryData(s.now()), nil
	}
	if err != nil {
		return err
	}
	fn(data)
	return s.saveLocked(ctx, sessionID, data)
}

// Update implements memory.LongTerm.
func (s *SQLiteStore) Update(ctx context.Context, sessionID string, update domain.MemoryUpdate) error {
	return s.modify(ctx, sessionID, func(d *domain.MemoryData) {
		update.Apply(d, s.now())
	})
}

// AddMessage implements memory.LongTerm.
func (s *SQLiteStore) AddMessage(ctx context.Context, sessionID string, msg domain.Message) error {
	return s.modify(ctx, sessionID, func(d *domain.MemoryData) {
		d.RecentMessages = memory.AppendCapped(d.RecentMessages, msg, s.shortTermSize)
		d.LastUpdated = s.now()
	})
}

// GetHistory implements memory.LongTerm.
func (s *SQLiteStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	data, err := s.Load(ctx, sessionID)
	if memory.IsNotFound(err) {
		return []domain.Message{}, nil
	}
	if err != nil {
		return nil, err
	}
	return memory.TailMessages(data.RecentMessages, limit), nil
}

// Clear implements memory.LongTerm.
func (s *SQLiteStore) Clear(ctx context.Context, sessionID string) error {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	return shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "clear_session", func() error {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
			return fmt.Errorf("delete session %s: %w", sessionID, err)
		}
		return nil
	})
}

// Get implements ratelimit.CounterStore.
func (s *SQLiteStore) Get(ctx context.Context, key string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count FROM rate_counters WHERE key = ? AND expires_at > ?`,
		key, s.now().UnixMilli(),
	).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get counter %s: %w", key, err)
	}
	return n, nil
}

// Put implements ratelimit.CounterStore.
func (s *SQLiteStore) Put(ctx context.Context, key string, value int, ttl time.Duration) error {
	query := `
		INSERT INTO rate_counters (key, count, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			count = excluded.count,
			expires_at = excluded.expires_at`

	expires := s.now().Add(ttl).UnixMilli()
	return shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "put_counter", func() error {
		if _, err := s.db.ExecContext(ctx, query, key, value, expires); err != nil {
			return fmt.Errorf("put counter %s: %w", key, err)
		}
		return nil
	})
}

// Incr implements ratelimit.Incrementer. An expired counter restarts at 1
// with a fresh window.
func (s *SQLiteStore) Incr(ctx context.Context, key string, ttl time.Duration) (int, error) {
	query := `
		INSERT INTO rate_counters (key, count, expires_at) VALUES (?, 1, ?)
		ON CONFLICT(key) DO UPDATE SET
			count = CASE WHEN rate_counters.expires_at <= ? THEN 1 ELSE rate_counters.count + 1 END,
			expires_at = CASE WHEN rate_counters.expires_at <= ? THEN excluded.expires_at ELSE rate_counters.expires_at END
		RETURNING count`

	now := s.now()
	nowMs := now.UnixMilli()
	expires := now.Add(ttl).UnixMilli()

	var n int
	err := shared.RetryOnConflict(ctx, shared.DefaultRetryPolicy, "incr_counter", func() error {
		if err := s.db.QueryRowContext(ctx, query, key, expires, nowMs, nowMs).Scan(&n); err != nil {
			return fmt.Errorf("incr counter %s: %w", key, err)
		}
		return nil
	})
	return n, err
}

// DeleteExpiredCounters removes rate counters whose window has ended.
func (s *SQLiteStore) DeleteExpiredCounters(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM rate_counters WHERE expires_at <= ?`, s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete expired counters: %w", err)
	}
	return result.RowsAffected()
}
