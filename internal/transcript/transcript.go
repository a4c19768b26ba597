// Package transcript writes conversation turns to per-session NDJSON files
// without blocking the request path.
package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultQueueSize bounds the pending-event queue.
const DefaultQueueSize = 256

// Config controls the Logger.
type Config struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Event is one transcript line.
type Event struct {
	Timestamp  time.Time `json:"timestamp"`
	UserID     string    `json:"userId"`
	SessionID  string    `json:"sessionId"`
	RequestID  string    `json:"requestId,omitempty"`
	Channel    string    `json:"channel"`
	Role       string    `json:"role"`
	Capability string    `json:"capability,omitempty"`
	Content    string    `json:"content"`
}

// Logger queues events and appends them from a single background worker.
// When the queue is full the oldest pending event is dropped.
type Logger struct {
	dir    string
	queue  chan Event
	logger *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	dropped atomic.Int64
	closed  atomic.Bool
}

// New starts a Logger. A disabled config returns nil, and a nil *Logger
// ignores every call.
func New(cfg Config, logger *slog.Logger) (*Logger, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Logger{
		dir:    cfg.Dir,
		queue:  make(chan Event, cfg.QueueSize),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
	l.wg.Add(1)
	go l.run()
	return l, nil
}

// Log enqueues e without blocking.
func (l *Logger) Log(e Event) {
	if l == nil || l.closed.Load() {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	select {
	case l.queue <- e:
		return
	default:
	}

	// Queue full: make room by dropping the oldest event.
	select {
	case <-l.queue:
		l.dropped.Add(1)
		l.logger.Warn("Transcript queue full, dropped oldest event",
			"session_id", e.SessionID,
			"queue_len", len(l.queue),
		)
	default:
	}
	select {
	case l.queue <- e:
	default:
		l.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded under backpressure.
func (l *Logger) Dropped() int64 {
	if l == nil {
		return 0
	}
	return l.dropped.Load()
}

func (l *Logger) run() {
	defer l.wg.Done()
	for {
		select {
		case e := <-l.queue:
			l.write(e)
		case <-l.ctx.Done():
			// Flush what is already queued.
			for {
				select {
				case e := <-l.queue:
					l.write(e)
				default:
					return
				}
			}
		}
	}
}

var unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

func pathComponent(s string) string {
	s = unsafePathChars.ReplaceAllString(s, "_")
	if s == "" || s == "." || s == ".." {
		return "unknown"
	}
	return s
}

func (l *Logger) write(e Event) {
	line, err := json.Marshal(e)
	if err != nil {
		l.logger.Warn("Failed to encode transcript event", "session_id", e.SessionID, "error", err)
		return
	}

	dir := filepath.Join(l.dir, pathComponent(e.UserID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		l.logger.Warn("Failed to create transcript directory", "dir", dir, "error", err)
		return
	}
	path := filepath.Join(dir, pathComponent(e.SessionID)+".ndjson")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		l.logger.Warn("Failed to open transcript file", "path", path, "error", err)
		return
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(append(line, '\n')); err != nil {
		l.logger.Warn("Failed to write transcript event", "path", path, "error", err)
	}
}

// Close stops accepting events, flushes the queue and waits for the worker
// up to five seconds.
func (l *Logger) Close() error {
	if l == nil || !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	l.cancel()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		l.logger.Warn("Transcript logger shutdown timeout", "queue_remaining", len(l.queue))
	}
	return nil
}
