package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/dakarenzi/AI-Tutor/internal/coordinator"
	"github.com/dakarenzi/AI-Tutor/internal/identity"
)

// socketWriteTimeout bounds a single frame write.
const socketWriteTimeout = 10 * time.Second

// SocketRegistry tracks open chat sockets per tutoring session so that
// clearing a session can close them.
type SocketRegistry struct {
	mu     sync.RWMutex
	active map[string]map[*websocket.Conn]struct{}
}

// NewSocketRegistry creates an empty registry.
func NewSocketRegistry() *SocketRegistry {
	return &SocketRegistry{active: make(map[string]map[*websocket.Conn]struct{})}
}

// Register adds conn under sessionID.
func (m *SocketRegistry) Register(sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.active[sessionID]; !ok {
		m.active[sessionID] = make(map[*websocket.Conn]struct{})
	}
	m.active[sessionID][conn] = struct{}{}
	slog.Debug("Chat socket registered", "session_id", sessionID)
}

// Unregister removes conn from sessionID.
func (m *SocketRegistry) Unregister(sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conns, ok := m.active[sessionID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(m.active, sessionID)
		}
	}
}

// Count returns the number of sockets open for sessionID.
func (m *SocketRegistry) Count(sessionID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active[sessionID])
}

// CloseSession closes every socket of sessionID.
func (m *SocketRegistry) CloseSession(sessionID string) {
	m.mu.Lock()
	conns := m.active[sessionID]
	delete(m.active, sessionID)
	m.mu.Unlock()

	for conn := range conns {
		_ = conn.Close(websocket.StatusNormalClosure, "session cleared")
	}
	if len(conns) > 0 {
		slog.Info("Chat sockets closed", "session_id", sessionID, "count", len(conns))
	}
}

// socketFrame is an inbound frame.
type socketFrame struct {
	Type      string `json:"type"`
	Message   string `json:"message,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// socketReply is an outbound "reply" frame.
type socketReply struct {
	Type string `json:"type"`
	*TaskResponse
}

// socketError is an outbound "error" frame.
type socketError struct {
	Type    string   `json:"type"`
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
	*RateLimitedResponse
}

// HandleSocket serves /ws/chat. Each chat frame is validated, rate limited
// and processed like POST /api/chat.
func (h *ChatHandler) HandleSocket(w http.ResponseWriter, r *http.Request) {
	origins := h.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: origins})
	if err != nil {
		h.logger.Warn("Failed to accept chat socket", "error", err)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "bye"); closeErr != nil {
			h.logger.Debug("Failed to close chat socket", "error", closeErr)
		}
	}()

	userID := identity.ResolveUserID(r, r.URL.Query().Get("userId"))
	sessionID := identity.ResolveSessionID(r, "")
	h.sockets.Register(sessionID, ws)
	defer func() { h.sockets.Unregister(sessionID, ws) }()

	ctx := r.Context()
	h.logger.Info("Chat socket connected", "user_id", userID, "session_id", sessionID)

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				h.logger.Debug("Chat socket closed", "session_id", sessionID)
			} else {
				h.logger.Warn("Chat socket read error", "session_id", sessionID, "error", err)
			}
			return
		}

		var frame socketFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.writeFrame(ctx, ws, socketError{Type: "error", Error: "Invalid request", Details: []string{"malformed JSON frame"}})
			continue
		}

		switch frame.Type {
		case "ping":
			h.writeFrame(ctx, ws, map[string]string{"type": "pong"})
		case "chat":
			if frame.SessionID != "" && frame.SessionID != sessionID && identity.ValidID(frame.SessionID) {
				h.sockets.Unregister(sessionID, ws)
				sessionID = frame.SessionID
				h.sockets.Register(sessionID, ws)
			}
			h.writeFrame(ctx, ws, h.socketTurn(r, userID, sessionID, frame.Message))
		default:
			h.writeFrame(ctx, ws, socketError{Type: "error", Error: "Invalid request", Details: []string{"unknown frame type"}})
		}
	}
}

func (h *ChatHandler) socketTurn(r *http.Request, userID, sessionID, message string) interface{} {
	if err := h.validateMessage(message, true); err != nil {
		var verr *ValidationError
		errors.As(err, &verr)
		return socketError{Type: "error", Error: "Invalid request", Details: verr.Problems}
	}

	if res, limited := h.check(r, userID, sessionID); limited && !res.Allowed {
		body := rateLimitedBody(res)
		return socketError{Type: "error", Error: body.Error, RateLimitedResponse: &body}
	}

	resp, err := h.process(r.Context(), "websocket", coordinator.Turn{
		SessionID: sessionID,
		UserID:    userID,
		Message:   message,
		RequestID: uuid.NewString(),
	})
	if err != nil {
		return socketError{Type: "error", Error: "Internal server error"}
	}
	return socketReply{Type: "reply", TaskResponse: resp}
}

func (h *ChatHandler) writeFrame(ctx context.Context, ws *websocket.Conn, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Warn("Failed to encode socket frame", "error", err)
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, socketWriteTimeout)
	defer cancel()
	if err := ws.Write(writeCtx, websocket.MessageText, data); err != nil {
		h.logger.Debug("Failed to write socket frame", "error", err)
	}
}
