package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/dakarenzi/AI-Tutor/internal/coordinator"
	"github.com/dakarenzi/AI-Tutor/internal/domain"
	"github.com/dakarenzi/AI-Tutor/internal/identity"
	"github.com/dakarenzi/AI-Tutor/internal/ratelimit"
	"github.com/dakarenzi/AI-Tutor/internal/transcript"
)

// DefaultMaxMessageLength bounds inbound messages in runes.
const DefaultMaxMessageLength = 2000

// taskRoutes maps the /api/tutor/{task} path segment to the forced task.
var taskRoutes = map[string]domain.Task{
	"evaluate":   domain.TaskEvaluate,
	"plan":       domain.TaskPlan,
	"content":    domain.TaskGenerate,
	"analytics":  domain.TaskAnalyze,
	"difficulty": domain.TaskAdjust,
	"motivate":   domain.TaskMotivate,
}

// taskPrompts stand in for the message when a task request omits one.
var taskPrompts = map[domain.Task]string{
	domain.TaskEvaluate: "Please evaluate my answer",
	domain.TaskPlan:     "Please create a study plan for me",
	domain.TaskGenerate: "Please give me some practice content",
	domain.TaskAnalyze:  "Please analyze my progress",
	domain.TaskAdjust:   "Please adjust my difficulty level",
	domain.TaskMotivate: "I could use some encouragement",
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId,omitempty"`
	UserID    string `json:"userId,omitempty"`
}

// TaskRequest is the body of POST /api/tutor/{task}.
type TaskRequest struct {
	ChatRequest
	Exercise    *domain.Exercise `json:"exercise,omitempty"`
	UserAnswer  string           `json:"userAnswer,omitempty"`
	Trigger     string           `json:"trigger,omitempty"`
	StudentName string           `json:"studentName,omitempty"`
	PlanType    string           `json:"planType,omitempty"`
}

// ResponseMetadata describes how a reply was produced.
type ResponseMetadata struct {
	Agent           domain.Capability `json:"agent"`
	Task            domain.Task       `json:"task"`
	Intent          domain.Intent     `json:"intent"`
	Timestamp       time.Time         `json:"timestamp"`
	RequestID       string            `json:"requestId"`
	SynthesizedFrom domain.Capability `json:"synthesizedFrom,omitempty"`
}

// ChatResponse is the body returned for a processed turn.
type ChatResponse struct {
	Message   string           `json:"message"`
	SessionID string           `json:"sessionId"`
	Metadata  ResponseMetadata `json:"metadata"`
}

// TaskResponse adds the capability's structured output.
type TaskResponse struct {
	ChatResponse
	Output domain.Output `json:"output"`
}

// RateLimitedResponse is the 429 body.
type RateLimitedResponse struct {
	Error     string    `json:"error"`
	ResetAt   time.Time `json:"resetAt"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
}

// ChatConfig wires a ChatHandler.
type ChatConfig struct {
	Coordinator      *coordinator.Coordinator
	Limiter          *ratelimit.Limiter
	Scope            ratelimit.Scope
	MaxMessageLength int
	Transcript       *transcript.Logger
	Sockets          *SocketRegistry
	// SocketOrigins are the origin patterns accepted for /ws/chat.
	SocketOrigins []string
	// OnRateLimited is called for every rejected request.
	OnRateLimited func(scope, window string)
	Logger        *slog.Logger
}

// ChatHandler serves chat, task, session and analytics endpoints.
type ChatHandler struct {
	coord         *coordinator.Coordinator
	limiter       *ratelimit.Limiter
	scope         ratelimit.Scope
	maxLen        int
	transcript    *transcript.Logger
	sockets       *SocketRegistry
	origins       []string
	onRateLimited func(scope, window string)
	logger        *slog.Logger
}

// NewChatHandler creates a ChatHandler.
func NewChatHandler(cfg ChatConfig) *ChatHandler {
	h := &ChatHandler{
		coord:         cfg.Coordinator,
		limiter:       cfg.Limiter,
		scope:         cfg.Scope,
		maxLen:        cfg.MaxMessageLength,
		transcript:    cfg.Transcript,
		sockets:       cfg.Sockets,
		origins:       cfg.SocketOrigins,
		onRateLimited: cfg.OnRateLimited,
		logger:        cfg.Logger,
	}
	if h.scope == "" {
		h.scope = ratelimit.ScopeUser
	}
	if h.maxLen <= 0 {
		h.maxLen = DefaultMaxMessageLength
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.sockets == nil {
		h.sockets = NewSocketRegistry()
	}
	return h
}

// RegisterRoutes registers the tutor routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/chat", h.HandleChat)
	r.Route("/api/tutor", func(r chi.Router) {
		r.Post("/chat", h.HandleChat)
		r.Post("/{task}", h.HandleTask)
		r.Get("/session/{sessionId}/history", h.HandleHistory)
		r.Delete("/session/{sessionId}", h.HandleClearSession)
		r.Get("/analytics/{sessionId}", h.HandleAnalytics)
	})
	r.Get("/ws/chat", h.HandleSocket)
}

// validateMessage checks the message against the configured bounds.
// required=false accepts an empty message.
func (h *ChatHandler) validateMessage(msg string, required bool) error {
	var problems []string
	if strings.TrimSpace(msg) == "" {
		if required {
			problems = append(problems, "Message is required and must be a string")
		}
	} else if n := utf8.RuneCountInString(msg); n > h.maxLen {
		problems = append(problems, fmt.Sprintf("Message is too long (max %d characters)", h.maxLen))
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// limitKey picks the identifier the configured scope limits by.
func (h *ChatHandler) limitKey(r *http.Request, userID, sessionID string) string {
	switch h.scope {
	case ratelimit.ScopeIP:
		return identity.ClientIPFromContext(r)
	case ratelimit.ScopeSession:
		return sessionID
	default:
		return userID
	}
}

// check consumes quota for one turn. ok is false when no limiter is configured.
func (h *ChatHandler) check(r *http.Request, userID, sessionID string) (res ratelimit.Result, ok bool) {
	if h.limiter == nil {
		return ratelimit.Result{Allowed: true}, false
	}
	res = h.limiter.Check(r.Context(), h.limitKey(r, userID, sessionID), h.scope)
	if !res.Allowed {
		h.logger.Info("Rate limit exceeded", "user_id", userID, "scope", h.scope, "window", res.Window)
		if h.onRateLimited != nil {
			h.onRateLimited(string(h.scope), res.Window)
		}
	}
	return res, true
}

// admit applies the rate limit and writes the 429 when it rejects.
func (h *ChatHandler) admit(w http.ResponseWriter, r *http.Request, userID, sessionID string) bool {
	res, limited := h.check(r, userID, sessionID)
	if !limited {
		return true
	}
	setRateLimitHeaders(w, res)
	if res.Allowed {
		return true
	}
	JSON(w, http.StatusTooManyRequests, rateLimitedBody(res))
	return false
}

func rateLimitedBody(res ratelimit.Result) RateLimitedResponse {
	return RateLimitedResponse{
		Error:     "Rate limit exceeded",
		ResetAt:   res.ResetAt,
		Limit:     res.Limit,
		Remaining: res.Remaining,
	}
}

func setRateLimitHeaders(w http.ResponseWriter, res ratelimit.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
}

// HandleChat serves POST /api/chat.
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, err)
		return
	}
	if err := h.validateMessage(req.Message, true); err != nil {
		WriteError(w, err)
		return
	}

	sessionID := identity.ResolveSessionID(r, req.SessionID)
	userID := identity.ResolveUserID(r, req.UserID)
	if !h.admit(w, r, userID, sessionID) {
		return
	}

	resp, err := h.process(r.Context(), "http", coordinator.Turn{
		SessionID: sessionID,
		UserID:    userID,
		Message:   req.Message,
		RequestID: chiMiddleware.GetReqID(r.Context()),
	})
	if err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusOK, resp.ChatResponse)
}

// HandleTask serves POST /api/tutor/{task}.
func (h *ChatHandler) HandleTask(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "task")
	task, ok := taskRoutes[name]
	if !ok {
		Error(w, http.StatusNotFound, fmt.Sprintf("unknown task %q", name))
		return
	}

	var req TaskRequest
	if err := decodeJSON(w, r, &req); err != nil {
		WriteError(w, err)
		return
	}
	if err := h.validateMessage(req.Message, false); err != nil {
		WriteError(w, err)
		return
	}
	message := req.Message
	if strings.TrimSpace(message) == "" {
		message = taskPrompts[task]
	}

	sessionID := identity.ResolveSessionID(r, req.SessionID)
	userID := identity.ResolveUserID(r, req.UserID)
	if !h.admit(w, r, userID, sessionID) {
		return
	}

	resp, err := h.process(r.Context(), "http", coordinator.Turn{
		SessionID:   sessionID,
		UserID:      userID,
		Message:     message,
		RequestID:   chiMiddleware.GetReqID(r.Context()),
		Task:        task,
		Exercise:    req.Exercise,
		UserAnswer:  req.UserAnswer,
		Trigger:     req.Trigger,
		StudentName: req.StudentName,
		PlanType:    req.PlanType,
	})
	if err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusOK, resp)
}

// process runs the turn and records the transcript.
func (h *ChatHandler) process(ctx context.Context, channel string, turn coordinator.Turn) (*TaskResponse, error) {
	h.transcript.Log(transcript.Event{
		UserID:    turn.UserID,
		SessionID: turn.SessionID,
		RequestID: turn.RequestID,
		Channel:   channel,
		Role:      string(domain.RoleUser),
		Content:   turn.Message,
	})

	res, err := h.coord.Process(ctx, turn)
	if err != nil {
		h.logger.Error("Failed to process turn",
			"session_id", turn.SessionID,
			"user_id", turn.UserID,
			"error", err,
		)
		return nil, fmt.Errorf("process turn: %w", err)
	}

	out := toTaskResponse(turn.SessionID, res)
	h.transcript.Log(transcript.Event{
		UserID:     turn.UserID,
		SessionID:  turn.SessionID,
		RequestID:  res.RequestID,
		Channel:    channel,
		Role:       string(domain.RoleAssistant),
		Capability: string(res.Response.Capability),
		Content:    out.Message,
	})
	return out, nil
}

func toTaskResponse(sessionID string, res *coordinator.Result) *TaskResponse {
	resp := res.Response
	ts := resp.Metadata.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return &TaskResponse{
		ChatResponse: ChatResponse{
			Message:   resp.Text(),
			SessionID: sessionID,
			Metadata: ResponseMetadata{
				Agent:           resp.Capability,
				Task:            resp.Task,
				Intent:          res.Decision.Intent,
				Timestamp:       ts,
				RequestID:       res.RequestID,
				SynthesizedFrom: resp.Metadata.SynthesizedFrom,
			},
		},
		Output: resp.Output,
	}
}

// HandleHistory serves GET /api/tutor/session/{sessionId}/history.
func (h *ChatHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	if !identity.ValidID(sessionID) {
		WriteError(w, &ValidationError{Problems: []string{"invalid sessionId"}})
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			WriteError(w, &ValidationError{Problems: []string{"limit must be a non-negative integer"}})
			return
		}
		limit = n
	}

	msgs, err := h.coord.History(r.Context(), sessionID, limit)
	if err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"sessionId": sessionID,
		"messages":  msgs,
	})
}

// HandleClearSession serves DELETE /api/tutor/session/{sessionId}.
func (h *ChatHandler) HandleClearSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	if !identity.ValidID(sessionID) {
		WriteError(w, &ValidationError{Problems: []string{"invalid sessionId"}})
		return
	}

	if err := h.coord.ClearSession(r.Context(), sessionID); err != nil {
		WriteError(w, err)
		return
	}
	h.sockets.CloseSession(sessionID)
	h.logger.Info("Session cleared", "session_id", sessionID)
	JSON(w, http.StatusOK, map[string]interface{}{
		"sessionId": sessionID,
		"cleared":   true,
	})
}

// HandleAnalytics serves GET /api/tutor/analytics/{sessionId}.
func (h *ChatHandler) HandleAnalytics(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	if !identity.ValidID(sessionID) {
		WriteError(w, &ValidationError{Problems: []string{"invalid sessionId"}})
		return
	}

	stats, err := h.coord.Progress(r.Context(), sessionID)
	if err != nil {
		WriteError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"sessionId": sessionID,
		"progress":  stats,
	})
}
