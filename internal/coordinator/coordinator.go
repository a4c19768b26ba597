// Package coordinator runs the per-message tutoring pipeline: route,
// dispatch, validate, repair, enforce, synthesize and persist.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/google/uuid"

	"github.com/dakarenzi/AI-Tutor/internal/agent"
	"github.com/dakarenzi/AI-Tutor/internal/domain"
	"github.com/dakarenzi/AI-Tutor/internal/memory"
	"github.com/dakarenzi/AI-Tutor/internal/persona"
	"github.com/dakarenzi/AI-Tutor/internal/routing"
	"github.com/dakarenzi/AI-Tutor/internal/safety"
)

// Turn is one inbound learner message.
type Turn struct {
	SessionID string
	UserID    string
	Message   string
	RequestID string

	// Task forces a task instead of classifying the message.
	Task        domain.Task
	Exercise    *domain.Exercise
	UserAnswer  string
	Trigger     string
	StudentName string
	PlanType    string
}

// PersistOutcome reports what happened when the turn was written to memory.
// Failures never prevent the response from being returned.
type PersistOutcome struct {
	Errors []error
}

// OK reports whether every write succeeded.
func (p PersistOutcome) OK() bool { return len(p.Errors) == 0 }

// Err joins the write failures, or returns nil.
func (p PersistOutcome) Err() error { return errors.Join(p.Errors...) }

// Result is the outcome of Process.
type Result struct {
	Response  *domain.CapabilityResponse
	Decision  routing.Decision
	RequestID string
	Safety    safety.Result
	FellBack  bool
	Repaired  bool
	Persist   PersistOutcome
}

// Deps are the collaborators a Coordinator needs.
type Deps struct {
	Classifier routing.Classifier
	Safety     *safety.Engine
	Persona    *persona.Rules
	Registry   *agent.Registry
	LongTerm   memory.LongTerm
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Coordinator) { c.logger = l } }

// WithObserver sets the pipeline observer.
func WithObserver(o Observer) Option { return func(c *Coordinator) { c.observer = o } }

// WithShortTermSize sets the number of recent messages replayed into each turn.
func WithShortTermSize(n int) Option { return func(c *Coordinator) { c.shortTermSize = n } }

// WithSessions shares a session registry, e.g. with a sweeper.
func WithSessions(s *Sessions) Option { return func(c *Coordinator) { c.sessions = s } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

// OnPersistFailure registers a hook called for every failed memory write.
func OnPersistFailure(fn func(sessionID, op string, err error)) Option {
	return func(c *Coordinator) { c.onPersistFailure = fn }
}

// Coordinator owns the pipeline. It is safe for concurrent use; concurrent
// turns for the same session are not serialized.
type Coordinator struct {
	classifier routing.Classifier
	safety     *safety.Engine
	persona    *persona.Rules
	registry   *agent.Registry
	ltm        memory.LongTerm
	tutor      agent.Capability

	sessions         *Sessions
	logger           *slog.Logger
	observer         Observer
	shortTermSize    int
	now              func() time.Time
	onPersistFailure func(sessionID, op string, err error)
}

// New builds a Coordinator. The registry must contain the tutor capability.
func New(deps Deps, opts ...Option) (*Coordinator, error) {
	if deps.Classifier == nil || deps.Registry == nil || deps.LongTerm == nil {
		return nil, fmt.Errorf("coordinator: classifier, registry and long-term memory are required: %w", errdefs.ErrInvalidArgument)
	}
	tutor, ok := deps.Registry.Get(domain.CapabilityTutor)
	if !ok {
		return nil, fmt.Errorf("coordinator: tutor capability not registered: %w", errdefs.ErrInvalidArgument)
	}
	if deps.Safety == nil {
		deps.Safety = safety.NewEngine(safety.Config{})
	}
	if deps.Persona == nil {
		deps.Persona = persona.Default()
	}

	c := &Coordinator{
		classifier:    deps.Classifier,
		safety:        deps.Safety,
		persona:       deps.Persona,
		registry:      deps.Registry,
		ltm:           deps.LongTerm,
		tutor:         tutor,
		observer:      nopObserver{},
		shortTermSize: memory.DefaultShortTermSize,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.sessions == nil {
		c.sessions = NewSessions()
	}
	if c.shortTermSize <= 0 {
		c.shortTermSize = memory.DefaultShortTermSize
	}
	return c, nil
}

// Sessions returns the session registry.
func (c *Coordinator) Sessions() *Sessions { return c.sessions }

// Process runs the full pipeline for one turn. An error is returned only
// when memory cannot be loaded or the fallback itself fails.
func (c *Coordinator) Process(ctx context.Context, turn Turn) (*Result, error) {
	requestID := turn.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	log := c.logger.With("session_id", turn.SessionID, "request_id", requestID)
	userMsg := domain.Message{Role: domain.RoleUser, Content: turn.Message, Timestamp: c.now()}

	// 1. Route.
	decision := c.classifier.Route(ctx, turn.Message)
	if turn.Task != "" {
		decision.Task = turn.Task
		decision.Capability = domain.CapabilityForTask(turn.Task)
	}

	// 2. Load long-term memory; a miss is a fresh session.
	mem, _, err := memory.LoadOrDefault(ctx, c.ltm, turn.SessionID, c.now())
	if err != nil {
		c.observer.ObserveTurn(decision.Capability, OutcomeError)
		return nil, fmt.Errorf("load session memory: %w", err)
	}
	stm := memory.NewShortTerm(c.shortTermSize)
	for _, m := range memory.TailMessages(mem.RecentMessages, c.shortTermSize) {
		stm.AddMessage(m)
	}

	// 3. Build the request.
	req := c.buildRequest(turn, decision, mem, stm, requestID)

	// 4. Dispatch, falling back to the tutor on failure.
	res := &Result{Decision: decision, RequestID: requestID}
	resp, err := c.dispatch(ctx, req)
	if err != nil {
		log.Warn("capability failed, falling back to tutor",
			"category", "capability_failure",
			"capability", decision.Capability,
			"error", err,
		)
		c.observer.ObserveFallback(decision.Capability)
		resp, err = c.fallback(ctx, turn, decision.Capability, requestID, err)
		if err != nil {
			c.observer.ObserveTurn(decision.Capability, OutcomeError)
			return nil, fmt.Errorf("fallback to tutor: %w", err)
		}
		res.FellBack = true
	}
	specialist := resp

	// 5-6. Validate, with a single repair attempt.
	ledger := c.sessions.Ledger(turn.SessionID)
	res.Safety = c.safety.Check(resp.Text(), ledger)
	if !res.Safety.Safe {
		resp, res.Repaired = c.repair(ctx, turn, resp, res.Safety, requestID, log)
		if res.Repaired {
			after := c.safety.Check(resp.Text(), ledger)
			if !after.Safe {
				log.Warn("response still unsafe after repair",
					"category", "unsafe_after_repair",
					"issues", after.Issues,
				)
			}
			c.observer.ObserveRepair(!after.Safe)
			res.Safety = after
		}
	}

	// 7. Local identity enforcement.
	resp = resp.WithText(c.persona.Enforce(resp.Text()))

	// 8. Synthesis into the tutor voice.
	if resp.Capability != domain.CapabilityTutor {
		resp = c.synthesize(ctx, turn, resp, requestID, log)
	}

	// 9. Persist.
	res.Persist = c.persist(ctx, turn, decision, stm, userMsg, resp, specialist, log)
	for _, fact := range safety.PolarityStatements(resp.Text()) {
		ledger.RecordFact(fact)
	}

	res.Response = resp
	outcome := OutcomeOK
	if res.FellBack {
		outcome = OutcomeFallback
	}
	c.observer.ObserveTurn(resp.Capability, outcome)
	return res, nil
}

func (c *Coordinator) buildRequest(turn Turn, d routing.Decision, mem *domain.MemoryData, stm *memory.ShortTerm, requestID string) *domain.CapabilityRequest {
	topic := d.Entities.Topic
	if topic == "" {
		topic = mem.CurrentTopic
	}
	level := d.Entities.Level
	if level == "" {
		level = mem.Level
	}
	answer := turn.UserAnswer
	if answer == "" && d.Capability == domain.CapabilityEvaluation {
		answer = turn.Message
	}
	currentLevel := mem.CurrentDifficulty
	if turn.Exercise != nil && currentLevel == "" {
		currentLevel = turn.Exercise.Difficulty
	}

	return &domain.CapabilityRequest{
		Capability: d.Capability,
		Task:       d.Task,
		Input: domain.CapabilityInput{
			Message:             turn.Message,
			SessionID:           turn.SessionID,
			UserID:              turn.UserID,
			Topic:               topic,
			Level:               level,
			Exercise:            turn.Exercise,
			UserAnswer:          answer,
			PerformanceHistory:  mem.ProgressHistory,
			CurrentLevel:        currentLevel,
			StudentProfile:      mem.Profile(),
			Trigger:             turn.Trigger,
			StudentName:         turn.StudentName,
			PlanType:            turn.PlanType,
			ConversationHistory: stm.GetMessages(),
		},
		Metadata: domain.RequestMetadata{Timestamp: c.now(), RequestID: requestID},
	}
}

// dispatch converts panics and nil responses into errors so that every
// capability failure takes the fallback path.
func (c *Coordinator) dispatch(ctx context.Context, req *domain.CapabilityRequest) (resp *domain.CapabilityResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp, err = nil, fmt.Errorf("capability %s panicked: %v", req.Capability, r)
		}
	}()
	resp, err = c.registry.Dispatch(ctx, req)
	if err == nil && resp == nil {
		err = fmt.Errorf("capability %s returned no response", req.Capability)
	}
	return resp, err
}

func (c *Coordinator) internal(ctx context.Context, turn Turn, message string, meta domain.RequestMetadata) (*domain.CapabilityResponse, error) {
	meta.Internal = true
	meta.Timestamp = c.now()
	return c.dispatch(ctx, &domain.CapabilityRequest{
		Capability: domain.CapabilityTutor,
		Task:       domain.TaskTeach,
		Input: domain.CapabilityInput{
			Message:   message,
			SessionID: turn.SessionID,
			UserID:    turn.UserID,
		},
		Metadata: meta,
	})
}

func (c *Coordinator) fallback(ctx context.Context, turn Turn, from domain.Capability, requestID string, cause error) (*domain.CapabilityResponse, error) {
	return c.internal(ctx, turn, "I encountered an issue. Let me help you with: "+turn.Message, domain.RequestMetadata{
		RequestID:    requestID,
		Error:        cause.Error(),
		OriginalFrom: from,
	})
}

func (c *Coordinator) repair(ctx context.Context, turn Turn, resp *domain.CapabilityResponse, check safety.Result, requestID string, log *slog.Logger) (*domain.CapabilityResponse, bool) {
	log.Warn("unsafe response, requesting repair", "capability", resp.Capability, "issues", check.Issues)
	repaired, err := c.internal(ctx, turn,
		"Please reformat this response to be safe and follow our identity rules: "+resp.Text(),
		domain.RequestMetadata{RequestID: requestID, SafetyIssues: check.Issues, OriginalFrom: resp.Capability},
	)
	if err != nil {
		log.Warn("repair failed, keeping original response", "category", "capability_failure", "error", err)
		c.observer.ObserveRepair(true)
		return resp, false
	}
	repaired.Metadata.SafetyIssues = check.Issues
	return repaired, true
}

func (c *Coordinator) synthesize(ctx context.Context, turn Turn, resp *domain.CapabilityResponse, requestID string, log *slog.Logger) *domain.CapabilityResponse {
	synth, err := c.internal(ctx, turn, "Format this agent response for the student: "+resp.Text(), domain.RequestMetadata{
		RequestID:    requestID,
		OriginalFrom: resp.Capability,
	})
	if err != nil {
		log.Warn("synthesis failed, returning specialist response",
			"category", "capability_failure",
			"capability", resp.Capability,
			"error", err,
		)
		return resp
	}

	out := resp.Output
	out.Message = c.persona.Enforce(synth.Text())
	out.Success = synth.Output.Success
	meta := synth.Metadata
	meta.SynthesizedFrom = resp.Capability
	meta.SafetyIssues = resp.Metadata.SafetyIssues
	meta.Accuracy = resp.Metadata.Accuracy
	meta.Trigger = resp.Metadata.Trigger
	meta.PlanType = resp.Metadata.PlanType
	return &domain.CapabilityResponse{
		Capability: domain.CapabilityTutor,
		Task:       synth.Task,
		Output:     out,
		Metadata:   meta,
	}
}

func (c *Coordinator) persist(ctx context.Context, turn Turn, d routing.Decision, stm *memory.ShortTerm,
	userMsg domain.Message, resp, specialist *domain.CapabilityResponse, log *slog.Logger) PersistOutcome {
	var out PersistOutcome
	fail := func(op string, err error) {
		out.Errors = append(out.Errors, fmt.Errorf("%s: %w", op, err))
		log.Warn("failed to persist turn", "category", "persistence_failure", "op", op, "error", err)
		c.observer.ObservePersistFailure(op)
		if c.onPersistFailure != nil {
			c.onPersistFailure(turn.SessionID, op, err)
		}
	}

	assistantMsg := domain.Message{Role: domain.RoleAssistant, Content: resp.Text(), Timestamp: c.now()}
	if assistantMsg.Timestamp.Before(userMsg.Timestamp) {
		assistantMsg.Timestamp = userMsg.Timestamp
	}
	stm.AddMessage(userMsg)
	stm.AddMessage(assistantMsg)

	if err := c.ltm.AddMessage(ctx, turn.SessionID, userMsg); err != nil {
		fail("add_user_message", err)
	}
	if err := c.ltm.AddMessage(ctx, turn.SessionID, assistantMsg); err != nil {
		fail("add_assistant_message", err)
	}

	if update := profileUpdate(turn, d, specialist, userMsg.Timestamp); !update.IsEmpty() {
		if err := c.ltm.Update(ctx, turn.SessionID, update); err != nil {
			fail("update_profile", err)
		}
	}
	return out
}

// profileUpdate derives the long-term profile changes implied by a turn.
func profileUpdate(turn Turn, d routing.Decision, specialist *domain.CapabilityResponse, at time.Time) domain.MemoryUpdate {
	var u domain.MemoryUpdate
	if t := strings.TrimSpace(d.Entities.Topic); t != "" {
		u.CurrentTopic = &t
	}
	if l := d.Entities.Level; l != "" {
		u.Level = &l
	}
	if specialist == nil {
		return u
	}

	switch specialist.Capability {
	case domain.CapabilityEvaluation:
		if specialist.Output.IsCorrect == nil || turn.Exercise == nil {
			break
		}
		ex := turn.Exercise
		topic := ex.Topic
		if topic == "" && u.CurrentTopic != nil {
			topic = *u.CurrentTopic
		}
		entry := domain.ProgressEntry{
			Timestamp:  at,
			Topic:      topic,
			ExerciseID: ex.ID,
			Correct:    *specialist.Output.IsCorrect,
			Difficulty: ex.DifficultyOrDefault(),
		}
		if !entry.Correct && specialist.Output.Diagnosis != "" {
			entry.Errors = []string{specialist.Output.Diagnosis}
		}
		u.AppendProgress = []domain.ProgressEntry{entry}
		if ex.ID != "" {
			id := ex.ID
			u.CurrentExerciseID = &id
		}
	case domain.CapabilityDifficulty:
		if specialist.Output.Success && specialist.Output.NewLevel != "" {
			lvl := specialist.Output.NewLevel
			u.CurrentDifficulty = &lvl
		}
	case domain.CapabilityAnalytics:
		if a := specialist.Output.Analysis; a != nil && a.TotalExercises > 0 {
			u.Strengths = a.Strengths
			u.Weaknesses = a.Weaknesses
		}
	}
	return u
}

// ClearSession deletes long-term memory and the fact ledger for sessionID.
func (c *Coordinator) ClearSession(ctx context.Context, sessionID string) error {
	c.sessions.Clear(sessionID)
	if err := c.ltm.Clear(ctx, sessionID); err != nil {
		return fmt.Errorf("clear session %s: %w", sessionID, err)
	}
	return nil
}

// History returns up to limit recent messages of the session.
func (c *Coordinator) History(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	msgs, err := c.ltm.GetHistory(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("get history %s: %w", sessionID, err)
	}
	return msgs, nil
}

// Progress aggregates the session's exercise history.
func (c *Coordinator) Progress(ctx context.Context, sessionID string) (memory.ProgressStats, error) {
	mem, _, err := memory.LoadOrDefault(ctx, c.ltm, sessionID, c.now())
	if err != nil {
		return memory.ProgressStats{}, fmt.Errorf("load progress %s: %w", sessionID, err)
	}
	return memory.NewProgressTracker(mem.ProgressHistory).Stats(), nil
}
