// Package agent implements the tutoring capabilities that answer learner
// turns behind one request/response contract.
package agent

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/containerd/errdefs"

	"github.com/dakarenzi/AI-Tutor/internal/domain"
	"github.com/dakarenzi/AI-Tutor/internal/llm"
	"github.com/dakarenzi/AI-Tutor/internal/persona"
)

// ErrUnknownCapability is returned by Registry.Dispatch for unregistered tags.
var ErrUnknownCapability = fmt.Errorf("unknown capability: %w", errdefs.ErrNotFound)

// Capability answers one kind of request.
type Capability interface {
	// Name is the tag the capability is registered under.
	Name() domain.Capability
	// Handle produces a response. An error means the capability failed and
	// the caller should fall back.
	Handle(ctx context.Context, req *domain.CapabilityRequest) (*domain.CapabilityResponse, error)
}

// Registry is the dispatch table from capability tag to implementation.
type Registry struct {
	caps map[domain.Capability]Capability
}

// NewRegistry registers caps. A later capability with the same name replaces an earlier one.
func NewRegistry(caps ...Capability) *Registry {
	r := &Registry{caps: make(map[domain.Capability]Capability, len(caps))}
	for _, c := range caps {
		r.Register(c)
	}
	return r
}

// NewDefaultRegistry wires the seven stock capabilities to gen.
func NewDefaultRegistry(gen llm.Generator, rules *persona.Rules) *Registry {
	if rules == nil {
		rules = persona.Default()
	}
	return NewRegistry(
		NewTutor(gen, rules),
		NewContentExpert(gen, rules),
		NewEvaluator(gen, rules),
		NewDifficultyAdvisor(),
		NewMotivator(gen, rules),
		NewAnalyzer(),
		NewPlanner(gen, rules),
	)
}

// Register adds or replaces c.
func (r *Registry) Register(c Capability) {
	r.caps[c.Name()] = c
}

// Get returns the capability registered under name.
func (r *Registry) Get(name domain.Capability) (Capability, bool) {
	c, ok := r.caps[name]
	return c, ok
}

// Names lists the registered tags in sorted order.
func (r *Registry) Names() []domain.Capability {
	names := make([]domain.Capability, 0, len(r.caps))
	for n := range r.caps {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Dispatch routes req to the capability named in req.Capability.
func (r *Registry) Dispatch(ctx context.Context, req *domain.CapabilityRequest) (*domain.CapabilityResponse, error) {
	c, ok := r.caps[req.Capability]
	if !ok {
		return nil, fmt.Errorf("dispatch %q: %w", req.Capability, ErrUnknownCapability)
	}
	return c.Handle(ctx, req)
}

// modelBacked holds what every model-calling capability shares.
type modelBacked struct {
	gen   llm.Generator
	rules *persona.Rules
}

// generate prefixes the persona instruction to role and calls the model.
func (m modelBacked) generate(ctx context.Context, role string, messages []domain.Message) (*llm.Response, error) {
	system := m.rules.SystemInstruction()
	if role != "" {
		system += "\n\n" + role
	}
	return m.gen.Generate(ctx, llm.Request{Messages: messages, SystemInstruction: system})
}

// withHistory returns history followed by a user message carrying content.
func withHistory(history []domain.Message, content string) []domain.Message {
	out := make([]domain.Message, 0, len(history)+1)
	for _, h := range history {
		if h.Content == "" {
			continue
		}
		if h.Role == "" {
			h.Role = domain.RoleUser
		}
		out = append(out, h)
	}
	return append(out, domain.NewMessage(domain.RoleUser, content))
}

func single(content string) []domain.Message {
	return []domain.Message{domain.NewMessage(domain.RoleUser, content)}
}

func respond(c domain.Capability, t domain.Task, out domain.Output, meta domain.ResponseMetadata) *domain.CapabilityResponse {
	if meta.Timestamp.IsZero() {
		meta.Timestamp = time.Now()
	}
	return &domain.CapabilityResponse{Capability: c, Task: t, Output: out, Metadata: meta}
}

func taskOr(t, def domain.Task) domain.Task {
	if t == "" {
		return def
	}
	return t
}
