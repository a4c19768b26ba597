package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/dakarenzi/AI-Tutor/internal/domain"
	"github.com/dakarenzi/AI-Tutor/internal/llm"
	"github.com/dakarenzi/AI-Tutor/internal/persona"
)

const contentRole = `You are the Content Agent. Your role is to generate clear, structured lesson content.
- Explain topics simply and clearly
- Provide relevant examples and analogies
- Break content into digestible chunks
- Align with curriculum when specified
- Keep explanations mobile-friendly and concise`

// ContentExpert writes lesson content and exercises.
type ContentExpert struct {
	modelBacked
}

// NewContentExpert creates the content capability.
func NewContentExpert(gen llm.Generator, rules *persona.Rules) *ContentExpert {
	return &ContentExpert{modelBacked{gen: gen, rules: rules}}
}

// Name implements Capability.
func (c *ContentExpert) Name() domain.Capability { return domain.CapabilityContent }

// Handle implements Capability.
func (c *ContentExpert) Handle(ctx context.Context, req *domain.CapabilityRequest) (*domain.CapabilityResponse, error) {
	in := req.Input
	prompt := fmt.Sprintf("Generate content for:\nTopic: %s\nLevel: %s\nContext: %s\n\nPlease provide a clear explanation with examples.",
		orDefault(in.Topic, "general topic"),
		orDefault(in.Level, "intermediate"),
		orDefault(in.Message, "general learning"),
	)

	out, err := c.generate(ctx, contentRole, single(prompt))
	if err != nil {
		return nil, fmt.Errorf("content generate: %w", err)
	}
	return respond(c.Name(), taskOr(req.Task, domain.TaskGenerate), domain.Output{
		Message:   out.Text,
		Success:   true,
		KeyPoints: KeyPoints(out.Text),
	}, domain.ResponseMetadata{ModelUsed: out.Model}), nil
}

// KeyPoints returns the first five non-empty lines of text.
func KeyPoints(text string) []string {
	var points []string
	for _, line := range strings.Split(text, "\n") {
		if l := strings.TrimSpace(line); l != "" {
			points = append(points, l)
			if len(points) == 5 {
				break
			}
		}
	}
	return points
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
