package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dakarenzi/AI-Tutor/internal/domain"
)

// AnthropicGenerator calls the Anthropic Messages API.
type AnthropicGenerator struct {
	client   anthropic.Client
	defaults Defaults
}

// NewAnthropicGenerator creates an Anthropic-backed Generator. baseURL may be empty.
func NewAnthropicGenerator(apiKey, baseURL string, defaults Defaults) (*AnthropicGenerator, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if defaults.Model == "" {
		defaults.Model = "claude-sonnet-4-5"
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicGenerator{client: anthropic.NewClient(opts...), defaults: defaults}, nil
}

// Generate implements Generator.
func (g *AnthropicGenerator) Generate(ctx context.Context, req Request) (*Response, error) {
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == domain.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(g.defaults.Model),
		Messages:    messages,
		MaxTokens:   int64(g.defaults.maxTokens(req)),
		Temperature: anthropic.Float(g.defaults.temperature(req)),
	}
	if req.SystemInstruction != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemInstruction}}
	}

	msg, err := g.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, classifyStatus("anthropic", apiErr.StatusCode, err)
		}
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &Response{
		Text:         text.String(),
		Model:        string(msg.Model),
		TokensUsed:   int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		FinishReason: string(msg.StopReason),
	}, nil
}
