package llm

import (
	"context"
	"errors"
	"fmt"
	"math"

	"google.golang.org/genai"

	"github.com/dakarenzi/AI-Tutor/internal/domain"
)

// GeminiGenerator calls the Gemini API.
type GeminiGenerator struct {
	client   *genai.Client
	defaults Defaults
}

// NewGeminiGenerator creates a Gemini-backed Generator.
func NewGeminiGenerator(ctx context.Context, apiKey string, defaults Defaults) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	if defaults.Model == "" {
		defaults.Model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiGenerator{client: client, defaults: defaults}, nil
}

// Generate implements Generator.
func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (*Response, error) {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := genai.Role(genai.RoleUser)
		if m.Role == domain.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	temp := float32(g.defaults.temperature(req))
	config := &genai.GenerateContentConfig{
		// #nosec G115 -- bounded by min
		MaxOutputTokens: int32(min(g.defaults.maxTokens(req), math.MaxInt32)),
		Temperature:     &temp,
	}
	if req.SystemInstruction != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemInstruction}},
		}
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.defaults.Model, contents, config)
	if err != nil {
		return nil, g.wrapError(err)
	}

	out := &Response{Text: resp.Text(), Model: g.defaults.Model}
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}
	if resp.UsageMetadata != nil {
		out.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}
	if len(resp.Candidates) > 0 {
		out.FinishReason = string(resp.Candidates[0].FinishReason)
	}
	return out, nil
}

func (g *GeminiGenerator) wrapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus("gemini", apiErr.Code, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return classifyStatus("gemini", apiErrPtr.Code, err)
	}
	return fmt.Errorf("gemini: %w", err)
}
