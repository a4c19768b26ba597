// Package llm is the model-invocation boundary. Capabilities talk to a
// Generator; backends adapt concrete model APIs to it.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/containerd/errdefs"

	"github.com/dakarenzi/AI-Tutor/internal/domain"
)

var (
	// ErrOverloaded marks a transient backend condition worth retrying.
	ErrOverloaded = fmt.Errorf("model overloaded: %w", errdefs.ErrUnavailable)
	// ErrTimeout marks a call that ran past its deadline. It is not retried.
	ErrTimeout = fmt.Errorf("model request timed out: %w", context.DeadlineExceeded)
	// ErrEmptyResponse is returned when a backend produced no text.
	ErrEmptyResponse = errors.New("model returned no content")
)

// Request is one generation call.
type Request struct {
	Messages          []domain.Message
	SystemInstruction string
	MaxTokens         int
	// Temperature is optional; nil uses the backend default.
	Temperature *float64
}

// Response is what a backend produced.
type Response struct {
	Text         string `json:"text"`
	Model        string `json:"model"`
	TokensUsed   int    `json:"tokensUsed,omitempty"`
	FinishReason string `json:"finishReason,omitempty"`
}

// Generator produces text from a conversation.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Defaults are applied by backends to zero-valued request fields.
type Defaults struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

func (d Defaults) maxTokens(req Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	if d.MaxTokens > 0 {
		return d.MaxTokens
	}
	return 2048
}

func (d Defaults) temperature(req Request) float64 {
	if req.Temperature != nil {
		return *req.Temperature
	}
	return d.Temperature
}

// IsOverloaded reports whether err is a retryable backend condition.
func IsOverloaded(err error) bool {
	return errors.Is(err, ErrOverloaded) || errdefs.IsUnavailable(err)
}

// IsTimeout reports whether err is a deadline failure.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// classifyStatus maps an HTTP status from a provider onto the package errors.
func classifyStatus(backend string, status int, err error) error {
	switch {
	case status == 429 || status == 529 || status >= 500:
		return fmt.Errorf("%s: %w: %w", backend, ErrOverloaded, err)
	case status == 400 || status == 422:
		return fmt.Errorf("%s: %w: %w", backend, errdefs.ErrInvalidArgument, err)
	case status == 401:
		return fmt.Errorf("%s: %w: %w", backend, errdefs.ErrUnauthenticated, err)
	case status == 403:
		return fmt.Errorf("%s: %w: %w", backend, errdefs.ErrPermissionDenied, err)
	default:
		return fmt.Errorf("%s: %w", backend, err)
	}
}
