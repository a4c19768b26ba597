//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/containerd/errdefs"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected application/json, got %q", ct)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid", fmt.Errorf("bad: %w", errdefs.ErrInvalidArgument), http.StatusBadRequest},
		{"not found", fmt.Errorf("gone: %w", errdefs.ErrNotFound), http.StatusNotFound},
		{"exhausted", fmt.Errorf("quota: %w", errdefs.ErrResourceExhausted), http.StatusTooManyRequests},
		{"unavailable", fmt.Errorf("down: %w", errdefs.ErrUnavailable), http.StatusServiceUnavailable},
		{"deadline", fmt.Errorf("slow: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusFor(tt.err); got != tt.want {
				t.Errorf("StatusFor() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestWriteErrorValidation(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, &ValidationError{Problems: []string{"Message is required and must be a string"}})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", w.Code)
	}
	var body struct {
		Error   string   `json:"error"`
		Details []string `json:"details"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if body.Error != "Invalid request" || len(body.Details) != 1 {
		t.Errorf("Unexpected body: %+v", body)
	}
}

func TestWriteErrorHidesInternalDetail(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, errors.New("database is locked at /var/lib/tutor.db"))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", w.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if body["error"] != "Internal server error" {
		t.Errorf("Expected generic error, got %q", body["error"])
	}
}

func TestValidationErrorIsInvalidArgument(t *testing.T) {
	err := fmt.Errorf("decode: %w", &ValidationError{Problems: []string{"x"}})
	if !errdefs.IsInvalidArgument(err) {
		t.Error("Expected ValidationError to classify as invalid argument")
	}
	if StatusFor(err) != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", StatusFor(err))
	}
}
