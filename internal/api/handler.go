// Package api provides HTTP handlers for the tutor API.
//
//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/containerd/errdefs"
)

// defaultMaxRequestBodySize is the largest accepted request body (1MB).
const defaultMaxRequestBodySize = 1 << 20

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// StatusFor maps an error class to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errdefs.IsInvalidArgument(err):
		return http.StatusBadRequest
	case errdefs.IsNotFound(err):
		return http.StatusNotFound
	case errdefs.IsResourceExhausted(err):
		return http.StatusTooManyRequests
	case errdefs.IsUnavailable(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// ValidationError lists what is wrong with a request.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid request: " + strings.Join(e.Problems, "; ")
}

// Unwrap classifies the error as an invalid argument.
func (e *ValidationError) Unwrap() error { return errdefs.ErrInvalidArgument }

// WriteError writes err with the status of its class. Internal errors are
// logged and reported without detail.
func WriteError(w http.ResponseWriter, err error) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		JSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":   "Invalid request",
			"details": verr.Problems,
		})
		return
	}

	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "error", err)
		Error(w, status, "Internal server error")
		return
	}
	Error(w, status, err.Error())
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, defaultMaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &ValidationError{Problems: []string{fmt.Sprintf("malformed JSON body: %v", err)}}
	}
	return nil
}
