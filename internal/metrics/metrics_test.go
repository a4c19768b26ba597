package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dakarenzi/AI-Tutor/internal/domain"
	"github.com/dakarenzi/AI-Tutor/internal/llm"
)

func TestObserverCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveTurn(domain.CapabilityTutor, "ok")
	m.ObserveTurn(domain.CapabilityTutor, "ok")
	m.ObserveTurn(domain.CapabilityTutor, "fallback")
	m.ObserveFallback(domain.CapabilityEvaluation)
	m.ObserveRepair(true)
	m.ObservePersistFailure("add_user_message")
	m.ObserveRateLimited("user", "minute")

	expected := `
		# HELP tutor_chat_turns_total Chat turns processed, by final capability and outcome
		# TYPE tutor_chat_turns_total counter
		tutor_chat_turns_total{capability="tutor",outcome="fallback"} 1
		tutor_chat_turns_total{capability="tutor",outcome="ok"} 2
	`
	if err := testutil.CollectAndCompare(m.Turns, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected turns metric: %v", err)
	}
	if got := testutil.ToFloat64(m.Fallbacks.WithLabelValues("evaluation")); got != 1 {
		t.Errorf("fallbacks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Repairs.WithLabelValues("unsafe")); got != 1 {
		t.Errorf("repairs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.PersistFailures.WithLabelValues("add_user_message")); got != 1 {
		t.Errorf("persist failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RateLimited.WithLabelValues("user", "minute")); got != 1 {
		t.Errorf("rate limited = %v, want 1", got)
	}
}

func TestModelLatencyAndHandler(t *testing.T) {
	m := New(nil)

	var observe llm.Observer = m.ObserveModelCall
	observe("gemini", "ok", 1500*time.Millisecond)

	if n := testutil.CollectAndCount(m.ModelLatency); n != 1 {
		t.Fatalf("expected 1 series, got %d", n)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `tutor_model_request_duration_seconds_count{backend="gemini",outcome="ok"} 1`) {
		t.Fatalf("metrics output missing latency series:\n%s", body)
	}
}
