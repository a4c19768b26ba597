package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"cloudflare wins", map[string]string{"CF-Connecting-IP": "1.1.1.1", "X-Forwarded-For": "2.2.2.2"}, "3.3.3.3:1234", "1.1.1.1"},
		{"first forwarded", map[string]string{"X-Forwarded-For": "2.2.2.2, 10.0.0.1"}, "3.3.3.3:1234", "2.2.2.2"},
		{"remote addr", nil, "3.3.3.3:1234", "3.3.3.3"},
		{"remote without port", nil, "3.3.3.3", "3.3.3.3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := ClientIP(r); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveSessionID(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?session_id=from-query", nil)
	r.Header.Set(SessionHeaderName, "from-header")

	if got := ResolveSessionID(r, "from-body"); got != "from-body" {
		t.Errorf("body id ignored: %q", got)
	}
	if got := ResolveSessionID(r, ""); got != "from-header" {
		t.Errorf("header id ignored: %q", got)
	}

	r.Header.Del(SessionHeaderName)
	if got := ResolveSessionID(r, "bad id with spaces"); got != "from-query" {
		t.Errorf("query id ignored: %q", got)
	}

	bare := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := uuid.Parse(ResolveSessionID(bare, "")); err != nil {
		t.Errorf("expected a fresh uuid: %v", err)
	}
}

func TestMiddlewareAndUserFallback(t *testing.T) {
	var user, sid string
	h := Middleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		user = ResolveUserID(r, "")
		sid = ResolveSessionID(r, "")
	}))

	r := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	r.Header.Set("X-Forwarded-For", "9.9.9.9")
	r.Header.Set(SessionHeaderName, "tab-1")
	h.ServeHTTP(httptest.NewRecorder(), r)

	if user != "9.9.9.9" {
		t.Errorf("user = %q, want client IP", user)
	}
	if sid != "tab-1" {
		t.Errorf("session = %q, want header value", sid)
	}
}
