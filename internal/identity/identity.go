// Package identity resolves who is calling: the client IP, the user id and
// the tutoring session id.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	// SessionHeaderName carries the session id when the body does not.
	SessionHeaderName = "X-Tutor-Session-ID"
	// SessionQueryParam is the query fallback, used by WebSocket clients.
	SessionQueryParam = "session_id"
)

type contextKey int

const (
	clientIPKey contextKey = iota
	headerSessionKey
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9._:@-]{1,128}$`)

// ClientIP returns the caller's address: CF-Connecting-IP, then the first
// X-Forwarded-For entry, then the host part of RemoteAddr.
func ClientIP(r *http.Request) string {
	if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ValidID reports whether id is usable as a session or user id.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

func sanitize(id string) string {
	id = strings.TrimSpace(id)
	if !ValidID(id) {
		return ""
	}
	return id
}

// ResolveSessionID picks the session id from the body, then the header or
// query, and otherwise mints a new one.
func ResolveSessionID(r *http.Request, fromBody string) string {
	if sid := sanitize(fromBody); sid != "" {
		return sid
	}
	if sid := sanitize(SessionIDFromContext(r.Context())); sid != "" {
		return sid
	}
	if sid := sanitize(r.Header.Get(SessionHeaderName)); sid != "" {
		return sid
	}
	if sid := sanitize(r.URL.Query().Get(SessionQueryParam)); sid != "" {
		return sid
	}
	return uuid.NewString()
}

// ResolveUserID returns the body's user id, or the client IP.
func ResolveUserID(r *http.Request, fromBody string) string {
	if uid := sanitize(fromBody); uid != "" {
		return uid
	}
	return ClientIPFromContext(r)
}

// ClientIPFromContext returns the IP stored by Middleware, computing it when
// the middleware did not run.
func ClientIPFromContext(r *http.Request) string {
	if v, ok := r.Context().Value(clientIPKey).(string); ok && v != "" {
		return v
	}
	return ClientIP(r)
}

// SessionIDFromContext returns the header session id stored by Middleware.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(headerSessionKey).(string); ok {
		return v
	}
	return ""
}

// Middleware records the client IP and any header session id on the request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), clientIPKey, ClientIP(r))
		if sid := sanitize(r.Header.Get(SessionHeaderName)); sid != "" {
			ctx = context.WithValue(ctx, headerSessionKey, sid)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
