package trace

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	applog "bookinglens/internal/log"
)

func newTestMiddleware(buf *bytes.Buffer) *Middleware {
	cfg := applog.DefaultConfig()
	cfg.Output = buf
	cfg.Component = applog.ComponentTrace
	return NewMiddleware(applog.New(cfg), func(r *http.Request) string { return "203.0.113.7" })
}

func TestMiddlewareAssignsRequestID(t *testing.T) {
	var buf bytes.Buffer
	m := newTestMiddleware(&buf)

	var seen string
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/datasets", nil))

	if !strings.HasPrefix(seen, "req_") {
		t.Errorf("request id = %q, want generated id", seen)
	}
	if rec.Header().Get(HeaderRequestID) != seen {
		t.Errorf("response header = %q, want %q", rec.Header().Get(HeaderRequestID), seen)
	}
	if !strings.Contains(buf.String(), "status_code=418") || !strings.Contains(buf.String(), "client_ip=203.0.113.7") {
		t.Errorf("completion log missing fields: %s", buf.String())
	}
	if got := m.GetMetrics().TotalRequests; got != 1 {
		t.Errorf("TotalRequests = %d, want 1", got)
	}
}

func TestMiddlewareKeepsIncomingRequestID(t *testing.T) {
	var buf bytes.Buffer
	m := newTestMiddleware(&buf)

	tests := []struct {
		header string
		keep   bool
	}{
		{"abc-123", true},
		{"bad id with spaces", false},
		{strings.Repeat("x", 65), false},
	}
	for _, tt := range tests {
		var seen string
		h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen = GetRequestID(r.Context())
		}))
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderRequestID, tt.header)
		h.ServeHTTP(httptest.NewRecorder(), req)

		if (seen == tt.header) != tt.keep {
			t.Errorf("header %q: got id %q, keep=%v", tt.header, seen, tt.keep)
		}
	}
}

func TestMiddlewareCountsServerErrors(t *testing.T) {
	var buf bytes.Buffer
	m := newTestMiddleware(&buf)
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if got := m.GetMetrics().ServerErrors; got != 1 {
		t.Errorf("ServerErrors = %d, want 1", got)
	}
	if !strings.Contains(buf.String(), "level=ERROR") {
		t.Errorf("expected error level completion log: %s", buf.String())
	}
}

func TestMiddlewareQuietHealthChecks(t *testing.T) {
	var buf bytes.Buffer
	m := newTestMiddleware(&buf)
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if buf.Len() != 0 {
		t.Errorf("health check logged at info level: %s", buf.String())
	}
	if got := m.GetMetrics().TotalRequests; got != 1 {
		t.Errorf("TotalRequests = %d, want 1", got)
	}
}
