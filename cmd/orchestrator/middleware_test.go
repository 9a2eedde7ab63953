package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/MerOne-1/cv-reformatter-sub001/api/handlers"
	"github.com/MerOne-1/cv-reformatter-sub001/internal/ctxkeys"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders()(okHandler())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "default-src 'self'", w.Header().Get("Content-Security-Policy"))
}

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := Chain(okHandler(), mark("outer"), mark("middle"), mark("inner"))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"outer", "middle", "inner"}, order)
}

func TestRequestID(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ctxkeys.RequestID(r.Context())
	})
	handler := RequestID()(inner)

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{name: "generated", header: ""},
		{name: "client supplied", header: "abc-123", want: "abc-123"},
		{name: "oversized replaced", header: strings.Repeat("x", 200)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("X-Request-ID", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)

			got := w.Header().Get("X-Request-ID")
			assert.Equal(t, got, seen)
			if tt.want != "" {
				assert.Equal(t, tt.want, got)
			} else {
				assert.True(t, strings.HasPrefix(got, "req-"), got)
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	panicky := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	handler := Chain(panicky, RequestID(), Recovery(zap.New(core)))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var resp handlers.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "internal server error", resp.Error.Message)
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	handler := Chain(inner, RequestID(), RequestLogger(zap.New(core)))

	r := httptest.NewRequest(http.MethodDelete, "/api/v1/runs/abc", nil)
	r.Header.Set("X-Request-ID", "req-fixed")
	handler.ServeHTTP(httptest.NewRecorder(), r)

	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "DELETE", fields["method"])
	assert.Equal(t, "/api/v1/runs/abc", fields["path"])
	assert.Equal(t, int64(http.StatusTeapot), fields["status"])
	assert.Equal(t, "req-fixed", fields["request_id"])
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name       string
		allowed    []string
		method     string
		origin     string
		wantCode   int
		wantOrigin string
	}{
		{name: "wildcard echoes origin", allowed: []string{"*"}, method: http.MethodGet, origin: "https://ui.example.com", wantCode: http.StatusOK, wantOrigin: "https://ui.example.com"},
		{name: "listed origin", allowed: []string{"https://ui.example.com"}, method: http.MethodGet, origin: "https://ui.example.com", wantCode: http.StatusOK, wantOrigin: "https://ui.example.com"},
		{name: "unlisted origin passes without headers", allowed: []string{"https://ui.example.com"}, method: http.MethodGet, origin: "https://evil.example.com", wantCode: http.StatusOK},
		{name: "preflight allowed", allowed: []string{"*"}, method: http.MethodOptions, origin: "https://ui.example.com", wantCode: http.StatusNoContent, wantOrigin: "https://ui.example.com"},
		{name: "preflight rejected", allowed: nil, method: http.MethodOptions, origin: "https://ui.example.com", wantCode: http.StatusForbidden},
		{name: "same origin", allowed: nil, method: http.MethodGet, wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := CORS(tt.allowed)(okHandler())
			r := httptest.NewRequest(tt.method, "/api/v1/runs", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := RateLimiter(ctx, 0.001, 1, zap.NewNop())(okHandler())

	send := func(remote string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil)
		r.RemoteAddr = remote
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1:1234").Code)
	limited := send("10.0.0.1:5678")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "1", limited.Header().Get("Retry-After"))
	assert.Contains(t, limited.Body.String(), "RATE_LIMITED")

	assert.Equal(t, http.StatusOK, send("10.0.0.2:1234").Code, "limits are per client IP")
}

func TestRateLimiter_Disabled(t *testing.T) {
	handler := RateLimiter(context.Background(), 0, 0, zap.NewNop())(okHandler())
	for i := 0; i < 20; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
}

func TestMetricsMiddleware_NilCollector(t *testing.T) {
	handler := MetricsMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	w := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/runs", nil))
	})
	assert.Equal(t, "ok", w.Body.String())
}

func TestOTelTracing_PassesThrough(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	handler := OTelTracing()(inner)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/runs", nil))
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/health", "/health"},
		{"/api/v1/runs", "/api/v1/runs"},
		{"/api/v1/cleanup", "/api/v1/cleanup"},
		{"/api/v1/runs/8d6f0c3e-1b2a-4c9e-9f10-3b1d2f4a5c6e", "/api/v1/runs/:id"},
		{"/api/v1/runs/8d6f0c3e-1b2a-4c9e-9f10-3b1d2f4a5c6e/status", "/api/v1/runs/:id/status"},
		{"/api/v1/runs/12345/stream", "/api/v1/runs/:id/stream"},
		{"/api/v1/agents/deadbeefcafe", "/api/v1/agents/:id"},
		{"/api/v1/agents/extractor", "/api/v1/agents/extractor"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizePath(tt.path))
		})
	}
}
