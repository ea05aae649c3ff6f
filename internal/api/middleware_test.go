package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"github.com/keepon/remindd/internal/redis"
)

func TestIPKeyFunc(t *testing.T) {
	tests := []struct {
		name       string
		forwarded  string
		realIP     string
		remoteAddr string
		expected   string
	}{
		{"X-Forwarded-For", "1.2.3.4", "", "5.6.7.8:1234", "ip:1.2.3.4"},
		{"X-Forwarded-For chain", "1.2.3.4, 10.0.0.1", "", "5.6.7.8:1234", "ip:1.2.3.4"},
		{"X-Real-IP", "", "1.2.3.4", "5.6.7.8:1234", "ip:1.2.3.4"},
		{"RemoteAddr fallback", "", "", "5.6.7.8:1234", "ip:5.6.7.8"},
		{"RemoteAddr without port", "", "", "5.6.7.8", "ip:5.6.7.8"},
		{"Forwarded takes precedence", "1.1.1.1", "2.2.2.2", "3.3.3.3:1234", "ip:1.1.1.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			req.RemoteAddr = tt.remoteAddr

			result := IPKeyFunc(req)
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitMiddleware_NoLimiter(t *testing.T) {
	wrapped := RateLimitMiddleware(nil, nil, IPKeyFunc)(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	rec := httptest.NewRecorder()

	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (*redis.RateLimitResult, error) {
	return nil, errors.New("redis down")
}

func (brokenLimiter) Limit() int { return 1 }

func TestRateLimitMiddleware_FailsOpen(t *testing.T) {
	wrapped := RateLimitMiddleware(brokenLimiter{}, zap.NewNop(), IPKeyFunc)(okHandler())

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest("GET", "/test", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 when the limiter errors, got %d", rec.Code)
	}
}

func TestRateLimitMiddleware_EmptyKeySkips(t *testing.T) {
	wrapped := RateLimitMiddleware(brokenLimiter{}, zap.NewNop(), func(*http.Request) string { return "" })(okHandler())

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest("GET", "/test", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func newMiniredisLimiter(t *testing.T, limit int) *redis.RateLimiter {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client, err := redis.New(context.Background(), redis.Config{Addr: mr.Addr()}, zap.NewNop())
	if err != nil {
		t.Fatalf("redis.New: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	return redis.NewRateLimiter(client, zap.NewNop(), redis.RateLimitConfig{Limit: limit, Window: time.Minute})
}

func TestRateLimitMiddleware_RejectsOverLimit(t *testing.T) {
	limiter := newMiniredisLimiter(t, 2)
	wrapped := RateLimitMiddleware(limiter, zap.NewNop(), IPKeyFunc)(okHandler())

	send := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/v1/runs", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		wrapped.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		rec := send("10.0.0.1:5000")
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "2" {
			t.Errorf("X-RateLimit-Limit = %q, want 2", got)
		}
		if got := rec.Header().Get("X-RateLimit-Remaining"); got != strconv.Itoa(1-i) {
			t.Errorf("request %d: X-RateLimit-Remaining = %q", i+1, got)
		}
	}

	rec := send("10.0.0.1:5001")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("Content-Type = %q", ct)
	}

	if rec := send("10.0.0.2:5000"); rec.Code != http.StatusOK {
		t.Errorf("other client should have its own budget, got %d", rec.Code)
	}
}

func TestNewRouter_RateLimitsOnlyV1(t *testing.T) {
	limiter := newMiniredisLimiter(t, 1)
	h := NewHandler(zap.NewNop(), &fakeRunner{}, &fakeSchedule{anchor: testAnchor}, Options{})
	srv := NewRouter(h, limiter, zap.NewNop())

	for i := 0; i < 3; i++ {
		if rec := do(t, srv, http.MethodGet, "/health", nil); rec.Code != http.StatusOK {
			t.Fatalf("/health request %d: got %d", i+1, rec.Code)
		}
	}

	if rec := do(t, srv, http.MethodGet, "/v1/schedule", nil); rec.Code != http.StatusOK {
		t.Fatalf("first /v1 request: got %d", rec.Code)
	}
	if rec := do(t, srv, http.MethodGet, "/v1/schedule", nil); rec.Code != http.StatusTooManyRequests {
		t.Errorf("second /v1 request: got %d, want 429", rec.Code)
	}
}
