package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRateLimiterTakeRefillsOverTime(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		ok, _ := rl.Take("10.0.0.1", now)
		if !ok {
			t.Fatalf("expected take %d within burst to pass", i+1)
		}
	}

	ok, wait := rl.Take("10.0.0.1", now)
	if ok {
		t.Fatalf("expected take beyond burst to be denied")
	}
	if wait <= 0 || wait > time.Second {
		t.Fatalf("expected wait within one refill period, got %v", wait)
	}

	ok, _ = rl.Take("10.0.0.1", now.Add(time.Second))
	if !ok {
		t.Fatalf("expected take after refill to pass")
	}
}

func TestRateLimiterIsolatesClients(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	if ok, _ := rl.Take("10.0.0.1", now); !ok {
		t.Fatalf("expected first client to pass")
	}
	if ok, _ := rl.Take("10.0.0.1", now); ok {
		t.Fatalf("expected first client to be denied")
	}
	if ok, _ := rl.Take("10.0.0.2", now); !ok {
		t.Fatalf("expected second client to pass with its own bucket")
	}
}

func TestRateLimitAnswersJSONWithRetryAfter(t *testing.T) {
	called := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called++
		w.WriteHeader(http.StatusOK)
	})

	mw := RateLimit(1, 1)
	wrapped := mw(handler)

	req := httptest.NewRequest(http.MethodPost, "/confirm", nil)
	req.Header.Set("X-Real-Ip", "10.0.0.1")
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected first request to pass, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status %d, got %d", http.StatusTooManyRequests, rec.Code)
	}
	if called != 1 {
		t.Fatalf("expected handler called once, got %d", called)
	}
	if got := rec.Header().Get("Retry-After"); got == "" {
		t.Fatalf("expected Retry-After header")
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("expected JSON content type, got %q", got)
	}
	if !strings.Contains(rec.Body.String(), `"error"`) {
		t.Fatalf("expected JSON error body, got %s", rec.Body.String())
	}
}
