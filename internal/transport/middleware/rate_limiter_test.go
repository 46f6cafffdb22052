// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestInMemoryRateLimiterRefills(t *testing.T) {
	l := newInMemoryRateLimiter()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		if d := l.Allow("a", 2, now); !d.Allowed {
			t.Fatalf("request %d: expected allowed", i)
		}
	}

	d := l.Allow("a", 2, now)
	if d.Allowed {
		t.Fatal("expected third request to be limited")
	}
	if d.RetryAfterSeconds != 30 {
		t.Fatalf("expected retry after 30s, got %d", d.RetryAfterSeconds)
	}

	if d := l.Allow("b", 2, now); !d.Allowed {
		t.Fatal("expected other client to have its own bucket")
	}

	if d := l.Allow("a", 2, now.Add(30*time.Second)); !d.Allowed {
		t.Fatal("expected a token after refill")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	handler := rateLimitWithLimiter(1, newInMemoryRateLimiter(), func() time.Time { return now }, logger)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	)

	send := func(remote, auth string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/runs/x/pause", nil)
		req.RemoteAddr = remote
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	rec1 := send("10.0.0.1:5000", "")
	if rec1.Code != http.StatusOK {
		t.Fatalf("expected first request allowed, got %d", rec1.Code)
	}
	if got := rec1.Header().Get(headerRateLimitLimit); got != "1" {
		t.Fatalf("expected %s header %q got %q", headerRateLimitLimit, "1", got)
	}
	if got := rec1.Header().Get(headerRateLimitRemaining); got != "0" {
		t.Fatalf("expected %s header %q got %q", headerRateLimitRemaining, "0", got)
	}

	rec2 := send("10.0.0.1:5001", "")
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request from same host limited, got %d", rec2.Code)
	}
	if got := rec2.Header().Get(headerRetryAfter); got != "60" {
		t.Fatalf("expected %s header %q got %q", headerRetryAfter, "60", got)
	}

	if rec := send("10.0.0.1:5002", "Bearer token-a"); rec.Code != http.StatusOK {
		t.Fatalf("expected token client to be keyed separately, got %d", rec.Code)
	}
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.10:1234"
	if got := ClientKey(req); got != "addr:192.168.1.10" {
		t.Fatalf("unexpected key %q", got)
	}
	req.Header.Set("Authorization", "Bearer abc")
	if got := ClientKey(req); got != "token:abc" {
		t.Fatalf("unexpected key %q", got)
	}
}
