package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"collab-jobs/core/audit"

	"github.com/sirupsen/logrus"
)

func TestMemoryLimiterSlidingWindow(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewMemoryLimiter(2, time.Minute)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if ok, _ := l.Allow(ctx, "k"); !ok {
			t.Fatalf("request %d rejected", i)
		}
	}
	if ok, _ := l.Allow(ctx, "k"); ok {
		t.Fatal("third request in window admitted")
	}
	if ok, _ := l.Allow(ctx, "other"); !ok {
		t.Fatal("keys must be independent")
	}

	now = now.Add(61 * time.Second)
	if ok, _ := l.Allow(ctx, "k"); !ok {
		t.Fatal("request after window rejected")
	}
}

func TestMemoryLimiterEvictsExpiredKeys(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewMemoryLimiter(5, time.Minute)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 10000; i++ {
		l.Allow(ctx, fmt.Sprintf("10.0.%d.%d", i/256, i%256))
	}
	if l.Len() != 10000 {
		t.Fatalf("tracked keys = %d", l.Len())
	}

	now = now.Add(time.Hour)
	if ok, _ := l.Allow(ctx, "fresh"); !ok {
		t.Fatal("fresh key rejected")
	}
	if l.Len() != 1 {
		t.Fatalf("keys retained after window expiry: %d", l.Len())
	}
}

func TestAuthenticateRequiresOrg(t *testing.T) {
	var got Principal
	var actor audit.Actor
	h := Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = PrincipalFrom(r.Context())
		actor = audit.ActorFromContext(r.Context(), "")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized || !strings.Contains(rec.Body.String(), "UNAUTHORIZED") {
		t.Fatalf("code = %d body = %s", rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderOrgID, "A")
	req.Header.Set(HeaderAPIKeyID, "key-1")
	req.Header.Set(HeaderAPIKeyScopes, "jobs:read, jobs:write")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if got.OrgID != "A" || len(got.Scopes) != 2 || got.Scopes[1] != "jobs:write" {
		t.Fatalf("principal = %+v", got)
	}
	if actor.Kind != "api_key" || actor.KeyID != "key-1" {
		t.Fatalf("actor = %+v", actor)
	}
}

func TestRequireSecret(t *testing.T) {
	h := RequireSecret("s3cret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(HeaderWebhookSecret, "wrong")
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("code = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req.Header.Set(HeaderWebhookSecret, "s3cret")
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("code = %d", rec.Code)
	}
}

type failingLimiter struct{}

func (failingLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return false, context.DeadlineExceeded
}

func TestRateLimit(t *testing.T) {
	logger := logrus.New()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	h := RateLimit(NewMemoryLimiter(1, time.Minute), "webhook", logger)(next)
	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set("X-Forwarded-For", "10.0.0.1, 10.0.0.2")
		h.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Fatalf("request %d: code = %d, want %d", i, rec.Code, want)
		}
	}

	rec := httptest.NewRecorder()
	RateLimit(failingLimiter{}, "webhook", logger)(next).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("limiter failure should admit, got %d", rec.Code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:5555"
	if ip := ClientIP(req); ip != "192.0.2.7" {
		t.Fatalf("ip = %s", ip)
	}
}
