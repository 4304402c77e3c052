package server

import (
	"net/http"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"momflow/services/mom/internal/security"
)

func TestLoginRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ts := newTestServer(t, func(cfg *Config) {
		cfg.Redis = client
		cfg.Alerter = security.NewAuditAlerter(client, "")
		cfg.LoginRateLimitPerMinute = 1
	})
	ts.signup(t, "admin@example.com")

	body := map[string]string{"email": "admin@example.com", "password": testPassword}
	ts.expectStatus(t, http.MethodPost, "/auth/login", "", body, http.StatusOK).Body.Close()
	resp := ts.expectStatus(t, http.MethodPost, "/auth/login", "", body, http.StatusTooManyRequests)
	resp.Body.Close()
	if resp.Header.Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After header, got %q", resp.Header.Get("Retry-After"))
	}

	keys := mr.Keys()
	var limiterKeys, alertKeys int
	for _, k := range keys {
		switch {
		case strings.HasPrefix(k, "momflow:ratelimit:login:"):
			limiterKeys++
		case strings.HasPrefix(k, "momflow:alerts:"):
			alertKeys++
		}
	}
	if limiterKeys == 0 {
		t.Fatalf("expected redis-backed login limiter keys, got %v", keys)
	}
	if alertKeys == 0 {
		t.Fatalf("expected the rate-limited login to be counted by the alerter, got %v", keys)
	}
}

func TestSignupRateLimitInMemory(t *testing.T) {
	ts := newTestServer(t, func(cfg *Config) { cfg.SignupRateLimitPerMinute = 1 })
	ts.signup(t, "admin@example.com")
	ts.expectStatus(t, http.MethodPost, "/auth/signup", "", map[string]string{
		"email":    "second@example.com",
		"password": testPassword,
	}, http.StatusTooManyRequests).Body.Close()
}
