package store

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemoryTokenRevokerUserCutoffMonotonic(t *testing.T) {
	testUserCutoffMonotonic(t, NewMemoryTokenRevoker())
}

func TestRedisTokenRevokerUserCutoffMonotonic(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	testUserCutoffMonotonic(t, NewRedisTokenRevoker(client, time.Hour))
}

func TestRedisTokenRevokerExpiresWithToken(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	r := NewRedisTokenRevoker(client, time.Hour)

	if err := r.Revoke("jti-1", time.Minute); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if revoked, err := r.IsRevoked("jti-1"); err != nil || !revoked {
		t.Fatalf("expected revoked, got %v err=%v", revoked, err)
	}
	mr.FastForward(2 * time.Minute)
	if revoked, err := r.IsRevoked("jti-1"); err != nil || revoked {
		t.Fatalf("expected revocation to expire, got %v err=%v", revoked, err)
	}
	if err := r.Revoke("jti-2", 0); err != nil {
		t.Fatalf("revoke expired token: %v", err)
	}
	if revoked, _ := r.IsRevoked("jti-2"); revoked {
		t.Fatalf("already expired token should not be stored")
	}
}

func testUserCutoffMonotonic(t *testing.T, r UserTokenRevoker) {
	t.Helper()
	first := time.Now().UTC().Add(-time.Minute).Truncate(time.Millisecond)
	second := time.Now().UTC().Truncate(time.Millisecond)

	if got, err := r.RevokedAfter("1"); err != nil || !got.IsZero() {
		t.Fatalf("expected no cutoff, got %v err=%v", got, err)
	}
	if err := r.RevokeUser("1", first); err != nil {
		t.Fatalf("revoke user first: %v", err)
	}
	if err := r.RevokeUser("1", first.Add(-time.Minute)); err != nil {
		t.Fatalf("revoke user older cutoff: %v", err)
	}
	got, err := r.RevokedAfter("1")
	if err != nil {
		t.Fatalf("revoked after first: %v", err)
	}
	if !got.Equal(first) {
		t.Fatalf("expected first cutoff to be kept, got %v", got)
	}

	if err := r.RevokeUser("1", second); err != nil {
		t.Fatalf("revoke user second: %v", err)
	}
	got, err = r.RevokedAfter("1")
	if err != nil {
		t.Fatalf("revoked after second: %v", err)
	}
	if !got.Equal(second) {
		t.Fatalf("expected newest cutoff, got %v", got)
	}
}
