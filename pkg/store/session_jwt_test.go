package store

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

func TestJWTSessionStoreRoundTrip(t *testing.T) {
	s := newSessionStore(t, SessionConfig{}, nil)

	token, err := s.NewSession("42")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	userID, ok, err := s.GetUserIDByToken(token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if !ok || userID != "42" {
		t.Fatalf("unexpected verify result: ok=%v userID=%q", ok, userID)
	}
}

func TestJWTSessionStoreEnforcesAudience(t *testing.T) {
	privatePath, publicPath := writeRSAKeyPairFiles(t, "aud")
	signing := newSessionStore(t, SessionConfig{
		PrivateKeyFile: privatePath,
		PublicKeyFile:  publicPath,
		Audience:       "aud-a",
	}, nil)
	verify := newSessionStore(t, SessionConfig{
		PrivateKeyFile: privatePath,
		PublicKeyFile:  publicPath,
		Audience:       "aud-b",
	}, nil)

	token, err := signing.NewSession("7")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, _, err := verify.GetUserIDByToken(token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected audience mismatch to fail, got %v", err)
	}
}

func TestJWTSessionStoreRevokesByJTI(t *testing.T) {
	revoker := NewMemoryTokenRevoker()
	s := newSessionStore(t, SessionConfig{}, revoker)

	token, err := s.NewSession("9")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := s.DeleteSession(token); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, ok, err := s.GetUserIDByToken(token); !errors.Is(err, ErrTokenRevoked) || ok {
		t.Fatalf("expected revoked token to fail, ok=%v err=%v", ok, err)
	}
}

func TestJWTSessionStoreRevokesByUserCutoff(t *testing.T) {
	revoker := NewMemoryTokenRevoker()
	s := newSessionStore(t, SessionConfig{}, revoker)

	token, err := s.NewSession("11")
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := s.RevokeUserSessions("11", time.Now().UTC().Add(time.Second)); err != nil {
		t.Fatalf("revoke user: %v", err)
	}
	if _, ok, err := s.GetUserIDByToken(token); !errors.Is(err, ErrTokenRevoked) || ok {
		t.Fatalf("expected user-revoked token to fail, ok=%v err=%v", ok, err)
	}
}

func TestJWTSessionStoreJWKS(t *testing.T) {
	privatePath, publicPath := writeRSAKeyPairFiles(t, "active")
	s := newSessionStore(t, SessionConfig{
		PrivateKeyFile: privatePath,
		PublicKeyFile:  publicPath,
		KeyID:          "kid-active",
	}, nil)

	keys := s.JWKS()
	if len(keys) != 1 {
		t.Fatalf("expected 1 jwk, got %d", len(keys))
	}
	if keys[0].Kid != "kid-active" {
		t.Fatalf("unexpected kid: %q", keys[0].Kid)
	}
	if keys[0].Kty != "RSA" || keys[0].Use != "sig" || keys[0].Alg != "RS256" {
		t.Fatalf("unexpected jwk fields: %+v", keys[0])
	}
	if keys[0].N == "" || keys[0].E == "" {
		t.Fatalf("expected RSA modulus/exponent in jwks")
	}
}

func TestJWTSessionStoreVerifiesPreviousKeyDuringRotation(t *testing.T) {
	oldPrivatePath, oldPublicPath := writeRSAKeyPairFiles(t, "old")
	newPrivatePath, newPublicPath := writeRSAKeyPairFiles(t, "new")

	oldStore := newSessionStore(t, SessionConfig{
		PrivateKeyFile: oldPrivatePath,
		PublicKeyFile:  oldPublicPath,
		KeyID:          "kid-old",
	}, nil)
	oldToken, err := oldStore.NewSession("2")
	if err != nil {
		t.Fatalf("old token: %v", err)
	}

	rotated := newSessionStore(t, SessionConfig{
		PrivateKeyFile: newPrivatePath,
		PublicKeyFile:  newPublicPath,
		KeyID:          "kid-new",
		VerifyKeyFiles: map[string]string{"kid-old": oldPublicPath},
	}, nil)
	userID, ok, err := rotated.GetUserIDByToken(oldToken)
	if err != nil || !ok || userID != "2" {
		t.Fatalf("unexpected verify result: ok=%v userID=%q err=%v", ok, userID, err)
	}
	if keys := rotated.JWKS(); len(keys) != 2 {
		t.Fatalf("expected 2 jwks entries, got %d", len(keys))
	}

	withoutOld := newSessionStore(t, SessionConfig{
		PrivateKeyFile: newPrivatePath,
		PublicKeyFile:  newPublicPath,
		KeyID:          "kid-new",
	}, nil)
	if _, _, err := withoutOld.GetUserIDByToken(oldToken); err == nil {
		t.Fatalf("expected error for unknown kid")
	}
}

func TestJWTSessionStoreRejectsMalformedClaims(t *testing.T) {
	privatePath, publicPath := writeRSAKeyPairFiles(t, "claims")
	s := newSessionStore(t, SessionConfig{
		PrivateKeyFile: privatePath,
		PublicKeyFile:  publicPath,
		KeyID:          "kid-claims",
	}, nil)
	privateKey, err := loadRSAPrivateKeyFromPEMFile(privatePath)
	if err != nil {
		t.Fatalf("load private key: %v", err)
	}

	now := time.Now().UTC()
	base := func() jwt.RegisteredClaims {
		return jwt.RegisteredClaims{
			Subject:   "5",
			Issuer:    defaultJWTIssuer,
			Audience:  jwt.ClaimStrings{defaultJWTAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
			ID:        "jti-1",
		}
	}
	cases := []struct {
		name   string
		claims func() jwt.RegisteredClaims
		kid    string
	}{
		{"future iat", func() jwt.RegisteredClaims {
			c := base()
			c.IssuedAt = jwt.NewNumericDate(now.Add(2 * time.Minute))
			return c
		}, "kid-claims"},
		{"missing jti", func() jwt.RegisteredClaims {
			c := base()
			c.ID = ""
			return c
		}, "kid-claims"},
		{"missing subject", func() jwt.RegisteredClaims {
			c := base()
			c.Subject = ""
			return c
		}, "kid-claims"},
		{"expired", func() jwt.RegisteredClaims {
			c := base()
			c.ExpiresAt = jwt.NewNumericDate(now.Add(-5 * time.Minute))
			return c
		}, "kid-claims"},
		{"missing kid", base, ""},
	}
	for _, tc := range cases {
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, tc.claims())
		if tc.kid != "" {
			token.Header["kid"] = tc.kid
		}
		signed, err := token.SignedString(privateKey)
		if err != nil {
			t.Fatalf("%s: sign token: %v", tc.name, err)
		}
		if _, ok, err := s.GetUserIDByToken(signed); err == nil || ok {
			t.Fatalf("%s: expected token to be rejected", tc.name)
		}
	}
}

func writeRSAKeyPairFiles(t *testing.T, prefix string) (string, string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}

	dir := t.TempDir()
	privatePath := filepath.Join(dir, prefix+"-private.pem")
	publicPath := filepath.Join(dir, prefix+"-public.pem")

	privatePEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(privatePath, privatePEM, 0o600); err != nil {
		t.Fatalf("write private key: %v", err)
	}
	publicDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicDER})
	if err := os.WriteFile(publicPath, publicPEM, 0o644); err != nil {
		t.Fatalf("write public key: %v", err)
	}
	return privatePath, publicPath
}

func newSessionStore(t *testing.T, cfg SessionConfig, revoker TokenRevoker) *JWTSessionStore {
	t.Helper()
	if cfg.TTL == 0 {
		cfg.TTL = time.Minute
	}
	s, err := NewJWTSessionStore(cfg, revoker)
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	return s
}
