package gateway

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// jwksServer serves a minimal JWKS document for the given RSA key.
func jwksServer(t *testing.T, pub *rsa.PublicKey, kid string) *httptest.Server {
	t.Helper()

	doc := map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA",
			"kid": kid,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(doc)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestJWKSVerifier(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	const kid = "test-key-1"
	srv := jwksServer(t, &key.PublicKey, kid)

	verifier, err := NewJWKSVerifier(context.Background(), srv.URL, "https://idp.example/realms/mintify", "mintify-app")
	if err != nil {
		t.Fatalf("NewJWKSVerifier: %v", err)
	}

	baseClaims := func() jwt.MapClaims {
		return jwt.MapClaims{
			"sub": "u1",
			"iss": "https://idp.example/realms/mintify",
			"aud": "mintify-app",
			"exp": time.Now().Add(time.Hour).Unix(),
			"iat": time.Now().Unix(),
		}
	}

	t.Run("valid token resolves subject", func(t *testing.T) {
		p, err := verifier.Verify(context.Background(), signToken(t, key, kid, baseClaims()))
		if err != nil {
			t.Fatalf("Verify: %v", err)
		}
		if p.ID != "u1" {
			t.Errorf("principal id = %q, want u1", p.ID)
		}
	})

	t.Run("expired token rejected", func(t *testing.T) {
		claims := baseClaims()
		claims["exp"] = time.Now().Add(-time.Hour).Unix()
		_, err := verifier.Verify(context.Background(), signToken(t, key, kid, claims))
		if !errors.Is(err, ErrInvalidToken) {
			t.Errorf("err = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("issuer mismatch rejected", func(t *testing.T) {
		claims := baseClaims()
		claims["iss"] = "https://evil.example"
		_, err := verifier.Verify(context.Background(), signToken(t, key, kid, claims))
		if !errors.Is(err, ErrInvalidToken) {
			t.Errorf("err = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("audience mismatch rejected", func(t *testing.T) {
		claims := baseClaims()
		claims["aud"] = "other-app"
		_, err := verifier.Verify(context.Background(), signToken(t, key, kid, claims))
		if !errors.Is(err, ErrInvalidToken) {
			t.Errorf("err = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("wrong signing key rejected", func(t *testing.T) {
		_, err := verifier.Verify(context.Background(), signToken(t, otherKey, kid, baseClaims()))
		if !errors.Is(err, ErrInvalidToken) {
			t.Errorf("err = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("garbage token rejected", func(t *testing.T) {
		_, err := verifier.Verify(context.Background(), "not.a.token")
		if !errors.Is(err, ErrInvalidToken) {
			t.Errorf("err = %v, want ErrInvalidToken", err)
		}
	})
}

func TestNewJWKSVerifierUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := NewJWKSVerifier(ctx, "http://127.0.0.1:1/certs", "", ""); err == nil {
		t.Error("NewJWKSVerifier should fail when the key-set endpoint is unreachable")
	}
}
