package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mintify/internal/config"
	"mintify/internal/identity"
	"mintify/internal/log"
)

type fakeVerifier struct {
	principal identity.Principal
	err       error
}

func (f *fakeVerifier) Verify(ctx context.Context, token string) (identity.Principal, error) {
	return f.principal, f.err
}

// echoUpstream records the identity and authorization headers it receives.
func echoUpstream(t *testing.T) (*httptest.Server, *http.Header) {
	t.Helper()
	var seen http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func testGateway(t *testing.T, cfg *config.Config, verifier TokenVerifier) *Gateway {
	t.Helper()
	logger := log.New(log.Config{Level: slog.LevelError, Component: "gateway"})
	g, err := New(cfg, verifier, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(g.Close)
	return g
}

func baseConfig(financeURL string) *config.Config {
	return &config.Config{
		AuthRequired:       true,
		DevUserID:          "demo-user",
		FinanceServiceURL:  financeURL,
		NotifServiceURL:    financeURL,
		DebounceInterval:   300 * time.Millisecond,
		NotificationsLimit: 100,
	}
}

func TestGatewayInjectsIdentityHeader(t *testing.T) {
	upstream, seen := echoUpstream(t)
	cfg := baseConfig(upstream.URL)
	g := testGateway(t, cfg, &fakeVerifier{principal: identity.Principal{ID: "u1"}})

	req := httptest.NewRequest(http.MethodGet, "/api/transactions", nil)
	req.Header.Set("Authorization", "Bearer whatever")
	// A client-supplied identity header must never survive the proxy.
	req.Header.Set(identity.Header, "attacker")
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := seen.Get(identity.Header); got != "u1" {
		t.Errorf("upstream %s = %q, want u1", identity.Header, got)
	}
	if got := seen.Get("Authorization"); got != "" {
		t.Errorf("raw token leaked upstream: %q", got)
	}
}

func TestGatewayRejectsWithoutToken(t *testing.T) {
	upstream, _ := echoUpstream(t)
	g := testGateway(t, baseConfig(upstream.URL), &fakeVerifier{})

	req := httptest.NewRequest(http.MethodGet, "/api/transactions", nil)
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "Authentication required." {
		t.Errorf("error = %q, want authentication-required message", body["error"])
	}
}

func TestGatewayRejectsInvalidToken(t *testing.T) {
	upstream, _ := echoUpstream(t)
	g := testGateway(t, baseConfig(upstream.URL), &fakeVerifier{err: ErrInvalidToken})

	req := httptest.NewRequest(http.MethodGet, "/api/transactions", nil)
	req.Header.Set("Authorization", "Bearer expired")
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	// Invalid must be distinguishable from missing.
	if body["error"] != "Invalid or expired token." {
		t.Errorf("error = %q, want invalid-token message", body["error"])
	}
}

func TestGatewayDevIdentity(t *testing.T) {
	upstream, seen := echoUpstream(t)
	cfg := baseConfig(upstream.URL)
	cfg.AllowDevUser = true
	g := testGateway(t, cfg, nil)

	t.Run("fixed fallback", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/transactions", nil)
		rec := httptest.NewRecorder()
		g.Handler().ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if got := seen.Get(identity.Header); got != "demo-user" {
			t.Errorf("upstream identity = %q, want demo-user", got)
		}
	})

	t.Run("header-supplied identity", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/transactions", nil)
		req.Header.Set(identity.Header, "u42")
		rec := httptest.NewRecorder()
		g.Handler().ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if got := seen.Get(identity.Header); got != "u42" {
			t.Errorf("upstream identity = %q, want u42", got)
		}
	})
}

func TestGatewayHealthBypassesAuth(t *testing.T) {
	upstream, _ := echoUpstream(t)
	g := testGateway(t, baseConfig(upstream.URL), &fakeVerifier{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestGatewayAuthDisabledPassesAnonymously(t *testing.T) {
	upstream, seen := echoUpstream(t)
	cfg := baseConfig(upstream.URL)
	cfg.AuthRequired = false
	g := testGateway(t, cfg, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/transactions", nil)
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	// Anonymous requests carry no identity header; the internal service
	// decides whether to reject them.
	if got := seen.Get(identity.Header); got != "" {
		t.Errorf("upstream identity = %q, want empty", got)
	}
}
