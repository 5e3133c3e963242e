// Package gateway implements the trust gateway: it terminates bearer-token
// verification, resolves one canonical identity per request and proxies to
// the internal services with that identity carried in a single trusted
// header. Past this point nothing re-verifies tokens.
package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"mintify/internal/config"
	"mintify/internal/identity"
	"mintify/internal/log"
	"mintify/internal/metrics"
)

// Gateway authenticates and proxies requests. It keeps no per-request state
// beyond metrics counters.
type Gateway struct {
	cfg      *config.Config
	verifier TokenVerifier
	logger   *log.Logger
	limiter  *limiter
	router   chi.Router
}

// New builds the gateway router. verifier may be nil when no JWKS endpoint
// is configured; authentication then depends entirely on the dev-identity
// and auth-required flags.
func New(cfg *config.Config, verifier TokenVerifier, logger *log.Logger) (*Gateway, error) {
	g := &Gateway{
		cfg:      cfg,
		verifier: verifier,
		logger:   logger,
		limiter:  newLimiter(60),
	}

	financeURL, err := url.Parse(cfg.FinanceServiceURL)
	if err != nil {
		return nil, err
	}
	notifURL, err := url.Parse(cfg.NotifServiceURL)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(metrics.Middleware("gateway"))
	r.Use(g.trace)

	r.Get("/health", g.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// Everything else is authenticated and proxied.
	r.Group(func(r chi.Router) {
		r.Use(g.authenticate)
		r.Use(g.rateLimit)

		finance := g.newProxy(financeURL)
		notif := g.newProxy(notifURL)

		r.Handle("/api/transactions", finance)
		r.Handle("/api/transactions/*", finance)
		r.Handle("/api/summary", finance)
		r.Handle("/api/budgets", finance)
		r.Handle("/api/budgets/*", finance)

		r.Handle("/api/notifications", notif)
		r.Handle("/api/notifications/*", notif)
		r.Handle("/notify", notif)
		r.Handle("/ws", notif)
	})

	g.router = r
	return g, nil
}

// Handler returns the root HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.router
}

// Close stops background goroutines.
func (g *Gateway) Close() {
	g.limiter.stop()
}

// newProxy builds a reverse proxy that forwards the original path and
// replaces all identity material with the single trusted header. WebSocket
// upgrades pass through unchanged.
func (g *Gateway) newProxy(target *url.URL) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.Host = target.Host

			// Never leak the raw token past the trust boundary, and never
			// let a client smuggle its own identity header through.
			pr.Out.Header.Del("Authorization")
			pr.Out.Header.Del(identity.Header)
			if userID := identity.UserID(pr.In.Context()); userID != "" {
				pr.Out.Header.Set(identity.Header, userID)
			}
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			g.logger.ErrorContext(r.Context(), "Upstream proxy error",
				"error", err, "path", r.URL.Path, "upstream", target.String())
			writeJSONError(w, http.StatusBadGateway, "Gateway error.")
		},
	}
}

// authenticate resolves the request identity: verified bearer token, else
// dev identity when enabled, else reject unless authentication is
// explicitly disabled.
func (g *Gateway) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		token, hasBearer := strings.CutPrefix(authHeader, "Bearer ")

		if hasBearer && g.verifier != nil {
			principal, err := g.verifier.Verify(r.Context(), strings.TrimSpace(token))
			if err != nil {
				g.logger.WarnContext(r.Context(), "Token verification failed",
					"error", err, "path", r.URL.Path)
				if g.cfg.AuthRequired {
					writeJSONError(w, http.StatusUnauthorized, "Invalid or expired token.")
					return
				}
				// Auth disabled: pass through anonymously; internal
				// services will still reject identity-less requests.
				next.ServeHTTP(w, r)
				return
			}
			ctx := identity.WithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		if g.cfg.AllowDevUser {
			userID := r.Header.Get(identity.Header)
			if userID == "" {
				userID = g.cfg.DevUserID
			}
			g.logger.InfoContext(r.Context(), "Using development identity", "user_id", userID)
			ctx := identity.WithPrincipal(r.Context(), identity.Principal{ID: userID})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		if !g.cfg.AuthRequired {
			next.ServeHTTP(w, r)
			return
		}

		writeJSONError(w, http.StatusUnauthorized, "Authentication required.")
	})
}

func (g *Gateway) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && !g.limiter.allow(clientIP(r)) {
			g.logger.WarnContext(r.Context(), "Rate limit exceeded",
				"client_ip", clientIP(r), "path", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			writeJSONError(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// trace assigns a request id and logs request start and completion.
func (g *Gateway) trace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := uuid.NewString()

		g.logger.InfoContext(r.Context(), "Request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"client_ip", clientIP(r))

		rw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		g.logger.InfoContext(r.Context(), "Request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the hijacker underneath, which
// the proxy needs for WebSocket upgrades.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"service": "gateway",
	})
}

func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
