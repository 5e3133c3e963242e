package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"mintify/internal/identity"
)

var (
	// ErrMissingToken is returned when no bearer token accompanies the
	// request and no fallback identity applies.
	ErrMissingToken = errors.New("authentication required")
	// ErrInvalidToken is returned for malformed, expired or mismatched
	// tokens. Distinct from ErrMissingToken so clients can tell "log in"
	// from "log in again".
	ErrInvalidToken = errors.New("invalid or expired token")
)

const verifyTimeout = 5 * time.Second

// TokenVerifier resolves a bearer token into a Principal.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (identity.Principal, error)
}

// JWKSVerifier validates RS256 tokens against the identity provider's
// published key set. Keys are cached by key id; a token signed with an
// unknown kid triggers one lazy refresh of the set.
type JWKSVerifier struct {
	keys     keyfunc.Keyfunc
	issuer   string
	audience string
}

// NewJWKSVerifier fetches the initial key set from jwksURL. The fetch and
// all later refreshes are bounded by the given context.
func NewJWKSVerifier(ctx context.Context, jwksURL, issuer, audience string) (*JWKSVerifier, error) {
	keys, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("fetch JWKS from %s: %w", jwksURL, err)
	}
	return &JWKSVerifier{
		keys:     keys,
		issuer:   issuer,
		audience: audience,
	}, nil
}

// Verify validates signature, expiry, issuer and audience, failing closed
// on any mismatch or key-set problem. The subject claim becomes the
// principal's user id, falling back to preferred_username or email when the
// provider omits a subject.
func (v *JWKSVerifier) Verify(ctx context.Context, tokenString string) (identity.Principal, error) {
	ctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()
	_ = ctx // keyfunc refreshes keys on its own schedule; parsing is local

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, v.keys.Keyfunc, opts...)
	if err != nil {
		return identity.Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return identity.Principal{}, ErrInvalidToken
	}

	userID, _ := claims.GetSubject()
	if userID == "" {
		if v, ok := claims["preferred_username"].(string); ok {
			userID = v
		}
	}
	if userID == "" {
		if v, ok := claims["email"].(string); ok {
			userID = v
		}
	}
	if userID == "" {
		return identity.Principal{}, fmt.Errorf("%w: token carries no subject", ErrInvalidToken)
	}

	return identity.Principal{ID: userID, Claims: claims}, nil
}
