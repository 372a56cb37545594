package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/appointly/chatsync/internal/core"
)

// FetchFunc retrieves a fresh token from the credential provider.
type FetchFunc func(ctx context.Context) (string, error)

// CachedTokenSource reuses a fetched JWT until it is within the refresh
// margin of its expiry. Expiry is read from the token's exp claim without
// verifying the signature; the client is not the token's audience checker,
// it only needs to avoid presenting a stale credential.
type CachedTokenSource struct {
	fetch  FetchFunc
	margin time.Duration

	mu    sync.Mutex
	token string
	exp   time.Time
}

// DefaultRefreshMargin is how long before expiry a token stops being reused.
const DefaultRefreshMargin = 30 * time.Second

// NewCachedTokenSource wraps fetch with expiry-aware caching.
func NewCachedTokenSource(fetch FetchFunc, margin time.Duration) *CachedTokenSource {
	if margin <= 0 {
		margin = DefaultRefreshMargin
	}
	return &CachedTokenSource{fetch: fetch, margin: margin}
}

// Token returns a cached token while it is still fresh, fetching otherwise.
// An empty token from the provider is reported as ErrNoToken.
func (s *CachedTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && (s.exp.IsZero() || time.Until(s.exp) > s.margin) {
		return s.token, nil
	}

	tok, err := s.fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch token: %w", err)
	}
	if tok == "" {
		return "", core.ErrNoToken
	}

	s.token = tok
	s.exp = tokenExpiry(tok)
	return tok, nil
}

// Invalidate drops the cached token so the next call refetches.
func (s *CachedTokenSource) Invalidate() {
	s.mu.Lock()
	s.token = ""
	s.exp = time.Time{}
	s.mu.Unlock()
}

// tokenExpiry extracts the exp claim; a token that does not parse as a JWT
// or carries no exp is treated as non-expiring.
func tokenExpiry(tok string) time.Time {
	claims := jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(tok, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
