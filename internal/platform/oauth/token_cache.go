// Package oauth obtains client-credentials bearer tokens for calls to
// internal services and provides an HTTP client that injects them.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	// DefaultTokenLifetime applies when the token endpoint omits expires_in.
	DefaultTokenLifetime = 300 * time.Second

	// EarlyExpiry is how long before its real expiry a cached token is
	// considered stale.
	EarlyExpiry = 30 * time.Second
)

// ErrEmptyToken is returned when the token endpoint answers without an
// access token.
var ErrEmptyToken = errors.New("token endpoint returned empty access token")

// Exchanger performs one credential exchange.
type Exchanger interface {
	Token(ctx context.Context) (*oauth2.Token, error)
}

type cachedToken struct {
	value     string
	expiresAt time.Time
}

// TokenCache hands out a cached bearer token and refreshes it shortly
// before it expires. Reads take no lock; refreshes are serialised so
// concurrent callers trigger a single exchange.
type TokenCache struct {
	exchanger Exchanger
	logger    *slog.Logger
	now       func() time.Time

	current atomic.Pointer[cachedToken]
	mu      sync.Mutex
}

// Credentials configure the client-credentials exchange.
type Credentials struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scope        string
}

// NewTokenCache builds a cache that exchanges creds at creds.TokenURL,
// sending the client id and secret as HTTP basic auth. httpClient may be nil.
func NewTokenCache(creds Credentials, httpClient *http.Client, logger *slog.Logger) *TokenCache {
	cfg := &clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     creds.TokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	if creds.Scope != "" {
		cfg.Scopes = []string{creds.Scope}
	}
	return NewTokenCacheWithExchanger(&configExchanger{cfg: cfg, httpClient: httpClient}, logger)
}

// NewTokenCacheWithExchanger builds a cache around an arbitrary exchanger.
func NewTokenCacheWithExchanger(ex Exchanger, logger *slog.Logger) *TokenCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenCache{
		exchanger: ex,
		logger:    logger.With(slog.String("component", "token_cache")),
		now:       time.Now,
	}
}

// Token returns a valid bearer token, exchanging credentials if the cached
// one is missing or within EarlyExpiry of expiring.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	if tok := c.valid(); tok != "" {
		return tok, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// another caller may have refreshed while we waited
	if tok := c.valid(); tok != "" {
		return tok, nil
	}

	fetched, err := c.exchanger.Token(ctx)
	if err != nil {
		c.logger.Error("token exchange failed", slog.String("error", err.Error()))
		return "", fmt.Errorf("token exchange failed: %w", err)
	}
	if fetched == nil || fetched.AccessToken == "" {
		return "", ErrEmptyToken
	}

	now := c.now()
	expiry := fetched.Expiry
	if expiry.IsZero() {
		expiry = now.Add(DefaultTokenLifetime)
	}
	c.current.Store(&cachedToken{value: fetched.AccessToken, expiresAt: expiry.Add(-EarlyExpiry)})

	c.logger.Debug("refreshed access token", slog.Time("expires_at", expiry))
	return fetched.AccessToken, nil
}

// Invalidate drops the cached token so the next call exchanges again.
func (c *TokenCache) Invalidate() {
	c.current.Store(nil)
}

func (c *TokenCache) valid() string {
	tok := c.current.Load()
	if tok == nil || !c.now().Before(tok.expiresAt) {
		return ""
	}
	return tok.value
}

type configExchanger struct {
	cfg        *clientcredentials.Config
	httpClient *http.Client
}

func (e *configExchanger) Token(ctx context.Context) (*oauth2.Token, error) {
	if e.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)
	}
	return e.cfg.Token(ctx)
}
