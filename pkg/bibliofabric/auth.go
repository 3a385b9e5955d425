package bibliofabric

import (
	"context"
	"net/http"
	"time"

	"github.com/utsmok/bibliofabric/internal/auth"
)

// AuthStrategy injects credentials into outbound requests. Strategies may
// perform I/O (e.g. a token fetch) and must be safe for concurrent use by
// the engine.
type AuthStrategy interface {
	// Apply stamps credentials onto the request, typically as headers.
	Apply(ctx context.Context, req *http.Request) error

	// Close releases any resources held by the strategy. It is idempotent.
	Close() error
}

// NoAuth is the identity strategy for APIs requiring no authentication.
type NoAuth struct{}

// Apply does nothing.
func (NoAuth) Apply(context.Context, *http.Request) error {
	return nil
}

// Close does nothing.
func (NoAuth) Close() error {
	return nil
}

// StaticTokenAuth authenticates with a pre-issued long-lived Bearer token.
type StaticTokenAuth struct {
	token string
}

// NewStaticTokenAuth creates a static token strategy. An empty token is a
// configuration error.
func NewStaticTokenAuth(token string) (*StaticTokenAuth, error) {
	if token == "" {
		return nil, newError(KindConfig, "static token auth requires a non-empty token")
	}

	return &StaticTokenAuth{token: token}, nil
}

// Apply sets the Authorization header.
func (s *StaticTokenAuth) Apply(_ context.Context, req *http.Request) error {
	req.Header.Set("Authorization", "Bearer "+s.token)

	return nil
}

// Close does nothing.
func (s *StaticTokenAuth) Close() error {
	return nil
}

// ClientCredentialsAuth authenticates with the OAuth2 client-credentials
// grant. Tokens are cached until shortly before expiry and refreshed with at
// most one token request in flight at any moment; concurrent callers wait
// and reuse the fresh token.
type ClientCredentialsAuth struct {
	manager *auth.OAuth2TokenManager
}

// NewClientCredentialsAuth creates a client-credentials strategy. All three
// arguments are required.
func NewClientCredentialsAuth(clientID, clientSecret, tokenURL string) (*ClientCredentialsAuth, error) {
	if clientID == "" || clientSecret == "" || tokenURL == "" {
		return nil, newError(KindConfig, "client credentials auth requires client_id, client_secret, and token_url")
	}

	manager := auth.NewOAuth2TokenManager(&auth.OAuth2Config{
		TokenURL:     tokenURL,
		ClientID:     clientID,
		ClientSecret: clientSecret,
	})

	return &ClientCredentialsAuth{manager: manager}, nil
}

// Apply ensures a valid token is available and sets the Authorization
// header. Token acquisition failures surface as authentication errors.
func (c *ClientCredentialsAuth) Apply(ctx context.Context, req *http.Request) error {
	token, err := c.manager.GetToken(ctx)
	if err != nil {
		return wrapError(KindAuth, err, "fetching access token")
	}

	req.Header.Set("Authorization", "Bearer "+token)

	return nil
}

// TokenExpiry returns the cached token's expiry, or the zero time when no
// token has been fetched yet.
func (c *ClientCredentialsAuth) TokenExpiry() time.Time {
	return c.manager.CurrentExpiry()
}

// IsTokenExpiringSoon reports whether the cached token expires within the
// given duration.
func (c *ClientCredentialsAuth) IsTokenExpiringSoon(within time.Duration) bool {
	return c.manager.IsTokenExpiringSoon(within)
}

// Close releases the strategy's HTTP resources and drops the cached token.
func (c *ClientCredentialsAuth) Close() error {
	c.manager.Close()

	return nil
}

// AuthConfig carries caller-provided credentials for NewAuthStrategy.
type AuthConfig struct {
	// Token is a pre-issued static Bearer token.
	Token string

	// ClientID, ClientSecret, and TokenURL configure the OAuth2
	// client-credentials grant.
	ClientID     string
	ClientSecret string
	TokenURL     string
}

// NewAuthStrategy selects a built-in strategy from the available
// credentials. The following precedence is applied:
//  1. ClientID/ClientSecret/TokenURL: OAuth2 client-credentials grant.
//  2. Token: static Bearer token.
//  3. No credentials: requests are sent without authentication.
//
// A partially filled client-credentials triple is a configuration error.
func NewAuthStrategy(config *AuthConfig) (AuthStrategy, error) {
	if config == nil {
		return NoAuth{}, nil
	}

	if config.ClientID != "" || config.ClientSecret != "" || config.TokenURL != "" {
		return NewClientCredentialsAuth(config.ClientID, config.ClientSecret, config.TokenURL)
	}

	if config.Token != "" {
		return NewStaticTokenAuth(config.Token)
	}

	return NoAuth{}, nil
}
