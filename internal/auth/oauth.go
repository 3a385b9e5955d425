package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/utsmok/bibliofabric/internal/constants"
)

// Static errors for err113 compliance.
var (
	ErrNoAccessToken   = errors.New("access token not found in token response")
	ErrMissingTokenURL = errors.New("token URL is required")
)

// OAuth2Config configures the client-credentials token manager.
type OAuth2Config struct {
	// TokenURL is the OAuth2 token endpoint.
	TokenURL string

	// ClientID and ClientSecret authenticate the token request via HTTP
	// Basic auth.
	ClientID     string
	ClientSecret string

	// Timeout bounds a single token endpoint request. Defaults to the
	// library's token request timeout.
	Timeout time.Duration
}

// OAuth2TokenManager obtains and caches tokens using the OAuth2
// client-credentials grant. Refreshes are serialized: at most one token
// request is in flight at any moment; concurrent callers wait and reuse the
// freshly obtained token.
type OAuth2TokenManager struct {
	config     *OAuth2Config
	store      *tokenStore
	httpClient *retryablehttp.Client
	refreshMu  sync.Mutex
}

// NewOAuth2TokenManager creates a token manager for the given config.
func NewOAuth2TokenManager(config *OAuth2Config) *OAuth2TokenManager {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = constants.TokenRequestTimeout
	}

	client := retryablehttp.NewClient()
	client.HTTPClient.Timeout = timeout
	client.Logger = nil

	return &OAuth2TokenManager{
		config:     config,
		store:      &tokenStore{},
		httpClient: client,
	}
}

// GetToken returns a valid access token, fetching a new one when the cached
// token is absent or stale.
func (m *OAuth2TokenManager) GetToken(ctx context.Context) (string, error) {
	if token := m.store.Get(); token != nil && !token.IsExpired() {
		return token.AccessToken, nil
	}

	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	// Another caller may have refreshed while we waited for the lock.
	if token := m.store.Get(); token != nil && !token.IsExpired() {
		return token.AccessToken, nil
	}

	token, err := m.fetchToken(ctx)
	if err != nil {
		return "", err
	}

	m.store.Set(token)

	return token.AccessToken, nil
}

// RefreshToken fetches a new token and replaces the cached one, even when the
// cached token is still valid. On failure the cached token is kept.
func (m *OAuth2TokenManager) RefreshToken(ctx context.Context) error {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	token, err := m.fetchToken(ctx)
	if err != nil {
		return err
	}

	m.store.Set(token)

	return nil
}

// SetToken manually installs a token, e.g. one obtained out of band.
func (m *OAuth2TokenManager) SetToken(accessToken string, expiresAt time.Time) {
	m.store.Set(&Token{
		AccessToken: accessToken,
		TokenType:   "bearer",
		ExpiresAt:   expiresAt,
	})
}

// CurrentExpiry returns the cached token's expiry, or the zero time when no
// token is cached.
func (m *OAuth2TokenManager) CurrentExpiry() time.Time {
	token := m.store.Get()
	if token == nil {
		return time.Time{}
	}

	return token.ExpiresAt
}

// IsTokenExpiringSoon reports whether the cached token expires within the
// given duration. A missing token counts as expiring.
func (m *OAuth2TokenManager) IsTokenExpiringSoon(within time.Duration) bool {
	token := m.store.Get()
	if token == nil {
		return true
	}

	return time.Now().Add(within).After(token.ExpiresAt)
}

// Close releases the manager's HTTP resources and drops the cached token.
func (m *OAuth2TokenManager) Close() {
	m.store.Clear()
	m.httpClient.HTTPClient.CloseIdleConnections()
}

// fetchToken performs the client-credentials exchange against the token
// endpoint. Callers must hold refreshMu.
func (m *OAuth2TokenManager) fetchToken(ctx context.Context) (*Token, error) {
	if m.config.TokenURL == "" {
		return nil, ErrMissingTokenURL
	}

	form := url.Values{"grant_type": []string{"client_credentials"}}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, m.config.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(m.config.ClientID, m.config.ClientSecret)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var token Token
	if err := json.Unmarshal(body, &token); err != nil {
		return nil, fmt.Errorf("parsing token response: %w", err)
	}

	if token.AccessToken == "" {
		return nil, ErrNoAccessToken
	}

	if token.ExpiresIn > 0 {
		token.ExpiresAt = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
	}

	return &token, nil
}
