package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOAuth2TokenManager_GetToken(t *testing.T) {
	t.Run("fetches token with client credentials", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/oauth/token", r.URL.Path)
			assert.Equal(t, "POST", r.Method)

			username, password, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "client-id", username)
			assert.Equal(t, "client-secret", password)

			err := r.ParseForm()
			require.NoError(t, err)
			assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))

			response := Token{
				AccessToken: "client-token",
				ExpiresIn:   3600,
				TokenType:   "bearer",
			}
			_ = json.NewEncoder(w).Encode(response)
		}))
		defer server.Close()

		manager := NewOAuth2TokenManager(&OAuth2Config{
			TokenURL:     server.URL + "/oauth/token",
			ClientID:     "client-id",
			ClientSecret: "client-secret",
		})
		defer manager.Close()

		token, err := manager.GetToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "client-token", token)

		stored := manager.store.Get()
		require.NotNil(t, stored)
		assert.WithinDuration(t, time.Now().Add(time.Hour), stored.ExpiresAt, 5*time.Second)
	})

	t.Run("returns cached valid token", func(t *testing.T) {
		var requests atomic.Int32

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			_ = json.NewEncoder(w).Encode(Token{AccessToken: "token", ExpiresIn: 3600})
		}))
		defer server.Close()

		manager := NewOAuth2TokenManager(&OAuth2Config{
			TokenURL:     server.URL + "/oauth/token",
			ClientID:     "client-id",
			ClientSecret: "client-secret",
		})
		defer manager.Close()

		for range 5 {
			_, err := manager.GetToken(context.Background())
			require.NoError(t, err)
		}

		assert.Equal(t, int32(1), requests.Load())
	})

	t.Run("refetches stale token", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(Token{AccessToken: "new-token", ExpiresIn: 3600})
		}))
		defer server.Close()

		manager := NewOAuth2TokenManager(&OAuth2Config{
			TokenURL:     server.URL + "/oauth/token",
			ClientID:     "client-id",
			ClientSecret: "client-secret",
		})
		defer manager.Close()

		// A token inside the expiry skew window counts as stale.
		manager.store.Set(&Token{
			AccessToken: "stale-token",
			ExpiresAt:   time.Now().Add(10 * time.Second),
		})

		token, err := manager.GetToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "new-token", token)
	})

	t.Run("serializes concurrent refreshes", func(t *testing.T) {
		var requests atomic.Int32

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			time.Sleep(30 * time.Millisecond)
			_ = json.NewEncoder(w).Encode(Token{AccessToken: "shared", ExpiresIn: 3600})
		}))
		defer server.Close()

		manager := NewOAuth2TokenManager(&OAuth2Config{
			TokenURL:     server.URL + "/oauth/token",
			ClientID:     "client-id",
			ClientSecret: "client-secret",
		})
		defer manager.Close()

		var wg sync.WaitGroup

		for range 10 {
			wg.Add(1)

			go func() {
				defer wg.Done()

				token, err := manager.GetToken(context.Background())
				assert.NoError(t, err)
				assert.Equal(t, "shared", token)
			}()
		}

		wg.Wait()
		assert.Equal(t, int32(1), requests.Load())
	})

	t.Run("endpoint error surfaces with body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error":             "invalid_client",
				"error_description": "Client authentication failed",
			})
		}))
		defer server.Close()

		manager := NewOAuth2TokenManager(&OAuth2Config{
			TokenURL:     server.URL + "/oauth/token",
			ClientID:     "bad-client",
			ClientSecret: "bad-secret",
		})
		defer manager.Close()

		token, err := manager.GetToken(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid_client")
		assert.Equal(t, "", token)
	})

	t.Run("missing access token rejected", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"expires_in": 3600})
		}))
		defer server.Close()

		manager := NewOAuth2TokenManager(&OAuth2Config{
			TokenURL:     server.URL + "/oauth/token",
			ClientID:     "client-id",
			ClientSecret: "client-secret",
		})
		defer manager.Close()

		_, err := manager.GetToken(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNoAccessToken)
	})

	t.Run("missing token URL rejected", func(t *testing.T) {
		manager := NewOAuth2TokenManager(&OAuth2Config{})
		defer manager.Close()

		_, err := manager.GetToken(context.Background())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMissingTokenURL)
	})
}

func TestOAuth2TokenManager_SetToken(t *testing.T) {
	manager := NewOAuth2TokenManager(&OAuth2Config{})
	defer manager.Close()

	expiresAt := time.Now().Add(1 * time.Hour)
	manager.SetToken("manual-token", expiresAt)

	token, err := manager.GetToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "manual-token", token)

	stored := manager.store.Get()
	assert.Equal(t, "manual-token", stored.AccessToken)
	assert.Equal(t, "bearer", stored.TokenType)
	assert.Equal(t, expiresAt.Unix(), stored.ExpiresAt.Unix())
}

func TestOAuth2TokenManager_RefreshToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Token{AccessToken: "refreshed-token", ExpiresIn: 3600})
	}))
	defer server.Close()

	manager := NewOAuth2TokenManager(&OAuth2Config{
		TokenURL:     server.URL + "/oauth/token",
		ClientID:     "client-id",
		ClientSecret: "client-secret",
	})
	defer manager.Close()

	// Even a still-valid token is replaced by a forced refresh.
	manager.SetToken("current-token", time.Now().Add(1*time.Hour))

	err := manager.RefreshToken(context.Background())
	require.NoError(t, err)

	token, err := manager.GetToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "refreshed-token", token)
}

func TestOAuth2TokenManager_IsTokenExpiringSoon(t *testing.T) {
	manager := NewOAuth2TokenManager(&OAuth2Config{})
	defer manager.Close()

	assert.True(t, manager.IsTokenExpiringSoon(time.Minute))

	manager.SetToken("token", time.Now().Add(10*time.Minute))
	assert.False(t, manager.IsTokenExpiringSoon(time.Minute))
	assert.True(t, manager.IsTokenExpiringSoon(time.Hour))
}
