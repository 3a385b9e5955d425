package bibliofabric_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utsmok/bibliofabric/pkg/bibliofabric"
)

func TestDefaultSettings_Valid(t *testing.T) {
	t.Parallel()

	settings := bibliofabric.DefaultSettings()
	require.NoError(t, settings.Validate())

	assert.Equal(t, 30*time.Second, settings.RequestTimeout)
	assert.Equal(t, 3, settings.MaxRetries)
	assert.True(t, settings.EnableRateLimiting)
	assert.False(t, settings.EnableCaching)
}

func TestSettings_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*bibliofabric.Settings)
	}{
		{"zero timeout", func(s *bibliofabric.Settings) { s.RequestTimeout = 0 }},
		{"negative retries", func(s *bibliofabric.Settings) { s.MaxRetries = -1 }},
		{"zero backoff", func(s *bibliofabric.Settings) { s.BackoffFactor = 0 }},
		{"empty user agent", func(s *bibliofabric.Settings) { s.UserAgent = "" }},
		{"buffer below range", func(s *bibliofabric.Settings) { s.RateLimitBuffer = -0.1 }},
		{"buffer above range", func(s *bibliofabric.Settings) { s.RateLimitBuffer = 1.5 }},
		{"zero retry after", func(s *bibliofabric.Settings) { s.DefaultRetryAfter = 0 }},
		{"zero cache ttl", func(s *bibliofabric.Settings) { s.CacheTTL = 0 }},
		{"zero cache size", func(s *bibliofabric.Settings) { s.CacheMaxSize = 0 }},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			settings := bibliofabric.DefaultSettings()
			testCase.mutate(settings)

			err := settings.Validate()
			require.Error(t, err)
			assert.True(t, bibliofabric.IsConfig(err))
		})
	}
}

func TestSettings_ZeroRetriesAllowed(t *testing.T) {
	t.Parallel()

	settings := bibliofabric.DefaultSettings()
	settings.MaxRetries = 0

	require.NoError(t, settings.Validate())
}
