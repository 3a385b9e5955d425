package bibliofabric

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// LoadSettings builds Settings by layering, in order of increasing
// precedence: library defaults, an optional config file, and environment
// variables prefixed with envPrefix (e.g. prefix "OPENAIRE" reads
// OPENAIRE_MAX_RETRIES). configPath may be empty; the file format is
// whatever viper recognizes from the extension (YAML, JSON, TOML).
//
// Hooks cannot be configured from the environment; attach them to the
// returned Settings before constructing the engine.
func LoadSettings(envPrefix, configPath string) (*Settings, error) {
	defaults := DefaultSettings()

	v := viper.New()
	v.SetDefault("request_timeout", defaults.RequestTimeout)
	v.SetDefault("max_retries", defaults.MaxRetries)
	v.SetDefault("backoff_factor", defaults.BackoffFactor)
	v.SetDefault("retry_jitter", defaults.RetryJitter)
	v.SetDefault("user_agent", defaults.UserAgent)
	v.SetDefault("enable_rate_limiting", defaults.EnableRateLimiting)
	v.SetDefault("rate_limit_buffer", defaults.RateLimitBuffer)
	v.SetDefault("default_retry_after", defaults.DefaultRetryAfter)
	v.SetDefault("enable_caching", defaults.EnableCaching)
	v.SetDefault("cache_ttl", defaults.CacheTTL)
	v.SetDefault("cache_max_size", defaults.CacheMaxSize)

	if configPath != "" {
		v.SetConfigFile(configPath)

		if err := v.ReadInConfig(); err != nil {
			return nil, wrapError(KindConfig, err, "reading config file %s", configPath)
		}
	}

	if envPrefix != "" {
		v.SetEnvPrefix(strings.ToUpper(envPrefix))
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, wrapError(KindConfig, err, "unmarshaling settings")
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}

	return settings, nil
}

// Dump renders the effective configuration as YAML for diagnostics. Hooks
// are omitted.
func (s *Settings) Dump() (string, error) {
	out, err := yaml.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("marshaling settings: %w", err)
	}

	return string(out), nil
}
