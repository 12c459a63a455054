package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"
)

// Common adapter errors.
var (
	ErrMissingAPIKey = errors.New("provider API key not set")
	ErrBadStatus     = errors.New("provider returned non-success status")
	ErrBadPayload    = errors.New("provider returned malformed payload")
)

// RawResponse is the opaque payload returned by a single provider for a
// single indicator. It is never persisted as-is beyond the cache value.
type RawResponse = json.RawMessage

// Adapter is the interface every upstream provider implements. Lookup
// returns (nil, nil) when the provider has nothing for the indicator,
// including indicator types the provider does not support; a non-nil error
// covers transport failures, non-2xx statuses and malformed bodies.
// Adapters are stateless and safe for concurrent use.
type Adapter interface {
	Name() Source
	Supports(t IndicatorType) bool
	Lookup(ctx context.Context, ind Indicator) (RawResponse, error)
}

// ProviderConfig holds common provider configuration. API keys are
// referenced by environment variable name, never inline.
type ProviderConfig struct {
	Enabled        bool          `yaml:"enabled"`
	APIKeyEnv      string        `yaml:"api_key_env"`
	BaseURL        string        `yaml:"base_url"`
	Timeout        time.Duration `yaml:"timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// DefaultProviderConfig returns sensible defaults.
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Timeout:        10 * time.Second,
		ConnectTimeout: 5 * time.Second,
	}
}

// newHTTPClient builds a client with the connect timeout distinct from the
// total request timeout.
func newHTTPClient(cfg ProviderConfig) *http.Client {
	connect := cfg.ConnectTimeout
	if connect <= 0 {
		connect = 5 * time.Second
	}
	total := cfg.Timeout
	if total <= 0 {
		total = 10 * time.Second
	}
	return &http.Client{
		Timeout: total,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         (&net.Dialer{Timeout: connect, KeepAlive: 60 * time.Second}).DialContext,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: connect,
		},
	}
}

// resolveAPIKey loads the provider credential from the environment.
func resolveAPIKey(source Source, env string) (string, error) {
	key := os.Getenv(env)
	if key == "" {
		return "", fmt.Errorf("%w: %s (env %s)", ErrMissingAPIKey, source, env)
	}
	return key, nil
}

// readJSONBody drains and validates a successful provider response body.
func readJSONBody(resp *http.Response, source Source) (RawResponse, error) {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s status %d", ErrBadStatus, source, resp.StatusCode)
	}
	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadPayload, source, err)
	}
	return RawResponse(raw), nil
}
