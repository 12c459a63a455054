// PulseDive client. PulseDive scores indicators with a qualitative risk
// label; the API key travels in the query string rather than a header.
package enrichment

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

const pulseDiveDefaultBaseURL = "https://pulsedive.com"

// PulseDiveAdapter implements the Adapter interface for PulseDive.
type PulseDiveAdapter struct {
	config     ProviderConfig
	apiKey     string
	httpClient *http.Client
}

// DefaultPulseDiveConfig returns sensible defaults for PulseDive.
func DefaultPulseDiveConfig() ProviderConfig {
	cfg := DefaultProviderConfig()
	cfg.APIKeyEnv = "PULSEDIVE_API_KEY"
	cfg.BaseURL = pulseDiveDefaultBaseURL
	return cfg
}

// NewPulseDiveAdapter creates a new PulseDive adapter.
func NewPulseDiveAdapter(cfg ProviderConfig) (*PulseDiveAdapter, error) {
	apiKey, err := resolveAPIKey(SourcePulseDive, cfg.APIKeyEnv)
	if err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = pulseDiveDefaultBaseURL
	}
	return &PulseDiveAdapter{
		config:     cfg,
		apiKey:     apiKey,
		httpClient: newHTTPClient(cfg),
	}, nil
}

// Name returns the provider identifier.
func (a *PulseDiveAdapter) Name() Source {
	return SourcePulseDive
}

// Supports reports whether PulseDive can look up the indicator type.
func (a *PulseDiveAdapter) Supports(t IndicatorType) bool {
	return true
}

// Lookup fetches indicator info from PulseDive.
func (a *PulseDiveAdapter) Lookup(ctx context.Context, ind Indicator) (RawResponse, error) {
	params := url.Values{}
	params.Set("indicator", ind.Value)
	params.Set("key", a.apiKey)
	endpoint := fmt.Sprintf("%s/api/info.php?%s", a.config.BaseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating PulseDive request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("PulseDive lookup failed: %w", err)
	}
	defer resp.Body.Close()

	return readJSONBody(resp, SourcePulseDive)
}
