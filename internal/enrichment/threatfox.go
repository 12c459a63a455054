// ThreatFox client. ThreatFox is abuse.ch's IOC sharing platform; the API
// is a single POST endpoint dispatched on a "query" field in the body.
package enrichment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

const threatFoxDefaultBaseURL = "https://threatfox-api.abuse.ch"

// ThreatFoxAdapter implements the Adapter interface for ThreatFox.
type ThreatFoxAdapter struct {
	config     ProviderConfig
	apiKey     string
	httpClient *http.Client
}

// threatFoxSearchRequest is the search_ioc query body.
type threatFoxSearchRequest struct {
	Query      string `json:"query"`
	SearchTerm string `json:"search_term"`
}

// DefaultThreatFoxConfig returns sensible defaults for ThreatFox.
func DefaultThreatFoxConfig() ProviderConfig {
	cfg := DefaultProviderConfig()
	cfg.APIKeyEnv = "THREATFOX_API_KEY"
	cfg.BaseURL = threatFoxDefaultBaseURL
	return cfg
}

// NewThreatFoxAdapter creates a new ThreatFox adapter.
func NewThreatFoxAdapter(cfg ProviderConfig) (*ThreatFoxAdapter, error) {
	apiKey, err := resolveAPIKey(SourceThreatFox, cfg.APIKeyEnv)
	if err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = threatFoxDefaultBaseURL
	}
	return &ThreatFoxAdapter{
		config:     cfg,
		apiKey:     apiKey,
		httpClient: newHTTPClient(cfg),
	}, nil
}

// Name returns the provider identifier.
func (a *ThreatFoxAdapter) Name() Source {
	return SourceThreatFox
}

// Supports reports whether ThreatFox can look up the indicator type.
// ThreatFox searches IOCs of every kind.
func (a *ThreatFoxAdapter) Supports(t IndicatorType) bool {
	return true
}

// Lookup searches ThreatFox for the indicator via search_ioc.
func (a *ThreatFoxAdapter) Lookup(ctx context.Context, ind Indicator) (RawResponse, error) {
	body, err := json.Marshal(threatFoxSearchRequest{
		Query:      "search_ioc",
		SearchTerm: ind.Value,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding ThreatFox request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.BaseURL+"/api/v1/", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating ThreatFox request: %w", err)
	}
	req.Header.Set("API-KEY", a.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ThreatFox lookup failed: %w", err)
	}
	defer resp.Body.Close()

	return readJSONBody(resp, SourceThreatFox)
}
