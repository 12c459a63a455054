// AbuseIPDB client. AbuseIPDB tracks community abuse reports for IP
// addresses only; lookups for any other indicator type are skipped.
package enrichment

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

const (
	abuseDefaultBaseURL = "https://api.abuseipdb.com"
	abuseMaxAgeInDays   = "90"
)

// AbuseIPDBAdapter implements the Adapter interface for AbuseIPDB.
type AbuseIPDBAdapter struct {
	config     ProviderConfig
	apiKey     string
	httpClient *http.Client
}

// DefaultAbuseIPDBConfig returns sensible defaults for AbuseIPDB.
func DefaultAbuseIPDBConfig() ProviderConfig {
	cfg := DefaultProviderConfig()
	cfg.APIKeyEnv = "ABUSEIPDB_API_KEY"
	cfg.BaseURL = abuseDefaultBaseURL
	return cfg
}

// NewAbuseIPDBAdapter creates a new AbuseIPDB adapter.
func NewAbuseIPDBAdapter(cfg ProviderConfig) (*AbuseIPDBAdapter, error) {
	apiKey, err := resolveAPIKey(SourceAbuseIPDB, cfg.APIKeyEnv)
	if err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = abuseDefaultBaseURL
	}
	return &AbuseIPDBAdapter{
		config:     cfg,
		apiKey:     apiKey,
		httpClient: newHTTPClient(cfg),
	}, nil
}

// Name returns the provider identifier.
func (a *AbuseIPDBAdapter) Name() Source {
	return SourceAbuseIPDB
}

// Supports reports whether AbuseIPDB can look up the indicator type.
func (a *AbuseIPDBAdapter) Supports(t IndicatorType) bool {
	return t == IndicatorTypeIP
}

// Lookup checks the IP against the AbuseIPDB reporting database.
// Non-IP indicators return no result without issuing a request.
func (a *AbuseIPDBAdapter) Lookup(ctx context.Context, ind Indicator) (RawResponse, error) {
	if !a.Supports(ind.Type) {
		return nil, nil
	}

	params := url.Values{}
	params.Set("ipAddress", ind.Value)
	params.Set("maxAgeInDays", abuseMaxAgeInDays)
	endpoint := fmt.Sprintf("%s/api/v2/check?%s", a.config.BaseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating AbuseIPDB request: %w", err)
	}
	req.Header.Set("Key", a.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("AbuseIPDB lookup failed: %w", err)
	}
	defer resp.Body.Close()

	return readJSONBody(resp, SourceAbuseIPDB)
}
