// VirusTotal client. VirusTotal aggregates antivirus verdicts for IPs,
// domains, URLs and file hashes; the v3 API keys lookups by object type.
package enrichment

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

const vtDefaultBaseURL = "https://www.virustotal.com"

// VirusTotalAdapter implements the Adapter interface for VirusTotal.
type VirusTotalAdapter struct {
	config     ProviderConfig
	apiKey     string
	httpClient *http.Client
}

// DefaultVirusTotalConfig returns sensible defaults for VirusTotal.
func DefaultVirusTotalConfig() ProviderConfig {
	cfg := DefaultProviderConfig()
	cfg.APIKeyEnv = "VIRUSTOTAL_API_KEY"
	cfg.BaseURL = vtDefaultBaseURL
	return cfg
}

// NewVirusTotalAdapter creates a new VirusTotal adapter. A missing API key
// is a configuration error, not a runtime condition.
func NewVirusTotalAdapter(cfg ProviderConfig) (*VirusTotalAdapter, error) {
	apiKey, err := resolveAPIKey(SourceVirusTotal, cfg.APIKeyEnv)
	if err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = vtDefaultBaseURL
	}
	return &VirusTotalAdapter{
		config:     cfg,
		apiKey:     apiKey,
		httpClient: newHTTPClient(cfg),
	}, nil
}

// Name returns the provider identifier.
func (a *VirusTotalAdapter) Name() Source {
	return SourceVirusTotal
}

// Supports reports whether VirusTotal can look up the indicator type.
func (a *VirusTotalAdapter) Supports(t IndicatorType) bool {
	return t == IndicatorTypeIP || t == IndicatorTypeDomain
}

// Lookup queries the v3 object endpoint for the indicator. IPs and domains
// use different collections; other types are skipped without a request.
func (a *VirusTotalAdapter) Lookup(ctx context.Context, ind Indicator) (RawResponse, error) {
	if !a.Supports(ind.Type) {
		return nil, nil
	}

	collection := "domains"
	if ind.Type == IndicatorTypeIP {
		collection = "ip_addresses"
	}
	endpoint := fmt.Sprintf("%s/api/v3/%s/%s", a.config.BaseURL, collection, url.PathEscape(ind.Value))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating VirusTotal request: %w", err)
	}
	req.Header.Set("x-apikey", a.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("VirusTotal lookup failed: %w", err)
	}
	defer resp.Body.Close()

	return readJSONBody(resp, SourceVirusTotal)
}
