// Package aiscore provides a single-shot scoring call against an
// OpenAI-compatible chat endpoint, used for the secondary phishing
// triage flow. The email parsing that produces its input lives outside
// this service; this package only issues the request and caches verdicts.
package aiscore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"intelstream/internal/enrichment"
)

// Config holds AI scoring settings.
type Config struct {
	Enabled   bool          `yaml:"enabled"`
	APIKeyEnv string        `yaml:"api_key_env"`
	BaseURL   string        `yaml:"base_url"`
	Model     string        `yaml:"model"`
	Timeout   time.Duration `yaml:"timeout"`
	CachePath string        `yaml:"cache_path"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:   false,
		APIKeyEnv: "AI_API_KEY",
		BaseURL:   "https://api.openai.com",
		Model:     "gpt-4o-mini",
		Timeout:   60 * time.Second,
		CachePath: "data/scan_cache.db",
		CacheTTL:  24 * time.Hour,
	}
}

// Verdict is the structured scoring result.
type Verdict struct {
	PhishingScore      int      `json:"phishing_score"`
	Verdict            string   `json:"verdict"` // CLEAN, SUSPICIOUS, MALICIOUS
	Confidence         float64  `json:"confidence"`
	Explanation        string   `json:"explanation"`
	SuspiciousElements []string `json:"suspicious_elements"`
	IdentifiedBrands   []string `json:"identified_brands"`
	Recommendations    []string `json:"recommendations"`
}

// Client issues scoring requests. Verdicts for cacheable indicator types
// are stored in the scan cache so repeated submissions of the same
// artifact do not pay for a second call.
type Client struct {
	config     Config
	apiKey     string
	httpClient *http.Client
	cache      *ScanCache
	logger     *zap.Logger
}

// NewClient creates a scoring client. A missing API key is a
// configuration error.
func NewClient(cfg Config, apiKey string, logger *zap.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("AI API key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		config:     cfg,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      NewScanCache(cfg.CachePath, cfg.CacheTTL, logger),
		logger:     logger,
	}, nil
}

const promptPreamble = `You are an expert cybersecurity analyst specializing in phishing detection.
Analyze the following artifact and return ONLY structured JSON with fields:
phishing_score (0-10), verdict (CLEAN, SUSPICIOUS, MALICIOUS), confidence (0.0-1.0),
explanation, suspicious_elements, identified_brands, recommendations.
Respond ONLY in JSON format with no extra text or markdown.

Artifact:
`

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Score submits the artifact for one indicator and returns the verdict.
// Cached verdicts are served without a call.
func (c *Client) Score(ctx context.Context, ind enrichment.Indicator, artifact map[string]any) (*Verdict, error) {
	if cached, ok := c.cache.Get(ctx, ind); ok {
		var v Verdict
		if err := json.Unmarshal(cached, &v); err == nil {
			return &v, nil
		}
	}

	detail, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding artifact: %w", err)
	}

	body, err := json.Marshal(chatRequest{
		Model: c.config.Model,
		Messages: []chatMessage{
			{Role: "user", Content: promptPreamble + string(detail)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding scoring request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating scoring request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("AI scoring call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("AI endpoint returned status %d", resp.StatusCode)
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, fmt.Errorf("decoding AI response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("AI response contained no choices")
	}

	var verdict Verdict
	if err := json.Unmarshal([]byte(chat.Choices[0].Message.Content), &verdict); err != nil {
		return nil, fmt.Errorf("AI verdict was not valid JSON: %w", err)
	}

	if encoded, err := json.Marshal(verdict); err == nil {
		c.cache.Put(ctx, ind, encoded)
	}

	return &verdict, nil
}
