// Package enrichment provides threat intelligence provider integrations
// and normalization of provider responses into canonical threat records.
package enrichment

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// IndicatorType represents the structural classification of an indicator.
type IndicatorType string

const (
	IndicatorTypeIP     IndicatorType = "ip"
	IndicatorTypeDomain IndicatorType = "domain"
	IndicatorTypeHash   IndicatorType = "hash"
	IndicatorTypeURL    IndicatorType = "url"
)

// Source identifies an upstream threat intelligence provider.
type Source string

const (
	SourceVirusTotal Source = "VirusTotal"
	SourceAbuseIPDB  Source = "AbuseIPDB"
	SourceThreatFox  Source = "ThreatFox"
	SourcePulseDive  Source = "PulseDive"
)

// Severity is the derived three-level risk classification. It is never
// supplied directly by a provider.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Indicator is a value under investigation, classified at ingestion time.
type Indicator struct {
	Value string        `json:"value"`
	Type  IndicatorType `json:"type"`
}

// NewIndicator classifies a raw value and returns the resulting indicator.
func NewIndicator(value string) Indicator {
	return Indicator{Value: value, Type: Classify(value)}
}

// Classify determines the indicator type by structural inspection. A value
// whose dot-separated segments are all digits is an IP; hex strings of
// MD5/SHA1/SHA256 length are hashes; anything with a scheme is a URL;
// everything else is treated as a domain.
func Classify(value string) IndicatorType {
	if strings.Contains(value, "://") {
		return IndicatorTypeURL
	}
	if isDottedQuad(value) {
		return IndicatorTypeIP
	}
	if isHexHash(value) {
		return IndicatorTypeHash
	}
	return IndicatorTypeDomain
}

func isDottedQuad(value string) bool {
	if !strings.Contains(value, ".") {
		return false
	}
	for _, part := range strings.Split(value, ".") {
		if part == "" {
			return false
		}
		for _, r := range part {
			if r < '0' || r > '9' {
				return false
			}
		}
	}
	return true
}

func isHexHash(value string) bool {
	switch len(value) {
	case 32, 40, 64: // MD5, SHA1, SHA256
	default:
		return false
	}
	for _, r := range strings.ToLower(value) {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

// Geo is an optional latitude/longitude pair, present only for providers
// that return geolocation.
type Geo struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ThreatRecord is the canonical normalized result for one
// (indicator, source) pair.
type ThreatRecord struct {
	ID         string         `json:"id"`
	Indicator  string         `json:"indicator"`
	Source     Source         `json:"source"`
	Severity   Severity       `json:"severity"`
	Attributes map[string]any `json:"attributes"`
	Geo        *Geo           `json:"geo,omitempty"`
	ObservedAt time.Time      `json:"observed_at"`
	Tags       []string       `json:"tags"`
}

// NewThreatRecord creates a record with a fresh ID and observation time.
func NewThreatRecord(indicator string, source Source) *ThreatRecord {
	return &ThreatRecord{
		ID:         uuid.NewString(),
		Indicator:  indicator,
		Source:     source,
		Severity:   SeverityLow,
		Attributes: make(map[string]any),
		ObservedAt: time.Now().UTC(),
		Tags:       []string{},
	}
}

// Country returns the country attribute if the provider supplied one.
func (r *ThreatRecord) Country() string {
	if c, ok := r.Attributes["country"].(string); ok {
		return c
	}
	return ""
}
