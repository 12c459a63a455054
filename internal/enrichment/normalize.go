package enrichment

import "encoding/json"

// Normalize maps a raw provider response into the canonical ThreatRecord
// shape, deriving severity from the provider's own scoring field. It
// returns nil when the payload lacks the minimum required fields; that is
// a recoverable "nothing to show", not an error. Unknown strings default
// to "N/A" and unknown scores to 0 rather than failing.
func Normalize(source Source, raw RawResponse, indicator string) *ThreatRecord {
	if len(raw) == 0 {
		return nil
	}
	switch source {
	case SourceVirusTotal:
		return normalizeVirusTotal(raw, indicator)
	case SourceAbuseIPDB:
		return normalizeAbuseIPDB(raw, indicator)
	case SourceThreatFox:
		return normalizeThreatFox(raw, indicator)
	case SourcePulseDive:
		return normalizePulseDive(raw, indicator)
	default:
		return nil
	}
}

// Severity derivation. Each provider keeps its own documented boundary
// semantics; the tables are intentionally not unified.

// severityFromMaliciousCount: VirusTotal-style malicious engine count.
func severityFromMaliciousCount(n int) Severity {
	switch {
	case n > 5:
		return SeverityHigh
	case n > 0:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// severityFromConfidencePct: AbuseIPDB-style confidence percentage, 0-100.
func severityFromConfidencePct(score int) Severity {
	switch {
	case score >= 90:
		return SeverityHigh
	case score >= 40:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// severityFromConfidenceLevel: ThreatFox-style confidence level, 0-100.
func severityFromConfidenceLevel(level int) Severity {
	switch {
	case level > 75:
		return SeverityHigh
	case level > 25:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// severityFromRiskLabel: PulseDive-style qualitative risk label.
func severityFromRiskLabel(risk string) Severity {
	switch risk {
	case "critical", "high":
		return SeverityHigh
	case "medium":
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

type vtResponse struct {
	Data struct {
		Attributes *struct {
			AsOwner           string `json:"as_owner"`
			Country           string `json:"country"`
			LastAnalysisStats struct {
				Malicious  int `json:"malicious"`
				Suspicious int `json:"suspicious"`
			} `json:"last_analysis_stats"`
			LastAnalysisResults json.RawMessage `json:"last_analysis_results"`
		} `json:"attributes"`
	} `json:"data"`
}

func normalizeVirusTotal(raw RawResponse, indicator string) *ThreatRecord {
	var resp vtResponse
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Data.Attributes == nil {
		return nil
	}
	attrs := resp.Data.Attributes

	rec := NewThreatRecord(indicator, SourceVirusTotal)
	rec.Severity = severityFromMaliciousCount(attrs.LastAnalysisStats.Malicious)
	rec.Attributes["owner"] = orNA(attrs.AsOwner)
	rec.Attributes["country"] = orNA(attrs.Country)
	rec.Attributes["malicious_score"] = attrs.LastAnalysisStats.Malicious
	rec.Attributes["suspicious_score"] = attrs.LastAnalysisStats.Suspicious
	if len(attrs.LastAnalysisResults) > 0 {
		rec.Attributes["iocs"] = attrs.LastAnalysisResults
	}
	return rec
}

type abuseResponse struct {
	Data *struct {
		IPAddress            string          `json:"ipAddress"`
		CountryCode          string          `json:"countryCode"`
		ISP                  string          `json:"isp"`
		Domain               string          `json:"domain"`
		AbuseConfidenceScore int             `json:"abuseConfidenceScore"`
		Latitude             *float64        `json:"latitude"`
		Longitude            *float64        `json:"longitude"`
		Reports              json.RawMessage `json:"reports"`
	} `json:"data"`
}

func normalizeAbuseIPDB(raw RawResponse, indicator string) *ThreatRecord {
	var resp abuseResponse
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Data == nil {
		return nil
	}
	data := resp.Data

	rec := NewThreatRecord(indicator, SourceAbuseIPDB)
	rec.Severity = severityFromConfidencePct(data.AbuseConfidenceScore)
	rec.Attributes["country"] = orNA(data.CountryCode)
	rec.Attributes["isp"] = orNA(data.ISP)
	rec.Attributes["domain"] = orNA(data.Domain)
	rec.Attributes["abuse_score"] = data.AbuseConfidenceScore
	if len(data.Reports) > 0 {
		rec.Attributes["iocs"] = data.Reports
	}
	if data.Latitude != nil {
		lon := 0.0
		if data.Longitude != nil {
			lon = *data.Longitude
		}
		rec.Geo = &Geo{Latitude: *data.Latitude, Longitude: lon}
	}
	return rec
}

type threatFoxEntry struct {
	IOC              string `json:"ioc"`
	ThreatType       string `json:"threat_type"`
	MalwarePrintable string `json:"malware_printable"`
	ConfidenceLevel  int    `json:"confidence_level"`
}

func normalizeThreatFox(raw RawResponse, indicator string) *ThreatRecord {
	// The data field is an array of IOC entries on success and a bare
	// status string on no_result, so probe before decoding.
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || len(envelope.Data) == 0 {
		return nil
	}
	var entries []threatFoxEntry
	if err := json.Unmarshal(envelope.Data, &entries); err != nil || len(entries) == 0 {
		return nil
	}
	first := entries[0]

	rec := NewThreatRecord(indicator, SourceThreatFox)
	rec.Severity = severityFromConfidenceLevel(first.ConfidenceLevel)
	rec.Attributes["threat_type"] = orNA(first.ThreatType)
	rec.Attributes["malware"] = orNA(first.MalwarePrintable)
	rec.Attributes["confidence"] = first.ConfidenceLevel
	rec.Attributes["iocs"] = envelope.Data
	return rec
}

type pulseDiveResponse struct {
	Indicator  string          `json:"indicator"`
	Risk       string          `json:"risk"`
	Type       string          `json:"type"`
	Seen       string          `json:"stamp_seen"`
	Attributes json.RawMessage `json:"attributes"`
}

func normalizePulseDive(raw RawResponse, indicator string) *ThreatRecord {
	var resp pulseDiveResponse
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Indicator == "" {
		return nil
	}

	risk := resp.Risk
	if risk == "" {
		risk = "low"
	}

	rec := NewThreatRecord(indicator, SourcePulseDive)
	rec.Severity = severityFromRiskLabel(risk)
	rec.Attributes["risk"] = risk
	rec.Attributes["type"] = orNA(resp.Type)
	rec.Attributes["seen"] = orNA(resp.Seen)
	if len(resp.Attributes) > 0 {
		rec.Attributes["iocs"] = resp.Attributes
	}
	return rec
}
