package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
)

// =============================================================================
// Adapter Creation Tests
// =============================================================================

// TestNewVirusTotalAdapter_MissingAPIKey verifies that creating an adapter
// without the key in the environment fails at construction time.
func TestNewVirusTotalAdapter_MissingAPIKey(t *testing.T) {
	os.Unsetenv("TEST_VT_KEY")

	cfg := DefaultVirusTotalConfig()
	cfg.APIKeyEnv = "TEST_VT_KEY"

	_, err := NewVirusTotalAdapter(cfg)
	if err == nil {
		t.Fatal("NewVirusTotalAdapter should fail when API key env var is empty")
	}

	if !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("error should wrap ErrMissingAPIKey, got: %v", err)
	}

	if !strings.Contains(err.Error(), "TEST_VT_KEY") {
		t.Errorf("error should name the env var, got: %v", err)
	}
}

// TestNewVirusTotalAdapter_DefaultBaseURL verifies an empty base URL falls
// back to the public endpoint.
func TestNewVirusTotalAdapter_DefaultBaseURL(t *testing.T) {
	os.Setenv("TEST_VT_KEY", "test-api-key")
	defer os.Unsetenv("TEST_VT_KEY")

	cfg := DefaultVirusTotalConfig()
	cfg.APIKeyEnv = "TEST_VT_KEY"
	cfg.BaseURL = ""

	adapter, err := NewVirusTotalAdapter(cfg)
	if err != nil {
		t.Fatalf("NewVirusTotalAdapter should succeed: %v", err)
	}

	if adapter.config.BaseURL != vtDefaultBaseURL {
		t.Errorf("expected default base URL %q, got %q", vtDefaultBaseURL, adapter.config.BaseURL)
	}

	if adapter.Name() != SourceVirusTotal {
		t.Errorf("expected name VirusTotal, got %s", adapter.Name())
	}
}

// =============================================================================
// VirusTotal Lookup Tests
// =============================================================================

// TestVirusTotalLookup_IP verifies the IP collection path and API key header.
func TestVirusTotalLookup_IP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/ip_addresses/203.0.113.67" {
			t.Errorf("expected ip_addresses path, got %s", r.URL.Path)
		}

		if r.Header.Get("x-apikey") != "test-api-key" {
			t.Errorf("expected API key header, got %q", r.Header.Get("x-apikey"))
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"data": {"attributes": {"last_analysis_stats": {"malicious": 7}}}}`))
	}))
	defer server.Close()

	os.Setenv("TEST_VT_KEY", "test-api-key")
	defer os.Unsetenv("TEST_VT_KEY")

	cfg := DefaultVirusTotalConfig()
	cfg.APIKeyEnv = "TEST_VT_KEY"
	cfg.BaseURL = server.URL

	adapter, _ := NewVirusTotalAdapter(cfg)

	raw, err := adapter.Lookup(context.Background(), NewIndicator("203.0.113.67"))
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}

	if raw == nil {
		t.Fatal("expected payload, got nil")
	}

	rec := Normalize(SourceVirusTotal, raw, "203.0.113.67")
	if rec == nil || rec.Severity != SeverityHigh {
		t.Errorf("expected high severity record from payload, got %+v", rec)
	}
}

// TestVirusTotalLookup_Domain verifies domains hit the domains collection.
func TestVirusTotalLookup_Domain(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/domains/evil.example" {
			t.Errorf("expected domains path, got %s", r.URL.Path)
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"data": {"attributes": {}}}`))
	}))
	defer server.Close()

	os.Setenv("TEST_VT_KEY", "test-api-key")
	defer os.Unsetenv("TEST_VT_KEY")

	cfg := DefaultVirusTotalConfig()
	cfg.APIKeyEnv = "TEST_VT_KEY"
	cfg.BaseURL = server.URL

	adapter, _ := NewVirusTotalAdapter(cfg)

	if _, err := adapter.Lookup(context.Background(), NewIndicator("evil.example")); err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
}

// TestVirusTotalLookup_UnsupportedType verifies URLs are skipped with no
// request at all.
func TestVirusTotalLookup_UnsupportedType(t *testing.T) {
	var requestCount int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requestCount, 1)
	}))
	defer server.Close()

	os.Setenv("TEST_VT_KEY", "test-api-key")
	defer os.Unsetenv("TEST_VT_KEY")

	cfg := DefaultVirusTotalConfig()
	cfg.APIKeyEnv = "TEST_VT_KEY"
	cfg.BaseURL = server.URL

	adapter, _ := NewVirusTotalAdapter(cfg)

	raw, err := adapter.Lookup(context.Background(), NewIndicator("http://evil.example/payload"))
	if err != nil {
		t.Errorf("unsupported type should not error: %v", err)
	}

	if raw != nil {
		t.Error("expected nil payload for unsupported type")
	}

	if atomic.LoadInt32(&requestCount) != 0 {
		t.Errorf("expected no requests, got %d", requestCount)
	}
}

// TestVirusTotalLookup_BadStatus verifies non-2xx responses are errors.
func TestVirusTotalLookup_BadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	os.Setenv("TEST_VT_KEY", "test-api-key")
	defer os.Unsetenv("TEST_VT_KEY")

	cfg := DefaultVirusTotalConfig()
	cfg.APIKeyEnv = "TEST_VT_KEY"
	cfg.BaseURL = server.URL

	adapter, _ := NewVirusTotalAdapter(cfg)

	_, err := adapter.Lookup(context.Background(), NewIndicator("8.8.8.8"))
	if err == nil {
		t.Fatal("expected error on 429")
	}

	if !errors.Is(err, ErrBadStatus) {
		t.Errorf("error should wrap ErrBadStatus, got: %v", err)
	}

	if !strings.Contains(err.Error(), "429") {
		t.Errorf("error should mention status code, got: %v", err)
	}
}

// TestVirusTotalLookup_MalformedBody verifies undecodable bodies are errors.
func TestVirusTotalLookup_MalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`<html>rate limited</html>`))
	}))
	defer server.Close()

	os.Setenv("TEST_VT_KEY", "test-api-key")
	defer os.Unsetenv("TEST_VT_KEY")

	cfg := DefaultVirusTotalConfig()
	cfg.APIKeyEnv = "TEST_VT_KEY"
	cfg.BaseURL = server.URL

	adapter, _ := NewVirusTotalAdapter(cfg)

	_, err := adapter.Lookup(context.Background(), NewIndicator("8.8.8.8"))
	if !errors.Is(err, ErrBadPayload) {
		t.Errorf("error should wrap ErrBadPayload, got: %v", err)
	}
}

// =============================================================================
// AbuseIPDB Lookup Tests
// =============================================================================

// TestAbuseIPDBLookup_IP verifies query parameters and the Key header.
func TestAbuseIPDBLookup_IP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/check" {
			t.Errorf("expected /api/v2/check path, got %s", r.URL.Path)
		}

		q := r.URL.Query()
		if q.Get("ipAddress") != "203.0.113.67" {
			t.Errorf("expected ipAddress query param, got %q", q.Get("ipAddress"))
		}
		if q.Get("maxAgeInDays") != "90" {
			t.Errorf("expected maxAgeInDays=90, got %q", q.Get("maxAgeInDays"))
		}

		if r.Header.Get("Key") != "test-api-key" {
			t.Errorf("expected Key header, got %q", r.Header.Get("Key"))
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"data": {"ipAddress": "203.0.113.67", "abuseConfidenceScore": 42}}`))
	}))
	defer server.Close()

	os.Setenv("TEST_ABUSE_KEY", "test-api-key")
	defer os.Unsetenv("TEST_ABUSE_KEY")

	cfg := DefaultAbuseIPDBConfig()
	cfg.APIKeyEnv = "TEST_ABUSE_KEY"
	cfg.BaseURL = server.URL

	adapter, _ := NewAbuseIPDBAdapter(cfg)

	raw, err := adapter.Lookup(context.Background(), NewIndicator("203.0.113.67"))
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}

	rec := Normalize(SourceAbuseIPDB, raw, "203.0.113.67")
	if rec == nil || rec.Severity != SeverityMedium {
		t.Errorf("expected medium severity record, got %+v", rec)
	}
}

// TestAbuseIPDBLookup_DomainSkipped verifies non-IP indicators never reach
// the network.
func TestAbuseIPDBLookup_DomainSkipped(t *testing.T) {
	var requestCount int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requestCount, 1)
	}))
	defer server.Close()

	os.Setenv("TEST_ABUSE_KEY", "test-api-key")
	defer os.Unsetenv("TEST_ABUSE_KEY")

	cfg := DefaultAbuseIPDBConfig()
	cfg.APIKeyEnv = "TEST_ABUSE_KEY"
	cfg.BaseURL = server.URL

	adapter, _ := NewAbuseIPDBAdapter(cfg)

	if adapter.Supports(IndicatorTypeDomain) {
		t.Error("AbuseIPDB should not support domains")
	}

	raw, err := adapter.Lookup(context.Background(), NewIndicator("example.com"))
	if err != nil {
		t.Errorf("domain lookup should not error: %v", err)
	}

	if raw != nil {
		t.Error("expected nil payload for domain")
	}

	if atomic.LoadInt32(&requestCount) != 0 {
		t.Errorf("expected no requests for unsupported type, got %d", requestCount)
	}
}

// =============================================================================
// ThreatFox Lookup Tests
// =============================================================================

// TestThreatFoxLookup verifies the POST body and API-KEY header.
func TestThreatFoxLookup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}

		if r.URL.Path != "/api/v1/" {
			t.Errorf("expected /api/v1/ path, got %s", r.URL.Path)
		}

		if r.Header.Get("API-KEY") != "test-api-key" {
			t.Errorf("expected API-KEY header, got %q", r.Header.Get("API-KEY"))
		}

		var body threatFoxSearchRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decoding request body: %v", err)
		}

		if body.Query != "search_ioc" {
			t.Errorf("expected query search_ioc, got %q", body.Query)
		}

		if body.SearchTerm != "203.0.113.67" {
			t.Errorf("expected search term 203.0.113.67, got %q", body.SearchTerm)
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"query_status": "ok", "data": [{"ioc": "203.0.113.67:443", "confidence_level": 90}]}`))
	}))
	defer server.Close()

	os.Setenv("TEST_TF_KEY", "test-api-key")
	defer os.Unsetenv("TEST_TF_KEY")

	cfg := DefaultThreatFoxConfig()
	cfg.APIKeyEnv = "TEST_TF_KEY"
	cfg.BaseURL = server.URL

	adapter, _ := NewThreatFoxAdapter(cfg)

	raw, err := adapter.Lookup(context.Background(), NewIndicator("203.0.113.67"))
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}

	rec := Normalize(SourceThreatFox, raw, "203.0.113.67")
	if rec == nil || rec.Severity != SeverityHigh {
		t.Errorf("expected high severity record, got %+v", rec)
	}
}

// TestThreatFoxSupports verifies every indicator type is searchable.
func TestThreatFoxSupports(t *testing.T) {
	os.Setenv("TEST_TF_KEY", "test-api-key")
	defer os.Unsetenv("TEST_TF_KEY")

	cfg := DefaultThreatFoxConfig()
	cfg.APIKeyEnv = "TEST_TF_KEY"

	adapter, _ := NewThreatFoxAdapter(cfg)

	for _, it := range []IndicatorType{IndicatorTypeIP, IndicatorTypeDomain, IndicatorTypeURL, IndicatorTypeHash} {
		if !adapter.Supports(it) {
			t.Errorf("ThreatFox should support %s", it)
		}
	}
}

// =============================================================================
// PulseDive Lookup Tests
// =============================================================================

// TestPulseDiveLookup verifies the indicator and key travel as query params.
func TestPulseDiveLookup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/info.php" {
			t.Errorf("expected /api/info.php path, got %s", r.URL.Path)
		}

		q := r.URL.Query()
		if q.Get("indicator") != "evil.example" {
			t.Errorf("expected indicator query param, got %q", q.Get("indicator"))
		}
		if q.Get("key") != "test-api-key" {
			t.Errorf("expected key query param, got %q", q.Get("key"))
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"indicator": "evil.example", "risk": "medium", "type": "domain"}`))
	}))
	defer server.Close()

	os.Setenv("TEST_PD_KEY", "test-api-key")
	defer os.Unsetenv("TEST_PD_KEY")

	cfg := DefaultPulseDiveConfig()
	cfg.APIKeyEnv = "TEST_PD_KEY"
	cfg.BaseURL = server.URL

	adapter, _ := NewPulseDiveAdapter(cfg)

	raw, err := adapter.Lookup(context.Background(), NewIndicator("evil.example"))
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}

	rec := Normalize(SourcePulseDive, raw, "evil.example")
	if rec == nil || rec.Severity != SeverityMedium {
		t.Errorf("expected medium severity record, got %+v", rec)
	}
}

// TestPulseDiveLookup_ContextCancelled verifies an already-cancelled context
// aborts the request with an error.
func TestPulseDiveLookup_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"indicator": "x"}`))
	}))
	defer server.Close()

	os.Setenv("TEST_PD_KEY", "test-api-key")
	defer os.Unsetenv("TEST_PD_KEY")

	cfg := DefaultPulseDiveConfig()
	cfg.APIKeyEnv = "TEST_PD_KEY"
	cfg.BaseURL = server.URL

	adapter, _ := NewPulseDiveAdapter(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := adapter.Lookup(ctx, NewIndicator("evil.example")); err == nil {
		t.Error("expected error for cancelled context")
	}
}
