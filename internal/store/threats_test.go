package store

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"intelstream/internal/enrichment"
)

// =============================================================================
// Test Fixtures
// =============================================================================

func openTestStore(t *testing.T) *Threats {
	t.Helper()
	threats, err := Open(filepath.Join(t.TempDir(), "threats.db"), nil)
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	t.Cleanup(func() { threats.Close() })
	return threats
}

func record(indicator string, source enrichment.Source, severity enrichment.Severity) *enrichment.ThreatRecord {
	rec := enrichment.NewThreatRecord(indicator, source)
	rec.Severity = severity
	return rec
}

// =============================================================================
// Save Tests
// =============================================================================

// TestSave_Insert verifies a first record round-trips through the store.
func TestSave_Insert(t *testing.T) {
	threats := openTestStore(t)
	ctx := context.Background()

	rec := record("203.0.113.67", enrichment.SourceVirusTotal, enrichment.SeverityHigh)
	rec.Attributes["country"] = "RU"
	rec.Attributes["malicious_score"] = 12

	id, err := threats.Save(ctx, rec)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if id != rec.ID {
		t.Errorf("first save should keep the record's ID, got %q", id)
	}

	stored, err := threats.ByIndicator(ctx, "203.0.113.67")
	if err != nil {
		t.Fatalf("ByIndicator failed: %v", err)
	}

	if len(stored) != 1 {
		t.Fatalf("expected 1 record, got %d", len(stored))
	}

	got := stored[0]
	if got.Severity != enrichment.SeverityHigh {
		t.Errorf("expected severity high, got %s", got.Severity)
	}
	if got.Country() != "RU" {
		t.Errorf("expected country RU, got %q", got.Country())
	}
}

// TestSave_LatestWinsSameDay verifies a second save for the same
// (indicator, source) on the same day updates in place and returns the
// original row's ID.
func TestSave_LatestWinsSameDay(t *testing.T) {
	threats := openTestStore(t)
	ctx := context.Background()

	threats.now = func() time.Time {
		return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	}

	first := record("203.0.113.67", enrichment.SourceVirusTotal, enrichment.SeverityLow)
	firstID, err := threats.Save(ctx, first)
	if err != nil {
		t.Fatalf("first Save failed: %v", err)
	}

	threats.now = func() time.Time {
		return time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC)
	}

	second := record("203.0.113.67", enrichment.SourceVirusTotal, enrichment.SeverityHigh)
	secondID, err := threats.Save(ctx, second)
	if err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	if secondID != firstID {
		t.Errorf("same-day save should reuse the original row ID %q, got %q", firstID, secondID)
	}

	stored, _ := threats.ByIndicator(ctx, "203.0.113.67")
	if len(stored) != 1 {
		t.Fatalf("same-day saves should not grow the collection, got %d rows", len(stored))
	}

	if stored[0].Severity != enrichment.SeverityHigh {
		t.Errorf("latest record should win, got severity %s", stored[0].Severity)
	}
}

// TestSave_NewRowAcrossDays verifies a save on a later day inserts a fresh
// row rather than updating yesterday's.
func TestSave_NewRowAcrossDays(t *testing.T) {
	threats := openTestStore(t)
	ctx := context.Background()

	threats.now = func() time.Time {
		return time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC)
	}
	threats.Save(ctx, record("203.0.113.67", enrichment.SourceVirusTotal, enrichment.SeverityLow))

	threats.now = func() time.Time {
		return time.Date(2024, 3, 2, 1, 0, 0, 0, time.UTC)
	}
	threats.Save(ctx, record("203.0.113.67", enrichment.SourceVirusTotal, enrichment.SeverityHigh))

	stored, _ := threats.ByIndicator(ctx, "203.0.113.67")
	if len(stored) != 2 {
		t.Errorf("saves on different days should keep both rows, got %d", len(stored))
	}
}

// TestSave_SourcesIndependent verifies records for different sources never
// collapse into one row.
func TestSave_SourcesIndependent(t *testing.T) {
	threats := openTestStore(t)
	ctx := context.Background()

	threats.Save(ctx, record("203.0.113.67", enrichment.SourceVirusTotal, enrichment.SeverityHigh))
	threats.Save(ctx, record("203.0.113.67", enrichment.SourceAbuseIPDB, enrichment.SeverityMedium))

	stored, _ := threats.ByIndicator(ctx, "203.0.113.67")
	if len(stored) != 2 {
		t.Errorf("expected one row per source, got %d", len(stored))
	}
}

// TestSave_GeoRoundTrip verifies coordinates survive storage.
func TestSave_GeoRoundTrip(t *testing.T) {
	threats := openTestStore(t)
	ctx := context.Background()

	rec := record("203.0.113.67", enrichment.SourceAbuseIPDB, enrichment.SeverityHigh)
	rec.Geo = &enrichment.Geo{Latitude: 51.5, Longitude: -0.1}
	threats.Save(ctx, rec)

	stored, _ := threats.ByIndicator(ctx, "203.0.113.67")
	if len(stored) != 1 || stored[0].Geo == nil {
		t.Fatal("expected geo to survive the round trip")
	}
	if stored[0].Geo.Latitude != 51.5 || stored[0].Geo.Longitude != -0.1 {
		t.Errorf("expected (51.5, -0.1), got %+v", stored[0].Geo)
	}

	plain := record("198.51.100.23", enrichment.SourceVirusTotal, enrichment.SeverityLow)
	threats.Save(ctx, plain)

	stored, _ = threats.ByIndicator(ctx, "198.51.100.23")
	if len(stored) != 1 || stored[0].Geo != nil {
		t.Error("record without coordinates should come back with nil geo")
	}
}

// =============================================================================
// AddTag Tests
// =============================================================================

// TestAddTag verifies tags accumulate with set semantics.
func TestAddTag(t *testing.T) {
	threats := openTestStore(t)
	ctx := context.Background()

	rec := record("203.0.113.67", enrichment.SourceVirusTotal, enrichment.SeverityHigh)
	id, _ := threats.Save(ctx, rec)

	if err := threats.AddTag(ctx, id, "apt29"); err != nil {
		t.Fatalf("AddTag failed: %v", err)
	}
	if err := threats.AddTag(ctx, id, "phishing"); err != nil {
		t.Fatalf("AddTag failed: %v", err)
	}
	// Duplicate is a silent no-op.
	if err := threats.AddTag(ctx, id, "apt29"); err != nil {
		t.Fatalf("duplicate AddTag should not error: %v", err)
	}

	stored, _ := threats.ByIndicator(ctx, "203.0.113.67")
	if len(stored) != 1 {
		t.Fatal("expected 1 record")
	}

	tags := stored[0].Tags
	if len(tags) != 2 {
		t.Fatalf("expected 2 distinct tags, got %v", tags)
	}
	if tags[0] != "apt29" || tags[1] != "phishing" {
		t.Errorf("expected insertion order preserved, got %v", tags)
	}
}

// TestAddTag_UnknownID verifies tagging a missing record reports ErrNotFound.
func TestAddTag_UnknownID(t *testing.T) {
	threats := openTestStore(t)

	err := threats.AddTag(context.Background(), "no-such-id", "tag")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

// TestByTag verifies tag-filtered retrieval.
func TestByTag(t *testing.T) {
	threats := openTestStore(t)
	ctx := context.Background()

	tagged := record("203.0.113.67", enrichment.SourceVirusTotal, enrichment.SeverityHigh)
	id, _ := threats.Save(ctx, tagged)
	threats.AddTag(ctx, id, "apt29")

	threats.Save(ctx, record("198.51.100.23", enrichment.SourceVirusTotal, enrichment.SeverityLow))

	found, err := threats.ByTag(ctx, "apt29", 10)
	if err != nil {
		t.Fatalf("ByTag failed: %v", err)
	}

	if len(found) != 1 || found[0].Indicator != "203.0.113.67" {
		t.Errorf("expected only the tagged record, got %v", found)
	}
}

// =============================================================================
// Aggregate Read Tests
// =============================================================================

func seedAggregates(t *testing.T, threats *Threats) {
	t.Helper()
	ctx := context.Background()

	high := record("203.0.113.67", enrichment.SourceVirusTotal, enrichment.SeverityHigh)
	high.Attributes["country"] = "RU"
	threats.Save(ctx, high)

	medium := record("198.51.100.23", enrichment.SourceAbuseIPDB, enrichment.SeverityMedium)
	medium.Attributes["country"] = "RU"
	threats.Save(ctx, medium)

	low := record("192.0.2.5", enrichment.SourceAbuseIPDB, enrichment.SeverityLow)
	low.Attributes["country"] = "N/A"
	threats.Save(ctx, low)
}

// TestKPIs verifies the headline counters.
func TestKPIs(t *testing.T) {
	threats := openTestStore(t)
	seedAggregates(t, threats)

	kpis, err := threats.KPIs(context.Background())
	if err != nil {
		t.Fatalf("KPIs failed: %v", err)
	}

	if kpis.TotalThreats != 3 {
		t.Errorf("expected 3 total, got %d", kpis.TotalThreats)
	}
	if kpis.HighSeverity != 1 {
		t.Errorf("expected 1 high, got %d", kpis.HighSeverity)
	}
	if kpis.MediumSeverity != 1 {
		t.Errorf("expected 1 medium, got %d", kpis.MediumSeverity)
	}
	if kpis.UniqueIndicators != 3 {
		t.Errorf("expected 3 unique indicators, got %d", kpis.UniqueIndicators)
	}
}

// TestCountBySource verifies per-provider aggregation.
func TestCountBySource(t *testing.T) {
	threats := openTestStore(t)
	seedAggregates(t, threats)

	buckets, err := threats.CountBySource(context.Background())
	if err != nil {
		t.Fatalf("CountBySource failed: %v", err)
	}

	counts := map[string]int{}
	for _, b := range buckets {
		counts[b.Label] = b.Count
	}

	if counts["AbuseIPDB"] != 2 || counts["VirusTotal"] != 1 {
		t.Errorf("unexpected source counts: %v", counts)
	}
}

// TestTopCountries verifies N/A and empty countries are excluded.
func TestTopCountries(t *testing.T) {
	threats := openTestStore(t)
	seedAggregates(t, threats)

	buckets, err := threats.TopCountries(context.Background(), 5)
	if err != nil {
		t.Fatalf("TopCountries failed: %v", err)
	}

	if len(buckets) != 1 {
		t.Fatalf("expected only RU (N/A excluded), got %v", buckets)
	}
	if buckets[0].Label != "RU" || buckets[0].Count != 2 {
		t.Errorf("expected RU with 2 records, got %+v", buckets[0])
	}
}

// TestTrends verifies per-day bucketing in ascending date order.
func TestTrends(t *testing.T) {
	threats := openTestStore(t)
	ctx := context.Background()

	threats.now = func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }
	threats.Save(ctx, record("203.0.113.67", enrichment.SourceVirusTotal, enrichment.SeverityHigh))
	threats.Save(ctx, record("198.51.100.23", enrichment.SourceVirusTotal, enrichment.SeverityLow))

	threats.now = func() time.Time { return time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC) }
	threats.Save(ctx, record("192.0.2.5", enrichment.SourceVirusTotal, enrichment.SeverityLow))

	buckets, err := threats.Trends(ctx)
	if err != nil {
		t.Fatalf("Trends failed: %v", err)
	}

	if len(buckets) != 2 {
		t.Fatalf("expected 2 day buckets, got %v", buckets)
	}
	if buckets[0].Label != "2024-03-01" || buckets[0].Count != 2 {
		t.Errorf("unexpected first bucket: %+v", buckets[0])
	}
	if buckets[1].Label != "2024-03-02" || buckets[1].Count != 1 {
		t.Errorf("unexpected second bucket: %+v", buckets[1])
	}
}

// TestRecent verifies the limit and newest-first ordering.
func TestRecent(t *testing.T) {
	threats := openTestStore(t)
	ctx := context.Background()

	threats.now = func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }
	threats.Save(ctx, record("198.51.100.23", enrichment.SourceVirusTotal, enrichment.SeverityLow))

	threats.now = func() time.Time { return time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC) }
	threats.Save(ctx, record("203.0.113.67", enrichment.SourceVirusTotal, enrichment.SeverityHigh))

	recent, err := threats.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}

	if len(recent) != 1 {
		t.Fatalf("expected limit respected, got %d records", len(recent))
	}
	if recent[0].Indicator != "203.0.113.67" {
		t.Errorf("expected newest record first, got %s", recent[0].Indicator)
	}
}

// =============================================================================
// Export and Clear Tests
// =============================================================================

// TestExportCSV verifies the header row and tag formatting.
func TestExportCSV(t *testing.T) {
	threats := openTestStore(t)
	ctx := context.Background()

	rec := record("203.0.113.67", enrichment.SourceVirusTotal, enrichment.SeverityHigh)
	rec.Attributes["country"] = "RU"
	id, _ := threats.Save(ctx, rec)
	threats.AddTag(ctx, id, "apt29")
	threats.AddTag(ctx, id, "phishing")

	var buf bytes.Buffer
	if err := threats.ExportCSV(ctx, &buf); err != nil {
		t.Fatalf("ExportCSV failed: %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parsing exported CSV: %v", err)
	}

	if len(rows) != 2 {
		t.Fatalf("expected header plus 1 row, got %d rows", len(rows))
	}

	header := strings.Join(rows[0], ",")
	if header != "Indicator,Source,Timestamp,Data,Tags" {
		t.Errorf("unexpected header: %q", header)
	}

	row := rows[1]
	if row[0] != "203.0.113.67" || row[1] != "VirusTotal" {
		t.Errorf("unexpected row: %v", row)
	}
	if !strings.Contains(row[3], `"country":"RU"`) {
		t.Errorf("data column should carry attributes JSON, got %q", row[3])
	}
	if row[4] != "apt29, phishing" {
		t.Errorf("tags should be comma-joined, got %q", row[4])
	}
}

// TestDeleteAll verifies the full wipe reports the count.
func TestDeleteAll(t *testing.T) {
	threats := openTestStore(t)
	ctx := context.Background()

	threats.Save(ctx, record("203.0.113.67", enrichment.SourceVirusTotal, enrichment.SeverityHigh))
	threats.Save(ctx, record("198.51.100.23", enrichment.SourceAbuseIPDB, enrichment.SeverityLow))

	deleted, err := threats.DeleteAll(ctx)
	if err != nil {
		t.Fatalf("DeleteAll failed: %v", err)
	}

	if deleted != 2 {
		t.Errorf("expected 2 deleted, got %d", deleted)
	}

	kpis, _ := threats.KPIs(ctx)
	if kpis.TotalThreats != 0 {
		t.Errorf("store should be empty after DeleteAll, got %d", kpis.TotalThreats)
	}
}
