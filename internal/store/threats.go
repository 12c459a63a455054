// Package store persists the canonical threat record collection and the
// aggregate reads the dashboard-facing collaborators consume.
package store

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	_ "modernc.org/sqlite"

	"intelstream/internal/enrichment"
)

// ErrNotFound is returned when a record ID does not exist.
var ErrNotFound = errors.New("threat record not found")

const threatsSchema = `
CREATE TABLE IF NOT EXISTS threats (
	id         TEXT PRIMARY KEY,
	indicator  TEXT NOT NULL,
	source     TEXT NOT NULL,
	severity   TEXT NOT NULL,
	country    TEXT,
	latitude   REAL,
	longitude  REAL,
	attributes TEXT NOT NULL,
	tags       TEXT NOT NULL,
	timestamp  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_threats_timestamp ON threats (timestamp);
CREATE INDEX IF NOT EXISTS idx_threats_indicator ON threats (indicator);
`

// Threats is the SQLite-backed record collection.
type Threats struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// Open creates or opens the collection at path.
func Open(path string, logger *zap.Logger) (*Threats, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening threat store: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 10000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configuring threat store: %w", err)
	}
	if _, err := db.Exec(threatsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing threat store schema: %w", err)
	}
	return &Threats{db: db, logger: logger, now: time.Now}, nil
}

// Close releases the underlying handle.
func (t *Threats) Close() error {
	return t.db.Close()
}

// Save persists a record with latest-wins semantics: an existing row for
// the same (indicator, source) observed since midnight UTC is updated in
// place, otherwise a new row is inserted. The stored record's ID is
// returned either way.
func (t *Threats) Save(ctx context.Context, rec *enrichment.ThreatRecord) (string, error) {
	attrs, err := json.Marshal(rec.Attributes)
	if err != nil {
		return "", fmt.Errorf("encoding attributes: %w", err)
	}
	tags, err := json.Marshal(rec.Tags)
	if err != nil {
		return "", fmt.Errorf("encoding tags: %w", err)
	}

	var lat, lon any
	if rec.Geo != nil {
		lat, lon = rec.Geo.Latitude, rec.Geo.Longitude
	}

	now := t.now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	var existingID string
	err = t.db.QueryRowContext(ctx,
		"SELECT id FROM threats WHERE indicator = ? AND source = ? AND timestamp >= ?",
		rec.Indicator, string(rec.Source), midnight.Unix(),
	).Scan(&existingID)

	switch {
	case err == nil:
		_, err = t.db.ExecContext(ctx,
			`UPDATE threats SET severity = ?, country = ?, latitude = ?, longitude = ?,
			 attributes = ?, timestamp = ? WHERE id = ?`,
			string(rec.Severity), rec.Country(), lat, lon, string(attrs), now.Unix(), existingID,
		)
		if err != nil {
			return "", fmt.Errorf("updating threat record: %w", err)
		}
		return existingID, nil
	case err == sql.ErrNoRows:
		_, err = t.db.ExecContext(ctx,
			`INSERT INTO threats (id, indicator, source, severity, country, latitude, longitude, attributes, tags, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.Indicator, string(rec.Source), string(rec.Severity),
			rec.Country(), lat, lon, string(attrs), string(tags), now.Unix(),
		)
		if err != nil {
			return "", fmt.Errorf("inserting threat record: %w", err)
		}
		return rec.ID, nil
	default:
		return "", fmt.Errorf("querying threat record: %w", err)
	}
}

// AddTag appends a tag to the record with set semantics: adding a tag that
// is already present is a no-op.
func (t *Threats) AddTag(ctx context.Context, id, tag string) error {
	var rawTags string
	err := t.db.QueryRowContext(ctx, "SELECT tags FROM threats WHERE id = ?", id).Scan(&rawTags)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("loading tags: %w", err)
	}

	var tags []string
	if err := json.Unmarshal([]byte(rawTags), &tags); err != nil {
		tags = nil
	}
	for _, existing := range tags {
		if existing == tag {
			return nil
		}
	}
	tags = append(tags, tag)

	encoded, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("encoding tags: %w", err)
	}
	if _, err := t.db.ExecContext(ctx, "UPDATE threats SET tags = ? WHERE id = ?", string(encoded), id); err != nil {
		return fmt.Errorf("storing tags: %w", err)
	}
	return nil
}

// scanRecords materializes query rows back into threat records.
func scanRecords(rows *sql.Rows) ([]*enrichment.ThreatRecord, error) {
	defer rows.Close()

	var out []*enrichment.ThreatRecord
	for rows.Next() {
		var (
			rec      enrichment.ThreatRecord
			source   string
			severity string
			country  sql.NullString
			lat, lon sql.NullFloat64
			attrs    string
			tags     string
			ts       int64
		)
		if err := rows.Scan(&rec.ID, &rec.Indicator, &source, &severity, &country, &lat, &lon, &attrs, &tags, &ts); err != nil {
			return nil, fmt.Errorf("scanning threat record: %w", err)
		}
		rec.Source = enrichment.Source(source)
		rec.Severity = enrichment.Severity(severity)
		rec.ObservedAt = time.Unix(ts, 0).UTC()
		if lat.Valid {
			rec.Geo = &enrichment.Geo{Latitude: lat.Float64, Longitude: lon.Float64}
		}
		if err := json.Unmarshal([]byte(attrs), &rec.Attributes); err != nil {
			rec.Attributes = map[string]any{}
		}
		if err := json.Unmarshal([]byte(tags), &rec.Tags); err != nil {
			rec.Tags = []string{}
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

const recordColumns = "id, indicator, source, severity, country, latitude, longitude, attributes, tags, timestamp"

// Recent returns up to limit records, newest first.
func (t *Threats) Recent(ctx context.Context, limit int) ([]*enrichment.ThreatRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := t.db.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM threats ORDER BY timestamp DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent threats: %w", err)
	}
	return scanRecords(rows)
}

// ByIndicator returns all records for one indicator.
func (t *Threats) ByIndicator(ctx context.Context, indicator string) ([]*enrichment.ThreatRecord, error) {
	rows, err := t.db.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM threats WHERE indicator = ? ORDER BY timestamp DESC", indicator)
	if err != nil {
		return nil, fmt.Errorf("querying threats by indicator: %w", err)
	}
	return scanRecords(rows)
}

// ByTag returns up to limit records carrying the tag, newest first.
func (t *Threats) ByTag(ctx context.Context, tag string, limit int) ([]*enrichment.ThreatRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	// Tags are stored as a JSON array; match the quoted element.
	rows, err := t.db.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM threats WHERE tags LIKE ? ORDER BY timestamp DESC LIMIT ?",
		`%"`+tag+`"%`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying threats by tag: %w", err)
	}
	return scanRecords(rows)
}

// KPISummary holds the headline dashboard counters.
type KPISummary struct {
	TotalThreats     int `json:"total_threats"`
	HighSeverity     int `json:"high_severity"`
	MediumSeverity   int `json:"medium_severity"`
	UniqueIndicators int `json:"unique_indicators"`
}

// KPIs computes the headline counters.
func (t *Threats) KPIs(ctx context.Context) (*KPISummary, error) {
	var summary KPISummary
	err := t.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN severity = 'high' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN severity = 'medium' THEN 1 ELSE 0 END), 0),
		       COUNT(DISTINCT indicator)
		FROM threats`,
	).Scan(&summary.TotalThreats, &summary.HighSeverity, &summary.MediumSeverity, &summary.UniqueIndicators)
	if err != nil {
		return nil, fmt.Errorf("computing KPIs: %w", err)
	}
	return &summary, nil
}

// Bucket is one label/count pair from an aggregate read.
type Bucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

func (t *Threats) countBy(ctx context.Context, query string, args ...any) ([]Bucket, error) {
	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregating threats: %w", err)
	}
	defer rows.Close()

	var out []Bucket
	for rows.Next() {
		var b Bucket
		if err := rows.Scan(&b.Label, &b.Count); err != nil {
			return nil, fmt.Errorf("scanning aggregate row: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// CountBySource aggregates record counts per provider.
func (t *Threats) CountBySource(ctx context.Context) ([]Bucket, error) {
	return t.countBy(ctx,
		"SELECT source, COUNT(*) FROM threats GROUP BY source ORDER BY COUNT(*) DESC")
}

// CountBySeverity aggregates record counts per severity level.
func (t *Threats) CountBySeverity(ctx context.Context) ([]Bucket, error) {
	return t.countBy(ctx,
		"SELECT severity, COUNT(*) FROM threats WHERE severity != '' GROUP BY severity ORDER BY COUNT(*) DESC")
}

// TopCountries aggregates record counts for the top n countries, skipping
// records whose provider returned no geography.
func (t *Threats) TopCountries(ctx context.Context, n int) ([]Bucket, error) {
	if n <= 0 {
		n = 5
	}
	return t.countBy(ctx,
		"SELECT country, COUNT(*) FROM threats WHERE country != '' AND country != 'N/A' GROUP BY country ORDER BY COUNT(*) DESC LIMIT ?", n)
}

// Trends aggregates per-day record counts in ascending date order.
func (t *Threats) Trends(ctx context.Context) ([]Bucket, error) {
	return t.countBy(ctx,
		"SELECT date(timestamp, 'unixepoch'), COUNT(*) FROM threats GROUP BY date(timestamp, 'unixepoch') ORDER BY 1")
}

// ExportCSV streams the full collection as CSV.
func (t *Threats) ExportCSV(ctx context.Context, w io.Writer) error {
	records, err := t.Recent(ctx, 1<<30)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Indicator", "Source", "Timestamp", "Data", "Tags"}); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}
	for _, rec := range records {
		attrs, err := json.Marshal(rec.Attributes)
		if err != nil {
			return fmt.Errorf("encoding attributes: %w", err)
		}
		row := []string{
			rec.Indicator,
			string(rec.Source),
			rec.ObservedAt.Format(time.RFC3339),
			string(attrs),
			strings.Join(rec.Tags, ", "),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing CSV row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// DeleteAll removes every record and returns how many were deleted.
func (t *Threats) DeleteAll(ctx context.Context) (int64, error) {
	res, err := t.db.ExecContext(ctx, "DELETE FROM threats")
	if err != nil {
		return 0, fmt.Errorf("clearing threat store: %w", err)
	}
	deleted, _ := res.RowsAffected()
	t.logger.Info("cleared threat store", zap.Int64("deleted", deleted))
	return deleted, nil
}
