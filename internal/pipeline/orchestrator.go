// Package pipeline fans indicator lookups out to the configured providers,
// consulting the cache first, and streams normalized records to observers
// as each source completes.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"intelstream/internal/cache"
	"intelstream/internal/enrichment"
	"intelstream/internal/events"
	"intelstream/internal/observability"
)

// RecordStore persists normalized records and their tag mutations. The
// SQLite-backed collection is the production implementation; tests inject
// fakes.
type RecordStore interface {
	Save(ctx context.Context, rec *enrichment.ThreatRecord) (string, error)
	AddTag(ctx context.Context, id, tag string) error
}

// Orchestrator runs one enrichment per request. It holds no mutable state
// of its own, so a single instance serves concurrent requests; the sources
// are attempted sequentially, in the priority order they were configured,
// which keeps per-source emission order deterministic and avoids request
// bursts against rate-limited providers.
type Orchestrator struct {
	adapters []enrichment.Adapter
	cache    cache.Store
	records  RecordStore
	sink     events.Sink
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// New wires an orchestrator. cache, records, and metrics may be nil, in
// which case caching, persistence, or instrumentation is skipped.
func New(adapters []enrichment.Adapter, store cache.Store, records RecordStore, sink events.Sink, logger *zap.Logger, metrics *observability.Metrics) *Orchestrator {
	if store == nil {
		store = cache.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		adapters: adapters,
		cache:    store,
		records:  records,
		sink:     sink,
		logger:   logger,
		metrics:  metrics,
	}
}

// Sources returns the configured providers in priority order.
func (o *Orchestrator) Sources() []enrichment.Source {
	out := make([]enrichment.Source, 0, len(o.adapters))
	for _, a := range o.adapters {
		out = append(out, a.Name())
	}
	return out
}

// Enrich looks the indicator up against every configured source, emitting
// each normalized record as it becomes available, then a terminal
// completion status. An empty indicator is a silent no-op. A failure in
// one source never prevents the remaining sources from being attempted;
// cancelling ctx stops before the next source is started.
func (o *Orchestrator) Enrich(ctx context.Context, value string) {
	if value == "" {
		return
	}

	ind := enrichment.NewIndicator(value)
	log := o.logger.With(zap.String("indicator", ind.Value), zap.String("type", string(ind.Type)))

	o.emit(ctx, events.Status(fmt.Sprintf("BEGINNING ANALYSIS FOR %s...", ind.Value)))

	for _, adapter := range o.adapters {
		if ctx.Err() != nil {
			log.Info("enrichment cancelled, skipping remaining sources")
			return
		}
		o.lookupSource(ctx, adapter, ind, log)
	}

	o.emit(ctx, events.Status("Analysis complete."))
}

// lookupSource runs the cache-then-fetch path for one provider. Every
// failure is converted into "this source contributed nothing this round".
func (o *Orchestrator) lookupSource(ctx context.Context, adapter enrichment.Adapter, ind enrichment.Indicator, log *zap.Logger) {
	source := adapter.Name()
	o.emit(ctx, events.Status(fmt.Sprintf("Querying %s...", source)))

	if cached, ok, err := o.cache.Get(ctx, ind.Value, source); err == nil && ok {
		if o.metrics != nil {
			o.metrics.CacheHits.WithLabelValues(string(source)).Inc()
		}
		log.Debug("cache hit", zap.String("source", string(source)))
		o.emitRecord(ctx, source, cached)
		return
	}
	if o.metrics != nil {
		o.metrics.CacheMisses.WithLabelValues(string(source)).Inc()
	}

	start := time.Now()
	raw, err := adapter.Lookup(ctx, ind)
	if o.metrics != nil {
		o.metrics.EnrichmentDuration.WithLabelValues(string(source)).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		o.countRequest(source, "failure")
		log.Warn("provider lookup failed", zap.String("source", string(source)), zap.Error(err))
		return
	}
	if raw == nil {
		o.countRequest(source, "not_found")
		log.Debug("provider returned nothing", zap.String("source", string(source)))
		return
	}

	rec := enrichment.Normalize(source, raw, ind.Value)
	if rec == nil {
		o.countRequest(source, "no_data")
		log.Debug("response lacked required fields", zap.String("source", string(source)))
		return
	}
	o.countRequest(source, "success")
	if o.metrics != nil {
		o.metrics.ThreatsBySeverity.WithLabelValues(string(rec.Severity)).Inc()
	}

	if err := o.cache.Put(ctx, ind, source, rec); err != nil {
		log.Warn("caching result failed", zap.String("source", string(source)), zap.Error(err))
	}
	if o.records != nil {
		id, err := o.records.Save(ctx, rec)
		if err != nil {
			log.Warn("persisting record failed", zap.String("source", string(source)), zap.Error(err))
		} else {
			rec.ID = id
		}
	}

	o.emitRecord(ctx, source, rec)
}

// emitRecord pushes new_threat_data, plus new_geo_threat when the record
// carries a latitude.
func (o *Orchestrator) emitRecord(ctx context.Context, source enrichment.Source, rec *enrichment.ThreatRecord) {
	o.emit(ctx, events.NewThreat(source, rec))
	if rec.Geo != nil {
		o.emit(ctx, events.NewGeoThreat(rec))
	}
}

// AddTag records a tag against a stored threat record and announces it.
// Both fields are required; a blank pair is ignored without an event.
func (o *Orchestrator) AddTag(ctx context.Context, threatID, tag string) error {
	if threatID == "" || tag == "" {
		return nil
	}
	if o.records == nil {
		return nil
	}
	if err := o.records.AddTag(ctx, threatID, tag); err != nil {
		return fmt.Errorf("adding tag: %w", err)
	}
	o.emit(ctx, events.TagAdded(threatID, tag))
	return nil
}

func (o *Orchestrator) emit(ctx context.Context, ev events.Event) {
	if o.metrics != nil {
		o.metrics.EventsEmitted.WithLabelValues(string(ev.Type)).Inc()
	}
	if err := o.sink.Emit(ctx, ev); err != nil {
		o.logger.Warn("emitting event failed", zap.String("type", string(ev.Type)), zap.Error(err))
	}
}

func (o *Orchestrator) countRequest(source enrichment.Source, status string) {
	if o.metrics != nil {
		o.metrics.EnrichmentRequests.WithLabelValues(string(source), status).Inc()
	}
}
