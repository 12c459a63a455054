// Package api exposes the HTTP surface: the enrichment trigger, the
// real-time result stream, and the administrative reads over the threat
// record collection.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"intelstream/internal/aiscore"
	"intelstream/internal/enrichment"
	"intelstream/internal/events"
	"intelstream/internal/observability"
	"intelstream/internal/pipeline"
	"intelstream/internal/store"
)

// Server wires the pipeline and record collection into HTTP handlers.
type Server struct {
	orch    *pipeline.Orchestrator
	hub     *events.Hub
	threats *store.Threats
	limiter *Limiter
	scorer  *aiscore.Client
	logger  *zap.Logger
	metrics bool

	// baseCtx scopes asynchronous enrichment runs to the process
	// lifetime rather than the triggering request.
	baseCtx context.Context
}

// New creates a server. baseCtx governs background enrichment runs;
// limiter and scorer may be nil to serve without a request budget or
// without AI scoring.
func New(baseCtx context.Context, orch *pipeline.Orchestrator, hub *events.Hub, threats *store.Threats, limiter *Limiter, scorer *aiscore.Client, logger *zap.Logger, metricsEnabled bool) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		orch:    orch,
		hub:     hub,
		threats: threats,
		limiter: limiter,
		scorer:  scorer,
		logger:  logger,
		metrics: metricsEnabled,
		baseCtx: baseCtx,
	}
}

// Router builds the chi router.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	if s.metrics {
		r.Method(http.MethodGet, "/metrics", observability.Handler())
	}
	r.Get("/export", s.handleExport)

	r.Route("/api/v1", func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.Middleware)
		}
		r.Post("/enrich", s.handleEnrich)
		r.Post("/score", s.handleScore)
		r.Post("/tag", s.handleTag)
		r.Get("/stream", s.handleStream)
		r.Post("/clear_db", s.handleClearDB)

		r.Route("/threats", func(r chi.Router) {
			r.Get("/recent", s.handleRecent)
			r.Get("/kpis", s.handleKPIs)
			r.Get("/by_source", s.handleBySource)
			r.Get("/by_severity", s.handleBySeverity)
			r.Get("/top_countries", s.handleTopCountries)
			r.Get("/trends", s.handleTrends)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// EnrichRequest is the minimal trigger shape; additional fields are
// ignored.
type EnrichRequest struct {
	Indicator string `json:"indicator"`
}

func (s *Server) handleEnrich(w http.ResponseWriter, r *http.Request) {
	var req EnrichRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	// An absent indicator is a silent no-op, not an error.
	if req.Indicator == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	go s.orch.Enrich(s.baseCtx, req.Indicator)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":    "accepted",
		"indicator": req.Indicator,
	})
}

// ScoreRequest carries one artifact for AI phishing triage. Artifact is
// passed to the model verbatim; when absent the indicator value alone is
// scored.
type ScoreRequest struct {
	Indicator string         `json:"indicator"`
	Artifact  map[string]any `json:"artifact"`
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	if s.scorer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "AI scoring is not enabled"})
		return
	}

	var req ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Indicator == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "indicator is required"})
		return
	}

	artifact := req.Artifact
	if artifact == nil {
		artifact = map[string]any{"indicator": req.Indicator}
	}

	verdict, err := s.scorer.Score(r.Context(), enrichment.NewIndicator(req.Indicator), artifact)
	if err != nil {
		s.logger.Error("AI scoring failed", zap.String("indicator", req.Indicator), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, verdict)
}

// TagRequest is the tag trigger shape.
type TagRequest struct {
	ThreatID string `json:"threat_id"`
	Tag      string `json:"tag"`
}

func (s *Server) handleTag(w http.ResponseWriter, r *http.Request) {
	var req TagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.ThreatID == "" || req.Tag == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "threat_id and tag are required"})
		return
	}

	if err := s.orch.AddTag(r.Context(), req.ThreatID, req.Tag); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "tagged"})
}

// handleStream serves the result stream over SSE. Each pipeline event is
// one SSE message whose event name is the pipeline event type.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, cancel := s.hub.Subscribe()
	defer cancel()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case ev, open := <-ch:
			if !open {
				return
			}
			payload, err := json.Marshal(ev.Payload)
			if err != nil {
				s.logger.Warn("encoding stream event failed", zap.Error(err))
				continue
			}
			if _, err := w.Write([]byte("event: " + string(ev.Type) + "\ndata: " + string(payload) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := s.threats.Recent(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"threats": records, "count": len(records)})
}

func (s *Server) handleKPIs(w http.ResponseWriter, r *http.Request) {
	kpis, err := s.threats.KPIs(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, kpis)
}

// chartSeries is the labels/data shape the dashboard widgets consume.
type chartSeries struct {
	Labels []string `json:"labels"`
	Data   []int    `json:"data"`
}

func toSeries(buckets []store.Bucket) chartSeries {
	series := chartSeries{Labels: []string{}, Data: []int{}}
	for _, b := range buckets {
		series.Labels = append(series.Labels, b.Label)
		series.Data = append(series.Data, b.Count)
	}
	return series
}

func (s *Server) handleBySource(w http.ResponseWriter, r *http.Request) {
	buckets, err := s.threats.CountBySource(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, toSeries(buckets))
}

func (s *Server) handleBySeverity(w http.ResponseWriter, r *http.Request) {
	buckets, err := s.threats.CountBySeverity(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, toSeries(buckets))
}

// countryRank is one top-countries row with a percentage relative to the
// leading country, for the progress-bar widget.
type countryRank struct {
	Name       string `json:"name"`
	Count      int    `json:"count"`
	Percentage int    `json:"percentage"`
}

func (s *Server) handleTopCountries(w http.ResponseWriter, r *http.Request) {
	buckets, err := s.threats.TopCountries(r.Context(), 5)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	maxCount := 0
	for _, b := range buckets {
		if b.Count > maxCount {
			maxCount = b.Count
		}
	}
	ranks := []countryRank{}
	for _, b := range buckets {
		pct := 0
		if maxCount > 0 {
			pct = b.Count * 100 / maxCount
		}
		ranks = append(ranks, countryRank{Name: b.Label, Count: b.Count, Percentage: pct})
	}
	writeJSON(w, http.StatusOK, ranks)
}

func (s *Server) handleTrends(w http.ResponseWriter, r *http.Request) {
	buckets, err := s.threats.Trends(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, toSeries(buckets))
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment;filename=threat_data.csv")
	if err := s.threats.ExportCSV(r.Context(), w); err != nil {
		s.logger.Error("CSV export failed", zap.Error(err))
	}
}

func (s *Server) handleClearDB(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.threats.DeleteAll(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Successfully deleted " + strconv.FormatInt(deleted, 10) + " records from the database.",
		"status":  "success",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
