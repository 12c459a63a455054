// Package feed simulates a live threat feed by periodically pushing a
// known-bad indicator through the same enrichment entry point a client
// lookup uses.
package feed

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Enricher is the pipeline entry point the poller drives.
type Enricher interface {
	Enrich(ctx context.Context, indicator string)
}

// Config holds live feed settings.
type Config struct {
	Enabled    bool          `yaml:"enabled"`
	Interval   time.Duration `yaml:"interval"`
	Indicators []string      `yaml:"indicators"`
}

// DefaultConfig returns the stock feed configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:  false,
		Interval: 30 * time.Second,
		Indicators: []string{
			"185.220.101.4", "91.219.29.55", "198.54.117.199",
			"172.67.139.117", "104.21.23.149", "195.133.40.25",
		},
	}
}

// Poller drives the enrichment pipeline on a timer.
type Poller struct {
	config   Config
	enricher Enricher
	logger   *zap.Logger
	pick     func(n int) int
}

// NewPoller creates a poller over the configured indicator set.
func NewPoller(cfg Config, enricher Enricher, logger *zap.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		config:   cfg,
		enricher: enricher,
		logger:   logger,
		pick:     rand.Intn,
	}
}

// Run polls until ctx is cancelled. Each tick selects a random indicator
// and submits it through the normal enrichment path; there is no separate
// fetch logic for the feed.
func (p *Poller) Run(ctx context.Context) {
	if len(p.config.Indicators) == 0 {
		p.logger.Warn("live feed has no indicators configured, not polling")
		return
	}

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	p.logger.Info("live feed polling started",
		zap.Duration("interval", p.config.Interval),
		zap.Int("indicators", len(p.config.Indicators)))

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("live feed polling stopped")
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	indicator := p.config.Indicators[p.pick(len(p.config.Indicators))]
	p.logger.Info("live feed found new indicator", zap.String("indicator", indicator))
	p.enricher.Enrich(ctx, indicator)
}
