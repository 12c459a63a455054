package feed

import (
	"context"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// Poller Tests
// =============================================================================

// recordingEnricher captures submitted indicators.
type recordingEnricher struct {
	mu   sync.Mutex
	seen []string
}

func (r *recordingEnricher) Enrich(_ context.Context, indicator string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, indicator)
}

func (r *recordingEnricher) indicators() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.seen))
	copy(out, r.seen)
	return out
}

// TestPoller_SubmitsConfiguredIndicators verifies each tick submits one
// indicator from the configured set through the enrichment entry point.
func TestPoller_SubmitsConfiguredIndicators(t *testing.T) {
	enricher := &recordingEnricher{}
	poller := NewPoller(Config{
		Enabled:    true,
		Interval:   10 * time.Millisecond,
		Indicators: []string{"185.220.101.4", "91.219.29.55"},
	}, enricher, nil)

	// Deterministic selection for the test.
	calls := 0
	poller.pick = func(n int) int {
		calls++
		return calls % n
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		poller.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(enricher.indicators()) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected at least 3 submissions, got %v", enricher.indicators())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	known := map[string]bool{"185.220.101.4": true, "91.219.29.55": true}
	for _, ind := range enricher.indicators() {
		if !known[ind] {
			t.Errorf("poller submitted an indicator outside the configured set: %q", ind)
		}
	}
}

// TestPoller_NoIndicators verifies an empty set returns immediately rather
// than ticking forever.
func TestPoller_NoIndicators(t *testing.T) {
	poller := NewPoller(Config{Enabled: true, Interval: time.Millisecond}, &recordingEnricher{}, nil)

	done := make(chan struct{})
	go func() {
		poller.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller with no indicators should return immediately")
	}
}

// TestPoller_StopsOnCancel verifies cancellation ends the loop.
func TestPoller_StopsOnCancel(t *testing.T) {
	enricher := &recordingEnricher{}
	poller := NewPoller(Config{
		Interval:   5 * time.Millisecond,
		Indicators: []string{"185.220.101.4"},
	}, enricher, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		poller.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop on cancellation")
	}
}

// TestDefaultConfig verifies the stock feed is disabled and stocked.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Enabled {
		t.Error("feed should be disabled by default")
	}
	if cfg.Interval != 30*time.Second {
		t.Errorf("expected 30s interval, got %v", cfg.Interval)
	}
	if len(cfg.Indicators) != 6 {
		t.Errorf("expected 6 stock indicators, got %d", len(cfg.Indicators))
	}
}
