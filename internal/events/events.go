// Package events defines the incremental result events the pipeline pushes
// to observers, and the sink implementations that carry them.
package events

import (
	"context"
	"sync"

	"intelstream/internal/enrichment"
)

// Type identifies an event on the result stream.
type Type string

const (
	TypeStatusUpdate  Type = "status_update"
	TypeNewThreatData Type = "new_threat_data"
	TypeNewGeoThreat  Type = "new_geo_threat"
	TypeTagAdded      Type = "tag_added"
)

// Event is one message on the result stream.
type Event struct {
	Type    Type `json:"type"`
	Payload any  `json:"payload"`
}

// StatusPayload accompanies status_update events.
type StatusPayload struct {
	Message string `json:"message"`
}

// ThreatPayload accompanies new_threat_data events.
type ThreatPayload struct {
	Source enrichment.Source        `json:"source"`
	Data   *enrichment.ThreatRecord `json:"data"`
}

// TagPayload accompanies tag_added events.
type TagPayload struct {
	ThreatID string `json:"threat_id"`
	Tag      string `json:"tag"`
}

// Status builds a status_update event.
func Status(message string) Event {
	return Event{Type: TypeStatusUpdate, Payload: StatusPayload{Message: message}}
}

// NewThreat builds a new_threat_data event.
func NewThreat(source enrichment.Source, rec *enrichment.ThreatRecord) Event {
	return Event{Type: TypeNewThreatData, Payload: ThreatPayload{Source: source, Data: rec}}
}

// NewGeoThreat builds a new_geo_threat event carrying the record itself.
func NewGeoThreat(rec *enrichment.ThreatRecord) Event {
	return Event{Type: TypeNewGeoThreat, Payload: rec}
}

// TagAdded builds a tag_added event.
func TagAdded(threatID, tag string) Event {
	return Event{Type: TypeTagAdded, Payload: TagPayload{ThreatID: threatID, Tag: tag}}
}

// Sink receives incremental pipeline events. The real-time transport is one
// implementation; a recording sink for tests is another.
type Sink interface {
	Emit(ctx context.Context, ev Event) error
}

// Multi tees events to several sinks. A failing sink does not stop the
// others; the first error is returned.
type Multi []Sink

// Emit sends the event to every sink in order.
func (m Multi) Emit(ctx context.Context, ev Event) error {
	var first error
	for _, s := range m {
		if err := s.Emit(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Recorder is a sink that captures events for inspection in tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit appends the event to the recording.
func (r *Recorder) Emit(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns the recorded events matching t, in emission order.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
