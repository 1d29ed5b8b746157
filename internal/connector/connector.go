package connector

import (
	"context"
	"time"
)

// RawEvent is one external activity as fetched from a source. The
// embeddable text rides alongside the record but is never persisted with
// it; after embedding it is discarded.
type RawEvent struct {
	Source         string
	ExternalID     string
	EventType      string
	Title          string
	URL            string
	Importance     float64
	OccurredAt     time.Time
	EmbeddableText string
	Metadata       map[string]any
}

// Connector fetches events from one external source. Fetches are expected
// to be idempotent by (source, external id); the pipeline deduplicates on
// insert either way.
type Connector interface {
	Source() string
	FetchEvents(ctx context.Context, since time.Time) ([]RawEvent, error)
}
