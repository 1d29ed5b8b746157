package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/bowerhall/contextbank/internal/bank"
	"github.com/bowerhall/contextbank/internal/connector"
	"github.com/bowerhall/contextbank/internal/embedder"
	"github.com/bowerhall/contextbank/internal/logger"
)

const maxChunkChars = 3500

// Pipeline pulls events from connectors into the bank: idempotent event
// rows, then chunked embeddings for whatever text each event carried. The
// text itself is never persisted.
type Pipeline struct {
	store      *bank.Store
	embedder   embedder.Embedder
	connectors []connector.Connector
	ttlDays    int
	now        func() time.Time
}

func NewPipeline(store *bank.Store, emb embedder.Embedder, connectors []connector.Connector, ttlDays int) *Pipeline {
	return &Pipeline{
		store:      store,
		embedder:   emb,
		connectors: connectors,
		ttlDays:    ttlDays,
		now:        time.Now,
	}
}

// Sync runs one ingestion pass for a user across every connector. A failing
// connector is logged and skipped; its checkpoint does not advance. Returns
// the number of newly stored events.
func (p *Pipeline) Sync(ctx context.Context, userID string) (int, error) {
	total := 0

	for _, conn := range p.connectors {
		since, err := p.store.Checkpoint(userID, conn.Source())
		if err != nil {
			return total, err
		}

		events, err := conn.FetchEvents(ctx, since)
		if err != nil {
			logger.Warn("connector fetch failed", "source", conn.Source(), "error", err)
			continue
		}

		count, err := p.ingestEvents(ctx, userID, events)
		if err != nil {
			return total, err
		}
		total += count

		if err := p.store.SetCheckpoint(userID, conn.Source(), p.now().UTC()); err != nil {
			return total, err
		}

		logger.Debug("source synced", "source", conn.Source(), "fetched", len(events), "new", count)
	}

	return total, nil
}

func (p *Pipeline) ingestEvents(ctx context.Context, userID string, events []connector.RawEvent) (int, error) {
	count := 0
	now := p.now().UTC()

	for _, raw := range events {
		occurred := raw.OccurredAt
		if occurred.IsZero() {
			occurred = now
		}

		eventID, created, err := p.store.InsertEvent(bank.Event{
			UserID:     userID,
			Source:     raw.Source,
			ExternalID: raw.ExternalID,
			EventType:  defaultString(raw.EventType, "message"),
			Title:      raw.Title,
			URL:        raw.URL,
			Importance: raw.Importance,
			OccurredAt: occurred,
			ExpiresAt:  now.AddDate(0, 0, p.ttlDays),
			Metadata:   raw.Metadata,
		})
		if err != nil {
			return count, err
		}
		if !created {
			continue
		}
		count++

		text := strings.TrimSpace(raw.EmbeddableText)
		if text == "" {
			continue
		}

		if err := p.embedEvent(ctx, userID, eventID, raw.Source, text, occurred); err != nil {
			// the event row stays; the next changed fetch re-embeds it
			logger.Warn("embedding failed", "event", eventID, "error", err)
		}
	}

	return count, nil
}

// embedEvent chunks the text, embeds each chunk and stores the vectors.
// The hash covers the whole text so a changed message re-embeds every chunk.
func (p *Pipeline) embedEvent(ctx context.Context, userID, eventID, source, text string, occurred time.Time) error {
	hash := ContentHash(text)
	chunks := ChunkText(text, maxChunkChars)

	vectors, err := p.embedder.Embed(ctx, chunks)
	if err != nil {
		return err
	}

	for i, vector := range vectors {
		_, err := p.store.UpsertChunk(bank.ChunkUpsert{
			UserID:      userID,
			ObjectType:  bank.ObjectEvent,
			ObjectID:    eventID,
			ChunkIndex:  i,
			Vector:      vector,
			Model:       p.embedder.Model(),
			ContentHash: hash,
			Metadata:    map[string]any{"source": source},
			OccurredAt:  &occurred,
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// ContentHash is the idempotency hash over an event's embeddable text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// ChunkText splits text into fixed-size character chunks.
// ChunkText splits on rune boundaries so a multi-byte character never
// straddles two chunks.
func ChunkText(text string, maxChars int) []string {
	runes := []rune(text)
	if len(runes) <= maxChars {
		return []string{text}
	}

	var chunks []string
	for i := 0; i < len(runes); i += maxChars {
		end := i + maxChars
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
