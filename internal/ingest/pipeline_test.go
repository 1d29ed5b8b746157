package ingest

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/bowerhall/contextbank/internal/bank"
	"github.com/bowerhall/contextbank/internal/config"
	"github.com/bowerhall/contextbank/internal/connector"
)

type fakeConnector struct {
	source string
	events []connector.RawEvent
	since  []time.Time
	err    error
}

func (f *fakeConnector) Source() string {
	return f.source
}

func (f *fakeConnector) FetchEvents(ctx context.Context, since time.Time) ([]connector.RawEvent, error) {
	f.since = append(f.since, since)
	if f.err != nil {
		return nil, f.err
	}
	return f.events, nil
}

type fakeEmbedder struct {
	calls int
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int {
	return 3
}

func (f *fakeEmbedder) Model() string {
	return "test-model"
}

func openTestStore(t *testing.T) *bank.Store {
	t.Helper()

	ranking := config.RankingConfig{
		Alpha:      config.DefaultAlpha,
		TauDays:    config.DefaultTauDays,
		Candidates: config.DefaultCandidates,
		Mode:       config.ModeWeighted,
	}

	store, err := bank.Open(":memory:", 3, ranking)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return store
}

func rawMessage(externalID, text string, occurred time.Time) connector.RawEvent {
	return connector.RawEvent{
		Source:         "slack",
		ExternalID:     externalID,
		EventType:      "message",
		OccurredAt:     occurred,
		EmbeddableText: text,
	}
}

func TestSyncIngestsAndEmbeds(t *testing.T) {
	store := openTestStore(t)
	emb := &fakeEmbedder{}
	now := time.Now().UTC()

	conn := &fakeConnector{source: "slack", events: []connector.RawEvent{
		rawMessage("m-1", "ship the release notes", now.Add(-time.Hour)),
		rawMessage("m-2", "lunch?", now.Add(-30*time.Minute)),
	}}

	p := NewPipeline(store, emb, []connector.Connector{conn}, 30)

	count, err := p.Sync(context.Background(), "u1")
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 new events, got %d", count)
	}

	chunks, err := store.CountChunks("u1", bank.ObjectEvent)
	if err != nil {
		t.Fatalf("failed to count chunks: %v", err)
	}
	if chunks != 2 {
		t.Errorf("expected 2 chunks, got %d", chunks)
	}

	// re-sync is idempotent: same events produce no new rows
	count, err = p.Sync(context.Background(), "u1")
	if err != nil {
		t.Fatalf("re-sync failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 new events on re-sync, got %d", count)
	}

	// first fetch starts from zero, second from the stored checkpoint
	if len(conn.since) != 2 {
		t.Fatalf("expected 2 fetches, got %d", len(conn.since))
	}
	if !conn.since[0].IsZero() {
		t.Errorf("expected zero since on first fetch, got %v", conn.since[0])
	}
	if conn.since[1].IsZero() {
		t.Error("expected checkpoint-based since on second fetch")
	}
}

func TestSyncSkipsFailingConnector(t *testing.T) {
	store := openTestStore(t)
	emb := &fakeEmbedder{}
	now := time.Now().UTC()

	broken := &fakeConnector{source: "telegram", err: context.DeadlineExceeded}
	working := &fakeConnector{source: "slack", events: []connector.RawEvent{
		rawMessage("m-1", "hello", now),
	}}

	p := NewPipeline(store, emb, []connector.Connector{broken, working}, 30)

	count, err := p.Sync(context.Background(), "u1")
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 event from the working connector, got %d", count)
	}

	// failed connector's checkpoint must not advance
	cp, err := store.Checkpoint("u1", "telegram")
	if err != nil {
		t.Fatalf("failed to read checkpoint: %v", err)
	}
	if !cp.IsZero() {
		t.Errorf("expected no checkpoint for failed connector, got %v", cp)
	}
}

func TestSyncSkipsEmptyText(t *testing.T) {
	store := openTestStore(t)
	emb := &fakeEmbedder{}
	now := time.Now().UTC()

	conn := &fakeConnector{source: "slack", events: []connector.RawEvent{
		rawMessage("m-1", "   ", now),
	}}

	p := NewPipeline(store, emb, []connector.Connector{conn}, 30)

	count, err := p.Sync(context.Background(), "u1")
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected event stored, got %d", count)
	}
	if emb.calls != 0 {
		t.Errorf("expected no embedding calls for blank text, got %d", emb.calls)
	}
}

func TestChunkText(t *testing.T) {
	if got := ChunkText("short", 3500); len(got) != 1 || got[0] != "short" {
		t.Errorf("expected single chunk, got %v", got)
	}

	long := strings.Repeat("a", 8000)
	chunks := ChunkText(long, 3500)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if len(chunks[0]) != 3500 || len(chunks[2]) != 1000 {
		t.Errorf("unexpected chunk sizes: %d, %d, %d", len(chunks[0]), len(chunks[1]), len(chunks[2]))
	}
}

func TestChunkTextRuneBoundaries(t *testing.T) {
	text := strings.Repeat("日", 7)
	chunks := ChunkText(text, 3)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	var rebuilt strings.Builder
	for i, c := range chunks {
		if !utf8.ValidString(c) {
			t.Errorf("chunk %d split a rune: %q", i, c)
		}
		rebuilt.WriteString(c)
	}
	if rebuilt.String() != text {
		t.Error("expected chunks to reassemble into the original text")
	}
}

func TestContentHashStable(t *testing.T) {
	if ContentHash("hello") != ContentHash("hello") {
		t.Error("expected stable hash")
	}
	if ContentHash("hello") == ContentHash("world") {
		t.Error("expected different hashes for different text")
	}
}

func TestRetentionCascades(t *testing.T) {
	store := openTestStore(t)
	now := time.Now().UTC()

	// expired event with two chunks
	expiredID, _, err := store.InsertEvent(bank.Event{
		UserID: "u1", Source: "slack", ExternalID: "old",
		EventType: "message", OccurredAt: now.AddDate(0, 0, -40), ExpiresAt: now.AddDate(0, 0, -10),
	})
	if err != nil {
		t.Fatalf("failed to insert expired event: %v", err)
	}
	for i := 0; i < 2; i++ {
		_, err := store.UpsertChunk(bank.ChunkUpsert{
			UserID: "u1", ObjectType: bank.ObjectEvent, ObjectID: expiredID,
			ChunkIndex: i, Vector: []float32{1, 0, 0}, Model: "m", ContentHash: "h",
		})
		if err != nil {
			t.Fatalf("failed to upsert chunk: %v", err)
		}
	}

	// orphan chunk with no event row at all
	_, err = store.UpsertChunk(bank.ChunkUpsert{
		UserID: "u1", ObjectType: bank.ObjectEvent, ObjectID: "missing",
		Vector: []float32{0, 1, 0}, Model: "m", ContentHash: "h2",
	})
	if err != nil {
		t.Fatalf("failed to upsert orphan: %v", err)
	}

	// live event and chunk survive
	liveID, _, err := store.InsertEvent(bank.Event{
		UserID: "u1", Source: "slack", ExternalID: "fresh",
		EventType: "message", OccurredAt: now, ExpiresAt: now.AddDate(0, 0, 30),
	})
	if err != nil {
		t.Fatalf("failed to insert live event: %v", err)
	}
	_, err = store.UpsertChunk(bank.ChunkUpsert{
		UserID: "u1", ObjectType: bank.ObjectEvent, ObjectID: liveID,
		Vector: []float32{0, 0, 1}, Model: "m", ContentHash: "h3",
	})
	if err != nil {
		t.Fatalf("failed to upsert live chunk: %v", err)
	}

	stats, err := NewRetention(store).Run(context.Background(), "u1")
	if err != nil {
		t.Fatalf("retention failed: %v", err)
	}

	if stats.DeletedEvents != 1 {
		t.Errorf("expected 1 deleted event, got %d", stats.DeletedEvents)
	}
	if stats.DeletedChunks != 3 {
		t.Errorf("expected 3 deleted chunks (2 cascaded + 1 orphan), got %d", stats.DeletedChunks)
	}

	remaining, err := store.CountChunks("u1", bank.ObjectEvent)
	if err != nil {
		t.Fatalf("failed to count chunks: %v", err)
	}
	if remaining != 1 {
		t.Errorf("expected live chunk to survive, got %d", remaining)
	}

	if ev, err := store.GetEvent("u1", expiredID); err != nil || ev != nil {
		t.Errorf("expected expired event gone, got %v (err %v)", ev, err)
	}
	if ev, err := store.GetEvent("u1", liveID); err != nil || ev == nil {
		t.Errorf("expected live event to survive (err %v)", err)
	}
}

func TestRetentionEmptyStore(t *testing.T) {
	store := openTestStore(t)

	stats, err := NewRetention(store).Run(context.Background(), "u1")
	if err != nil {
		t.Fatalf("retention failed: %v", err)
	}
	if stats.DeletedEvents != 0 || stats.DeletedChunks != 0 {
		t.Errorf("expected nothing deleted, got %+v", stats)
	}
}
