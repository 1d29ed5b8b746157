package agents

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bowerhall/contextbank/internal/bank"
	"github.com/bowerhall/contextbank/internal/config"
	"github.com/bowerhall/contextbank/internal/orchestrator"
)

type fakeEmbedder struct {
	vector []float32
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vector
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int {
	return len(f.vector)
}

func (f *fakeEmbedder) Model() string {
	return "test-model"
}

type fixture struct {
	store  *bank.Store
	router *Router
	model  *fakeLLM
}

func newFixture(t *testing.T, model *fakeLLM) *fixture {
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

	records, err := NewRecords(store.DB())
	if err != nil {
		t.Fatalf("failed to create records: %v", err)
	}

	emb := &fakeEmbedder{vector: []float32{1, 0, 0}}
	query := NewQueryAgent(store, emb, model, nil)
	summarize := NewSummarizeAgent(store, emb, model, records, query)
	task := NewTaskAgent(store, emb, model, records)

	router := NewRouter(model, query, summarize, task)
	router.now = func() time.Time { return testNow }

	return &fixture{store: store, router: router, model: model}
}

func newOrchestrator(t *testing.T, f *fixture, userID string) *orchestrator.Orchestrator {
	t.Helper()

	o, err := orchestrator.New(f.store.DB(), userID)
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}
	return o
}

func seedEvent(t *testing.T, f *fixture, userID string, occurred time.Time) string {
	t.Helper()

	eventID, _, err := f.store.InsertEvent(bank.Event{
		UserID:     userID,
		Source:     "slack",
		ExternalID: "m-" + occurred.Format("150405"),
		EventType:  "message",
		OccurredAt: occurred,
		ExpiresAt:  occurred.AddDate(0, 0, 30),
	})
	if err != nil {
		t.Fatalf("failed to insert event: %v", err)
	}

	_, err = f.store.UpsertChunk(bank.ChunkUpsert{
		UserID:      userID,
		ObjectType:  bank.ObjectEvent,
		ObjectID:    eventID,
		Vector:      []float32{1, 0, 0},
		Model:       "test-model",
		ContentHash: "h-" + eventID,
		OccurredAt:  &occurred,
	})
	if err != nil {
		t.Fatalf("failed to upsert chunk: %v", err)
	}

	return eventID
}

func TestHandleClarificationGate(t *testing.T) {
	model := &fakeLLM{responses: map[string]string{
		"Extract which communication": `{"sources": [], "confidence": 0.2, "explicit": false}`,
		"Extract the time range":      `{"start_time": null, "end_time": null, "confidence": 0.2, "explicit": false}`,
	}}
	f := newFixture(t, model)
	orch := newOrchestrator(t, f, "u1")

	resp, err := f.router.Handle(context.Background(), orch, "u1", "hi")
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	if resp.Intent != IntentClarification {
		t.Fatalf("expected clarification, got %s", resp.Intent)
	}
	if resp.Clarification == nil {
		t.Fatal("expected clarification payload")
	}

	missing := map[string]bool{}
	for _, field := range resp.Clarification.MissingFields {
		missing[field] = true
	}
	if !missing["sources"] || !missing["time_range"] {
		t.Errorf("expected both fields missing, got %v", resp.Clarification.MissingFields)
	}

	// the gate runs before classification; no agent execution is persisted
	var count int
	if err := f.store.DB().QueryRow(`SELECT COUNT(*) FROM agent_executions`).Scan(&count); err != nil {
		t.Fatalf("failed to count executions: %v", err)
	}
	if count != 0 {
		t.Errorf("expected no executions for clarification turn, got %d", count)
	}
}

func TestHandleSummarizeIntent(t *testing.T) {
	model := &fakeLLM{responses: map[string]string{
		"Classify the user request": `{"intent": "summarize"}`,
		"Summarize the following":   `{"overview": "quiet day", "key_events": [], "themes": ["standup"]}`,
	}}
	f := newFixture(t, model)
	orch := newOrchestrator(t, f, "u1")

	seedEvent(t, f, "u1", testNow.Add(-1*time.Hour))

	resp, err := f.router.Handle(context.Background(), orch, "u1", "summarize my slack messages from the last 2 hours")
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	if resp.Intent != IntentSummarize {
		t.Fatalf("expected summarize intent, got %s", resp.Intent)
	}
	if resp.Result["overview"] != "quiet day" {
		t.Errorf("unexpected result: %v", resp.Result)
	}
	if resp.SessionID != orch.SessionID() {
		t.Errorf("expected session id %s, got %s", orch.SessionID(), resp.SessionID)
	}

	var summaries int
	if err := f.store.DB().QueryRow(`SELECT COUNT(*) FROM summaries WHERE user_id = 'u1'`).Scan(&summaries); err != nil {
		t.Fatalf("failed to count summaries: %v", err)
	}
	if summaries != 1 {
		t.Errorf("expected 1 persisted summary, got %d", summaries)
	}
}

func TestHandleTaskIntent(t *testing.T) {
	model := &fakeLLM{responses: map[string]string{
		"Classify the user request": `{"intent": "task"}`,
		"Identify actionable tasks": `{"tasks": [{"title": "Reply to Sam", "details": "about the launch", "priority": "high", "due_at": null, "source_refs": []}]}`,
	}}
	f := newFixture(t, model)
	orch := newOrchestrator(t, f, "u1")

	seedEvent(t, f, "u1", testNow.Add(-30*time.Minute))

	resp, err := f.router.Handle(context.Background(), orch, "u1", "what needs action in slack from the last 4 hours")
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	if resp.Intent != IntentTask {
		t.Fatalf("expected task intent, got %s", resp.Intent)
	}

	records, err := NewRecords(f.store.DB())
	if err != nil {
		t.Fatalf("failed to open records: %v", err)
	}
	tasks, err := records.OpenTasks("u1", 10)
	if err != nil {
		t.Fatalf("failed to list tasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}
	if tasks[0].Title != "Reply to Sam" || tasks[0].Priority != "high" {
		t.Errorf("unexpected task: %+v", tasks[0])
	}
}

func TestHandleUnknownIntentDefaultsToQuery(t *testing.T) {
	model := &fakeLLM{responses: map[string]string{
		"Classify the user request":  `{"intent": "banter"}`,
		"Answer the user's question": `{"answer": "you discussed the launch", "confidence": 0.9, "citations": []}`,
	}}
	f := newFixture(t, model)
	orch := newOrchestrator(t, f, "u1")

	seedEvent(t, f, "u1", testNow.Add(-1*time.Hour))

	resp, err := f.router.Handle(context.Background(), orch, "u1", "tell me about slack chatter from the last 6 hours")
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	if resp.Intent != IntentQuery {
		t.Fatalf("expected query fallback, got %s", resp.Intent)
	}
	if resp.Result["answer"] != "you discussed the launch" {
		t.Errorf("unexpected result: %v", resp.Result)
	}
}

func TestAnswerWithContextFoldsOldSummary(t *testing.T) {
	model := &fakeLLM{responses: map[string]string{
		"Answer the user's question": `{"answer": "ok", "confidence": 0.5, "citations": []}`,
	}}
	f := newFixture(t, model)
	orch := newOrchestrator(t, f, "u1")

	// a prior summarize execution, visible across sessions
	_, err := orch.Execute(context.Background(), "summarize", "summarize", "earlier summary",
		nil, func(ctx context.Context, prompt string, params map[string]string) (string, error) {
			return `{"overview": "busy week shipping"}`, nil
		})
	if err != nil {
		t.Fatalf("failed to seed summarize execution: %v", err)
	}

	// stale event: ~90 days old, recency far below the threshold
	old := testNow.AddDate(0, 0, -90)
	eventID, _, err := f.store.InsertEvent(bank.Event{
		UserID: "u1", Source: "slack", ExternalID: "old-1",
		EventType: "message", OccurredAt: old, ExpiresAt: testNow.AddDate(0, 0, 30),
	})
	if err != nil {
		t.Fatalf("failed to insert event: %v", err)
	}
	_, err = f.store.UpsertChunk(bank.ChunkUpsert{
		UserID: "u1", ObjectType: bank.ObjectEvent, ObjectID: eventID,
		Vector: []float32{1, 0, 0}, Model: "test-model", ContentHash: "h-old", OccurredAt: &old,
	})
	if err != nil {
		t.Fatalf("failed to upsert chunk: %v", err)
	}

	fresh := newOrchestrator(t, f, "u1")
	_, err = f.router.query.AnswerWithContext(context.Background(), fresh, "u1", "what happened", []string{"slack"}, nil, nil)
	if err != nil {
		t.Fatalf("answer failed: %v", err)
	}

	folded := false
	for _, call := range model.calls {
		if strings.Contains(call, "Answer the user's question") && strings.Contains(call, "busy week shipping") {
			folded = true
		}
	}
	if !folded {
		t.Error("expected prior summary folded into the completion prompt")
	}
}
