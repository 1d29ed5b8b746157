package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bowerhall/contextbank/internal/bank"
	"github.com/bowerhall/contextbank/internal/embedder"
	"github.com/bowerhall/contextbank/internal/llm"
)

const taskTopK = 50

// TaskAgent extracts actionable items from ranked context and persists one
// task record per item. It always acts on request.
type TaskAgent struct {
	store    *bank.Store
	embedder embedder.Embedder
	model    llm.LLM
	records  *Records
}

func NewTaskAgent(store *bank.Store, emb embedder.Embedder, model llm.LLM, records *Records) *TaskAgent {
	return &TaskAgent{store: store, embedder: emb, model: model, records: records}
}

func (a *TaskAgent) DetectTasks(ctx context.Context, userID, prompt string, start, end *time.Time, sources []string) (map[string]any, error) {
	vectors, err := a.embedder.Embed(ctx, []string{prompt})
	if err != nil {
		return nil, fmt.Errorf("embed prompt: %w", err)
	}

	results, err := a.store.Search(ctx, userID, vectors[0], bank.SearchOptions{
		TopK:        taskTopK,
		ObjectTypes: []bank.ObjectType{bank.ObjectEvent},
		TimeStart:   start,
		TimeEnd:     end,
		Sources:     sources,
		QueryText:   prompt,
	})
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString("Identify actionable tasks from the following context. ")
	sb.WriteString("Return JSON with tasks: list of {title, details, priority, due_at|null, source_refs:list}.\n")
	sb.WriteString("User prompt: ")
	sb.WriteString(prompt)
	sb.WriteString("\nContext:\n")
	sb.WriteString(formatContext(results, 0))

	result, err := llm.CompleteJSON(ctx, a.model, sb.String(), map[string]string{
		"tasks": "array",
	})
	if err != nil {
		return nil, err
	}

	rawTasks, _ := result["tasks"].([]any)
	for _, raw := range rawTasks {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		t := TaskRecord{
			UserID:   userID,
			Status:   "open",
			Priority: stringField(item, "priority", "medium"),
			Title:    stringField(item, "title", "Untitled task"),
			Details:  stringField(item, "details", ""),
		}
		if due := parseTimeField(item, "due_at"); due != nil {
			t.DueAt = due
		}
		if refs, ok := item["source_refs"].([]any); ok {
			for _, ref := range refs {
				if id, ok := ref.(string); ok {
					t.Refs = append(t.Refs, SourceRef{ObjectType: string(bank.ObjectEvent), ObjectID: id})
				}
			}
		}

		if _, err := a.records.SaveTask(t); err != nil {
			return nil, fmt.Errorf("persist task: %w", err)
		}
	}

	return result, nil
}

func stringField(m map[string]any, key, fallback string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
