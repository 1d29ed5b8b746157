package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bowerhall/contextbank/internal/bank"
	"github.com/bowerhall/contextbank/internal/embedder"
	"github.com/bowerhall/contextbank/internal/llm"
	"github.com/bowerhall/contextbank/internal/logger"
)

const summarizeTopK = 50

// SummarizeAgent is pull-based: it only runs on an explicit user request,
// condensing a time window of ranked context into a persisted summary.
type SummarizeAgent struct {
	store    *bank.Store
	embedder embedder.Embedder
	model    llm.LLM
	records  *Records
	query    *QueryAgent
}

func NewSummarizeAgent(store *bank.Store, emb embedder.Embedder, model llm.LLM, records *Records, query *QueryAgent) *SummarizeAgent {
	return &SummarizeAgent{store: store, embedder: emb, model: model, records: records, query: query}
}

// Summarize ranks the window's context, asks the model for a structured
// summary, and persists it with references to the contributing objects.
func (a *SummarizeAgent) Summarize(ctx context.Context, userID, prompt string, start, end *time.Time, sources []string) (map[string]any, error) {
	// fine-grained prefetch is best-effort extra context
	var prefetch []bank.RankedResult
	if a.query != nil {
		var err error
		prefetch, err = a.query.FineGrainedSearch(ctx, userID, prompt, sources, start, end, 10)
		if err != nil {
			logger.Warn("fine-grained prefetch failed", "error", err)
			prefetch = nil
		}
	}

	vectors, err := a.embedder.Embed(ctx, []string{prompt})
	if err != nil {
		return nil, fmt.Errorf("embed prompt: %w", err)
	}

	results, err := a.store.Search(ctx, userID, vectors[0], bank.SearchOptions{
		TopK:        summarizeTopK,
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
	sb.WriteString("Summarize the following user activity over the time window. ")
	sb.WriteString("Return JSON with keys: overview (string), key_events (list), themes (list).\n")
	sb.WriteString("User prompt: ")
	sb.WriteString(prompt)
	sb.WriteString("\nContext:\n")
	sb.WriteString(formatContext(results, 0))
	if len(prefetch) > 0 {
		fmt.Fprintf(&sb, "\nAdditional fine-grained context (%d items):\n", len(prefetch))
		sb.WriteString(formatContext(prefetch, 5))
	}

	result, err := llm.CompleteJSON(ctx, a.model, sb.String(), map[string]string{
		"overview":   "string",
		"key_events": "array",
		"themes":     "array",
	})
	if err != nil {
		return nil, err
	}

	refs := make([]SourceRef, 0, len(results))
	for _, r := range results {
		refs = append(refs, SourceRef{ObjectType: string(r.ObjectType), ObjectID: r.ObjectID})
	}

	content, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}

	windowStart := time.Now().UTC().AddDate(0, 0, -1)
	windowEnd := time.Now().UTC()
	if start != nil {
		windowStart = *start
	}
	if end != nil {
		windowEnd = *end
	}

	if _, err := a.records.SaveSummary(userID, windowStart, windowEnd, string(content), refs); err != nil {
		return nil, fmt.Errorf("persist summary: %w", err)
	}

	return result, nil
}
