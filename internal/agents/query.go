package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bowerhall/contextbank/internal/bank"
	"github.com/bowerhall/contextbank/internal/embedder"
	"github.com/bowerhall/contextbank/internal/llm"
	"github.com/bowerhall/contextbank/internal/logger"
	"github.com/bowerhall/contextbank/internal/orchestrator"
)

// Warmer pulls fresh events into the bank. Implemented by the ingestion
// pipeline; kept as an interface so the agent does not depend on it.
type Warmer interface {
	Sync(ctx context.Context, userID string) (int, error)
}

const (
	fineGrainedTopK      = 20
	lowRecencyThreshold  = 0.3
	summaryLookbackHours = 24
)

// QueryAgent is the push side of the bank: it keeps the store warm on a
// schedule and answers on-demand questions from already-embedded context.
type QueryAgent struct {
	store    *bank.Store
	embedder embedder.Embedder
	model    llm.LLM
	warmer   Warmer
}

func NewQueryAgent(store *bank.Store, emb embedder.Embedder, model llm.LLM, warmer Warmer) *QueryAgent {
	return &QueryAgent{store: store, embedder: emb, model: model, warmer: warmer}
}

// Warm runs one ingestion pass, returning how many events were processed.
func (a *QueryAgent) Warm(ctx context.Context, userID string) (int, error) {
	if a.warmer == nil {
		return 0, nil
	}

	count, err := a.warmer.Sync(ctx, userID)
	if err != nil {
		return 0, err
	}

	logger.Info("context bank warmed", "user", userID, "events_processed", count)
	return count, nil
}

// FineGrainedSearch embeds the query and runs the two-stage ranking over
// event-backed chunks only.
func (a *QueryAgent) FineGrainedSearch(ctx context.Context, userID, query string, sources []string, start, end *time.Time, topK int) ([]bank.RankedResult, error) {
	if topK <= 0 {
		topK = fineGrainedTopK
	}

	vectors, err := a.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	return a.store.Search(ctx, userID, vectors[0], bank.SearchOptions{
		TopK:        topK,
		ObjectTypes: []bank.ObjectType{bank.ObjectEvent},
		TimeStart:   start,
		TimeEnd:     end,
		Sources:     sources,
		QueryText:   query,
	})
}

// AnswerWithContext answers a user question from ranked context. When the
// top results are stale (average recency below the threshold), it folds a
// recent summarize result in through the orchestrator before completing.
func (a *QueryAgent) AnswerWithContext(ctx context.Context, orch *orchestrator.Orchestrator, userID, prompt string, sources []string, start, end *time.Time) (map[string]any, error) {
	results, err := a.FineGrainedSearch(ctx, userID, prompt, sources, start, end, fineGrainedTopK)
	if err != nil {
		return nil, err
	}

	var broader string
	if len(results) > 0 && orch != nil {
		total := 0.0
		for _, r := range results {
			total += r.Recency
		}
		if total/float64(len(results)) < lowRecencyThreshold {
			prior, found, err := orch.GetAgentResult("summarize", orchestrator.ResultQuery{WindowHours: summaryLookbackHours})
			if err != nil {
				logger.Warn("failed to look up prior summary", "error", err)
			} else if found {
				broader = prior
			}
		}
	}

	var sb strings.Builder
	sb.WriteString("Answer the user's question using the following context from the context bank.\n\n")
	if broader != "" {
		sb.WriteString("Broader context from summary:\n")
		sb.WriteString(broader)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Relevant context:\n")
	sb.WriteString(formatContext(results, 10))
	sb.WriteString("\n\nUser question: ")
	sb.WriteString(prompt)

	return llm.CompleteJSON(ctx, a.model, sb.String(), map[string]string{
		"answer":     "string",
		"confidence": "number",
		"citations":  "array",
	})
}

// formatContext renders ranked results as prompt lines. Only scores,
// identities and metadata appear; message bodies were never retained.
func formatContext(results []bank.RankedResult, limit int) string {
	if len(results) == 0 {
		return "(no matching context)"
	}
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	var sb strings.Builder
	for i, r := range results {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "- [%s:%s] Score: %.3f (sem: %.3f, rec: %.3f)",
			r.ObjectType, r.ObjectID, r.Final, r.Semantic, r.Recency)
		if len(r.Metadata) > 0 {
			fmt.Fprintf(&sb, " Metadata: %v", r.Metadata)
		}
	}
	return sb.String()
}
