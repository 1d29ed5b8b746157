package agents

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bowerhall/contextbank/internal/llm"
	"github.com/bowerhall/contextbank/internal/logger"
	"github.com/bowerhall/contextbank/internal/orchestrator"
)

// Intents the router can land on. Clarification is terminal for the turn:
// no consumer agent runs until the user fills in the missing fields.
const (
	IntentQuery         = "query"
	IntentSummarize     = "summarize"
	IntentTask          = "task"
	IntentClarification = "clarification"
)

// Clarification tells the caller what the prompt was missing.
type Clarification struct {
	MissingFields []string `json:"missing_fields"`
	Message       string   `json:"message"`
	Prompt        string   `json:"prompt"`
}

// Response is the outcome of routing one prompt.
type Response struct {
	Intent        string         `json:"intent"`
	Result        map[string]any `json:"result,omitempty"`
	Clarification *Clarification `json:"clarification,omitempty"`
	SessionID     string         `json:"session_id,omitempty"`
}

// Router drives one prompt through extraction, the clarification gate,
// intent classification, and finally the matching consumer agent.
type Router struct {
	model     llm.LLM
	query     *QueryAgent
	summarize *SummarizeAgent
	task      *TaskAgent
	now       func() time.Time
}

func NewRouter(model llm.LLM, query *QueryAgent, summarize *SummarizeAgent, task *TaskAgent) *Router {
	return &Router{model: model, query: query, summarize: summarize, task: task, now: time.Now}
}

// Handle routes one inbound prompt. Extraction and the clarification check
// run before any intent classification; an unknown intent falls back to
// query rather than failing.
func (r *Router) Handle(ctx context.Context, orch *orchestrator.Orchestrator, userID, prompt string) (*Response, error) {
	sourceResult, err := ExtractSources(ctx, r.model, prompt)
	if err != nil {
		return nil, err
	}

	timeRange, err := ExtractTimeRange(ctx, r.model, prompt, r.now().UTC())
	if err != nil {
		return nil, err
	}

	if c := clarificationNeeded(prompt, sourceResult, timeRange); c != nil {
		logger.Debug("clarification required", "user", userID, "missing", c.MissingFields)
		return &Response{
			Intent:        IntentClarification,
			Clarification: c,
			SessionID:     orch.SessionID(),
		}, nil
	}

	intent, err := r.classifyIntent(ctx, orch, prompt)
	if err != nil {
		return nil, err
	}

	params := routeParams(sourceResult.Sources, timeRange)

	var run orchestrator.AgentFunc
	switch intent {
	case IntentSummarize:
		run = func(ctx context.Context, prompt string, _ map[string]string) (string, error) {
			out, err := r.summarize.Summarize(ctx, userID, prompt, timeRange.Start, timeRange.End, sourceResult.Sources)
			if err != nil {
				return "", err
			}
			return encodeResult(out)
		}
	case IntentTask:
		run = func(ctx context.Context, prompt string, _ map[string]string) (string, error) {
			out, err := r.task.DetectTasks(ctx, userID, prompt, timeRange.Start, timeRange.End, sourceResult.Sources)
			if err != nil {
				return "", err
			}
			return encodeResult(out)
		}
	default:
		intent = IntentQuery
		run = func(ctx context.Context, prompt string, _ map[string]string) (string, error) {
			out, err := r.query.AnswerWithContext(ctx, orch, userID, prompt, sourceResult.Sources, timeRange.Start, timeRange.End)
			if err != nil {
				return "", err
			}
			return encodeResult(out)
		}
	}

	output, err := orch.Execute(ctx, intent, intent, prompt, params, run)
	if err != nil {
		return nil, err
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(output), &result); err != nil {
		return nil, err
	}

	return &Response{Intent: intent, Result: result, SessionID: orch.SessionID()}, nil
}

// classifyIntent maps free text onto summarize/task/query through the
// orchestrator so repeated classification of the same prompt is cached.
func (r *Router) classifyIntent(ctx context.Context, orch *orchestrator.Orchestrator, prompt string) (string, error) {
	classify := func(ctx context.Context, prompt string, _ map[string]string) (string, error) {
		template := "Classify the user request as one of: summarize, task, query. " +
			"Return a JSON object with key intent. Examples:\n" +
			"- \"summarize last 2 hours\" => summarize\n" +
			"- \"what needs action\" => task\n" +
			"- otherwise => query\n" +
			"Prompt: \"" + prompt + "\""

		result, err := llm.CompleteJSON(ctx, r.model, template, map[string]string{
			"intent": "string in [summarize, task, query]",
		})
		if err != nil {
			return "", err
		}

		intent, _ := result["intent"].(string)
		intent = strings.ToLower(strings.TrimSpace(intent))
		switch intent {
		case IntentSummarize, IntentTask:
			return intent, nil
		}
		return IntentQuery, nil
	}

	return orch.Execute(ctx, "prompt_router", "classify", prompt, nil, classify)
}

func clarificationNeeded(prompt string, sources SourceResult, tr TimeRange) *Clarification {
	var missing []string
	if len(sources.Sources) == 0 {
		missing = append(missing, "sources")
	}
	if tr.Start == nil || tr.End == nil {
		missing = append(missing, "time_range")
	}
	if len(missing) == 0 {
		return nil
	}

	var parts []string
	for _, field := range missing {
		switch field {
		case "sources":
			parts = append(parts, "which sources to look at ("+strings.Join(ValidSources, ", ")+")")
		case "time_range":
			parts = append(parts, "which time range to cover (e.g. \"last 2 hours\", \"yesterday\")")
		}
	}

	return &Clarification{
		MissingFields: missing,
		Message:       "Please specify " + strings.Join(parts, " and ") + ".",
		Prompt:        prompt,
	}
}

func routeParams(sources []string, tr TimeRange) map[string]string {
	params := map[string]string{
		"sources": strings.Join(sources, ","),
	}
	if tr.Start != nil {
		params["time_start"] = tr.Start.UTC().Format(time.RFC3339)
	}
	if tr.End != nil {
		params["time_end"] = tr.End.UTC().Format(time.RFC3339)
	}
	return params
}

func encodeResult(m map[string]any) (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
