package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const jsonSystemPrompt = "You are a structured JSON responder. " +
	"Reply with a single JSON object and nothing else."

// CompleteJSON asks the model for a JSON object matching the described
// schema. The schema maps field names to human-readable type hints, e.g.
// {"intent": "string in [summarize, task, unknown]"}.
//
// Transport failures are retried inside the provider; a response that comes
// back non-JSON or empty is ErrInvalidResponse and is not retried.
func CompleteJSON(ctx context.Context, model LLM, prompt string, schema map[string]string) (map[string]any, error) {
	content, err := model.Chat(ctx, jsonSystemPrompt, []Message{
		{Role: "user", Content: prompt + "\n\n" + schemaHint(schema)},
	})
	if err != nil {
		return nil, err
	}

	return ParseJSONObject(content)
}

func schemaHint(schema map[string]string) string {
	if len(schema) == 0 {
		return "Return a JSON object."
	}

	keys := make([]string, 0, len(schema))
	for k := range schema {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("Return a JSON object with keys:\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %s\n", k, schema[k])
	}
	return b.String()
}

// ParseJSONObject extracts a JSON object from model output, tolerating
// markdown code fences around it.
func ParseJSONObject(content string) (map[string]any, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty completion", ErrInvalidResponse)
	}

	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	return out, nil
}
