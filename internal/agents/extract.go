package agents

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bowerhall/contextbank/internal/llm"
)

// ValidSources are the event sources the extractors will ever return.
var ValidSources = []string{"slack", "telegram", "discord", "outlook", "calendar"}

var sourceKeywords = map[string][]string{
	"slack":    {"slack", "channel", "dm", "direct message"},
	"telegram": {"telegram", "tg"},
	"discord":  {"discord", "server", "guild"},
	"outlook":  {"outlook", "email", "mail", "inbox", "microsoft"},
	"calendar": {"calendar", "meeting", "appointment", "schedule"},
}

// TimeRange is an extracted window. Nil endpoints mean the prompt did not
// pin that side down.
type TimeRange struct {
	Start      *time.Time
	End        *time.Time
	Confidence float64
	Explicit   bool
}

// SourceResult is the outcome of source extraction.
type SourceResult struct {
	Sources    []string
	Confidence float64
	Explicit   bool
}

var (
	reLastHours = regexp.MustCompile(`last\s+(\d+)\s*hours?`)
	reLastDays  = regexp.MustCompile(`last\s+(\d+)\s*days?`)
	rePastHours = regexp.MustCompile(`past\s+(\d+)\s*hours?`)
)

// ExtractTimeRange parses a time window out of free text. Deterministic
// patterns run first; the LLM is only consulted when none match.
func ExtractTimeRange(ctx context.Context, model llm.LLM, prompt string, now time.Time) (TimeRange, error) {
	lower := strings.ToLower(prompt)

	if tr, ok := matchTimePatterns(lower, now); ok {
		return tr, nil
	}

	if model == nil {
		return TimeRange{}, nil
	}

	return llmExtractTimeRange(ctx, model, prompt, now)
}

func matchTimePatterns(prompt string, now time.Time) (TimeRange, bool) {
	if m := reLastHours.FindStringSubmatch(prompt); m != nil {
		hours, _ := strconv.Atoi(m[1])
		start := now.Add(-time.Duration(hours) * time.Hour)
		return TimeRange{Start: &start, End: &now, Confidence: 0.95, Explicit: true}, true
	}

	if m := reLastDays.FindStringSubmatch(prompt); m != nil {
		days, _ := strconv.Atoi(m[1])
		start := now.AddDate(0, 0, -days)
		return TimeRange{Start: &start, End: &now, Confidence: 0.95, Explicit: true}, true
	}

	if m := rePastHours.FindStringSubmatch(prompt); m != nil {
		hours, _ := strconv.Atoi(m[1])
		start := now.Add(-time.Duration(hours) * time.Hour)
		return TimeRange{Start: &start, End: &now, Confidence: 0.95, Explicit: true}, true
	}

	if strings.Contains(prompt, "yesterday") {
		y := now.AddDate(0, 0, -1)
		start := startOfDay(y)
		end := start.AddDate(0, 0, 1)
		return TimeRange{Start: &start, End: &end, Confidence: 0.9, Explicit: true}, true
	}

	if strings.Contains(prompt, "today") {
		start := startOfDay(now)
		return TimeRange{Start: &start, End: &now, Confidence: 0.9, Explicit: true}, true
	}

	if strings.Contains(prompt, "last week") {
		thisMonday := startOfDay(now.AddDate(0, 0, -daysSinceMonday(now)))
		lastMonday := thisMonday.AddDate(0, 0, -7)
		return TimeRange{Start: &lastMonday, End: &thisMonday, Confidence: 0.9, Explicit: true}, true
	}

	if strings.Contains(prompt, "this week") {
		start := startOfDay(now.AddDate(0, 0, -daysSinceMonday(now)))
		return TimeRange{Start: &start, End: &now, Confidence: 0.9, Explicit: true}, true
	}

	return TimeRange{}, false
}

func llmExtractTimeRange(ctx context.Context, model llm.LLM, prompt string, now time.Time) (TimeRange, error) {
	llmPrompt := "Extract the time range from the user's request.\n" +
		"Current time: " + now.UTC().Format(time.RFC3339) + "\n\n" +
		"User prompt: \"" + prompt + "\"\n\n" +
		"Return JSON with start_time and end_time as RFC3339 strings or null when not specified, " +
		"confidence (0-1) and explicit (boolean). " +
		"If no time range is specified, return null for both times."

	result, err := llm.CompleteJSON(ctx, model, llmPrompt, map[string]string{
		"start_time": "string",
		"end_time":   "string",
		"confidence": "number",
		"explicit":   "boolean",
	})
	if err != nil {
		return TimeRange{}, err
	}

	tr := TimeRange{
		Confidence: numberField(result, "confidence", 0.5),
		Explicit:   boolField(result, "explicit"),
	}
	tr.Start = parseTimeField(result, "start_time")
	tr.End = parseTimeField(result, "end_time")

	if tr.Start != nil && tr.End != nil && !tr.End.After(*tr.Start) {
		tr.Start, tr.End = tr.End, tr.Start
	}

	return tr, nil
}

// ExtractSources identifies which event sources a prompt refers to, keyword
// match first, LLM fallback second.
func ExtractSources(ctx context.Context, model llm.LLM, prompt string) (SourceResult, error) {
	lower := strings.ToLower(prompt)

	var found []string
	for _, source := range ValidSources {
		for _, kw := range sourceKeywords[source] {
			if strings.Contains(lower, kw) {
				found = append(found, source)
				break
			}
		}
	}
	if len(found) > 0 {
		return SourceResult{Sources: found, Confidence: 0.95, Explicit: true}, nil
	}

	if model == nil {
		return SourceResult{}, nil
	}

	llmPrompt := "Extract which communication applications/sources the user is referring to.\n" +
		"Valid sources: " + strings.Join(ValidSources, ", ") + "\n\n" +
		"User prompt: \"" + prompt + "\"\n\n" +
		"Return JSON with sources (list, empty if none identified), confidence (0-1) " +
		"and explicit (boolean)."

	result, err := llm.CompleteJSON(ctx, model, llmPrompt, map[string]string{
		"sources":    "array",
		"confidence": "number",
		"explicit":   "boolean",
	})
	if err != nil {
		return SourceResult{}, err
	}

	out := SourceResult{
		Confidence: numberField(result, "confidence", 0.5),
		Explicit:   boolField(result, "explicit"),
	}
	if raw, ok := result["sources"].([]any); ok {
		for _, item := range raw {
			s, ok := item.(string)
			if !ok {
				continue
			}
			s = strings.ToLower(s)
			if isValidSource(s) {
				out.Sources = append(out.Sources, s)
			}
		}
	}

	return out, nil
}

func isValidSource(s string) bool {
	for _, v := range ValidSources {
		if s == v {
			return true
		}
	}
	return false
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func daysSinceMonday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func parseTimeField(m map[string]any, key string) *time.Time {
	raw, ok := m[key].(string)
	if !ok || raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func numberField(m map[string]any, key string, fallback float64) float64 {
	if v, ok := m[key].(float64); ok {
		return v
	}
	return fallback
}

func boolField(m map[string]any, key string) bool {
	v, _ := m[key].(bool)
	return v
}
