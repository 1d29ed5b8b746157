package llm

import (
	"context"
	"errors"
)

type Config struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
}

type Message struct {
	Role    string
	Content string
}

type LLM interface {
	Chat(ctx context.Context, systemPrompt string, messages []Message) (string, error)
}

// ErrInvalidResponse marks a completion that came back malformed or empty.
// It is terminal for the call: the request succeeded at the transport level,
// so retrying would just replay the same bad output.
var ErrInvalidResponse = errors.New("llm response invalid")

// ErrUnavailable marks a completion that failed after bounded retries.
var ErrUnavailable = errors.New("llm unavailable")
