package embedder

import (
	"context"
	"errors"
)

type Config struct {
	Provider   string
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
}

// Embedder converts text into fixed-dimension vectors. Implementations
// retry transient failures a bounded number of times before surfacing
// ErrUnavailable.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Model() string
}

// ErrUnavailable marks an embedding request that failed after retries.
var ErrUnavailable = errors.New("embedding unavailable")

const maxAttempts = 3
