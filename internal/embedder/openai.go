package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type openai struct {
	apiKey  string
	baseURL string
	model   string
	dim     int
}

type openaiRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openaiResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func newOpenAI(apiKey, baseURL, model string, dim int) Embedder {
	return &openai{apiKey: apiKey, baseURL: baseURL, model: model, dim: dim}
}

func (e *openai) Dimensions() int {
	return e.dim
}

func (e *openai) Model() string {
	return e.model
}

func (e *openai) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	jsonBody, err := json.Marshal(openaiRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := range maxAttempts {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(500 * time.Millisecond * time.Duration(attempt)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, "POST", e.baseURL+"/embeddings", bytes.NewReader(jsonBody))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+e.apiKey)

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode != 200 {
			lastErr = fmt.Errorf("embeddings api error (status %d): %s", resp.StatusCode, string(body))
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != 429 {
				return nil, lastErr
			}
			continue
		}

		var oaiResp openaiResponse
		if err := json.Unmarshal(body, &oaiResp); err != nil {
			return nil, err
		}
		if oaiResp.Error != nil {
			return nil, fmt.Errorf("embeddings api error: %s", oaiResp.Error.Message)
		}
		if len(oaiResp.Data) != len(texts) {
			return nil, fmt.Errorf("embeddings api returned %d vectors for %d inputs", len(oaiResp.Data), len(texts))
		}

		out := make([][]float32, len(texts))
		for _, item := range oaiResp.Data {
			if item.Index < 0 || item.Index >= len(out) {
				return nil, fmt.Errorf("embeddings api returned bad index %d", item.Index)
			}
			out[item.Index] = item.Embedding
		}
		return out, nil
	}

	return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}
