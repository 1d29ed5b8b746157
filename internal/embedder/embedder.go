package embedder

import "fmt"

func New(cfg Config) (Embedder, error) {
	switch cfg.Provider {
	case "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		model := cfg.Model
		if model == "" {
			model = "nomic-embed-text"
		}
		dim := cfg.Dimensions
		if dim == 0 {
			dim = 768
		}
		return newOllama(baseURL, model, dim), nil
	case "openai":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		model := cfg.Model
		if model == "" {
			model = "text-embedding-3-small"
		}
		dim := cfg.Dimensions
		if dim == 0 {
			dim = 1536
		}
		return newOpenAI(cfg.APIKey, baseURL, model, dim), nil
	default:
		return nil, fmt.Errorf("unknown embedder provider: %s", cfg.Provider)
	}
}
