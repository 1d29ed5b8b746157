package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	ModeWeighted   = "weighted"
	ModeMultiplier = "multiplier"

	DefaultAlpha      = 0.85
	DefaultTauDays    = 14.0
	DefaultCandidates = 50
	DefaultMode       = ModeWeighted

	defaultEventTTLDays = 30
)

// Load reads configuration from the environment, with an optional YAML file
// overlay for ranking and schedule tuning. The returned Config is read-only
// after startup.
func Load() (*Config, error) {
	storePath := os.Getenv("CONTEXTBANK_DB")
	if storePath == "" {
		storePath = "contextbank.db"
	}

	timezone := os.Getenv("TZ")
	if timezone == "" {
		timezone = "UTC"
	}

	llmConfig, err := loadLLMConfig("LLM")
	if err != nil {
		return nil, err
	}

	extractorConfig, err := loadLLMConfig("EXTRACTOR")
	if err != nil {
		// extractor falls back to the main model
		extractorConfig = llmConfig
	}

	cfg := &Config{
		StorePath: storePath,
		Timezone:  timezone,
		LLM:       llmConfig,
		Extractor: extractorConfig,
		Embedder:  loadEmbedderConfig(),
		Ranking:   defaultRanking(),
		Retention: RetentionConfig{EventTTLDays: defaultEventTTLDays},
		Schedule:  defaultSchedule(),
		Telegram:  loadTelegramConfig(),
		Discord:   loadDiscordConfig(),
		Slack:     loadSlackConfig(),
		Archive:   loadArchiveConfig(),
	}

	if err := applyFileOverlay(cfg); err != nil {
		return nil, err
	}

	if err := validateRanking(cfg.Ranking); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultRanking() RankingConfig {
	r := RankingConfig{
		Alpha:      DefaultAlpha,
		TauDays:    DefaultTauDays,
		Candidates: DefaultCandidates,
		Mode:       DefaultMode,
	}

	if v, err := strconv.ParseFloat(os.Getenv("RANKING_ALPHA"), 64); err == nil {
		r.Alpha = v
	}
	if v, err := strconv.ParseFloat(os.Getenv("RANKING_TAU_DAYS"), 64); err == nil {
		r.TauDays = v
	}
	if v, err := strconv.Atoi(os.Getenv("RANKING_CANDIDATES")); err == nil && v > 0 {
		r.Candidates = v
	}
	if v := os.Getenv("RANKING_MODE"); v != "" {
		r.Mode = v
	}

	return r
}

func validateRanking(r RankingConfig) error {
	if r.Alpha < 0 || r.Alpha > 1 {
		return fmt.Errorf("ranking alpha out of range [0,1]: %v", r.Alpha)
	}
	if r.TauDays <= 0 {
		return fmt.Errorf("ranking tau_days must be positive: %v", r.TauDays)
	}
	if r.Mode != ModeWeighted && r.Mode != ModeMultiplier {
		return fmt.Errorf("unknown ranking mode: %s", r.Mode)
	}
	return nil
}

func defaultSchedule() ScheduleConfig {
	s := ScheduleConfig{
		Warm:      "*/15 * * * *",
		Retention: "0 3 * * *",
		Snapshot:  "30 3 * * *",
		Heartbeat: "0 * * * *",
	}

	if v := os.Getenv("SCHEDULE_WARM"); v != "" {
		s.Warm = v
	}
	if v := os.Getenv("SCHEDULE_RETENTION"); v != "" {
		s.Retention = v
	}

	return s
}

func loadLLMConfig(prefix string) (LLMConfig, error) {
	provider := os.Getenv(prefix + "_PROVIDER")
	if provider == "" {
		provider = "claude"
	}

	apiKey, err := getAPIKey(provider, prefix)
	if err != nil {
		return LLMConfig{}, err
	}

	return LLMConfig{
		Provider: provider,
		APIKey:   apiKey,
		Model:    os.Getenv(prefix + "_MODEL"),
		BaseURL:  os.Getenv(prefix + "_BASE_URL"),
	}, nil
}

func getAPIKey(provider, prefix string) (string, error) {
	// explicit override wins
	if key := os.Getenv(prefix + "_API_KEY"); key != "" {
		return key, nil
	}

	var envVar string
	switch provider {
	case "claude":
		envVar = "ANTHROPIC_API_KEY"
	case "openai":
		envVar = "OPENAI_API_KEY"
	case "ollama":
		return "ollama", nil
	default:
		envVar = strings.ToUpper(provider) + "_API_KEY"
	}

	key := os.Getenv(envVar)
	if key == "" {
		return "", fmt.Errorf("%s not set for provider %s", envVar, provider)
	}
	return key, nil
}

func loadEmbedderConfig() EmbedderConfig {
	dim := 1536
	if v, err := strconv.Atoi(os.Getenv("EMBEDDER_DIMENSIONS")); err == nil && v > 0 {
		dim = v
	}

	provider := os.Getenv("EMBEDDER_PROVIDER")
	if provider == "" {
		provider = "openai"
	}

	return EmbedderConfig{
		Provider:   provider,
		APIKey:     os.Getenv("EMBEDDER_API_KEY"),
		BaseURL:    os.Getenv("EMBEDDER_URL"),
		Model:      os.Getenv("EMBEDDER_MODEL"),
		Dimensions: dim,
	}
}

func loadTelegramConfig() TelegramConfig {
	token := os.Getenv("TELEGRAM_TOKEN")
	return TelegramConfig{
		Enabled: token != "",
		Token:   token,
	}
}

func loadDiscordConfig() DiscordConfig {
	token := os.Getenv("DISCORD_TOKEN")
	return DiscordConfig{
		Enabled:  token != "",
		Token:    token,
		Channels: splitList(os.Getenv("DISCORD_CHANNELS")),
	}
}

func loadSlackConfig() SlackConfig {
	token := os.Getenv("SLACK_TOKEN")
	return SlackConfig{
		Enabled:  token != "",
		Token:    token,
		Channels: splitList(os.Getenv("SLACK_CHANNELS")),
	}
}

func loadArchiveConfig() ArchiveConfig {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		endpoint = "minio:9000"
	}

	accessKey := os.Getenv("MINIO_ACCESS_KEY")
	secretKey := os.Getenv("MINIO_SECRET_KEY")

	bucket := os.Getenv("MINIO_BUCKET")
	if bucket == "" {
		bucket = "contextbank-archive"
	}

	return ArchiveConfig{
		Enabled:   accessKey != "" && secretKey != "",
		Endpoint:  endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
		UseSSL:    os.Getenv("MINIO_USE_SSL") == "true",
		Bucket:    bucket,
	}
}

// fileOverlay is the shape of the optional contextbank.yml file.
type fileOverlay struct {
	Ranking   *RankingConfig   `yaml:"ranking"`
	Retention *RetentionConfig `yaml:"retention"`
	Schedule  *ScheduleConfig  `yaml:"schedule"`
}

func applyFileOverlay(cfg *Config) error {
	path := os.Getenv("CONTEXTBANK_CONFIG")
	if path == "" {
		path = "contextbank.yml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}

	var overlay fileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if overlay.Ranking != nil {
		cfg.Ranking = *overlay.Ranking
	}
	if overlay.Retention != nil {
		cfg.Retention = *overlay.Retention
	}
	if overlay.Schedule != nil {
		cfg.Schedule = *overlay.Schedule
	}

	return nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
