package config

type Config struct {
	StorePath string
	Timezone  string
	LLM       LLMConfig
	Extractor LLMConfig
	Embedder  EmbedderConfig
	Ranking   RankingConfig
	Retention RetentionConfig
	Schedule  ScheduleConfig
	Telegram  TelegramConfig
	Discord   DiscordConfig
	Slack     SlackConfig
	Archive   ArchiveConfig
}

type LLMConfig struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
}

type EmbedderConfig struct {
	Provider   string
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
}

// RankingConfig is injected into the ranking engine at construction
// and never mutated afterwards.
type RankingConfig struct {
	Alpha      float64 `yaml:"alpha"`
	TauDays    float64 `yaml:"tau_days"`
	Candidates int     `yaml:"candidates"`
	Mode       string  `yaml:"mode"` // "weighted" or "multiplier"
}

type RetentionConfig struct {
	EventTTLDays int `yaml:"event_ttl_days"`
}

type ScheduleConfig struct {
	Warm      string `yaml:"warm"`
	Retention string `yaml:"retention"`
	Snapshot  string `yaml:"snapshot"`
	Heartbeat string `yaml:"heartbeat"`
}

type TelegramConfig struct {
	Enabled bool
	Token   string
}

type DiscordConfig struct {
	Enabled  bool
	Token    string
	Channels []string
}

type SlackConfig struct {
	Enabled  bool
	Token    string
	Channels []string
}

type ArchiveConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
}
