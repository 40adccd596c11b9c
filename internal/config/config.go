package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings.
type Config struct {
	Mode string `yaml:"mode" mapstructure:"mode"` // "local", "server"

	Storage   StorageConfig   `yaml:"storage" mapstructure:"storage"`
	GitHub    GitHubConfig    `yaml:"github" mapstructure:"github"`
	Embedding EmbeddingConfig `yaml:"embedding" mapstructure:"embedding"`
	Parser    ParserConfig    `yaml:"parser" mapstructure:"parser"`
	Detector  DetectorConfig  `yaml:"detector" mapstructure:"detector"`
	Conflict  ConflictConfig  `yaml:"conflict" mapstructure:"conflict"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Webhook   WebhookConfig   `yaml:"webhook" mapstructure:"webhook"`
	Notify    NotifyConfig    `yaml:"notify" mapstructure:"notify"`
	Graph     GraphConfig     `yaml:"graph" mapstructure:"graph"`
}

type StorageConfig struct {
	Type        string `yaml:"type" mapstructure:"type"` // "postgres", "sqlite"
	PostgresDSN string `yaml:"postgres_dsn" mapstructure:"postgres_dsn"`
	LocalPath   string `yaml:"local_path" mapstructure:"local_path"`
	CachePath   string `yaml:"cache_path" mapstructure:"cache_path"` // bbolt review-set cache
}

type GitHubConfig struct {
	Token     string `yaml:"token" mapstructure:"token"`
	RateLimit int    `yaml:"rate_limit" mapstructure:"rate_limit"` // requests per second
}

type EmbeddingConfig struct {
	Provider    string `yaml:"provider" mapstructure:"provider"` // "openai", "gemini"
	OpenAIKey   string `yaml:"openai_key" mapstructure:"openai_key"`
	OpenAIModel string `yaml:"openai_model" mapstructure:"openai_model"`
	GeminiKey   string `yaml:"gemini_key" mapstructure:"gemini_key"`
	GeminiModel string `yaml:"gemini_model" mapstructure:"gemini_model"`
	Dimensions  int    `yaml:"dimensions" mapstructure:"dimensions"`
	RateLimit   int    `yaml:"rate_limit" mapstructure:"rate_limit"` // requests per second
	MaxAttempts int    `yaml:"max_attempts" mapstructure:"max_attempts"`
}

type ParserConfig struct {
	URL     string        `yaml:"url" mapstructure:"url"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// DetectorConfig is the tuning surface of the replacement-event model.
type DetectorConfig struct {
	MaxGapDays         float64 `yaml:"max_gap_days" mapstructure:"max_gap_days"`
	DissimilarityFloor float64 `yaml:"dissimilarity_floor" mapstructure:"dissimilarity_floor"`
	ChurnCap           int     `yaml:"churn_cap" mapstructure:"churn_cap"`
	ProximityScaleDays float64 `yaml:"proximity_scale_days" mapstructure:"proximity_scale_days"`
	HalfLifeWeeks      float64 `yaml:"half_life_weeks" mapstructure:"half_life_weeks"`
}

type ConflictConfig struct {
	StructuralWeight float64 `yaml:"structural_weight" mapstructure:"structural_weight"`
	SemanticWeight   float64 `yaml:"semantic_weight" mapstructure:"semantic_weight"`
	BlockThreshold   float64 `yaml:"block_threshold" mapstructure:"block_threshold"`
}

type PipelineConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseBackoff  time.Duration `yaml:"base_backoff" mapstructure:"base_backoff"`
	MaxBackoff   time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
}

type WebhookConfig struct {
	ListenAddr string `yaml:"listen_addr" mapstructure:"listen_addr"`
	Secret     string `yaml:"secret" mapstructure:"secret"`
}

type NotifyConfig struct {
	ChannelURL string `yaml:"channel_url" mapstructure:"channel_url"`
}

type GraphConfig struct {
	Neo4jURI      string `yaml:"neo4j_uri" mapstructure:"neo4j_uri"`
	Neo4jUser     string `yaml:"neo4j_user" mapstructure:"neo4j_user"`
	Neo4jPassword string `yaml:"neo4j_password" mapstructure:"neo4j_password"`
	Enabled       bool   `yaml:"enabled" mapstructure:"enabled"`
}

// Default returns default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Mode: "local",
		Storage: StorageConfig{
			Type:      "sqlite",
			LocalPath: filepath.Join(homeDir, ".codepulse", "local.db"),
			CachePath: filepath.Join(homeDir, ".codepulse", "reviews.db"),
		},
		GitHub: GitHubConfig{
			RateLimit: 10,
		},
		Embedding: EmbeddingConfig{
			Provider:    "openai",
			OpenAIModel: "text-embedding-3-small",
			GeminiModel: "gemini-embedding-001",
			Dimensions:  1536,
			RateLimit:   20,
			MaxAttempts: 4,
		},
		Parser: ParserConfig{
			URL:     "http://localhost:8811",
			Timeout: 30 * time.Second,
		},
		Detector: DetectorConfig{
			MaxGapDays:         60,
			DissimilarityFloor: 0.3,
			ChurnCap:           200,
			ProximityScaleDays: 7,
			HalfLifeWeeks:      18,
		},
		Conflict: ConflictConfig{
			StructuralWeight: 0.4,
			SemanticWeight:   0.6,
			BlockThreshold:   0.8,
		},
		Pipeline: PipelineConfig{
			PollInterval: 2 * time.Second,
			MaxAttempts:  5,
			BaseBackoff:  time.Second,
			MaxBackoff:   2 * time.Minute,
		},
		Webhook: WebhookConfig{
			ListenAddr: ":8440",
		},
		Graph: GraphConfig{
			Neo4jURI:  "bolt://localhost:7687",
			Neo4jUser: "neo4j",
		},
	}
}

// Load loads configuration from file, environment, and keychain.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	v.SetDefault("mode", cfg.Mode)
	v.SetDefault("storage", cfg.Storage)
	v.SetDefault("github", cfg.GitHub)
	v.SetDefault("embedding", cfg.Embedding)
	v.SetDefault("parser", cfg.Parser)
	v.SetDefault("detector", cfg.Detector)
	v.SetDefault("conflict", cfg.Conflict)
	v.SetDefault("pipeline", cfg.Pipeline)
	v.SetDefault("webhook", cfg.Webhook)
	v.SetDefault("notify", cfg.Notify)
	v.SetDefault("graph", cfg.Graph)

	v.SetEnvPrefix("CODEPULSE")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".codepulse")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".codepulse"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// No config file is fine, defaults apply.
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// Save writes the configuration to a YAML file, creating parent
// directories as needed. Secrets held in the keychain are not written.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks settings that have hard constraints.
func (c *Config) Validate() error {
	if c.Detector.DissimilarityFloor < 0 || c.Detector.DissimilarityFloor > 1 {
		return fmt.Errorf("detector.dissimilarity_floor must be in [0,1], got %f", c.Detector.DissimilarityFloor)
	}
	if c.Detector.ChurnCap <= 0 {
		return fmt.Errorf("detector.churn_cap must be positive, got %d", c.Detector.ChurnCap)
	}
	if c.Detector.HalfLifeWeeks <= 0 {
		return fmt.Errorf("detector.half_life_weeks must be positive, got %f", c.Detector.HalfLifeWeeks)
	}
	if w := c.Conflict.StructuralWeight + c.Conflict.SemanticWeight; w < 0.999 || w > 1.001 {
		return fmt.Errorf("conflict weights must sum to 1.0, got %f", w)
	}
	if c.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("pipeline.max_attempts must be at least 1, got %d", c.Pipeline.MaxAttempts)
	}
	return nil
}

func loadEnvFiles() {
	envFiles := []string{
		".env.local",
		".env",
	}
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			godotenv.Load(file)
		}
	}

	homeDir, _ := os.UserHomeDir()
	homeEnvFile := filepath.Join(homeDir, ".codepulse", ".env")
	if _, err := os.Stat(homeEnvFile); err == nil {
		godotenv.Load(homeEnvFile)
	}
}

// applyEnvOverrides applies environment variable overrides.
// Precedence: env var (highest), keychain, config file (lowest).
func applyEnvOverrides(cfg *Config) {
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		cfg.GitHub.Token = token
	} else if cfg.GitHub.Token == "" {
		km := NewKeyringManager()
		if t, err := km.GetGitHubToken(); err == nil && t != "" {
			cfg.GitHub.Token = t
		}
	}
	if rateLimit := os.Getenv("GITHUB_RATE_LIMIT"); rateLimit != "" {
		if rl, err := strconv.Atoi(rateLimit); err == nil {
			cfg.GitHub.RateLimit = rl
		}
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.Embedding.OpenAIKey = key
	} else if cfg.Embedding.OpenAIKey == "" {
		km := NewKeyringManager()
		if k, err := km.GetOpenAIKey(); err == nil && k != "" {
			cfg.Embedding.OpenAIKey = k
		}
	}

	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.Embedding.GeminiKey = key
	} else if cfg.Embedding.GeminiKey == "" {
		km := NewKeyringManager()
		if k, err := km.GetGeminiKey(); err == nil && k != "" {
			cfg.Embedding.GeminiKey = k
		}
	}

	if secret := os.Getenv("CODEPULSE_WEBHOOK_SECRET"); secret != "" {
		cfg.Webhook.Secret = secret
	}
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		cfg.Storage.Type = "postgres"
		cfg.Storage.PostgresDSN = dsn
	}
	if pw := os.Getenv("NEO4J_PASSWORD"); pw != "" {
		cfg.Graph.Neo4jPassword = pw
	}
}
