// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (NEVERLAND_* plus DATABASE_URL)
//  2. Config file (~/.neverland/config.yaml or ./config.yaml)
//  3. Default values
//
// Sensitive values (database password, ElevenLabs API key) are never logged.
// Provider API keys (GEMINI_API_KEY, OPENAI_API_KEY) are read directly by the
// Genkit plugins, not through Viper; validation only checks their presence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Vector collection identifiers. The collection *names* are configurable;
// these keys identify them internally.
const (
	CollectionDaily  = "daily"
	CollectionLetter = "letter"
	CollectionObject = "object"
)

// CollectionsConfig maps the three memory collections to their store names.
type CollectionsConfig struct {
	Daily  string `mapstructure:"daily" json:"daily"`
	Letter string `mapstructure:"letter" json:"letter"`
	Object string `mapstructure:"object" json:"object"`
}

// RetrievalConfig shapes vector search behaviour.
type RetrievalConfig struct {
	TopK       int32         `mapstructure:"top_k" json:"top_k"`
	ScoreFloor float64       `mapstructure:"score_floor" json:"score_floor"`
	Timeout    time.Duration `mapstructure:"timeout" json:"timeout"`
	MaxRetries int           `mapstructure:"max_retries" json:"max_retries"`
}

// GenerationConfig shapes LLM invocation behaviour.
type GenerationConfig struct {
	MaxRetries     int           `mapstructure:"max_retries" json:"max_retries"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout" json:"attempt_timeout"`
	RatePerSecond  float64       `mapstructure:"rate_per_second" json:"rate_per_second"`
	RateBurst      int           `mapstructure:"rate_burst" json:"rate_burst"`
}

// VoiceConfig configures the ElevenLabs TTS client.
type VoiceConfig struct {
	APIKey         string `mapstructure:"api_key" json:"api_key"` // SENSITIVE
	BaseURL        string `mapstructure:"base_url" json:"base_url"`
	DefaultVoiceID string `mapstructure:"default_voice_id" json:"default_voice_id"`
	AudioDir       string `mapstructure:"audio_dir" json:"audio_dir"`
	MaxTextLength  int    `mapstructure:"max_text_length" json:"max_text_length"`
}

// SchedulerConfig configures the daily-content trigger.
type SchedulerConfig struct {
	Interval   time.Duration `mapstructure:"interval" json:"interval"`
	IdleWindow time.Duration `mapstructure:"idle_window" json:"idle_window"`
}

// Config stores application configuration.
type Config struct {
	// AI provider and model configuration
	Provider      string  `mapstructure:"provider" json:"provider"`
	ModelName     string  `mapstructure:"model_name" json:"model_name"`
	EmbedderModel string  `mapstructure:"embedder_model" json:"embedder_model"`
	Temperature   float32 `mapstructure:"temperature" json:"temperature"`

	// Storage configuration (see storage.go for DSN helpers)
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Pipeline configuration
	Collections CollectionsConfig `mapstructure:"collections" json:"collections"`
	Retrieval   RetrievalConfig   `mapstructure:"retrieval" json:"retrieval"`
	Generation  GenerationConfig  `mapstructure:"generation" json:"generation"`
	Voice       VoiceConfig       `mapstructure:"voice" json:"voice"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler" json:"scheduler"`

	// Conversation window: how many recent turns feed the composer.
	HistoryWindow int32 `mapstructure:"history_window" json:"history_window"`

	// Composer budget in estimated tokens.
	MaxContextTokens int `mapstructure:"max_context_tokens" json:"max_context_tokens"`

	// HTTP server address for serve mode.
	ServerAddr string `mapstructure:"server_addr" json:"server_addr"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".neverland")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; defaults and env cover everything.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	// AI defaults
	v.SetDefault("provider", ProviderGemini)
	v.SetDefault("model_name", "gemini-2.5-flash")
	v.SetDefault("embedder_model", "gemini-embedding-001")
	v.SetDefault("temperature", 0.3)

	// PostgreSQL defaults (matching docker-compose.yml)
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "neverland")
	v.SetDefault("postgres_password", "neverland_dev_password")
	v.SetDefault("postgres_db_name", "neverland")
	v.SetDefault("postgres_ssl_mode", "disable")

	// Collection names mirror the original vector store layout.
	v.SetDefault("collections.daily", "daily_conversations")
	v.SetDefault("collections.letter", "letter_memories")
	v.SetDefault("collections.object", "object_memories")

	// Retrieval defaults
	v.SetDefault("retrieval.top_k", 3)
	v.SetDefault("retrieval.score_floor", 0.3)
	v.SetDefault("retrieval.timeout", 10*time.Second)
	v.SetDefault("retrieval.max_retries", 3)

	// Generation defaults
	v.SetDefault("generation.max_retries", 3)
	v.SetDefault("generation.attempt_timeout", 60*time.Second)
	v.SetDefault("generation.rate_per_second", 10)
	v.SetDefault("generation.rate_burst", 30)

	// Voice defaults
	v.SetDefault("voice.base_url", "https://api.elevenlabs.io")
	v.SetDefault("voice.audio_dir", "static/audio")
	v.SetDefault("voice.max_text_length", 150)

	// Scheduler defaults: hourly tick, 24h daily period, 72h idle close.
	v.SetDefault("scheduler.interval", time.Hour)
	v.SetDefault("scheduler.idle_window", 72*time.Hour)

	v.SetDefault("history_window", 10)
	v.SetDefault("max_context_tokens", 8000)

	v.SetDefault("server_addr", "127.0.0.1:3500")
}

// bindEnvVariables binds environment variables explicitly.
func bindEnvVariables(v *viper.Viper) {
	// Hardcoded keys cannot fail to bind; a panic here is a bug.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "NEVERLAND_PROVIDER")
	mustBind("model_name", "NEVERLAND_MODEL_NAME")
	mustBind("embedder_model", "NEVERLAND_EMBEDDER_MODEL")
	mustBind("server_addr", "NEVERLAND_SERVER_ADDR")
	mustBind("voice.api_key", "ELEVENLABS_API_KEY")
	mustBind("voice.default_voice_id", "NEVERLAND_VOICE_ID")
	mustBind("postgres_password", "NEVERLAND_POSTGRES_PASSWORD")

	// NOTE: GEMINI_API_KEY / OPENAI_API_KEY are read directly by the Genkit
	// plugins; Validate() only checks their presence for the active provider.
}
