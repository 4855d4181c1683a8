package config

import (
	"errors"
	"fmt"
	"os"
)

// Sentinel errors for configuration validation.
// Check with errors.Is().
var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrMissingAPIKey indicates a required provider API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is empty.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is empty.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidCollection indicates a vector collection name is empty.
	ErrInvalidCollection = errors.New("invalid collection name")

	// ErrInvalidRetrieval indicates retrieval parameters are out of range.
	ErrInvalidRetrieval = errors.New("invalid retrieval configuration")

	// ErrInvalidGeneration indicates generation parameters are out of range.
	ErrInvalidGeneration = errors.New("invalid generation configuration")
)

// Validate performs fail-fast validation of the configuration.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	switch c.Provider {
	case ProviderGemini:
		if os.Getenv("GEMINI_API_KEY") == "" && os.Getenv("GOOGLE_API_KEY") == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY required for provider %q", ErrMissingAPIKey, c.Provider)
		}
	case ProviderOpenAI:
		if os.Getenv("OPENAI_API_KEY") == "" {
			return fmt.Errorf("%w: OPENAI_API_KEY required for provider %q", ErrMissingAPIKey, c.Provider)
		}
	default:
		return fmt.Errorf("%w: %q (supported: gemini, openai)", ErrInvalidProvider, c.Provider)
	}

	if c.PostgresHost == "" {
		return ErrInvalidPostgresHost
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return ErrInvalidPostgresDBName
	}

	for key, name := range map[string]string{
		CollectionDaily:  c.Collections.Daily,
		CollectionLetter: c.Collections.Letter,
		CollectionObject: c.Collections.Object,
	} {
		if name == "" {
			return fmt.Errorf("%w: collection %q has no store name", ErrInvalidCollection, key)
		}
	}

	if c.Retrieval.TopK < 1 || c.Retrieval.TopK > 50 {
		return fmt.Errorf("%w: top_k must be in [1, 50], got %d", ErrInvalidRetrieval, c.Retrieval.TopK)
	}
	if c.Retrieval.ScoreFloor < 0 || c.Retrieval.ScoreFloor >= 1 {
		return fmt.Errorf("%w: score_floor must be in [0, 1), got %v", ErrInvalidRetrieval, c.Retrieval.ScoreFloor)
	}
	if c.Retrieval.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must be >= 0, got %d", ErrInvalidRetrieval, c.Retrieval.MaxRetries)
	}

	if c.Generation.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must be >= 0, got %d", ErrInvalidGeneration, c.Generation.MaxRetries)
	}
	if c.Generation.AttemptTimeout <= 0 {
		return fmt.Errorf("%w: attempt_timeout must be positive, got %v", ErrInvalidGeneration, c.Generation.AttemptTimeout)
	}

	return nil
}
