package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/neverland-app/neverland/db"
	"github.com/neverland-app/neverland/internal/compose"
	"github.com/neverland-app/neverland/internal/config"
	"github.com/neverland-app/neverland/internal/database"
	"github.com/neverland-app/neverland/internal/generate"
	"github.com/neverland-app/neverland/internal/log"
	"github.com/neverland-app/neverland/internal/orchestrator"
	"github.com/neverland-app/neverland/internal/profile"
	"github.com/neverland-app/neverland/internal/retrieval"
	"github.com/neverland-app/neverland/internal/scheduler"
	"github.com/neverland-app/neverland/internal/session"
	"github.com/neverland-app/neverland/internal/voice"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Log: logger}

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	embedder := provideEmbedder(g, cfg)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}
	a.Embedder = embedder

	a.Sessions = session.NewStore(pool)
	a.Personas = profile.NewStore(pool)
	a.Passages = retrieval.NewStore(pool)

	genkitEmbedder := retrieval.NewGenkitEmbedder(embedder)
	a.Ingestor = retrieval.NewIngestor(a.Passages, genkitEmbedder)

	router := retrieval.NewRouter(
		cfg.Collections.Daily,
		cfg.Collections.Letter,
		cfg.Collections.Object,
		cfg.Retrieval.TopK,
		cfg.Retrieval.ScoreFloor,
	)
	a.Retriever = retrieval.NewRetriever(router, a.Passages, genkitEmbedder,
		cfg.Retrieval.Timeout, cfg.Retrieval.MaxRetries, logger)

	model := generate.NewGenkitModel(g, qualifiedModelName(cfg))
	a.Invoker = generate.NewInvoker(model, generate.InvokerOptions{
		ModelName:      qualifiedModelName(cfg),
		MaxRetries:     cfg.Generation.MaxRetries,
		AttemptTimeout: cfg.Generation.AttemptTimeout,
		RatePerSecond:  cfg.Generation.RatePerSecond,
		RateBurst:      cfg.Generation.RateBurst,
	}, logger)

	a.Speaker = voice.NewSynthesizer(voice.Options{
		BaseURL:       cfg.Voice.BaseURL,
		APIKey:        cfg.Voice.APIKey,
		DefaultVoice:  cfg.Voice.DefaultVoiceID,
		AudioDir:      cfg.Voice.AudioDir,
		MaxTextLength: cfg.Voice.MaxTextLength,
	}, logger)

	a.Orchestrator = orchestrator.New(
		a.Sessions,
		a.Personas,
		a.Retriever,
		a.Invoker,
		a.Speaker,
		compose.NewComposer(cfg.MaxContextTokens),
		cfg.HistoryWindow,
		logger,
	)

	a.Scheduler = scheduler.New(
		a.Orchestrator,
		a.Personas,
		a.Sessions,
		a.Ingestor,
		cfg.Collections.Daily,
		cfg.Scheduler.Interval,
		cfg.Scheduler.IdleWindow,
		logger,
	)

	return a, nil
}

// provideDBPool runs migrations and opens the connection pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return database.NewPool(ctx, cfg.PostgresConnectionString())
}

// provideGenkit initializes genkit with the configured AI provider.
func provideGenkit(ctx context.Context, cfg *config.Config, logger log.Logger) (*genkit.Genkit, error) {
	var g *genkit.Genkit

	switch cfg.Provider {
	case config.ProviderOpenAI:
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
		logger.Info("initialized genkit with openai provider", "model", cfg.ModelName)

	default: // gemini
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		logger.Info("initialized genkit with gemini provider", "model", cfg.ModelName)
	}

	return g, nil
}

// provideEmbedder looks up the embedder registered by the provider plugin.
// Providers register embedders differently:
//   - gemini: GoogleAIEmbedder(g, modelName)
//   - openai: auto-registered in Init(), looked up by model name
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return genkit.LookupEmbedder(g, api.NewName("openai", cfg.EmbedderModel))
	default:
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}

// qualifiedModelName returns the provider-prefixed model name genkit
// resolves, for example "googleai/gemini-2.5-flash".
func qualifiedModelName(cfg *config.Config) string {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return "openai/" + cfg.ModelName
	default:
		return "googleai/" + cfg.ModelName
	}
}
