// Package app initializes the application container and wires every
// component together.
package app

import (
	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/neverland-app/neverland/internal/config"
	"github.com/neverland-app/neverland/internal/generate"
	"github.com/neverland-app/neverland/internal/log"
	"github.com/neverland-app/neverland/internal/orchestrator"
	"github.com/neverland-app/neverland/internal/profile"
	"github.com/neverland-app/neverland/internal/retrieval"
	"github.com/neverland-app/neverland/internal/scheduler"
	"github.com/neverland-app/neverland/internal/session"
	"github.com/neverland-app/neverland/internal/voice"
)

// App is the application container.
type App struct {
	Config *config.Config
	Log    log.Logger

	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	DBPool   *pgxpool.Pool

	Sessions *session.Store
	Personas *profile.Store
	Passages *retrieval.Store
	Ingestor *retrieval.Ingestor

	Retriever    *retrieval.Retriever
	Invoker      *generate.Invoker
	Speaker      *voice.Synthesizer
	Orchestrator *orchestrator.Orchestrator
	Scheduler    *scheduler.Scheduler
}

// Close releases all resources.
func (a *App) Close() error {
	a.Log.Info("shutting down application")

	if a.DBPool != nil {
		a.DBPool.Close()
		a.Log.Info("database pool closed")
	}
	return nil
}
