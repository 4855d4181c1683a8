// Package api exposes the companion service over HTTP.
//
// Endpoints:
//
//	GET  /health                     liveness probe
//	GET  /ready                      readiness probe (checks database)
//	POST /api/chat                   process one conversational turn
//	POST /api/letters                chat with the letter intent forced
//	GET  /api/sessions               list an owner's sessions
//	POST /api/sessions               open a new session
//	GET  /api/sessions/{id}/turns    read recent turns
//	GET  /api/personas/{owner}       read a persona
//	PUT  /api/personas               create or replace a persona
//	POST /api/memories               ingest a memory passage
//	POST /api/memories/search        search stored memories directly
//	GET  /audio/{file}               serve synthesized reply audio
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/neverland-app/neverland/internal/log"
	"github.com/neverland-app/neverland/internal/orchestrator"
	"github.com/neverland-app/neverland/internal/profile"
	"github.com/neverland-app/neverland/internal/retrieval"
	"github.com/neverland-app/neverland/internal/session"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = "127.0.0.1:3500"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout guards against slow-header clients.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is the maximum duration for writing the response.
	// Generation with retries can take a while.
	WriteTimeout = 120 * time.Second

	// IdleTimeout bounds keep-alive connections.
	IdleTimeout = 120 * time.Second
)

// Pipeline processes one conversational turn.
type Pipeline interface {
	Handle(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
}

// SessionStore is the session surface the handlers need.
type SessionStore interface {
	Create(ctx context.Context, ownerID, title string) (*session.Session, error)
	Get(ctx context.Context, id uuid.UUID) (*session.Session, error)
	ListByOwner(ctx context.Context, ownerID string, limit int32) ([]session.Session, error)
	Recent(ctx context.Context, sessionID uuid.UUID, limit int32) ([]session.Turn, error)
}

// PersonaStore reads and writes persona profiles.
type PersonaStore interface {
	Upsert(ctx context.Context, p *profile.Persona) (*profile.Persona, error)
	GetByOwner(ctx context.Context, ownerID string) (*profile.Persona, error)
}

// MemoryIngestor stores new memory passages.
type MemoryIngestor interface {
	Ingest(ctx context.Context, m retrieval.Memory) (string, error)
}

// MemorySearcher runs retrieval queries over the memory collections.
type MemorySearcher interface {
	Retrieve(ctx context.Context, q retrieval.Query) ([]retrieval.Passage, error)
}

// Pinger checks database connectivity for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps carries everything the server needs.
type Deps struct {
	Pipeline Pipeline
	Sessions SessionStore
	Personas PersonaStore
	Ingestor MemoryIngestor
	Searcher MemorySearcher
	DB       Pinger
	Log      log.Logger

	// Collections maps the public collection aliases (daily, letter,
	// object) to the configured store names.
	Collections map[string]string

	// AudioDir is served under /audio/.
	AudioDir string
}

// Server is the HTTP server for the companion REST API.
type Server struct {
	mux *http.ServeMux
	log log.Logger

	health  *HealthHandler
	chat    *ChatHandler
	session *SessionHandler
	persona *PersonaHandler
	memory  *MemoryHandler
}

// NewServer creates a server with all routes registered.
func NewServer(d Deps) *Server {
	mux := http.NewServeMux()

	logger := d.Log
	if logger == nil {
		logger = log.NewNop()
	}

	s := &Server{
		mux:     mux,
		log:     logger,
		health:  NewHealthHandler(d.DB),
		chat:    NewChatHandler(d.Pipeline, d.Ingestor, d.Collections["letter"], logger),
		session: NewSessionHandler(d.Sessions),
		persona: NewPersonaHandler(d.Personas),
		memory:  NewMemoryHandler(d.Ingestor, d.Searcher, d.Collections),
	}

	s.health.RegisterRoutes(mux)
	s.chat.RegisterRoutes(mux)
	s.session.RegisterRoutes(mux)
	s.persona.RegisterRoutes(mux)
	s.memory.RegisterRoutes(mux)

	if d.AudioDir != "" {
		mux.Handle("GET /audio/", http.StripPrefix("/audio/", http.FileServer(http.Dir(d.AudioDir))))
	}

	return s
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery, then logging, then the mux.
func (s *Server) Handler() http.Handler {
	return chain(s.mux, recoveryMiddleware(s.log), loggingMiddleware(s.log))
}

// Run starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.log.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
