package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/neverland-app/neverland/internal/compose"
	"github.com/neverland-app/neverland/internal/generate"
	"github.com/neverland-app/neverland/internal/log"
	"github.com/neverland-app/neverland/internal/profile"
	"github.com/neverland-app/neverland/internal/retrieval"
	"github.com/neverland-app/neverland/internal/session"
)

// SessionStore is the session persistence surface the orchestrator needs.
type SessionStore interface {
	Get(ctx context.Context, id uuid.UUID) (*session.Session, error)
	AppendTurns(ctx context.Context, sessionID uuid.UUID, inputs []session.TurnInput) ([]session.Turn, error)
	Recent(ctx context.Context, sessionID uuid.UUID, limit int32) ([]session.Turn, error)
}

// PersonaStore loads the persona for an owner.
type PersonaStore interface {
	GetByOwner(ctx context.Context, ownerID string) (*profile.Persona, error)
}

// Retriever fetches relevant passages for a query.
type Retriever interface {
	Retrieve(ctx context.Context, q retrieval.Query) ([]retrieval.Passage, error)
}

// Generator produces a reply from a composed context.
type Generator interface {
	Invoke(ctx context.Context, cctx *compose.Context) (*generate.Result, error)
}

// Speaker renders reply text as audio.
type Speaker interface {
	Synthesize(ctx context.Context, text, voiceID string) (string, error)
}

// Orchestrator runs the turn pipeline. Retrieval and generation for
// overlapping requests run concurrently; only the final turn append is
// serialized per session.
type Orchestrator struct {
	sessions      SessionStore
	personas      PersonaStore
	retriever     Retriever
	generator     Generator
	speaker       Speaker
	composer      *compose.Composer
	historyWindow int32
	locks         *sessionLocks
	log           log.Logger
}

// New creates an orchestrator.
func New(
	sessions SessionStore,
	personas PersonaStore,
	retriever Retriever,
	generator Generator,
	speaker Speaker,
	composer *compose.Composer,
	historyWindow int32,
	logger log.Logger,
) *Orchestrator {
	return &Orchestrator{
		sessions:      sessions,
		personas:      personas,
		retriever:     retriever,
		generator:     generator,
		speaker:       speaker,
		composer:      composer,
		historyWindow: historyWindow,
		locks:         newSessionLocks(),
		log:           logger,
	}
}

// Handle processes one turn. On retrieval outage or an unknown intent
// it degrades to generation without memory context. On generation
// failure nothing is persisted. Audio failure never fails the turn.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}

	state := StateReceived
	logger := o.log.With("session_id", req.SessionID, "intent", req.Intent)

	fail := func(err error) (*Result, error) {
		logger.Error("turn failed", "state", state.String(), "error", err)
		return nil, err
	}

	persona, err := o.personas.GetByOwner(ctx, req.OwnerID)
	if err != nil {
		return fail(fmt.Errorf("loading persona: %w", err))
	}
	if _, err := o.sessions.Get(ctx, req.SessionID); err != nil {
		return fail(err)
	}

	// Retrieve. An unavailable backend or an unrecognized intent
	// degrades the turn instead of failing it; the persona can still
	// hold a conversation without memory context.
	state = StateRetrieving
	degraded := false
	passages, err := o.retriever.Retrieve(ctx, retrieval.Query{
		OwnerID: req.OwnerID,
		Intent:  req.Intent,
		Text:    req.Text,
		Hints:   req.Hints,
	})
	switch {
	case errors.Is(err, retrieval.ErrUnknownIntent):
		degraded = true
		passages = nil
		logger.Warn("unknown intent, continuing without retrieval", "error", err)
	case errors.Is(err, retrieval.ErrRetrievalUnavailable):
		degraded = true
		passages = nil
		logger.Warn("retrieval unavailable, degrading turn", "error", err)
	case err != nil:
		state = StateFailed
		return fail(err)
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	state = StateComposing
	history, err := o.history(ctx, req.SessionID)
	if err != nil {
		return fail(err)
	}
	cctx := o.composer.Compose(compose.Input{
		Preamble: persona.Preamble(),
		Passages: passages,
		History:  history,
		UserText: req.Text,
	})

	state = StateGenerating
	gen, err := o.generator.Invoke(ctx, cctx)
	if err != nil {
		state = StateFailed
		return fail(err)
	}

	// Synthesize, best effort.
	state = StateSynthesizing
	audioRef := ""
	audioUnavailable := false
	if req.WantAudio {
		audioRef, err = o.speaker.Synthesize(ctx, gen.Text, persona.VoiceID)
		if err != nil {
			audioUnavailable = true
			audioRef = ""
			logger.Warn("audio synthesis failed, replying with text only", "error", err)
		}
	}

	state = StatePersisting
	inputs := make([]session.TurnInput, 0, 2)
	if req.PeriodKey == "" {
		inputs = append(inputs, session.TurnInput{
			Role:    session.RoleUser,
			Content: req.Text,
		})
	}
	inputs = append(inputs, session.TurnInput{
		Role:       session.RoleAssistant,
		Content:    gen.Text,
		AudioRef:   audioRef,
		Provenance: cctx.PassageIDs,
		PeriodKey:  req.PeriodKey,
	})

	turns, err := o.appendLocked(ctx, req.SessionID, inputs)
	if errors.Is(err, session.ErrTurnConflict) {
		// A concurrent or earlier run already wrote this period's turn.
		logger.Info("turn already persisted", "period_key", req.PeriodKey)
		return &Result{AlreadyDone: true}, nil
	}
	if err != nil {
		state = StateFailed
		return fail(fmt.Errorf("persisting turns: %w", err))
	}

	state = StateCompleted
	result := &Result{
		Text:             gen.Text,
		PassageIDs:       cctx.PassageIDs,
		AudioRef:         audioRef,
		AudioUnavailable: audioUnavailable,
		Degraded:         degraded,
		ModelName:        gen.ModelName,
		Latency:          gen.Latency,
		TurnSeq:          turns[len(turns)-1].Seq,
	}
	logger.Info("turn completed",
		"state", state.String(),
		"seq", result.TurnSeq,
		"degraded", degraded,
		"passages", len(result.PassageIDs),
		"latency", gen.Latency)
	return result, nil
}

// appendLocked writes the turns under the per-session lock so appends
// from overlapping requests never interleave. Nothing is persisted for
// a cancelled request.
func (o *Orchestrator) appendLocked(ctx context.Context, sessionID uuid.UUID, inputs []session.TurnInput) ([]session.Turn, error) {
	release := o.locks.acquire(sessionID)
	defer release()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return o.sessions.AppendTurns(ctx, sessionID, inputs)
}

// history loads the recent window as composer messages. System turns are
// excluded; the preamble already carries the system role.
func (o *Orchestrator) history(ctx context.Context, sessionID uuid.UUID) ([]compose.Message, error) {
	turns, err := o.sessions.Recent(ctx, sessionID, o.historyWindow)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}

	msgs := make([]compose.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case session.RoleUser:
			msgs = append(msgs, compose.Message{Role: compose.RoleUser, Text: t.Content})
		case session.RoleAssistant:
			msgs = append(msgs, compose.Message{Role: compose.RoleAssistant, Text: t.Content})
		}
	}
	return msgs, nil
}
