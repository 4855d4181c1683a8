// Package orchestrator drives one conversational turn end to end:
// retrieve, compose, generate, synthesize, persist.
package orchestrator

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/neverland-app/neverland/internal/retrieval"
)

// State tracks where a turn is in its pipeline.
type State int

const (
	StateReceived State = iota
	StateRetrieving
	StateComposing
	StateGenerating
	StateSynthesizing
	StatePersisting
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateRetrieving:
		return "retrieving"
	case StateComposing:
		return "composing"
	case StateGenerating:
		return "generating"
	case StateSynthesizing:
		return "synthesizing"
	case StatePersisting:
		return "persisting"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrEmptyText indicates the request carried no input text.
var ErrEmptyText = errors.New("empty request text")

// Request is one turn to process. A non-empty PeriodKey marks a scheduled
// turn: no user turn is written and the period key makes the write
// idempotent.
type Request struct {
	SessionID uuid.UUID
	OwnerID   string
	Intent    retrieval.Intent
	Text      string
	Hints     map[string]string
	WantAudio bool
	PeriodKey string
}

// Result is a completed turn.
type Result struct {
	Text       string
	PassageIDs []string
	AudioRef   string

	// AudioUnavailable is set when audio was requested but synthesis
	// failed; the text reply is still valid.
	AudioUnavailable bool

	// Degraded is set when retrieval was unavailable and the reply was
	// generated without memory context.
	Degraded bool

	// AlreadyDone is set when an identical scheduled turn had been
	// persisted before; nothing new was written.
	AlreadyDone bool

	ModelName string
	Latency   time.Duration
	TurnSeq   int32
}
