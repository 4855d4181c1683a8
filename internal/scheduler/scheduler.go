// Package scheduler fires the daily check-in for every persona owner and
// closes sessions that have gone quiet.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/neverland-app/neverland/internal/log"
	"github.com/neverland-app/neverland/internal/orchestrator"
	"github.com/neverland-app/neverland/internal/retrieval"
	"github.com/neverland-app/neverland/internal/session"
)

// dailyPrompt seeds the scheduled check-in turn.
const dailyPrompt = "Begin today's conversation: greet them warmly, mention something from a recent shared memory if one is available, and ask how their day is going."

// Pipeline processes one turn.
type Pipeline interface {
	Handle(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
}

// Owners lists every owner with a persona.
type Owners interface {
	ListOwners(ctx context.Context) ([]string, error)
}

// Sessions is the session surface the scheduler needs.
type Sessions interface {
	Create(ctx context.Context, ownerID, title string) (*session.Session, error)
	LatestActive(ctx context.Context, ownerID string) (*session.Session, error)
	HasPeriodTurn(ctx context.Context, sessionID uuid.UUID, periodKey string) (bool, error)
	CloseIdle(ctx context.Context, cutoff time.Time) (int64, error)
}

// Ingestor archives generated daily turns back into the memory store.
type Ingestor interface {
	Ingest(ctx context.Context, m retrieval.Memory) (string, error)
}

// Report summarizes one scheduler pass.
type Report struct {
	Fired   int
	Skipped int
	Failed  int
	Closed  int64
	Errors  []error
}

// Scheduler runs periodic passes over all persona owners.
type Scheduler struct {
	pipeline        Pipeline
	owners          Owners
	sessions        Sessions
	ingestor        Ingestor
	dailyCollection string
	interval        time.Duration
	idleWindow      time.Duration
	log             log.Logger
}

// New creates a scheduler.
func New(
	pipeline Pipeline,
	owners Owners,
	sessions Sessions,
	ingestor Ingestor,
	dailyCollection string,
	interval, idleWindow time.Duration,
	logger log.Logger,
) *Scheduler {
	return &Scheduler{
		pipeline:        pipeline,
		owners:          owners,
		sessions:        sessions,
		ingestor:        ingestor,
		dailyCollection: dailyCollection,
		interval:        interval,
		idleWindow:      idleWindow,
		log:             logger,
	}
}

// Run fires a pass immediately and then at every interval until the
// context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.pass(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.pass(ctx)
		}
	}
}

func (s *Scheduler) pass(ctx context.Context) {
	report := s.RunOnce(ctx, time.Now())
	s.log.Info("scheduler pass finished",
		"fired", report.Fired,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"closed", report.Closed)
	for _, err := range report.Errors {
		s.log.Warn("scheduler pass error", "error", err)
	}
}

// RunOnce executes a single pass at the given time. Failures for one
// owner never stop the others; they are collected in the report. The
// period key makes re-runs within the same day no-ops.
func (s *Scheduler) RunOnce(ctx context.Context, now time.Time) Report {
	var report Report

	closed, err := s.sessions.CloseIdle(ctx, now.Add(-s.idleWindow))
	if err != nil {
		report.Errors = append(report.Errors, fmt.Errorf("closing idle sessions: %w", err))
	}
	report.Closed = closed

	owners, err := s.owners.ListOwners(ctx)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Errorf("listing owners: %w", err))
		return report
	}

	periodKey := now.UTC().Format("2006-01-02")
	for _, owner := range owners {
		if ctx.Err() != nil {
			report.Errors = append(report.Errors, ctx.Err())
			return report
		}
		fired, err := s.runOwner(ctx, owner, periodKey)
		switch {
		case err != nil:
			report.Failed++
			report.Errors = append(report.Errors, fmt.Errorf("owner %s: %w", owner, err))
		case fired:
			report.Fired++
		default:
			report.Skipped++
		}
	}
	return report
}

func (s *Scheduler) runOwner(ctx context.Context, owner, periodKey string) (bool, error) {
	sess, err := s.sessions.LatestActive(ctx, owner)
	if errors.Is(err, session.ErrSessionNotFound) {
		sess, err = s.sessions.Create(ctx, owner, "")
	}
	if err != nil {
		return false, err
	}

	done, err := s.sessions.HasPeriodTurn(ctx, sess.ID, periodKey)
	if err != nil {
		return false, err
	}
	if done {
		return false, nil
	}

	res, err := s.pipeline.Handle(ctx, orchestrator.Request{
		SessionID: sess.ID,
		OwnerID:   owner,
		Intent:    retrieval.IntentDaily,
		Text:      dailyPrompt,
		Hints:     map[string]string{retrieval.MetaDate: periodKey},
		PeriodKey: periodKey,
	})
	if err != nil {
		return false, err
	}
	if res.AlreadyDone {
		return false, nil
	}

	// Archive the opener so later conversations can recall it. Best
	// effort; the turn itself is already persisted.
	_, err = s.ingestor.Ingest(ctx, retrieval.Memory{
		Collection: s.dailyCollection,
		OwnerID:    owner,
		Content:    res.Text,
		Date:       periodKey,
	})
	if err != nil {
		s.log.Warn("archiving daily turn failed", "owner", owner, "error", err)
	}

	return true, nil
}
