package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neverland-app/neverland/internal/log"
	"github.com/neverland-app/neverland/internal/orchestrator"
	"github.com/neverland-app/neverland/internal/retrieval"
	"github.com/neverland-app/neverland/internal/session"
)

type fakePipeline struct {
	requests []orchestrator.Request
	errFor   map[string]error
	already  bool
}

func (f *fakePipeline) Handle(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error) {
	f.requests = append(f.requests, req)
	if err := f.errFor[req.OwnerID]; err != nil {
		return nil, err
	}
	if f.already {
		return &orchestrator.Result{AlreadyDone: true}, nil
	}
	return &orchestrator.Result{Text: "good morning, dear", TurnSeq: 1}, nil
}

type fakeOwners struct {
	owners []string
	err    error
}

func (f *fakeOwners) ListOwners(ctx context.Context) ([]string, error) {
	return f.owners, f.err
}

type fakeSchedSessions struct {
	existing   map[string]*session.Session
	hasPeriod  map[uuid.UUID]bool
	created    []string
	closed     int64
	closeCalls int
}

func (f *fakeSchedSessions) Create(ctx context.Context, ownerID, title string) (*session.Session, error) {
	f.created = append(f.created, ownerID)
	sess := &session.Session{ID: uuid.New(), OwnerID: ownerID, Status: session.StatusActive}
	if f.existing == nil {
		f.existing = map[string]*session.Session{}
	}
	f.existing[ownerID] = sess
	return sess, nil
}

func (f *fakeSchedSessions) LatestActive(ctx context.Context, ownerID string) (*session.Session, error) {
	if sess, ok := f.existing[ownerID]; ok {
		return sess, nil
	}
	return nil, session.ErrSessionNotFound
}

func (f *fakeSchedSessions) HasPeriodTurn(ctx context.Context, sessionID uuid.UUID, periodKey string) (bool, error) {
	return f.hasPeriod[sessionID], nil
}

func (f *fakeSchedSessions) CloseIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	f.closeCalls++
	return f.closed, nil
}

type fakeIngestor struct {
	memories []retrieval.Memory
	err      error
}

func (f *fakeIngestor) Ingest(ctx context.Context, m retrieval.Memory) (string, error) {
	f.memories = append(f.memories, m)
	return "passage-id", f.err
}

func newTestScheduler(p *fakePipeline, o *fakeOwners, s *fakeSchedSessions, i *fakeIngestor) *Scheduler {
	return New(p, o, s, i, "daily_conversations", time.Hour, 72*time.Hour, log.NewNop())
}

func TestRunOnce(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)

	t.Run("fires a daily turn per owner", func(t *testing.T) {
		pipeline := &fakePipeline{}
		sessions := &fakeSchedSessions{closed: 2}
		ingestor := &fakeIngestor{}
		s := newTestScheduler(pipeline, &fakeOwners{owners: []string{"a", "b"}}, sessions, ingestor)

		report := s.RunOnce(ctx, now)

		assert.Equal(t, 2, report.Fired)
		assert.Zero(t, report.Failed)
		assert.Equal(t, int64(2), report.Closed)
		assert.Empty(t, report.Errors)

		require.Len(t, pipeline.requests, 2)
		req := pipeline.requests[0]
		assert.Equal(t, "2026-08-29", req.PeriodKey)
		assert.Equal(t, retrieval.IntentDaily, req.Intent)
		assert.Equal(t, "2026-08-29", req.Hints[retrieval.MetaDate])
		assert.NotEmpty(t, req.Text)

		// Owners without a session get one created.
		assert.Equal(t, []string{"a", "b"}, sessions.created)
	})

	t.Run("archives the generated opener", func(t *testing.T) {
		pipeline := &fakePipeline{}
		ingestor := &fakeIngestor{}
		s := newTestScheduler(pipeline, &fakeOwners{owners: []string{"a"}}, &fakeSchedSessions{}, ingestor)

		_ = s.RunOnce(ctx, now)

		require.Len(t, ingestor.memories, 1)
		m := ingestor.memories[0]
		assert.Equal(t, "daily_conversations", m.Collection)
		assert.Equal(t, "a", m.OwnerID)
		assert.Equal(t, "good morning, dear", m.Content)
		assert.Equal(t, "2026-08-29", m.Date)
	})

	t.Run("skips owners whose period turn exists", func(t *testing.T) {
		sessID := uuid.New()
		sessions := &fakeSchedSessions{
			existing:  map[string]*session.Session{"a": {ID: sessID}},
			hasPeriod: map[uuid.UUID]bool{sessID: true},
		}
		pipeline := &fakePipeline{}
		s := newTestScheduler(pipeline, &fakeOwners{owners: []string{"a"}}, sessions, &fakeIngestor{})

		report := s.RunOnce(ctx, now)

		assert.Zero(t, report.Fired)
		assert.Equal(t, 1, report.Skipped)
		assert.Empty(t, pipeline.requests)
	})

	t.Run("already done counts as skipped", func(t *testing.T) {
		pipeline := &fakePipeline{already: true}
		ingestor := &fakeIngestor{}
		s := newTestScheduler(pipeline, &fakeOwners{owners: []string{"a"}}, &fakeSchedSessions{}, ingestor)

		report := s.RunOnce(ctx, now)

		assert.Zero(t, report.Fired)
		assert.Equal(t, 1, report.Skipped)
		assert.Empty(t, ingestor.memories)
	})

	t.Run("one failing owner does not stop the rest", func(t *testing.T) {
		pipeline := &fakePipeline{errFor: map[string]error{"b": errors.New("model down")}}
		s := newTestScheduler(pipeline, &fakeOwners{owners: []string{"a", "b", "c"}}, &fakeSchedSessions{}, &fakeIngestor{})

		report := s.RunOnce(ctx, now)

		assert.Equal(t, 2, report.Fired)
		assert.Equal(t, 1, report.Failed)
		require.Len(t, report.Errors, 1)
		assert.Contains(t, report.Errors[0].Error(), "owner b")
	})

	t.Run("ingest failure does not fail the pass", func(t *testing.T) {
		ingestor := &fakeIngestor{err: errors.New("embedder down")}
		s := newTestScheduler(&fakePipeline{}, &fakeOwners{owners: []string{"a"}}, &fakeSchedSessions{}, ingestor)

		report := s.RunOnce(ctx, now)

		assert.Equal(t, 1, report.Fired)
		assert.Zero(t, report.Failed)
	})

	t.Run("owner listing failure is reported", func(t *testing.T) {
		s := newTestScheduler(&fakePipeline{}, &fakeOwners{err: errors.New("db down")}, &fakeSchedSessions{}, &fakeIngestor{})

		report := s.RunOnce(ctx, now)

		assert.Zero(t, report.Fired)
		require.Len(t, report.Errors, 1)
	})
}

func TestRun(t *testing.T) {
	pipeline := &fakePipeline{}
	sessions := &fakeSchedSessions{}
	s := New(pipeline, &fakeOwners{owners: []string{"a"}}, sessions, &fakeIngestor{},
		"daily_conversations", 10*time.Millisecond, 72*time.Hour, log.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	// Initial pass plus at least one tick.
	assert.GreaterOrEqual(t, sessions.closeCalls, 2)
}
