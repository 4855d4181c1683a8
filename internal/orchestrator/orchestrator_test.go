package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neverland-app/neverland/internal/compose"
	"github.com/neverland-app/neverland/internal/generate"
	"github.com/neverland-app/neverland/internal/log"
	"github.com/neverland-app/neverland/internal/profile"
	"github.com/neverland-app/neverland/internal/retrieval"
	"github.com/neverland-app/neverland/internal/session"
)

type fakeSessions struct {
	mu        sync.Mutex
	history   []session.Turn
	appended  [][]session.TurnInput
	appendErr error
	nextSeq   int32

	appendInFlight atomic.Int32
	appendMaxSeen  atomic.Int32
}

func (f *fakeSessions) Get(ctx context.Context, id uuid.UUID) (*session.Session, error) {
	return &session.Session{ID: id, Status: session.StatusActive}, nil
}

func (f *fakeSessions) AppendTurns(ctx context.Context, sessionID uuid.UUID, inputs []session.TurnInput) ([]session.Turn, error) {
	n := f.appendInFlight.Add(1)
	if n > f.appendMaxSeen.Load() {
		f.appendMaxSeen.Store(n)
	}
	time.Sleep(time.Millisecond)
	defer f.appendInFlight.Add(-1)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return nil, f.appendErr
	}
	f.appended = append(f.appended, inputs)
	turns := make([]session.Turn, len(inputs))
	for i, in := range inputs {
		f.nextSeq++
		turns[i] = session.Turn{SessionID: sessionID, Seq: f.nextSeq, Role: in.Role, Content: in.Content}
	}
	return turns, nil
}

func (f *fakeSessions) Recent(ctx context.Context, sessionID uuid.UUID, limit int32) ([]session.Turn, error) {
	return f.history, nil
}

func (f *fakeSessions) lastAppend() []session.TurnInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.appended) == 0 {
		return nil
	}
	return f.appended[len(f.appended)-1]
}

type fakePersonas struct{ persona *profile.Persona }

func (f *fakePersonas) GetByOwner(ctx context.Context, ownerID string) (*profile.Persona, error) {
	if f.persona == nil {
		return nil, profile.ErrPersonaNotFound
	}
	return f.persona, nil
}

type fakeRetriever struct {
	passages []retrieval.Passage
	err      error
}

func (f *fakeRetriever) Retrieve(ctx context.Context, q retrieval.Query) ([]retrieval.Passage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.passages, nil
}

type fakeGenerator struct {
	text     string
	err      error
	inFlight atomic.Int32
	maxSeen  atomic.Int32

	// arrivals, when set, blocks every Invoke until all expected
	// callers are in flight.
	arrivals *sync.WaitGroup

	mu     sync.Mutex
	gotCtx *compose.Context
}

func (f *fakeGenerator) Invoke(ctx context.Context, cctx *compose.Context) (*generate.Result, error) {
	n := f.inFlight.Add(1)
	if n > f.maxSeen.Load() {
		f.maxSeen.Store(n)
	}
	if f.arrivals != nil {
		f.arrivals.Done()
		f.arrivals.Wait()
	}
	f.inFlight.Add(-1)

	f.mu.Lock()
	f.gotCtx = cctx
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &generate.Result{Text: f.text, ModelName: "googleai/gemini-2.5-flash", Attempts: 1}, nil
}

func (f *fakeGenerator) gotContext() *compose.Context {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gotCtx
}

type fakeSpeaker struct {
	ref      string
	err      error
	gotVoice string
	calls    int
}

func (f *fakeSpeaker) Synthesize(ctx context.Context, text, voiceID string) (string, error) {
	f.calls++
	f.gotVoice = voiceID
	if f.err != nil {
		return "", f.err
	}
	return f.ref, nil
}

type fixture struct {
	sessions  *fakeSessions
	retriever *fakeRetriever
	generator *fakeGenerator
	speaker   *fakeSpeaker
	orch      *Orchestrator
}

func newFixture() *fixture {
	f := &fixture{
		sessions:  &fakeSessions{},
		retriever: &fakeRetriever{passages: []retrieval.Passage{{ID: "p1", Content: "the garden", Score: 0.8}}},
		generator: &fakeGenerator{text: "hello dear"},
		speaker:   &fakeSpeaker{ref: "abc.mp3"},
	}
	personas := &fakePersonas{persona: &profile.Persona{Name: "Maggie", VoiceID: "voice-7"}}
	f.orch = New(f.sessions, personas, f.retriever, f.generator, f.speaker,
		compose.NewComposer(8000), 10, log.NewNop())
	return f
}

func TestHandle(t *testing.T) {
	ctx := context.Background()
	sessionID := uuid.New()

	baseReq := Request{
		SessionID: sessionID,
		OwnerID:   "owner-1",
		Intent:    retrieval.IntentDaily,
		Text:      "tell me about the garden",
	}

	t.Run("persists user and assistant turns with provenance", func(t *testing.T) {
		f := newFixture()

		res, err := f.orch.Handle(ctx, baseReq)
		require.NoError(t, err)

		assert.Equal(t, "hello dear", res.Text)
		assert.Equal(t, []string{"p1"}, res.PassageIDs)
		assert.Equal(t, int32(2), res.TurnSeq)
		assert.False(t, res.Degraded)

		appended := f.sessions.lastAppend()
		require.Len(t, appended, 2)
		assert.Equal(t, session.RoleUser, appended[0].Role)
		assert.Equal(t, "tell me about the garden", appended[0].Content)
		assert.Equal(t, session.RoleAssistant, appended[1].Role)
		assert.Equal(t, []string{"p1"}, appended[1].Provenance)
	})

	t.Run("includes history and preamble in the context", func(t *testing.T) {
		f := newFixture()
		f.sessions.history = []session.Turn{
			{Role: session.RoleUser, Content: "good morning"},
			{Role: session.RoleAssistant, Content: "morning, dear"},
		}

		_, err := f.orch.Handle(ctx, baseReq)
		require.NoError(t, err)

		cctx := f.generator.gotContext()
		require.NotNil(t, cctx)
		assert.Contains(t, cctx.System, "You are Maggie")
		assert.Contains(t, cctx.System, "the garden")
		require.Len(t, cctx.Messages, 3)
		assert.Equal(t, "good morning", cctx.Messages[0].Text)
		assert.Equal(t, "tell me about the garden", cctx.Messages[2].Text)
	})

	t.Run("degrades when retrieval is unavailable", func(t *testing.T) {
		f := newFixture()
		f.retriever.err = retrieval.ErrRetrievalUnavailable

		res, err := f.orch.Handle(ctx, baseReq)
		require.NoError(t, err)

		assert.True(t, res.Degraded)
		assert.Empty(t, res.PassageIDs)

		appended := f.sessions.lastAppend()
		require.Len(t, appended, 2)
		assert.Equal(t, []string{}, appended[1].Provenance)
	})

	t.Run("unknown intent falls back to plain conversation", func(t *testing.T) {
		f := newFixture()
		f.retriever.err = retrieval.ErrUnknownIntent

		res, err := f.orch.Handle(ctx, baseReq)
		require.NoError(t, err)

		assert.True(t, res.Degraded)
		assert.Empty(t, res.PassageIDs)
		assert.Equal(t, "hello dear", res.Text)

		appended := f.sessions.lastAppend()
		require.Len(t, appended, 2)
		assert.Equal(t, []string{}, appended[1].Provenance)
	})

	t.Run("generation failure persists nothing", func(t *testing.T) {
		f := newFixture()
		f.generator.err = generate.ErrGenerationFailed

		_, err := f.orch.Handle(ctx, baseReq)
		assert.ErrorIs(t, err, generate.ErrGenerationFailed)
		assert.Empty(t, f.sessions.appended)
		assert.Zero(t, f.speaker.calls)
	})

	t.Run("audio requested uses the persona voice", func(t *testing.T) {
		f := newFixture()
		req := baseReq
		req.WantAudio = true

		res, err := f.orch.Handle(ctx, req)
		require.NoError(t, err)

		assert.Equal(t, "abc.mp3", res.AudioRef)
		assert.False(t, res.AudioUnavailable)
		assert.Equal(t, "voice-7", f.speaker.gotVoice)

		appended := f.sessions.lastAppend()
		assert.Equal(t, "abc.mp3", appended[1].AudioRef)
	})

	t.Run("audio failure still completes the turn", func(t *testing.T) {
		f := newFixture()
		f.speaker.err = errors.New("voice backend down")
		req := baseReq
		req.WantAudio = true

		res, err := f.orch.Handle(ctx, req)
		require.NoError(t, err)

		assert.True(t, res.AudioUnavailable)
		assert.Empty(t, res.AudioRef)
		require.Len(t, f.sessions.lastAppend(), 2)
	})

	t.Run("no audio requested skips synthesis", func(t *testing.T) {
		f := newFixture()

		_, err := f.orch.Handle(ctx, baseReq)
		require.NoError(t, err)
		assert.Zero(t, f.speaker.calls)
	})

	t.Run("scheduled turn writes assistant only", func(t *testing.T) {
		f := newFixture()
		req := baseReq
		req.PeriodKey = "2026-08-29"

		res, err := f.orch.Handle(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, int32(1), res.TurnSeq)

		appended := f.sessions.lastAppend()
		require.Len(t, appended, 1)
		assert.Equal(t, session.RoleAssistant, appended[0].Role)
		assert.Equal(t, "2026-08-29", appended[0].PeriodKey)
	})

	t.Run("duplicate period turn is an idempotent no-op", func(t *testing.T) {
		f := newFixture()
		f.sessions.appendErr = session.ErrTurnConflict
		req := baseReq
		req.PeriodKey = "2026-08-29"

		res, err := f.orch.Handle(ctx, req)
		require.NoError(t, err)
		assert.True(t, res.AlreadyDone)
	})

	t.Run("empty text is rejected", func(t *testing.T) {
		f := newFixture()
		req := baseReq
		req.Text = "   "

		_, err := f.orch.Handle(ctx, req)
		assert.ErrorIs(t, err, ErrEmptyText)
	})

	t.Run("appends serialize while generation overlaps", func(t *testing.T) {
		f := newFixture()

		// Every generator call blocks until all eight requests reach
		// generation, so the pipeline provably runs concurrently.
		var arrivals sync.WaitGroup
		arrivals.Add(8)
		f.generator.arrivals = &arrivals

		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.orch.Handle(ctx, baseReq)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(8), f.generator.maxSeen.Load())
		assert.Equal(t, int32(1), f.sessions.appendMaxSeen.Load())

		f.sessions.mu.Lock()
		assert.Len(t, f.sessions.appended, 8)
		f.sessions.mu.Unlock()
	})
}

func TestSessionLocks(t *testing.T) {
	locks := newSessionLocks()
	id := uuid.New()

	var counter, maxSeen int32
	var wg sync.WaitGroup
	var mu sync.Mutex

	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := locks.acquire(id)
			defer release()

			mu.Lock()
			counter++
			if counter > maxSeen {
				maxSeen = counter
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			counter--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen)

	locks.mu.Lock()
	assert.Empty(t, locks.entries)
	locks.mu.Unlock()
}
