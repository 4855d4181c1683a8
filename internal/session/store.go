package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is the database access surface the store needs. It is satisfied by
// *pgxpool.Pool, pgx.Tx, and test doubles.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads and writes sessions and turns.
//
// When constructed with NewStore the append path runs inside a transaction
// with the session row locked, which is what makes sequence numbers
// contiguous under concurrent writers. NewStoreWithDB skips transactions
// and exists for tests.
type Store struct {
	pool *pgxpool.Pool
	db   DBTX
}

// NewStore creates a store backed by a connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

// NewStoreWithDB creates a store over a raw DBTX without transaction
// support. Appends are not serialized; use only in tests.
func NewStoreWithDB(db DBTX) *Store {
	return &Store{db: db}
}

const sessionColumns = `id, owner_id, status, COALESCE(title, ''), turn_count, created_at, updated_at, last_activity`

// Create opens a new active session for the owner.
func (s *Store) Create(ctx context.Context, ownerID, title string) (*Session, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO sessions (owner_id, title)
		VALUES ($1, NULLIF($2, ''))
		RETURNING `+sessionColumns,
		ownerID, title)

	sess, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return sess, nil
}

// Get returns a session by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE id = $1`,
		id)

	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return sess, nil
}

// ListByOwner returns the owner's sessions, most recent activity first.
func (s *Store) ListByOwner(ctx context.Context, ownerID string, limit int32) ([]Session, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE owner_id = $1
		ORDER BY last_activity DESC
		LIMIT $2`,
		ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// LatestActive returns the owner's most recently active open session, or
// ErrSessionNotFound when every session is closed.
func (s *Store) LatestActive(ctx context.Context, ownerID string) (*Session, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE owner_id = $1 AND status <> 'closed'
		ORDER BY last_activity DESC
		LIMIT 1`,
		ownerID)

	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting latest active session: %w", err)
	}
	return sess, nil
}

// AppendTurns appends turns to the session in order, assigning contiguous
// sequence numbers. All turns are written atomically; on any failure none
// are persisted. Returns ErrTurnConflict when a period-keyed turn for the
// same period already exists.
func (s *Store) AppendTurns(ctx context.Context, sessionID uuid.UUID, inputs []TurnInput) ([]Turn, error) {
	if len(inputs) == 0 {
		return nil, ErrEmptyAppend
	}

	if s.pool == nil {
		return s.appendTurns(ctx, s.db, sessionID, inputs)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	turns, err := s.appendTurns(ctx, tx, sessionID, inputs)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing turns: %w", mapConflict(err))
	}
	return turns, nil
}

func (s *Store) appendTurns(ctx context.Context, db DBTX, sessionID uuid.UUID, inputs []TurnInput) ([]Turn, error) {
	var status string
	err := db.QueryRow(ctx, `
		SELECT status FROM sessions WHERE id = $1 FOR UPDATE`,
		sessionID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("locking session: %w", err)
	}
	if status == StatusClosed {
		return nil, ErrSessionClosed
	}

	var maxSeq int32
	err = db.QueryRow(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM turns WHERE session_id = $1`,
		sessionID).Scan(&maxSeq)
	if err != nil {
		return nil, fmt.Errorf("reading max sequence: %w", err)
	}

	turns := make([]Turn, 0, len(inputs))
	for i, in := range inputs {
		provenance := in.Provenance
		if provenance == nil {
			provenance = []string{}
		}
		provJSON, err := json.Marshal(provenance)
		if err != nil {
			return nil, fmt.Errorf("encoding provenance: %w", err)
		}

		seq := maxSeq + int32(i) + 1
		var (
			id        uuid.UUID
			createdAt time.Time
		)
		err = db.QueryRow(ctx, `
			INSERT INTO turns (session_id, seq, role, content, audio_ref, provenance, period_key)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, NULLIF($7, ''))
			RETURNING id, created_at`,
			sessionID, seq, in.Role, in.Content, in.AudioRef, provJSON, in.PeriodKey,
		).Scan(&id, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("inserting turn %d: %w", seq, mapConflict(err))
		}

		turns = append(turns, Turn{
			ID:         id,
			SessionID:  sessionID,
			Seq:        seq,
			Role:       in.Role,
			Content:    in.Content,
			AudioRef:   in.AudioRef,
			Provenance: provenance,
			PeriodKey:  in.PeriodKey,
			CreatedAt:  createdAt,
		})
	}

	_, err = db.Exec(ctx, `
		UPDATE sessions
		SET turn_count = turn_count + $2,
		    status = 'active',
		    updated_at = now(),
		    last_activity = now()
		WHERE id = $1`,
		sessionID, int32(len(inputs)))
	if err != nil {
		return nil, fmt.Errorf("updating session activity: %w", err)
	}

	return turns, nil
}

// Recent returns the session's last limit turns in chronological order.
func (s *Store) Recent(ctx context.Context, sessionID uuid.UUID, limit int32) ([]Turn, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, session_id, seq, role, content,
		       COALESCE(audio_ref, ''), provenance, COALESCE(period_key, ''), created_at
		FROM (
			SELECT * FROM turns
			WHERE session_id = $1
			ORDER BY seq DESC
			LIMIT $2
		) recent
		ORDER BY seq ASC`,
		sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var (
			t        Turn
			provJSON []byte
		)
		err := rows.Scan(&t.ID, &t.SessionID, &t.Seq, &t.Role, &t.Content,
			&t.AudioRef, &provJSON, &t.PeriodKey, &t.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		if err := json.Unmarshal(provJSON, &t.Provenance); err != nil {
			return nil, fmt.Errorf("decoding provenance: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// HasPeriodTurn reports whether the session already holds a turn for the
// given period key. The scheduler uses this to keep daily jobs idempotent.
func (s *Store) HasPeriodTurn(ctx context.Context, sessionID uuid.UUID, periodKey string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM turns WHERE session_id = $1 AND period_key = $2
		)`,
		sessionID, periodKey).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking period turn: %w", err)
	}
	return exists, nil
}

// CloseIdle marks sessions with no activity since the cutoff as closed and
// returns how many were affected.
func (s *Store) CloseIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE sessions
		SET status = 'closed', updated_at = now()
		WHERE status <> 'closed' AND last_activity < $1`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("closing idle sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanSession(row pgx.Row) (*Session, error) {
	var sess Session
	err := row.Scan(&sess.ID, &sess.OwnerID, &sess.Status, &sess.Title,
		&sess.TurnCount, &sess.CreatedAt, &sess.UpdatedAt, &sess.LastActivity)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// mapConflict translates a unique violation into ErrTurnConflict so callers
// can treat a duplicate write as an already completed operation.
func mapConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return fmt.Errorf("%w: %s", ErrTurnConflict, pgErr.ConstraintName)
	}
	return err
}
