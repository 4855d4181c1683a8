package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrPersonaNotFound indicates no persona exists for the owner.
var ErrPersonaNotFound = errors.New("persona not found")

// DBTX is the database access surface the store needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads and writes persona profiles.
type Store struct {
	db DBTX
}

// NewStore creates a persona store.
func NewStore(db DBTX) *Store {
	return &Store{db: db}
}

const personaColumns = `id, owner_id, name, nickname, relation, personality, speaking_style, hobbies, voice_id, created_at`

// Upsert creates or replaces the owner's persona.
func (s *Store) Upsert(ctx context.Context, p *Persona) (*Persona, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO personas (owner_id, name, nickname, relation, personality, speaking_style, hobbies, voice_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (owner_id) DO UPDATE SET
			name = EXCLUDED.name,
			nickname = EXCLUDED.nickname,
			relation = EXCLUDED.relation,
			personality = EXCLUDED.personality,
			speaking_style = EXCLUDED.speaking_style,
			hobbies = EXCLUDED.hobbies,
			voice_id = EXCLUDED.voice_id
		RETURNING `+personaColumns,
		p.OwnerID, p.Name, p.Nickname, p.Relation, p.Personality, p.SpeakingStyle, p.Hobbies, p.VoiceID)

	persona, err := scanPersona(row)
	if err != nil {
		return nil, fmt.Errorf("upserting persona: %w", err)
	}
	return persona, nil
}

// GetByOwner returns the owner's persona.
func (s *Store) GetByOwner(ctx context.Context, ownerID string) (*Persona, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+personaColumns+`
		FROM personas
		WHERE owner_id = $1`,
		ownerID)

	persona, err := scanPersona(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPersonaNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting persona: %w", err)
	}
	return persona, nil
}

// ListOwners returns every owner ID that has a persona. The scheduler
// iterates this to fan out daily jobs.
func (s *Store) ListOwners(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT owner_id FROM personas ORDER BY owner_id`)
	if err != nil {
		return nil, fmt.Errorf("listing persona owners: %w", err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, fmt.Errorf("scanning owner: %w", err)
		}
		owners = append(owners, owner)
	}
	return owners, rows.Err()
}

func scanPersona(row pgx.Row) (*Persona, error) {
	var p Persona
	err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Nickname, &p.Relation,
		&p.Personality, &p.SpeakingStyle, &p.Hobbies, &p.VoiceID, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
