package retrieval

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

// DBTX is the database access surface the store needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists passages with their embeddings and runs cosine
// similarity search against them.
type Store struct {
	db DBTX
}

// NewStore creates a passage store.
func NewStore(db DBTX) *Store {
	return &Store{db: db}
}

// Add upserts a passage with its embedding.
func (s *Store) Add(ctx context.Context, p Passage, embedding []float32) error {
	metadata := p.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("encoding passage metadata: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO passages (id, collection, content, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			collection = EXCLUDED.collection,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata`,
		p.ID, p.Collection, p.Content, pgvector.NewVector(embedding), metaJSON)
	if err != nil {
		return fmt.Errorf("upserting passage: %w", err)
	}
	return nil
}

// Search returns the topK most similar passages in the collection, scored
// by cosine similarity in [0, 1]. The filter is matched by JSONB
// containment against passage metadata.
func (s *Store) Search(ctx context.Context, collection string, embedding []float32, topK int32, filter map[string]string) ([]Passage, error) {
	if filter == nil {
		filter = map[string]string{}
	}
	filterJSON, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("encoding search filter: %w", err)
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, collection, content, metadata, 1 - (embedding <=> $1) AS score
		FROM passages
		WHERE collection = $2 AND metadata @> $3
		ORDER BY embedding <=> $1
		LIMIT $4`,
		pgvector.NewVector(embedding), collection, filterJSON, topK)
	if err != nil {
		return nil, fmt.Errorf("searching collection %s: %w", collection, err)
	}
	defer rows.Close()

	var passages []Passage
	for rows.Next() {
		var (
			p        Passage
			metaJSON []byte
		)
		if err := rows.Scan(&p.ID, &p.Collection, &p.Content, &metaJSON, &p.Score); err != nil {
			return nil, fmt.Errorf("scanning passage: %w", err)
		}
		if err := json.Unmarshal(metaJSON, &p.Metadata); err != nil {
			return nil, fmt.Errorf("decoding passage metadata: %w", err)
		}
		passages = append(passages, p)
	}
	return passages, rows.Err()
}
