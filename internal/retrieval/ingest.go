package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrEmptyMemory indicates an ingest request without content.
var ErrEmptyMemory = errors.New("empty memory content")

// Memory is content to embed and store as a retrievable passage.
type Memory struct {
	Collection string
	OwnerID    string
	Content    string
	Date       string
	Tags       []string
	ObjectName string
}

// Adder stores a passage with its embedding.
type Adder interface {
	Add(ctx context.Context, p Passage, embedding []float32) error
}

// Ingestor embeds memories and writes them into their collection.
type Ingestor struct {
	store    Adder
	embedder Embedder
}

// NewIngestor creates an ingestor.
func NewIngestor(store Adder, embedder Embedder) *Ingestor {
	return &Ingestor{store: store, embedder: embedder}
}

// Ingest stores the memory and returns the new passage ID.
func (i *Ingestor) Ingest(ctx context.Context, m Memory) (string, error) {
	if strings.TrimSpace(m.Content) == "" {
		return "", ErrEmptyMemory
	}
	if m.Collection == "" || m.OwnerID == "" {
		return "", fmt.Errorf("memory needs a collection and an owner")
	}

	embedding, err := i.embedder.Embed(ctx, m.Content)
	if err != nil {
		return "", fmt.Errorf("embedding memory: %w", err)
	}

	metadata := map[string]string{MetaOwnerID: m.OwnerID}
	if m.Date != "" {
		metadata[MetaDate] = m.Date
	}
	if len(m.Tags) > 0 {
		metadata[MetaTags] = strings.Join(m.Tags, ",")
	}
	if m.ObjectName != "" {
		metadata[MetaObjectName] = m.ObjectName
	}

	p := Passage{
		ID:         uuid.NewString(),
		Collection: m.Collection,
		Content:    m.Content,
		Metadata:   metadata,
	}
	if err := i.store.Add(ctx, p, embedding); err != nil {
		return "", fmt.Errorf("storing memory: %w", err)
	}
	return p.ID, nil
}
