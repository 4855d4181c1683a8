// Package retrieval routes queries to memory collections and performs
// vector similarity search over stored passages.
package retrieval

import "errors"

// Intent classifies what kind of memory a request wants.
type Intent string

const (
	IntentDaily  Intent = "daily"
	IntentLetter Intent = "letter"
	IntentObject Intent = "object"
)

// Metadata keys recognized in passage metadata and query hints.
const (
	MetaOwnerID    = "owner_id"
	MetaDate       = "date"
	MetaTags       = "tags"
	MetaObjectName = "object_name"
)

var (
	// ErrUnknownIntent indicates the intent does not map to any collection.
	ErrUnknownIntent = errors.New("unknown retrieval intent")

	// ErrRetrievalUnavailable indicates search kept failing after retries.
	// Callers may degrade to generation without retrieved context.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
)

// Passage is one retrieved memory unit with its similarity score.
type Passage struct {
	ID         string
	Collection string
	Content    string
	Score      float64
	Metadata   map[string]string
}

// Plan is a single-collection search the router derived from an intent.
type Plan struct {
	Collection string
	TopK       int32
	ScoreFloor float64
	Filter     map[string]string
}

// Query is a retrieval request.
type Query struct {
	OwnerID string
	Intent  Intent
	Text    string
	Hints   map[string]string
}
