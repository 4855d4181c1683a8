package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/neverland-app/neverland/internal/log"
)

// Tag boost weights. A passage whose tag appears verbatim in the query
// gets the full boost; a two-rune tag prefix match gets the partial one.
const (
	tagBoostFull    = 0.10
	tagBoostPartial = 0.05
)

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 2 * time.Second
)

// Searcher runs a similarity search against one collection.
type Searcher interface {
	Search(ctx context.Context, collection string, embedding []float32, topK int32, filter map[string]string) ([]Passage, error)
}

// Embedder turns text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever embeds a query, fans it out across the routed collections,
// and merges the results into one relevance-ordered list.
type Retriever struct {
	router     *Router
	store      Searcher
	embedder   Embedder
	timeout    time.Duration
	maxRetries int
	log        log.Logger
}

// NewRetriever creates a retriever.
func NewRetriever(router *Router, store Searcher, embedder Embedder, timeout time.Duration, maxRetries int, logger log.Logger) *Retriever {
	return &Retriever{
		router:     router,
		store:      store,
		embedder:   embedder,
		timeout:    timeout,
		maxRetries: maxRetries,
		log:        logger,
	}
}

// Retrieve returns the most relevant passages for the query, at most the
// router's TopK after merging fan-out results. Scores below the plan's
// floor are dropped. On persistent backend failure it returns
// ErrRetrievalUnavailable so the caller can degrade.
//
// Ordering is deterministic: boosted score descending, then metadata date
// descending, then ID ascending.
func (r *Retriever) Retrieve(ctx context.Context, q Query) ([]Passage, error) {
	plans, err := r.router.Route(q.Intent, q.OwnerID, q.Hints)
	if err != nil {
		return nil, err
	}

	var embedding []float32
	err = r.withRetry(ctx, "embed", func(ctx context.Context) error {
		var embedErr error
		embedding, embedErr = r.embedder.Embed(ctx, q.Text)
		return embedErr
	})
	if err != nil {
		return nil, err
	}

	var merged []Passage
	for _, plan := range plans {
		var found []Passage
		err := r.withRetry(ctx, "search "+plan.Collection, func(ctx context.Context) error {
			var searchErr error
			found, searchErr = r.store.Search(ctx, plan.Collection, embedding, plan.TopK, plan.Filter)
			return searchErr
		})
		if err != nil {
			return nil, err
		}

		for _, p := range found {
			p.Score += tagBoost(q.Text, p.Metadata[MetaTags])
			if p.Score < plan.ScoreFloor {
				continue
			}
			merged = append(merged, p)
		}
	}

	sort.Slice(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Metadata[MetaDate] != b.Metadata[MetaDate] {
			return a.Metadata[MetaDate] > b.Metadata[MetaDate]
		}
		return a.ID < b.ID
	})

	if topK := int(r.router.TopK()); len(merged) > topK {
		merged = merged[:topK]
	}
	return merged, nil
}

// tagBoost returns the largest applicable boost across the passage's tags.
// Tags are stored comma-separated in metadata.
func tagBoost(query, tags string) float64 {
	if tags == "" {
		return 0
	}
	var boost float64
	for _, tag := range strings.Split(tags, ",") {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if strings.Contains(query, tag) {
			boost = max(boost, tagBoostFull)
			continue
		}
		if prefix := runePrefix(tag, 2); prefix != "" && strings.Contains(query, prefix) {
			boost = max(boost, tagBoostPartial)
		}
	}
	return boost
}

func runePrefix(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return ""
	}
	runes := []rune(s)
	return string(runes[:n])
}

// withRetry runs fn with a per-attempt timeout and exponential backoff.
// After maxRetries additional attempts it wraps the last error in
// ErrRetrievalUnavailable.
func (r *Retriever) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	delay := initialBackoff
	var lastErr error

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = min(delay*2, maxBackoff)
		}

		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		err := fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.log.Warn("retrieval attempt failed",
			"op", op, "attempt", attempt+1, "error", err)
	}

	return fmt.Errorf("%w: %s: %v", ErrRetrievalUnavailable, op, lastErr)
}
