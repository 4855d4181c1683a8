package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/neverland-app/neverland/internal/retrieval"
)

// MemoryHandler serves the memory ingestion and search endpoints.
type MemoryHandler struct {
	ingestor    MemoryIngestor
	searcher    MemorySearcher
	collections map[string]string
}

// NewMemoryHandler creates a memory handler. collections maps public
// aliases to configured collection names.
func NewMemoryHandler(ingestor MemoryIngestor, searcher MemorySearcher, collections map[string]string) *MemoryHandler {
	return &MemoryHandler{ingestor: ingestor, searcher: searcher, collections: collections}
}

// RegisterRoutes registers the memory endpoints.
func (h *MemoryHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/memories", h.handleIngest)
	mux.HandleFunc("POST /api/memories/search", h.handleSearch)
}

// MemoryRequest is the request body for POST /api/memories.
type MemoryRequest struct {
	Collection string   `json:"collection"`
	OwnerID    string   `json:"owner_id"`
	Content    string   `json:"content"`
	Date       string   `json:"date,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	ObjectName string   `json:"object_name,omitempty"`
}

func (h *MemoryHandler) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req MemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", "malformed JSON body")
		return
	}

	collection, ok := h.collections[req.Collection]
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid request", "collection must be one of: daily, letter, object")
		return
	}
	if req.OwnerID == "" {
		writeError(w, http.StatusBadRequest, "invalid request", "owner_id is required")
		return
	}

	id, err := h.ingestor.Ingest(r.Context(), retrieval.Memory{
		Collection: collection,
		OwnerID:    req.OwnerID,
		Content:    req.Content,
		Date:       req.Date,
		Tags:       req.Tags,
		ObjectName: req.ObjectName,
	})
	if err != nil {
		if errors.Is(err, retrieval.ErrEmptyMemory) {
			writeError(w, http.StatusBadRequest, "invalid request", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error", "")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// SearchRequest is the request body for POST /api/memories/search.
type SearchRequest struct {
	OwnerID string            `json:"owner_id"`
	Intent  string            `json:"intent,omitempty"`
	Query   string            `json:"query"`
	Hints   map[string]string `json:"hints,omitempty"`
}

// PassageResponse is one search hit.
type PassageResponse struct {
	ID         string            `json:"id"`
	Collection string            `json:"collection"`
	Content    string            `json:"content"`
	Score      float64           `json:"score"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (h *MemoryHandler) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", "malformed JSON body")
		return
	}
	if req.OwnerID == "" {
		writeError(w, http.StatusBadRequest, "invalid request", "owner_id is required")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "invalid request", "query is required")
		return
	}

	intent := retrieval.Intent(req.Intent)
	if intent == "" {
		intent = retrieval.IntentDaily
	}

	passages, err := h.searcher.Retrieve(r.Context(), retrieval.Query{
		OwnerID: req.OwnerID,
		Intent:  intent,
		Text:    req.Query,
		Hints:   req.Hints,
	})
	switch {
	case errors.Is(err, retrieval.ErrUnknownIntent):
		writeError(w, http.StatusBadRequest, "invalid request", "intent must be one of: daily, letter, object")
		return
	case errors.Is(err, retrieval.ErrRetrievalUnavailable):
		writeError(w, http.StatusServiceUnavailable, "retrieval unavailable", "")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "internal error", "")
		return
	}

	out := make([]PassageResponse, len(passages))
	for i, p := range passages {
		out[i] = PassageResponse{
			ID:         p.ID,
			Collection: p.Collection,
			Content:    p.Content,
			Score:      p.Score,
			Metadata:   p.Metadata,
		}
	}
	writeJSON(w, http.StatusOK, map[string][]PassageResponse{"passages": out})
}
