package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/neverland-app/neverland/internal/session"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// SessionHandler serves session management endpoints.
type SessionHandler struct {
	store SessionStore
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(store SessionStore) *SessionHandler {
	return &SessionHandler{store: store}
}

// RegisterRoutes registers the session endpoints.
func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/sessions", h.handleList)
	mux.HandleFunc("POST /api/sessions", h.handleCreate)
	mux.HandleFunc("GET /api/sessions/{id}/turns", h.handleTurns)
}

// SessionResponse is a session in API responses.
type SessionResponse struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"owner_id"`
	Status       string    `json:"status"`
	Title        string    `json:"title,omitempty"`
	TurnCount    int32     `json:"turn_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
}

// TurnResponse is a turn in API responses.
type TurnResponse struct {
	Seq        int32     `json:"seq"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	AudioURL   string    `json:"audio_url,omitempty"`
	Provenance []string  `json:"provenance,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (h *SessionHandler) handleList(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		writeError(w, http.StatusBadRequest, "invalid request", "owner_id query parameter is required")
		return
	}

	sessions, err := h.store.ListByOwner(r.Context(), ownerID, parseLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error", "")
		return
	}

	out := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toSessionResponse(&s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (h *SessionHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerID string `json:"owner_id"`
		Title   string `json:"title,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", "malformed JSON body")
		return
	}
	if req.OwnerID == "" {
		writeError(w, http.StatusBadRequest, "invalid request", "owner_id is required")
		return
	}

	sess, err := h.store.Create(r.Context(), req.OwnerID, req.Title)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error", "")
		return
	}
	writeJSON(w, http.StatusCreated, toSessionResponse(sess))
}

func (h *SessionHandler) handleTurns(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", "session id must be a UUID")
		return
	}

	if _, err := h.store.Get(r.Context(), id); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "not found", "session does not exist")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error", "")
		return
	}

	turns, err := h.store.Recent(r.Context(), id, parseLimit(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error", "")
		return
	}

	out := make([]TurnResponse, 0, len(turns))
	for _, t := range turns {
		tr := TurnResponse{
			Seq:        t.Seq,
			Role:       t.Role,
			Content:    t.Content,
			Provenance: t.Provenance,
			CreatedAt:  t.CreatedAt,
		}
		if t.AudioRef != "" {
			tr.AudioURL = "/audio/" + t.AudioRef
		}
		out = append(out, tr)
	}
	writeJSON(w, http.StatusOK, map[string]any{"turns": out})
}

func toSessionResponse(s *session.Session) SessionResponse {
	return SessionResponse{
		ID:           s.ID.String(),
		OwnerID:      s.OwnerID,
		Status:       s.Status,
		Title:        s.Title,
		TurnCount:    s.TurnCount,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity,
	}
}

func parseLimit(r *http.Request) int32 {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return int32(n)
}
