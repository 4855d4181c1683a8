package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/neverland-app/neverland/internal/profile"
)

// PersonaHandler serves persona profile endpoints.
type PersonaHandler struct {
	store PersonaStore
}

// NewPersonaHandler creates a persona handler.
func NewPersonaHandler(store PersonaStore) *PersonaHandler {
	return &PersonaHandler{store: store}
}

// RegisterRoutes registers the persona endpoints.
func (h *PersonaHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("PUT /api/personas", h.handleUpsert)
	mux.HandleFunc("GET /api/personas/{owner}", h.handleGet)
}

// PersonaRequest is the request body for PUT /api/personas.
type PersonaRequest struct {
	OwnerID       string `json:"owner_id"`
	Name          string `json:"name"`
	Nickname      string `json:"nickname,omitempty"`
	Relation      string `json:"relation,omitempty"`
	Personality   string `json:"personality,omitempty"`
	SpeakingStyle string `json:"speaking_style,omitempty"`
	Hobbies       string `json:"hobbies,omitempty"`
	VoiceID       string `json:"voice_id,omitempty"`
}

// PersonaResponse is a persona in API responses.
type PersonaResponse struct {
	OwnerID       string `json:"owner_id"`
	Name          string `json:"name"`
	Nickname      string `json:"nickname,omitempty"`
	Relation      string `json:"relation,omitempty"`
	Personality   string `json:"personality,omitempty"`
	SpeakingStyle string `json:"speaking_style,omitempty"`
	Hobbies       string `json:"hobbies,omitempty"`
	VoiceID       string `json:"voice_id,omitempty"`
}

func (h *PersonaHandler) handleUpsert(w http.ResponseWriter, r *http.Request) {
	var req PersonaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", "malformed JSON body")
		return
	}
	if req.OwnerID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid request", "owner_id and name are required")
		return
	}

	persona, err := h.store.Upsert(r.Context(), &profile.Persona{
		OwnerID:       req.OwnerID,
		Name:          req.Name,
		Nickname:      req.Nickname,
		Relation:      req.Relation,
		Personality:   req.Personality,
		SpeakingStyle: req.SpeakingStyle,
		Hobbies:       req.Hobbies,
		VoiceID:       req.VoiceID,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error", "")
		return
	}
	writeJSON(w, http.StatusOK, toPersonaResponse(persona))
}

func (h *PersonaHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	persona, err := h.store.GetByOwner(r.Context(), r.PathValue("owner"))
	if err != nil {
		if errors.Is(err, profile.ErrPersonaNotFound) {
			writeError(w, http.StatusNotFound, "not found", "no persona for this owner")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error", "")
		return
	}
	writeJSON(w, http.StatusOK, toPersonaResponse(persona))
}

func toPersonaResponse(p *profile.Persona) PersonaResponse {
	return PersonaResponse{
		OwnerID:       p.OwnerID,
		Name:          p.Name,
		Nickname:      p.Nickname,
		Relation:      p.Relation,
		Personality:   p.Personality,
		SpeakingStyle: p.SpeakingStyle,
		Hobbies:       p.Hobbies,
		VoiceID:       p.VoiceID,
	}
}
