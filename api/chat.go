package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/neverland-app/neverland/internal/generate"
	"github.com/neverland-app/neverland/internal/log"
	"github.com/neverland-app/neverland/internal/orchestrator"
	"github.com/neverland-app/neverland/internal/profile"
	"github.com/neverland-app/neverland/internal/retrieval"
	"github.com/neverland-app/neverland/internal/session"
)

// ChatHandler serves the conversational turn endpoints.
type ChatHandler struct {
	pipeline         Pipeline
	ingestor         MemoryIngestor
	letterCollection string
	log              log.Logger
}

// NewChatHandler creates a chat handler. Letter replies are archived
// into letterCollection so later retrieval can recall them.
func NewChatHandler(pipeline Pipeline, ingestor MemoryIngestor, letterCollection string, logger log.Logger) *ChatHandler {
	return &ChatHandler{
		pipeline:         pipeline,
		ingestor:         ingestor,
		letterCollection: letterCollection,
		log:              logger,
	}
}

// RegisterRoutes registers the chat endpoints. /api/letters is /api/chat
// with the letter intent forced; letters routinely pull in keepsake
// memories as well.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat", h.handleChat)
	mux.HandleFunc("POST /api/letters", h.handleLetter)
}

// ChatRequest is the request body for POST /api/chat.
type ChatRequest struct {
	SessionID string            `json:"session_id"`
	OwnerID   string            `json:"owner_id"`
	Intent    string            `json:"intent,omitempty"`
	Text      string            `json:"text"`
	WantAudio bool              `json:"want_audio,omitempty"`
	Hints     map[string]string `json:"hints,omitempty"`
}

// ChatResponse is the response body for POST /api/chat.
type ChatResponse struct {
	Text             string   `json:"text"`
	PassageIDs       []string `json:"passage_ids,omitempty"`
	AudioURL         string   `json:"audio_url,omitempty"`
	AudioUnavailable bool     `json:"audio_unavailable,omitempty"`
	Degraded         bool     `json:"degraded,omitempty"`
	Model            string   `json:"model,omitempty"`
	TurnSeq          int32    `json:"turn_seq"`
}

func (h *ChatHandler) handleChat(w http.ResponseWriter, r *http.Request) {
	h.handleTurn(w, r, "")
}

func (h *ChatHandler) handleLetter(w http.ResponseWriter, r *http.Request) {
	h.handleTurn(w, r, retrieval.IntentLetter)
}

func (h *ChatHandler) handleTurn(w http.ResponseWriter, r *http.Request, forced retrieval.Intent) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", "malformed JSON body")
		return
	}

	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", "session_id must be a UUID")
		return
	}
	if req.OwnerID == "" {
		writeError(w, http.StatusBadRequest, "invalid request", "owner_id is required")
		return
	}

	intent := forced
	if intent == "" {
		intent = retrieval.Intent(req.Intent)
	}
	if intent == "" {
		intent = retrieval.IntentDaily
	}

	res, err := h.pipeline.Handle(r.Context(), orchestrator.Request{
		SessionID: sessionID,
		OwnerID:   req.OwnerID,
		Intent:    intent,
		Text:      req.Text,
		Hints:     req.Hints,
		WantAudio: req.WantAudio,
	})
	if err != nil {
		writeTurnError(w, err)
		return
	}

	if forced == retrieval.IntentLetter && res.Text != "" {
		h.archiveLetter(r, req.OwnerID, res.Text)
	}

	resp := ChatResponse{
		Text:             res.Text,
		PassageIDs:       res.PassageIDs,
		AudioUnavailable: res.AudioUnavailable,
		Degraded:         res.Degraded,
		Model:            res.ModelName,
		TurnSeq:          res.TurnSeq,
	}
	if res.AudioRef != "" {
		resp.AudioURL = "/audio/" + res.AudioRef
	}
	writeJSON(w, http.StatusOK, resp)
}

// archiveLetter stores the letter reply as a letter memory. Best
// effort; the turn is already persisted.
func (h *ChatHandler) archiveLetter(r *http.Request, ownerID, text string) {
	_, err := h.ingestor.Ingest(r.Context(), retrieval.Memory{
		Collection: h.letterCollection,
		OwnerID:    ownerID,
		Content:    text,
		Date:       time.Now().UTC().Format("2006-01-02"),
	})
	if err != nil {
		h.log.Warn("archiving letter reply failed", "owner_id", ownerID, "error", err)
	}
}

// writeTurnError maps pipeline errors to HTTP status codes.
func writeTurnError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrEmptyText):
		writeError(w, http.StatusBadRequest, "invalid request", err.Error())
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, profile.ErrPersonaNotFound):
		writeError(w, http.StatusNotFound, "not found", err.Error())
	case errors.Is(err, session.ErrSessionClosed):
		writeError(w, http.StatusConflict, "session closed", err.Error())
	case errors.Is(err, generate.ErrGenerationFailed):
		writeError(w, http.StatusBadGateway, "generation failed", "the model could not produce a reply")
	default:
		writeError(w, http.StatusInternalServerError, "internal error", "")
	}
}
