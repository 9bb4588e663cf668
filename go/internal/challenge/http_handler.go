package challenge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mapclash/mapclash/go/internal/document"
	"github.com/mapclash/mapclash/go/internal/models"
)

// HTTPHandler exposes the challenge lifecycle as a JSON API. Every
// mutation returns the full challenge document so clients can reconcile
// local state from the response without a follow-up read.
type HTTPHandler struct {
	app *App
}

// NewHTTPHandler creates a new HTTP handler over the challenge app.
func NewHTTPHandler(app *App) *HTTPHandler {
	return &HTTPHandler{app: app}
}

// RegisterRoutes registers challenge routes with an HTTP mux.
func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/challenges", h.handleCreate)
	mux.HandleFunc("GET /api/challenges/{id}", h.handleGet)
	mux.HandleFunc("POST /api/challenges/{id}/presence", h.handlePresence)
	mux.HandleFunc("POST /api/challenges/{id}/accept", h.handleAccept)
	mux.HandleFunc("POST /api/challenges/{id}/start", h.handleStart)
	mux.HandleFunc("POST /api/challenges/{id}/cancel", h.handleCancel)
	mux.HandleFunc("POST /api/challenges/{id}/complete", h.handleComplete)
	mux.HandleFunc("POST /api/challenges/{id}/guesses", h.handleGuess)
}

type createChallengeRequest struct {
	ChallengerID string `json:"challengerId"`
	ChallengedID string `json:"challengedId"`
}

type playerActionRequest struct {
	PlayerID string `json:"playerId"`
}

type presenceRequest struct {
	PlayerID string `json:"playerId"`
	Joined   bool   `json:"joined"`
}

type guessRequest struct {
	PlayerID string `json:"playerId"`
	Item     string `json:"item"`
}

func (h *HTTPHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createChallengeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ch, err := h.app.Create(r.Context(), req.ChallengerID, req.ChallengedID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeChallenge(w, http.StatusCreated, ch)
}

func (h *HTTPHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathChallengeID(w, r)
	if !ok {
		return
	}

	ch, err := h.app.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeChallenge(w, http.StatusOK, ch)
}

func (h *HTTPHandler) handlePresence(w http.ResponseWriter, r *http.Request) {
	id, ok := pathChallengeID(w, r)
	if !ok {
		return
	}
	var req presenceRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ch, err := h.app.SetPresence(r.Context(), id, req.PlayerID, req.Joined)
	if err != nil {
		writeError(w, err)
		return
	}
	writeChallenge(w, http.StatusOK, ch)
}

func (h *HTTPHandler) handleAccept(w http.ResponseWriter, r *http.Request) {
	h.handleLifecycleAction(w, r, h.app.Accept)
}

func (h *HTTPHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	h.handleLifecycleAction(w, r, h.app.Start)
}

func (h *HTTPHandler) handleCancel(w http.ResponseWriter, r *http.Request) {
	h.handleLifecycleAction(w, r, h.app.Cancel)
}

func (h *HTTPHandler) handleComplete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathChallengeID(w, r)
	if !ok {
		return
	}

	ch, err := h.app.Complete(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeChallenge(w, http.StatusOK, ch)
}

func (h *HTTPHandler) handleGuess(w http.ResponseWriter, r *http.Request) {
	id, ok := pathChallengeID(w, r)
	if !ok {
		return
	}
	var req guessRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ch, err := h.app.RecordGuess(r.Context(), id, req.PlayerID, req.Item)
	if err != nil {
		writeError(w, err)
		return
	}
	writeChallenge(w, http.StatusOK, ch)
}

type lifecycleAction func(ctx context.Context, id uuid.UUID, callerID string) (*models.Challenge, error)

func (h *HTTPHandler) handleLifecycleAction(w http.ResponseWriter, r *http.Request, action lifecycleAction) {
	id, ok := pathChallengeID(w, r)
	if !ok {
		return
	}
	var req playerActionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ch, err := action(r.Context(), id, req.PlayerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeChallenge(w, http.StatusOK, ch)
}

func pathChallengeID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid challenge id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeChallenge(w http.ResponseWriter, status int, ch *models.Challenge) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(ch); err != nil {
		log.Error().Err(err).Msg("failed to encode challenge response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, document.ErrNotFound):
		http.Error(w, "challenge not found", http.StatusNotFound)
	case errors.Is(err, ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		log.Error().Err(err).Msg("challenge request failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
