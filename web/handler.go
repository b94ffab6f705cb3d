// Package web exposes the session controller over HTTP for the meeting UI.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"

	"meetscribe/db"
	"meetscribe/session"
)

// SessionController is the command surface the handler drives.
type SessionController interface {
	RequestConsent() error
	ConfirmConsentAndStart(actor session.Actor, title string) error
	SetTitle(title string) error
	TriggerCountdown() error
	ResumeRecording() error
	StopAndProcess() error
	Reset() error
	Snapshot() session.Session
}

// SessionReader serves the archive endpoints.
type SessionReader interface {
	GetSession(ctx context.Context, id string) (db.SessionRow, error)
	RecentSessions(ctx context.Context, limit int) ([]db.SessionRow, error)
	ChunksForSession(ctx context.Context, sessionID string) ([]db.ChunkRow, error)
}

type Handler struct {
	logger     *log.Logger
	controller SessionController
	store      SessionReader
}

func NewHandler(logger *log.Logger, controller SessionController, store SessionReader) *Handler {
	return &Handler{
		logger:     logger,
		controller: controller,
		store:      store,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/session", h.handleSnapshot)
	r.Put("/session/title", h.handleSetTitle)
	r.Post("/session/consent", h.command(h.controller.RequestConsent))
	r.Post("/session/start", h.handleStart)
	r.Post("/session/countdown", h.command(h.controller.TriggerCountdown))
	r.Post("/session/resume", h.command(h.controller.ResumeRecording))
	r.Post("/session/stop", h.command(h.controller.StopAndProcess))
	r.Post("/session/reset", h.command(h.controller.Reset))

	r.Get("/sessions", h.handleRecent)
	r.Get("/sessions/{id}", h.handleGetSession)
	r.Get("/sessions/{id}/transcript", h.handleTranscript)

	return r
}

func (h *Handler) command(run func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := run(); err != nil {
			h.commandError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, h.controller.Snapshot())
	}
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.controller.Snapshot())
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	actor := session.Actor{
		UserID:   r.Header.Get("X-Actor-ID"),
		TenantID: r.Header.Get("X-Tenant-ID"),
	}

	var body struct {
		Title string `json:"title"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	if err := h.controller.ConfirmConsentAndStart(actor, body.Title); err != nil {
		h.commandError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.controller.Snapshot())
}

func (h *Handler) handleSetTitle(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Title == "" {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.controller.SetTitle(body.Title); err != nil {
		h.commandError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.controller.Snapshot())
}

func (h *Handler) handleRecent(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.RecentSessions(r.Context(), 50)
	if err != nil {
		h.logger.Error("failed to list sessions", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, sessions)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	row, err := h.store.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, row)
}

func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	chunks, err := h.store.ChunksForSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.logger.Error("failed to load transcript", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, chunks)
}

func (h *Handler) commandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNoActor):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, session.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		h.logger.Error("session command failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
