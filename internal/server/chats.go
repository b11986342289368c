package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/MrWong99/jessy/internal/observe"
	"github.com/MrWong99/jessy/internal/responder"
)

type cloneRequest struct {
	Prompt string `json:"prompt"`
}

type cloneResponse struct {
	Reply    string `json:"reply"`
	Fallback bool   `json:"fallback,omitempty"`
}

// handleClone handles POST /clone.
func (s *Server) handleClone(w http.ResponseWriter, r *http.Request) {
	var req cloneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reply, err := s.pipeline.Reply(r.Context(), req.Prompt)
	if errors.Is(err, responder.ErrEmptyPrompt) {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	if err != nil {
		observe.Logger(r.Context()).Error("server: clone", "err", err)
		writeError(w, http.StatusInternalServerError, "reply failed")
		return
	}
	writeJSON(w, http.StatusOK, cloneResponse{Reply: reply.Text, Fallback: reply.Fallback})
}

type chatRow struct {
	Sender    string    `json:"sender"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// handleListChats handles GET /api/chats.
func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	turns, err := s.store.List(r.Context())
	if err != nil {
		observe.Logger(r.Context()).Error("server: list chats", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load chat history")
		return
	}
	rows := make([]chatRow, 0, len(turns))
	for _, t := range turns {
		rows = append(rows, chatRow{Sender: string(t.Speaker), Message: t.Text, Timestamp: t.CreatedAt})
	}
	writeJSON(w, http.StatusOK, rows)
}

// handleClearChats handles DELETE /api/chats.
func (s *Server) handleClearChats(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Clear(r.Context()); err != nil {
		observe.Logger(r.Context()).Error("server: clear chats", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to clear chat history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Chat history cleared."})
}
