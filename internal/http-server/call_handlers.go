package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/machamire/ndeip-core/internal/db"
)

// Handles listing the caller's call history, newest first
func (s *Server) HandleListCallHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		s.respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	limit := queryInt(r, "limit", db.DefaultCallHistoryPageSize)
	offset := queryInt(r, "offset", 0)

	records, err := s.calls.GetCallsForParticipant(r.Context(), userID, limit, offset)
	if err != nil {
		s.log.Error("Failed to list call history", "user_id", userID, "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to list call history")
		return
	}

	s.respondJSON(w, http.StatusOK, records)
}

// Handles removing one entry from the caller's call history
func (s *Server) HandleDeleteCallRecord(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		s.respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid call record id")
		return
	}

	if err := s.calls.DeleteCallRecord(r.Context(), id, userID); err != nil {
		s.handleError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "deleted",
	})
}
