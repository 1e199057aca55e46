package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Handles fetching a user profile by id
func (s *Server) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid user id")
		return
	}

	user, err := s.users.GetUserByID(r.Context(), id)
	if err != nil {
		s.handleError(w, NewNotFoundError("User not found"))
		return
	}

	s.respondJSON(w, http.StatusOK, user)
}

// Handles a presence lookup for a user
func (s *Server) HandleGetPresence(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid user id")
		return
	}

	online, err := s.sessions.IsUserOnline(r.Context(), id)
	if err != nil {
		s.log.Error("Presence lookup failed", "user_id", id, "error", err)
		s.respondError(w, http.StatusInternalServerError, "Presence lookup failed")
		return
	}

	resp := PresenceResponse{
		UserID: id,
		Online: online,
	}

	if sess, err := s.sessions.GetSession(r.Context(), id); err == nil && sess != nil {
		resp.LastSeen = &sess.LastSeen
	}

	s.respondJSON(w, http.StatusOK, resp)
}
