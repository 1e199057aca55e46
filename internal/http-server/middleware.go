package httpserver

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type contextKey string

const userIDKey contextKey = "user_id"

// AuthMiddleware validates the Bearer token and stashes the caller's
// user id in the request context
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			s.respondError(w, http.StatusUnauthorized, "Authorization header is required")
			return
		}

		token, found := strings.CutPrefix(header, "Bearer ")
		if !found {
			s.respondError(w, http.StatusUnauthorized, "Authorization header must be a Bearer token")
			return
		}

		claims, err := s.tokens.ValidateToken(token)
		if err != nil {
			s.log.Debug("Token validation failed", "error", err)
			s.respondError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// callerID extracts the authenticated user id set by AuthMiddleware
func callerID(r *http.Request) (uuid.UUID, bool) {
	id, ok := r.Context().Value(userIDKey).(uuid.UUID)
	return id, ok
}
