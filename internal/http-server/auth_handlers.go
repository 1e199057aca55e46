package httpserver

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/machamire/ndeip-core/internal/db"
	"github.com/machamire/ndeip-core/pkg/password"
)

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Handles creating a new user account
func (s *Server) HandleSignup(w http.ResponseWriter, r *http.Request) {
	req := new(SignupRequest)
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}

	s.log.Info(
		"recieved request",
		"handler", "HandleSignup",
		"email", req.Email,
	)

	// Request validation
	if err := validateSignupRequest(req); err != nil {
		s.handleError(w, err)
		return
	}

	// Password hashing
	hashed, err := password.Hash(req.Password)
	if err != nil {
		s.log.Error("Failed to hash password", "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to process password")
		return
	}

	newUser := &db.User{
		Username: req.Username,
		Email:    strings.ToLower(strings.TrimSpace(req.Email)),
		Password: string(hashed),
	}

	// Saving user to database
	if err := s.users.CreateUser(r.Context(), newUser); err != nil {
		s.log.Error("Failed to create user", "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to add user to database")
		return
	}

	tokens, err := s.tokens.GenerateTokenPair(newUser.ID, newUser.Username)
	if err != nil {
		s.log.Error("Failed to issue tokens", "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to issue tokens")
		return
	}

	s.log.Info(
		"User created successfully",
		"user_email", newUser.Email,
		"user_id", newUser.ID,
	)

	s.respondJSON(w, http.StatusCreated, AuthResponse{
		User:   newUser,
		Tokens: tokens,
	})
}

// Handles signing in an existing user
func (s *Server) HandleSignin(w http.ResponseWriter, r *http.Request) {
	req := new(SigninRequest)
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}

	user, err := s.users.GetUserByEmail(r.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		s.log.Debug("Signin lookup failed", "email", req.Email, "error", err)
		s.respondError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}

	if err := password.Compare(user.Password, req.Password); err != nil {
		s.respondError(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}

	tokens, err := s.tokens.GenerateTokenPair(user.ID, user.Username)
	if err != nil {
		s.log.Error("Failed to issue tokens", "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to issue tokens")
		return
	}

	// Mark the user online
	if err := s.sessions.CreateSession(r.Context(), user.ID, user.Username); err != nil {
		s.log.Error("Failed to create session", "user_id", user.ID, "error", err)
	}

	s.log.Info("User signed in", "user_id", user.ID)

	s.respondJSON(w, http.StatusOK, AuthResponse{
		User:   user,
		Tokens: tokens,
	})
}

// Handles refreshing an access/refresh token pair
func (s *Server) HandleRefreshToken(w http.ResponseWriter, r *http.Request) {
	req := new(RefreshRequest)
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}

	if req.RefreshToken == "" {
		s.respondError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	tokens, err := s.tokens.RefreshTokenPair(req.RefreshToken)
	if err != nil {
		s.log.Debug("Refresh failed", "error", err)
		s.respondError(w, http.StatusUnauthorized, "Invalid or expired refresh token")
		return
	}

	s.respondJSON(w, http.StatusOK, tokens)
}

// Handles signing out: drops the presence session
func (s *Server) HandleSignout(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		s.respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if err := s.sessions.DeleteSession(r.Context(), userID); err != nil {
		s.log.Error("Failed to delete session", "user_id", userID, "error", err)
	}

	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "signed out",
	})
}
