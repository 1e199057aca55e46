package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/machamire/ndeip-core/internal/db"
	"github.com/machamire/ndeip-core/internal/delivery"
)

const defaultMessagePageSize = 50

// Handles listing the caller's conversations, most recently active first
func (s *Server) HandleListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		s.respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	summaries, err := s.convs.GetConversationsForUser(r.Context(), userID)
	if err != nil {
		s.log.Error("Failed to list conversations", "user_id", userID, "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to list conversations")
		return
	}

	s.respondJSON(w, http.StatusOK, summaries)
}

// Handles creating a new conversation with the caller as a member
func (s *Server) HandleCreateConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		s.respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	req := new(CreateConversationRequest)
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}

	if err := validateCreateConversationRequest(req); err != nil {
		s.handleError(w, err)
		return
	}

	conv := &db.Conversation{
		ID:        uuid.New(),
		Type:      req.Type,
		Name:      req.Name,
		CreatedBy: userID,
	}

	members := append([]uuid.UUID{userID}, req.MemberIDs...)

	if err := s.convs.CreateConversation(r.Context(), conv, members); err != nil {
		s.log.Error("Failed to create conversation", "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to create conversation")
		return
	}

	s.log.Info(
		"Conversation created",
		"conversation_id", conv.ID,
		"type", conv.Type,
		"members", len(members),
	)

	s.respondJSON(w, http.StatusCreated, conv)
}

// Handles listing a page of messages in a conversation
func (s *Server) HandleListMessages(w http.ResponseWriter, r *http.Request) {
	convID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid conversation id")
		return
	}

	limit := queryInt(r, "limit", defaultMessagePageSize)
	offset := queryInt(r, "offset", 0)

	messages, err := s.messages.GetMessagesByConversation(r.Context(), convID, limit, offset)
	if err != nil {
		s.log.Error("Failed to list messages", "conversation_id", convID, "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to list messages")
		return
	}

	s.respondJSON(w, http.StatusOK, messages)
}

// Handles sending a message through the delivery pipeline
func (s *Server) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		s.respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	convID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid conversation id")
		return
	}

	req := new(SendMessageRequest)
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}

	if err := validateSendMessageRequest(req); err != nil {
		s.handleError(w, err)
		return
	}

	msg, err := s.pipeline.Send(r.Context(), convID, userID, req.Type, req.Body, req.AttachmentPath)
	if err != nil {
		s.log.Error("Failed to send message", "conversation_id", convID, "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to send message")
		return
	}

	// Delivery continues asynchronously; the client tracks status events
	s.respondJSON(w, http.StatusAccepted, msg)
}

// Handles re-queuing a failed message
func (s *Server) HandleResendMessage(w http.ResponseWriter, r *http.Request) {
	msgID := chi.URLParam(r, "id")
	if msgID == "" {
		s.respondError(w, http.StatusBadRequest, "Message id is required")
		return
	}

	msg, err := s.pipeline.Resend(r.Context(), msgID)
	if err != nil {
		if errors.Is(err, delivery.ErrNotResendable) {
			s.respondError(w, http.StatusConflict, "Message is not in a failed state")
			return
		}
		s.handleError(w, err)
		return
	}

	s.respondJSON(w, http.StatusAccepted, msg)
}

// Handles advancing the caller's read horizon in a conversation
func (s *Server) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(r)
	if !ok {
		s.respondError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	convID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid conversation id")
		return
	}

	req := new(MarkReadRequest)
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}

	upTo := req.UpTo
	if upTo.IsZero() {
		upTo = time.Now()
	}

	if err := s.pipeline.MarkRead(r.Context(), convID, userID, upTo, req.LastMessageID); err != nil {
		s.log.Error("Failed to mark read", "conversation_id", convID, "error", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to mark conversation read")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
