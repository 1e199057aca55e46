package httpserver

import (
	"time"

	"github.com/google/uuid"

	"github.com/machamire/ndeip-core/internal/db"
	"github.com/machamire/ndeip-core/pkg/jwt"
)

type SignupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type SigninRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type AuthResponse struct {
	User   *db.User       `json:"user"`
	Tokens *jwt.TokenPair `json:"tokens"`
}

type CreateConversationRequest struct {
	Type      db.ConversationType `json:"type"`
	Name      string              `json:"name,omitempty"`
	MemberIDs []uuid.UUID         `json:"member_ids"`
}

type SendMessageRequest struct {
	Type           db.MessageType `json:"type"`
	Body           string         `json:"body"`
	AttachmentPath string         `json:"attachment_path,omitempty"`
}

type MarkReadRequest struct {
	UpTo          time.Time `json:"up_to"`
	LastMessageID string    `json:"last_message_id"`
}

type PresenceResponse struct {
	UserID   uuid.UUID  `json:"user_id"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen,omitempty"`
}

type UploadAttachmentResponse struct {
	Path string `json:"path"`
}

type AttachmentURLResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}
