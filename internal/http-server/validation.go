package httpserver

import (
	"strings"

	"github.com/machamire/ndeip-core/internal/db"
)

func validateSignupRequest(req *SignupRequest) error {
	if req.Username == "" {
		return NewValidationError("Username is required")
	}

	if len(req.Username) < 2 {
		return NewValidationError("Username must be at least 2 characters long")
	}

	if len(req.Username) > 28 {
		return NewValidationError("Username must be not more that 28 characters long")
	}

	if req.Email == "" {
		return NewValidationError("Email is required")
	}

	if !strings.Contains(req.Email, "@") || !strings.Contains(req.Email, ".") {
		return NewValidationError("Invalid email format")
	}

	return validatePassword(req.Password)
}

func validatePassword(pw string) error {
	if len(pw) < 8 {
		return NewValidationError("Password must be at least 8 characters")
	}

	hasUpper := false
	hasLower := false
	hasDigit := false
	hasSpecial := false

	for _, c := range pw {
		switch {
		case 'A' <= c && c <= 'Z':
			hasUpper = true
		case 'a' <= c && c <= 'z':
			hasLower = true
		case '0' <= c && c <= '9':
			hasDigit = true
		case strings.ContainsRune("!@#$%^&*", c):
			hasSpecial = true
		}
	}

	if !hasUpper {
		return NewValidationError("Password must contain an uppercase letter")
	}
	if !hasLower {
		return NewValidationError("Password must contain a lowercase letter")
	}
	if !hasDigit {
		return NewValidationError("Password must contain a number")
	}
	if !hasSpecial {
		return NewValidationError("Password must contain a special character")
	}

	return nil
}

func validateCreateConversationRequest(req *CreateConversationRequest) error {
	switch req.Type {
	case db.ConversationTypeDirect, db.ConversationTypeGroup:
	default:
		return NewValidationError("Conversation type must be direct or group")
	}

	if len(req.MemberIDs) == 0 {
		return NewValidationError("At least one member is required")
	}

	if req.Type == db.ConversationTypeDirect && len(req.MemberIDs) != 1 {
		return NewValidationError("Direct conversation takes exactly one other member")
	}

	if req.Type == db.ConversationTypeGroup && req.Name == "" {
		return NewValidationError("Group conversation requires a name")
	}

	return nil
}

func validateSendMessageRequest(req *SendMessageRequest) error {
	switch req.Type {
	case db.MessageTypeText:
		if strings.TrimSpace(req.Body) == "" {
			return NewValidationError("Text message body is required")
		}
	case db.MessageTypeVoice, db.MessageTypeImage, db.MessageTypeVideo, db.MessageTypeFile:
		if req.AttachmentPath == "" {
			return NewValidationError("Attachment path is required for media messages")
		}
	default:
		return NewValidationError("Unknown message type")
	}

	if len(req.Body) > 4000 {
		return NewValidationError("Message body must be not more than 4000 characters")
	}

	return nil
}
