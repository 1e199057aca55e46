package db

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Password  string    `json:"-"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MessageStatus is the delivery state of a single message. Transitions are
// monotonic along sending < sent < delivered < read; failed is terminal and
// reachable only from sending or sent.
type MessageStatus string

const (
	MessageStatusSending   MessageStatus = "sending"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

// statusRank orders the forward-only delivery states. failed is not ranked,
// it is handled as a special case in CanTransition.
var statusRank = map[MessageStatus]int{
	MessageStatusSending:   0,
	MessageStatusSent:      1,
	MessageStatusDelivered: 2,
	MessageStatusRead:      3,
}

// CanTransition reports whether a message may move from s to next.
// Applying the current status again is rejected here; callers treat that
// as an idempotent no-op rather than an error.
func (s MessageStatus) CanTransition(next MessageStatus) bool {
	if s == MessageStatusFailed {
		return false
	}
	if next == MessageStatusFailed {
		return s == MessageStatusSending || s == MessageStatusSent
	}
	cur, ok := statusRank[s]
	if !ok {
		return false
	}
	nxt, ok := statusRank[next]
	if !ok {
		return false
	}
	return nxt > cur
}

type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeVoice  MessageType = "voice"
	MessageTypeImage  MessageType = "image"
	MessageTypeVideo  MessageType = "video"
	MessageTypeFile   MessageType = "file"
	MessageTypeSystem MessageType = "system"
)

// Message is one entry in a conversation's ordered sequence. ID is generated
// locally at send time and stays the stable correlation key for status
// updates even after the server has seen the message.
type Message struct {
	ID             string        `json:"id"`
	ConversationID uuid.UUID     `json:"conversation_id"`
	SenderID       uuid.UUID     `json:"sender_id"`
	Type           MessageType   `json:"type"`
	Body           string        `json:"body"`
	AttachmentPath string        `json:"attachment_path,omitempty"`
	Status         MessageStatus `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	DeliveredAt    *time.Time    `json:"delivered_at,omitempty"`
	ReadAt         *time.Time    `json:"read_at,omitempty"`
}

type ConversationType string

const (
	ConversationTypeDirect ConversationType = "direct"
	ConversationTypeGroup  ConversationType = "group"
)

// Conversation carries the last-message summary used for list previews.
// LastActivityAt drives the most-recently-active ordering of the list.
type Conversation struct {
	ID             uuid.UUID        `json:"id"`
	Type           ConversationType `json:"type"`
	Name           string           `json:"name,omitempty"`
	CreatedBy      uuid.UUID        `json:"created_by"`
	LastMessageID  *string          `json:"last_message_id,omitempty"`
	LastMessage    string           `json:"last_message,omitempty"`
	LastSenderID   *uuid.UUID       `json:"last_sender_id,omitempty"`
	LastActivityAt time.Time        `json:"last_activity_at"`
	CreatedAt      time.Time        `json:"created_at"`
}

// ConversationMember links a user to a conversation and tracks the
// read horizon used for unread counts.
type ConversationMember struct {
	ConversationID uuid.UUID  `json:"conversation_id"`
	UserID         uuid.UUID  `json:"user_id"`
	JoinedAt       time.Time  `json:"joined_at"`
	ReadUpTo       *time.Time `json:"read_up_to,omitempty"`
}

// ConversationSummary is a Conversation plus the per-viewer unread count,
// as returned by GetConversationsForUser.
type ConversationSummary struct {
	Conversation
	UnreadCount int `json:"unread_count"`
}

type CallType string

const (
	CallTypeVoice CallType = "voice"
	CallTypeVideo CallType = "video"
)

// CallFinalStatus classifies how a call ended. declined, missed and
// no_answer are distinct: declined means an explicit reject signal arrived,
// missed means a hangup before connect with no reject, no_answer means the
// caller's own timeout fired.
type CallFinalStatus string

const (
	CallCompleted CallFinalStatus = "completed"
	CallMissed    CallFinalStatus = "missed"
	CallDeclined  CallFinalStatus = "declined"
	CallNoAnswer  CallFinalStatus = "no_answer"
	CallFailed    CallFinalStatus = "failed"
)

// CallRecord is an append-only history entry, written exactly once when a
// call session reaches a terminal state. DurationSecs > 0 only for
// completed calls.
type CallRecord struct {
	ID           uuid.UUID       `json:"id"`
	CallerID     uuid.UUID       `json:"caller_id"`
	CalleeID     uuid.UUID       `json:"callee_id"`
	Type         CallType        `json:"type"`
	FinalStatus  CallFinalStatus `json:"final_status"`
	DurationSecs int             `json:"duration"`
	StartedAt    time.Time       `json:"started_at"`
	EndedAt      *time.Time      `json:"ended_at,omitempty"`
}
