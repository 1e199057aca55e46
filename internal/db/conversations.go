package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateConversation inserts a conversation together with its member rows
func (s *PostgresStore) CreateConversation(ctx context.Context, conv *Conversation, memberIDs []uuid.UUID) error {
	if conv.ID == uuid.Nil {
		conv.ID = uuid.New()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now()
	}
	if conv.LastActivityAt.IsZero() {
		conv.LastActivityAt = conv.CreatedAt
	}

	query := `
		INSERT INTO conversations (id, type, name, created_by, last_activity_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.db.Exec(ctx, query,
		conv.ID,
		conv.Type,
		conv.Name,
		conv.CreatedBy,
		conv.LastActivityAt,
		conv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}

	memberQuery := `
		INSERT INTO conversation_members (conversation_id, user_id, joined_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (conversation_id, user_id) DO NOTHING
	`

	for _, memberID := range memberIDs {
		if _, err := s.db.Exec(ctx, memberQuery, conv.ID, memberID, conv.CreatedAt); err != nil {
			return fmt.Errorf("failed to add conversation member: %w", err)
		}
	}

	return nil
}

// GetConversationByID retrieves a single conversation
func (s *PostgresStore) GetConversationByID(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	query := `
		SELECT id, type, name, created_by, last_message_id, last_message,
		       last_sender_id, last_activity_at, created_at
		FROM conversations
		WHERE id = $1
	`

	conv := &Conversation{}
	err := s.db.QueryRow(ctx, query, id).Scan(
		&conv.ID,
		&conv.Type,
		&conv.Name,
		&conv.CreatedBy,
		&conv.LastMessageID,
		&conv.LastMessage,
		&conv.LastSenderID,
		&conv.LastActivityAt,
		&conv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("conversation not found")
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	return conv, nil
}

// GetConversationsForUser lists a user's conversations most-recently-active
// first, each with its last-message preview and unread count. Unread counts
// only messages from other senders newer than the member's read horizon.
func (s *PostgresStore) GetConversationsForUser(ctx context.Context, userID uuid.UUID) ([]*ConversationSummary, error) {
	query := `
		SELECT c.id, c.type, c.name, c.created_by, c.last_message_id, c.last_message,
		       c.last_sender_id, c.last_activity_at, c.created_at,
		       (
		           SELECT COUNT(*)
		           FROM messages m
		           WHERE m.conversation_id = c.id
		             AND m.sender_id <> cm.user_id
		             AND (cm.read_up_to IS NULL OR m.created_at > cm.read_up_to)
		       ) AS unread_count
		FROM conversations c
		JOIN conversation_members cm ON cm.conversation_id = c.id
		WHERE cm.user_id = $1
		ORDER BY c.last_activity_at DESC
	`

	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversations: %w", err)
	}
	defer rows.Close()

	summaries := []*ConversationSummary{}
	for rows.Next() {
		sum := &ConversationSummary{}
		err := rows.Scan(
			&sum.ID,
			&sum.Type,
			&sum.Name,
			&sum.CreatedBy,
			&sum.LastMessageID,
			&sum.LastMessage,
			&sum.LastSenderID,
			&sum.LastActivityAt,
			&sum.CreatedAt,
			&sum.UnreadCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		summaries = append(summaries, sum)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversations: %w", err)
	}

	return summaries, nil
}

// TouchConversation updates the last-message preview and bumps the
// conversation to the front of the most-recently-active ordering. The
// created_at guard keeps an out-of-order flush from moving the preview
// backwards.
func (s *PostgresStore) TouchConversation(ctx context.Context, conversationID uuid.UUID, msg *Message) error {
	query := `
		UPDATE conversations
		SET last_message_id = $2,
		    last_message = $3,
		    last_sender_id = $4,
		    last_activity_at = $5
		WHERE id = $1 AND last_activity_at <= $5
	`

	preview := msg.Body
	if msg.Type != MessageTypeText {
		preview = string(msg.Type)
	}

	_, err := s.db.Exec(ctx, query,
		conversationID,
		msg.ID,
		preview,
		msg.SenderID,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}

	return nil
}

// MarkReadUpTo advances a member's read horizon. The guard makes the
// operation idempotent and monotonic: an older horizon never wins.
func (s *PostgresStore) MarkReadUpTo(ctx context.Context, conversationID, userID uuid.UUID, upTo time.Time) error {
	query := `
		UPDATE conversation_members
		SET read_up_to = $3
		WHERE conversation_id = $1 AND user_id = $2
		  AND (read_up_to IS NULL OR read_up_to < $3)
	`

	_, err := s.db.Exec(ctx, query, conversationID, userID, upTo)
	if err != nil {
		return fmt.Errorf("failed to mark conversation read: %w", err)
	}

	return nil
}
