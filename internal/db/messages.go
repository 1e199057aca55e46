package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateMessage inserts a new message record
func (s *PostgresStore) CreateMessage(ctx context.Context, msg *Message) error {
	query := `
		INSERT INTO messages (
			id, conversation_id, sender_id, type, body,
			attachment_path, status, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.Status == "" {
		msg.Status = MessageStatusSending
	}

	_, err := s.db.Exec(ctx, query,
		msg.ID,
		msg.ConversationID,
		msg.SenderID,
		msg.Type,
		msg.Body,
		msg.AttachmentPath,
		msg.Status,
		msg.CreatedAt,
	)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("operation cancelled: %w", ctx.Err())
		}
		return fmt.Errorf("failed to create message: %w", err)
	}

	return nil
}

// GetMessageByID retrieves a message by its local ID
func (s *PostgresStore) GetMessageByID(ctx context.Context, id string) (*Message, error) {
	query := `
		SELECT
			id, conversation_id, sender_id, type, body,
			attachment_path, status, created_at, delivered_at, read_at
		FROM messages
		WHERE id = $1
	`

	msg := &Message{}
	err := s.db.QueryRow(ctx, query, id).Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.SenderID,
		&msg.Type,
		&msg.Body,
		&msg.AttachmentPath,
		&msg.Status,
		&msg.CreatedAt,
		&msg.DeliveredAt,
		&msg.ReadAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("message not found")
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return msg, nil
}

// GetMessagesByConversation retrieves messages in chronological order
func (s *PostgresStore) GetMessagesByConversation(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*Message, error) {
	query := `
		SELECT
			id, conversation_id, sender_id, type, body,
			attachment_path, status, created_at, delivered_at, read_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC
		LIMIT $2 OFFSET $3
	`

	rows, err := s.db.Query(ctx, query, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	messages := []*Message{}
	for rows.Next() {
		msg := &Message{}
		err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&msg.SenderID,
			&msg.Type,
			&msg.Body,
			&msg.AttachmentPath,
			&msg.Status,
			&msg.CreatedAt,
			&msg.DeliveredAt,
			&msg.ReadAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return messages, nil
}

// UpdateMessageStatus applies a forward status transition to a message.
// The WHERE clause re-checks the transition against the stored row, so a
// stale or duplicate event updates nothing. Returns whether a row changed.
func (s *PostgresStore) UpdateMessageStatus(ctx context.Context, id string, status MessageStatus, at time.Time) (bool, error) {
	var query string
	args := []any{id, status, at}

	switch status {
	case MessageStatusDelivered:
		query = `
			UPDATE messages
			SET status = $2, delivered_at = $3
			WHERE id = $1 AND status IN ('sending', 'sent')
		`
	case MessageStatusRead:
		query = `
			UPDATE messages
			SET status = $2, read_at = $3,
			    delivered_at = COALESCE(delivered_at, $3)
			WHERE id = $1 AND status IN ('sending', 'sent', 'delivered')
		`
	case MessageStatusSent:
		query = `
			UPDATE messages
			SET status = $2
			WHERE id = $1 AND status = 'sending'
		`
		args = args[:2]
	case MessageStatusFailed:
		query = `
			UPDATE messages
			SET status = $2
			WHERE id = $1 AND status IN ('sending', 'sent')
		`
		args = args[:2]
	default:
		return false, fmt.Errorf("invalid target status %q", status)
	}

	result, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update message status: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// ResetMessageForResend moves a failed message back to sending. This is
// the one sanctioned exception to forward-only transitions: a manual
// resend restarts the message's delivery lifecycle.
func (s *PostgresStore) ResetMessageForResend(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE messages
		SET status = 'sending'
		WHERE id = $1 AND status = 'failed'
	`

	result, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to reset message for resend: %w", err)
	}

	return result.RowsAffected() > 0, nil
}

// DeleteMessage deletes a message (explicit user action only)
func (s *PostgresStore) DeleteMessage(ctx context.Context, id string) error {
	query := `DELETE FROM messages WHERE id = $1`

	result, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("message not found")
	}

	return nil
}
