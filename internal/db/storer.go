package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// To abstract db methods from pgxpool api
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresStore struct {
	db DBTX
}

func NewPostgresStore(pool DBTX) *PostgresStore {
	return &PostgresStore{
		db: pool,
	}
}

type UserStore interface {
	CreateUser(ctx context.Context, user *User) error
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
}

// MessageStore persists conversation messages. UpdateMessageStatus is
// guarded: it only applies forward transitions and reports whether the
// row actually changed, so duplicate status events degrade to no-ops.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg *Message) error
	GetMessageByID(ctx context.Context, id string) (*Message, error)
	GetMessagesByConversation(ctx context.Context, conversationID uuid.UUID, limit, offset int) ([]*Message, error)
	UpdateMessageStatus(ctx context.Context, id string, status MessageStatus, at time.Time) (bool, error)
	ResetMessageForResend(ctx context.Context, id string) (bool, error)
	DeleteMessage(ctx context.Context, id string) error
}

type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *Conversation, memberIDs []uuid.UUID) error
	GetConversationByID(ctx context.Context, id uuid.UUID) (*Conversation, error)
	GetConversationsForUser(ctx context.Context, userID uuid.UUID) ([]*ConversationSummary, error)
	TouchConversation(ctx context.Context, conversationID uuid.UUID, msg *Message) error
	MarkReadUpTo(ctx context.Context, conversationID, userID uuid.UUID, upTo time.Time) error
}

type CallHistoryStore interface {
	AppendCallRecord(ctx context.Context, rec *CallRecord) error
	GetCallsForParticipant(ctx context.Context, participantID uuid.UUID, limit, offset int) ([]*CallRecord, error)
	DeleteCallRecord(ctx context.Context, id, requesterID uuid.UUID) error
}

func CreatePostgresPool(parentCtx context.Context, dburl string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(parentCtx, time.Second*3)
	defer cancel()

	pool, err := pgxpool.New(ctx, dburl)
	if err != nil {
		return nil, err
	}

	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}
