// Package delivery drives outbound messages from optimistic creation to
// an acknowledged terminal status, queuing and retrying across
// disconnects. One cooperative actor per conversation keeps sends FIFO
// within a conversation while conversations proceed independently.
package delivery

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/machamire/ndeip-core/internal/db"
)

// Clock provides the current time. Defaults to time.Now; override in tests.
type Clock func() time.Time

// Transport is the network seam. Deliver pushes one outbound message and
// returns once the far side (server or peer) has accepted it; SendReceipt
// reports delivered/read back for an inbound message.
type Transport interface {
	Deliver(ctx context.Context, msg *db.Message) error
	SendReceipt(ctx context.Context, conversationID uuid.UUID, messageID string, status db.MessageStatus, at time.Time) error
}

// RetryEntry wraps a not-yet-acknowledged message in the persisted retry
// queue. Entries survive process restarts so a crash mid-retry cannot
// silently drop a message.
type RetryEntry struct {
	MessageID      string    `json:"message_id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	AttemptCount   int       `json:"attempt_count"`
	NextRetryAt    time.Time `json:"next_retry_at"`
	LastError      string    `json:"last_error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// RetryStore is the durable home of the retry queue. Upserts are atomic
// by message id, so a flush-on-reconnect racing a new send cannot corrupt
// an entry.
type RetryStore interface {
	SaveRetryEntry(ctx context.Context, entry *RetryEntry) error
	DeleteRetryEntry(ctx context.Context, messageID string) error
	ListRetryEntries(ctx context.Context) ([]*RetryEntry, error)
}

// RetryPolicy is the exponential backoff schedule for failed deliveries.
type RetryPolicy struct {
	BaseDelay     time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration
	MaxAttempts   int

	// FlushSpacing is the inter-message delay while draining the queue
	// after reconnect, to avoid dogpiling the transport.
	FlushSpacing time.Duration
}

// DefaultRetryPolicy returns the production schedule.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:     time.Second,
		BackoffFactor: 2,
		MaxDelay:      30 * time.Second,
		MaxAttempts:   5,
		FlushSpacing:  100 * time.Millisecond,
	}
}

// Delay returns the backoff before retry number attempt (0-based), capped
// at MaxDelay, without jitter.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 0; i < attempt; i++ {
		d *= p.BackoffFactor
		if time.Duration(d) >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Jittered spreads Delay by up to ±10% using r in [0, 1).
func (p RetryPolicy) Jittered(attempt int, r float64) time.Duration {
	d := float64(p.Delay(attempt))
	return time.Duration(d * (0.9 + 0.2*r))
}

// Event is pushed to subscribed listeners whenever a message is created,
// changes status, or arrives from the remote side.
type Event struct {
	Message *db.Message
	Inbound bool
}

// NewLocalID generates a message id at send time: millisecond timestamp
// plus a random suffix. It stays the correlation key for status updates
// even after the server has stored the message.
func NewLocalID(now time.Time) string {
	var suffix [4]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		// Extremely unlikely; fall back to a uuid-derived suffix.
		return fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString()[:8])
	}
	return fmt.Sprintf("%d-%s", now.UnixMilli(), hex.EncodeToString(suffix[:]))
}
