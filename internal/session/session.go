package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/valkey-io/valkey-go"

	"github.com/machamire/ndeip-core/internal/delivery"
)

const (
	sessionTTLSeconds = 300

	retryKeyPrefix = "retry:"
	retryDueSet    = "retry_due"
)

// Session represents a user's realtime session
type Session struct {
	UserID    uuid.UUID `json:"user_id"`
	Username  string    `json:"username"`
	LastSeen  time.Time `json:"last_seen"`
	Status    string    `json:"status"`
	ConnectAt time.Time `json:"connected_at"`
}

// Manager handles key-value storage operations: user presence and the
// persisted message retry queue.
type Manager struct {
	client valkey.Client
}

// NewManager creates a new session manager
func NewManager(addr, password string) (*Manager, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
		Password:    password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pingCmd := client.B().Ping().Build()
	if err := client.Do(ctx, pingCmd).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping valkey: %w", err)
	}

	return &Manager{client: client}, nil
}

// CreateSession marks a user online with a TTL'd session record
func (m *Manager) CreateSession(ctx context.Context, userID uuid.UUID, username string) error {
	session := Session{
		UserID:    userID,
		Username:  username,
		LastSeen:  time.Now(),
		Status:    "online",
		ConnectAt: time.Now(),
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	key := fmt.Sprintf("session:%s", userID.String())

	setCmd := m.client.B().Set().
		Key(key).
		Value(string(data)).
		Ex(sessionTTLSeconds * time.Second).
		Build()

	if err := m.client.Do(ctx, setCmd).Error(); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	saddCmd := m.client.B().Sadd().
		Key("online_users").
		Member(userID.String()).
		Build()

	if err := m.client.Do(ctx, saddCmd).Error(); err != nil {
		return fmt.Errorf("failed to add to online users: %w", err)
	}

	return nil
}

// GetSession retrieves a user's session
func (m *Manager) GetSession(ctx context.Context, userID uuid.UUID) (*Session, error) {
	key := fmt.Sprintf("session:%s", userID.String())

	getCmd := m.client.B().Get().Key(key).Build()

	result := m.client.Do(ctx, getCmd)

	if err := result.Error(); err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, fmt.Errorf("session not found")
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	data, err := result.ToString()
	if err != nil {
		return nil, fmt.Errorf("failed to parse session data: %w", err)
	}

	var session Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	return &session, nil
}

// UpdateLastSeen updates the last seen timestamp and resets the TTL
func (m *Manager) UpdateLastSeen(ctx context.Context, userID uuid.UUID) error {
	session, err := m.GetSession(ctx, userID)
	if err != nil {
		return err
	}

	session.LastSeen = time.Now()

	data, err := json.Marshal(session)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("session:%s", userID.String())

	setCmd := m.client.B().Set().
		Key(key).
		Value(string(data)).
		Ex(sessionTTLSeconds * time.Second).
		Build()

	return m.client.Do(ctx, setCmd).Error()
}

// DeleteSession removes a user's session
func (m *Manager) DeleteSession(ctx context.Context, userID uuid.UUID) error {
	key := fmt.Sprintf("session:%s", userID.String())

	delCmd := m.client.B().Del().Key(key).Build()

	if err := m.client.Do(ctx, delCmd).Error(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	sremCmd := m.client.B().Srem().
		Key("online_users").
		Member(userID.String()).
		Build()

	if err := m.client.Do(ctx, sremCmd).Error(); err != nil {
		return fmt.Errorf("failed to remove from online users: %w", err)
	}

	return nil
}

// IsUserOnline checks if a user is online
func (m *Manager) IsUserOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	sismemberCmd := m.client.B().Sismember().
		Key("online_users").
		Member(userID.String()).
		Build()

	result := m.client.Do(ctx, sismemberCmd)

	val, err := result.AsInt64()
	if err != nil {
		return false, fmt.Errorf("failed to check online status: %w", err)
	}

	return val == 1, nil
}

// SaveRetryEntry upserts a retry-queue entry: the entry body in a plain
// key, its due time in a sorted set for ordered scans. Entries have no
// TTL; they must survive until delivered, failed, or cancelled.
func (m *Manager) SaveRetryEntry(ctx context.Context, entry *delivery.RetryEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal retry entry: %w", err)
	}

	key := retryKeyPrefix + entry.MessageID

	setCmd := m.client.B().Set().
		Key(key).
		Value(string(data)).
		Build()

	if err := m.client.Do(ctx, setCmd).Error(); err != nil {
		return fmt.Errorf("failed to save retry entry: %w", err)
	}

	zaddCmd := m.client.B().Zadd().
		Key(retryDueSet).
		ScoreMember().
		ScoreMember(float64(entry.NextRetryAt.UnixMilli()), entry.MessageID).
		Build()

	if err := m.client.Do(ctx, zaddCmd).Error(); err != nil {
		return fmt.Errorf("failed to index retry entry: %w", err)
	}

	return nil
}

// DeleteRetryEntry removes an entry from the queue and its due index
func (m *Manager) DeleteRetryEntry(ctx context.Context, messageID string) error {
	delCmd := m.client.B().Del().Key(retryKeyPrefix + messageID).Build()
	if err := m.client.Do(ctx, delCmd).Error(); err != nil {
		return fmt.Errorf("failed to delete retry entry: %w", err)
	}

	zremCmd := m.client.B().Zrem().
		Key(retryDueSet).
		Member(messageID).
		Build()

	if err := m.client.Do(ctx, zremCmd).Error(); err != nil {
		return fmt.Errorf("failed to unindex retry entry: %w", err)
	}

	return nil
}

// ListRetryEntries returns every queued entry ordered by due time.
// Index members whose entry key has vanished are cleaned up as they are
// encountered.
func (m *Manager) ListRetryEntries(ctx context.Context) ([]*delivery.RetryEntry, error) {
	zrangeCmd := m.client.B().Zrange().
		Key(retryDueSet).
		Min("-inf").
		Max("+inf").
		Byscore().
		Build()

	ids, err := m.client.Do(ctx, zrangeCmd).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to scan retry queue: %w", err)
	}

	entries := make([]*delivery.RetryEntry, 0, len(ids))
	for _, id := range ids {
		getCmd := m.client.B().Get().Key(retryKeyPrefix + id).Build()
		result := m.client.Do(ctx, getCmd)

		if err := result.Error(); err != nil {
			if valkey.IsValkeyNil(err) {
				zremCmd := m.client.B().Zrem().Key(retryDueSet).Member(id).Build()
				_ = m.client.Do(ctx, zremCmd).Error()
				continue
			}
			return nil, fmt.Errorf("failed to get retry entry %s: %w", id, err)
		}

		data, err := result.ToString()
		if err != nil {
			return nil, fmt.Errorf("failed to parse retry entry %s: %w", id, err)
		}

		entry := &delivery.RetryEntry{}
		if err := json.Unmarshal([]byte(data), entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal retry entry %s: %w", id, err)
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// Close closes the client connection
func (m *Manager) Close() {
	m.client.Close()
}
