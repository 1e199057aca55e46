package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultCallHistoryPageSize bounds history queries when the caller passes
// a non-positive limit.
const DefaultCallHistoryPageSize = 50

// AppendCallRecord writes one history entry for a terminated call.
// The ON CONFLICT guard makes a duplicate append for the same call a no-op,
// so a racing hangup signal cannot produce two entries.
func (s *PostgresStore) AppendCallRecord(ctx context.Context, rec *CallRecord) error {
	query := `
		INSERT INTO call_history (
			id, caller_id, callee_id, type, final_status,
			duration_seconds, started_at, ended_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}

	_, err := s.db.Exec(ctx, query,
		rec.ID,
		rec.CallerID,
		rec.CalleeID,
		rec.Type,
		rec.FinalStatus,
		rec.DurationSecs,
		rec.StartedAt,
		rec.EndedAt,
	)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("operation cancelled: %w", ctx.Err())
		}
		return fmt.Errorf("failed to append call record: %w", err)
	}

	return nil
}

// GetCallsForParticipant retrieves call history for a user, newest first
func (s *PostgresStore) GetCallsForParticipant(ctx context.Context, participantID uuid.UUID, limit, offset int) ([]*CallRecord, error) {
	if limit <= 0 {
		limit = DefaultCallHistoryPageSize
	}

	query := `
		SELECT id, caller_id, callee_id, type, final_status,
		       duration_seconds, started_at, ended_at
		FROM call_history
		WHERE caller_id = $1 OR callee_id = $1
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := s.db.Query(ctx, query, participantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get call history: %w", err)
	}
	defer rows.Close()

	records := []*CallRecord{}
	for rows.Next() {
		rec := &CallRecord{}
		err := rows.Scan(
			&rec.ID,
			&rec.CallerID,
			&rec.CalleeID,
			&rec.Type,
			&rec.FinalStatus,
			&rec.DurationSecs,
			&rec.StartedAt,
			&rec.EndedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call record: %w", err)
		}
		records = append(records, rec)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating call history: %w", err)
	}

	return records, nil
}

// DeleteCallRecord removes a history entry, but only for a participant of
// the call (explicit user deletion is the only mutation history allows).
func (s *PostgresStore) DeleteCallRecord(ctx context.Context, id, requesterID uuid.UUID) error {
	query := `
		DELETE FROM call_history
		WHERE id = $1 AND (caller_id = $2 OR callee_id = $2)
	`

	result, err := s.db.Exec(ctx, query, id, requesterID)
	if err != nil {
		return fmt.Errorf("failed to delete call record: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("call record not found")
	}

	return nil
}
