// Package call owns the lifecycle of voice and video calls: the
// per-call state machine, the signaling orchestration around it, and the
// history record written when a call terminates. Media negotiation itself
// is delegated to a MediaSession adapter.
package call

import (
	"time"

	"github.com/google/uuid"

	"github.com/machamire/ndeip-core/internal/db"
)

// State is the lifecycle state of one call session.
type State string

const (
	StateIdle         State = "idle"
	StateDialing      State = "dialing"
	StateRinging      State = "ringing"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateEnded        State = "ended"
	StateFailed       State = "failed"
	StateDeclined     State = "declined"
	StateMissed       State = "missed"
	StateNoAnswer     State = "no_answer"
)

// Terminal reports whether the state ends the session's lifecycle.
// Once terminal, every further signal for the call is a no-op.
func (s State) Terminal() bool {
	switch s {
	case StateEnded, StateFailed, StateDeclined, StateMissed, StateNoAnswer:
		return true
	}
	return false
}

// Controls are the local-only toggles. They are never shared with the
// remote peer over signaling; each side tracks its own.
type Controls struct {
	Muted        bool `json:"muted"`
	SpeakerOn    bool `json:"speaker_on"`
	VideoEnabled bool `json:"video_enabled"`
}

// Event is pushed to subscribed listeners on every state or control
// change. Record is non-nil only for the terminal event.
type Event struct {
	CallID   uuid.UUID
	RemoteID uuid.UUID
	Type     db.CallType
	Outbound bool
	State    State
	Controls Controls
	At       time.Time
	Record   *db.CallRecord
}

// Snapshot is a point-in-time copy of a session's mutable state.
type Snapshot struct {
	CallID      uuid.UUID
	RemoteID    uuid.UUID
	Type        db.CallType
	Outbound    bool
	State       State
	Controls    Controls
	StartedAt   time.Time
	ConnectedAt time.Time
	EndedAt     time.Time
}

// Clock provides the current time. Defaults to time.Now; override in tests.
type Clock func() time.Time

// Config carries the call-scoped timeouts.
type Config struct {
	// NoAnswerTimeout bounds how long a dialing or ringing call waits
	// before giving up (no_answer locally, missed on the callee side).
	NoAnswerTimeout time.Duration

	// ReconnectTimeout bounds how long a connected call may sit in
	// reconnecting before it is declared failed.
	ReconnectTimeout time.Duration
}

// DefaultConfig returns the production timeouts.
func DefaultConfig() Config {
	return Config{
		NoAnswerTimeout:  35 * time.Second,
		ReconnectTimeout: 10 * time.Second,
	}
}
