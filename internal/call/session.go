package call

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/machamire/ndeip-core/internal/db"
	"github.com/machamire/ndeip-core/internal/signal"
)

// ErrCallFinished is returned for operations on a call that has already
// reached a terminal state.
var ErrCallFinished = errors.New("call already finished")

// ErrInvalidState is returned when an operation is not legal in the
// session's current state (e.g. answering a call that is not ringing).
var ErrInvalidState = errors.New("operation not valid in current call state")

const historyWriteTimeout = 5 * time.Second

type cmdKind int

const (
	cmdAnswer cmdKind = iota
	cmdDecline
	cmdEnd
	cmdToggleMute
	cmdToggleSpeaker
	cmdToggleVideo
	cmdSnapshot
)

type command struct {
	kind     cmdKind
	override db.CallFinalStatus
	reply    chan cmdResult
}

type cmdResult struct {
	prev     bool
	record   *db.CallRecord
	snapshot Snapshot
	err      error
}

// Session is one call's state machine. All mutable state is owned by the
// run goroutine; commands, inbound signals, media events and timers all
// pass through its select loop, so no transition is ever partially
// visible to another task.
type Session struct {
	callID   uuid.UUID
	localID  uuid.UUID
	remoteID uuid.UUID
	callType db.CallType
	outbound bool

	channel SignalChannel
	history db.CallHistoryStore
	media   MediaFactory
	cfg     Config
	clock   Clock
	logger  *log.Logger

	cmds    chan command
	signals chan signal.Payload
	done    chan struct{}

	onTerminal func(*Session)
	emit       func(Event)

	// Owned by run; not safe to touch from outside.
	state        State
	controls     Controls
	startedAt    time.Time
	connectedAt  time.Time
	endedAt      time.Time
	mediaSession MediaSession
	record       *db.CallRecord
}

func newSession(m *Manager, callID, remoteID uuid.UUID, callType db.CallType, outbound bool) *Session {
	initial := StateRinging
	if outbound {
		initial = StateDialing
	}

	return &Session{
		callID:     callID,
		localID:    m.selfID,
		remoteID:   remoteID,
		callType:   callType,
		outbound:   outbound,
		channel:    m.channel,
		history:    m.history,
		media:      m.media,
		cfg:        m.cfg,
		clock:      m.clock,
		logger:     m.logger,
		cmds:       make(chan command),
		signals:    make(chan signal.Payload, 16),
		done:       make(chan struct{}),
		onTerminal: m.removeSession,
		emit:       m.broadcast,
		state:      initial,
		controls:   Controls{VideoEnabled: callType == db.CallTypeVideo},
		startedAt:  m.clock(),
	}
}

// CallID returns the call's stable identifier.
func (s *Session) CallID() uuid.UUID { return s.callID }

// RemoteID returns the other participant.
func (s *Session) RemoteID() uuid.UUID { return s.remoteID }

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// do submits a command to the actor and waits for its reply. Fails with
// ErrCallFinished once the session has terminated.
func (s *Session) do(cmd command) cmdResult {
	cmd.reply = make(chan cmdResult, 1)

	select {
	case s.cmds <- cmd:
		return <-cmd.reply
	case <-s.done:
		return cmdResult{err: ErrCallFinished}
	}
}

// deliver hands an inbound signal payload to the actor. Signals for a
// finished session are dropped; the state-machine guard makes them no-ops
// anyway.
func (s *Session) deliver(p signal.Payload) {
	select {
	case s.signals <- p:
	case <-s.done:
	default:
		s.logger.Warn("Dropping signal, session queue full", "call_id", s.callID, "type", p.Kind())
	}
}

// Snapshot returns a copy of the session's current state.
func (s *Session) Snapshot() Snapshot {
	res := s.do(command{kind: cmdSnapshot})
	if res.err != nil {
		// The run loop has exited; its final writes are visible once
		// done is closed, so reading the fields directly is safe here.
		return Snapshot{
			CallID:      s.callID,
			RemoteID:    s.remoteID,
			Type:        s.callType,
			Outbound:    s.outbound,
			State:       s.state,
			Controls:    s.controls,
			StartedAt:   s.startedAt,
			ConnectedAt: s.connectedAt,
			EndedAt:     s.endedAt,
		}
	}
	return res.snapshot
}

func (s *Session) run() {
	defer close(s.done)

	var noAnswerT *time.Timer
	var noAnswerC <-chan time.Time
	var reconnectT *time.Timer
	var reconnectC <-chan time.Time

	// Both sides give up on an unanswered call: the caller classifies it
	// as no_answer, the callee as missed.
	noAnswerT = time.NewTimer(s.cfg.NoAnswerTimeout)
	noAnswerC = noAnswerT.C
	defer func() {
		noAnswerT.Stop()
		if reconnectT != nil {
			reconnectT.Stop()
		}
		if s.mediaSession != nil {
			_ = s.mediaSession.Close()
		}
	}()

	s.emitState(nil)

	for !s.state.Terminal() {
		var mediaC <-chan MediaEvent
		if s.mediaSession != nil {
			mediaC = s.mediaSession.Events()
		}

		select {
		case cmd := <-s.cmds:
			s.handleCommand(cmd)

		case p := <-s.signals:
			s.handleSignal(p)

		case <-noAnswerC:
			noAnswerC = nil
			if s.state == StateDialing || s.state == StateRinging {
				if s.outbound {
					s.sendSignal(&signal.Hangup{Call: s.callID})
					s.toTerminal(StateNoAnswer)
				} else {
					s.toTerminal(StateMissed)
				}
			}

		case ev := <-mediaC:
			s.handleMedia(ev)

		case <-reconnectC:
			reconnectC = nil
			if s.state == StateReconnecting {
				s.toTerminal(StateFailed)
			}
		}

		// Arm and disarm timers against the state we just moved to.
		switch {
		case s.state == StateReconnecting && reconnectC == nil:
			reconnectT = time.NewTimer(s.cfg.ReconnectTimeout)
			reconnectC = reconnectT.C
		case s.state != StateReconnecting && reconnectT != nil:
			reconnectT.Stop()
			reconnectT = nil
			reconnectC = nil
		}
		if s.state != StateDialing && s.state != StateRinging {
			noAnswerT.Stop()
			noAnswerC = nil
		}
	}
}

func (s *Session) handleCommand(cmd command) {
	switch cmd.kind {
	case cmdAnswer:
		if s.state != StateRinging || s.outbound {
			cmd.reply <- cmdResult{err: ErrInvalidState}
			return
		}
		s.sendSignal(&signal.Answer{Call: s.callID})
		s.toConnecting()
		cmd.reply <- cmdResult{}

	case cmdDecline:
		if s.state != StateRinging || s.outbound {
			cmd.reply <- cmdResult{err: ErrInvalidState}
			return
		}
		s.sendSignal(&signal.Reject{Call: s.callID})
		s.toTerminal(StateDeclined)
		cmd.reply <- cmdResult{record: s.record}

	case cmdEnd:
		s.sendSignal(&signal.Hangup{Call: s.callID})
		target := StateEnded
		if s.connectedAt.IsZero() {
			target = StateMissed
		}
		s.toTerminal(target, cmd.override)
		cmd.reply <- cmdResult{record: s.record}

	case cmdToggleMute:
		prev := s.controls.Muted
		s.controls.Muted = !prev
		if s.mediaSession != nil {
			s.mediaSession.SetMuted(s.controls.Muted)
		}
		s.emitState(nil)
		cmd.reply <- cmdResult{prev: prev}

	case cmdToggleSpeaker:
		prev := s.controls.SpeakerOn
		s.controls.SpeakerOn = !prev
		if s.mediaSession != nil {
			s.mediaSession.SetSpeakerOn(s.controls.SpeakerOn)
		}
		s.emitState(nil)
		cmd.reply <- cmdResult{prev: prev}

	case cmdToggleVideo:
		prev := s.controls.VideoEnabled
		s.controls.VideoEnabled = !prev
		if s.mediaSession != nil {
			s.mediaSession.SetVideoEnabled(s.controls.VideoEnabled)
		}
		s.emitState(nil)
		cmd.reply <- cmdResult{prev: prev}

	case cmdSnapshot:
		cmd.reply <- cmdResult{snapshot: Snapshot{
			CallID:      s.callID,
			RemoteID:    s.remoteID,
			Type:        s.callType,
			Outbound:    s.outbound,
			State:       s.state,
			Controls:    s.controls,
			StartedAt:   s.startedAt,
			ConnectedAt: s.connectedAt,
			EndedAt:     s.endedAt,
		}}
	}
}

func (s *Session) handleSignal(p signal.Payload) {
	switch sig := p.(type) {
	case *signal.Offer:
		// Duplicate delivery of the offer that created this session.

	case *signal.Answer:
		if s.state == StateDialing || s.state == StateRinging {
			s.toConnecting()
		}

	case *signal.Reject:
		switch s.state {
		case StateDialing, StateRinging, StateConnecting:
			s.toTerminal(StateDeclined)
		}

	case *signal.Hangup:
		switch s.state {
		case StateConnected, StateReconnecting:
			s.toTerminal(StateEnded)
		case StateDialing, StateRinging, StateConnecting:
			s.toTerminal(StateMissed)
		}

	case *signal.Candidate:
		if s.mediaSession != nil {
			s.mediaSession.AddRemoteCandidate(sig.Candidate)
		}
	}
}

func (s *Session) handleMedia(ev MediaEvent) {
	switch ev {
	case MediaConnected:
		switch s.state {
		case StateConnecting, StateReconnecting:
			if s.connectedAt.IsZero() {
				s.connectedAt = s.clock()
			}
			s.state = StateConnected
			s.emitState(nil)
		}

	case MediaDisconnected:
		if s.state == StateConnected {
			s.state = StateReconnecting
			s.emitState(nil)
		}

	case MediaFailed:
		s.toTerminal(StateFailed)
	}
}

func (s *Session) toConnecting() {
	s.state = StateConnecting

	ms, err := s.media.Open(s.callID, s.callType, s.outbound)
	if err != nil {
		s.logger.Error("Failed to open media session", "call_id", s.callID, "error", err)
		s.toTerminal(StateFailed)
		return
	}
	s.mediaSession = ms
	s.emitState(nil)
}

// toTerminal applies the final transition, builds the history entry and
// writes it synchronously. Exactly one record per session: the record id
// is the call id and the store upsert ignores duplicates.
func (s *Session) toTerminal(st State, override ...db.CallFinalStatus) {
	if s.state.Terminal() {
		return
	}
	s.state = st
	s.endedAt = s.clock()

	duration := 0
	if !s.connectedAt.IsZero() {
		duration = int(s.endedAt.Sub(s.connectedAt).Seconds())
		if duration <= 0 {
			duration = 1
		}
	}

	var final db.CallFinalStatus
	switch st {
	case StateEnded:
		final = db.CallCompleted
	case StateDeclined:
		final = db.CallDeclined
	case StateMissed:
		final = db.CallMissed
	case StateNoAnswer:
		final = db.CallNoAnswer
	default:
		final = db.CallFailed
	}
	if final == db.CallCompleted && duration == 0 {
		final = db.CallMissed
	}
	if len(override) > 0 && override[0] != "" {
		final = override[0]
	}

	callerID, calleeID := s.localID, s.remoteID
	if !s.outbound {
		callerID, calleeID = s.remoteID, s.localID
	}

	endedAt := s.endedAt
	s.record = &db.CallRecord{
		ID:           s.callID,
		CallerID:     callerID,
		CalleeID:     calleeID,
		Type:         s.callType,
		FinalStatus:  final,
		DurationSecs: duration,
		StartedAt:    s.startedAt,
		EndedAt:      &endedAt,
	}

	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()
	if err := s.history.AppendCallRecord(ctx, s.record); err != nil {
		s.logger.Error("Failed to write call history", "call_id", s.callID, "error", err)
	}

	s.logger.Info(
		"Call finished",
		"call_id", s.callID,
		"status", final,
		"duration", duration,
	)

	s.onTerminal(s)
	s.emitState(s.record)
}

// sendSignal publishes fire-and-forget; loss is covered by the call
// timeouts, so a failed send is only logged.
func (s *Session) sendSignal(p signal.Payload) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = s.channel.Send(ctx, &signal.Signal{
		From:    s.localID,
		To:      s.remoteID,
		Payload: p,
	})
}

func (s *Session) emitState(record *db.CallRecord) {
	s.emit(Event{
		CallID:   s.callID,
		RemoteID: s.remoteID,
		Type:     s.callType,
		Outbound: s.outbound,
		State:    s.state,
		Controls: s.controls,
		At:       s.clock(),
		Record:   record,
	})
}
