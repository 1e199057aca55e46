package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/machamire/ndeip-core/internal/db"
	"github.com/machamire/ndeip-core/internal/signal"
)

// SignalChannel is the only surface the call package needs from the
// signaling layer. *signal.Hub satisfies it.
type SignalChannel interface {
	Send(ctx context.Context, sig *signal.Signal) error
	Subscribe(participantID uuid.UUID, fn func(*signal.Signal)) (func(), error)
}

// IncomingCall is handed to OnIncoming handlers when an offer arrives.
type IncomingCall struct {
	CallID  uuid.UUID
	From    uuid.UUID
	Type    db.CallType
	Answer  func() error
	Decline func() (*db.CallRecord, error)
}

// Manager owns all active call sessions for one local participant and
// routes inbound signals to them. One Manager per process, injected into
// consumers; there is deliberately no package-level instance.
type Manager struct {
	selfID  uuid.UUID
	channel SignalChannel
	history db.CallHistoryStore
	media   MediaFactory
	cfg     Config
	clock   Clock
	logger  *log.Logger

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session

	incomingMu sync.RWMutex
	incoming   []func(*IncomingCall)

	listenerMu   sync.RWMutex
	listeners    map[int]func(Event)
	nextListener int

	unsubscribe func()
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the time source.
func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithMedia sets the media adapter factory. Defaults to NopMedia.
func WithMedia(f MediaFactory) Option {
	return func(m *Manager) { m.media = f }
}

// NewManager subscribes to the signal channel for selfID and starts
// routing. Fails atomically: on error, nothing is registered.
func NewManager(selfID uuid.UUID, channel SignalChannel, history db.CallHistoryStore, cfg Config, logger *log.Logger, opts ...Option) (*Manager, error) {
	m := &Manager{
		selfID:    selfID,
		channel:   channel,
		history:   history,
		media:     NopMedia{},
		cfg:       cfg,
		clock:     time.Now,
		logger:    logger,
		sessions:  make(map[uuid.UUID]*Session),
		listeners: make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(m)
	}

	unsubscribe, err := channel.Subscribe(selfID, m.handleSignal)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to signal channel: %w", err)
	}
	m.unsubscribe = unsubscribe

	return m, nil
}

// OnIncoming registers a handler fired for each incoming offer.
func (m *Manager) OnIncoming(fn func(*IncomingCall)) {
	m.incomingMu.Lock()
	m.incoming = append(m.incoming, fn)
	m.incomingMu.Unlock()
}

// Subscribe registers a state-change listener and returns an unsubscribe
// func. All sessions share the manager's single signal subscription.
func (m *Manager) Subscribe(fn func(Event)) func() {
	m.listenerMu.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = fn
	m.listenerMu.Unlock()

	return func() {
		m.listenerMu.Lock()
		delete(m.listeners, id)
		m.listenerMu.Unlock()
	}
}

// StartCall dials remoteID. The offer is published before the session is
// created: if the signaling channel is down the error surfaces here and
// no session exists afterwards.
func (m *Manager) StartCall(ctx context.Context, remoteID uuid.UUID, callType db.CallType) (*Session, error) {
	callID := uuid.New()

	err := m.channel.Send(ctx, &signal.Signal{
		From: m.selfID,
		To:   remoteID,
		Payload: &signal.Offer{
			Call:     callID,
			CallType: callType,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start call: %w", err)
	}

	sess := newSession(m, callID, remoteID, callType, true)

	m.mu.Lock()
	m.sessions[callID] = sess
	m.mu.Unlock()

	go sess.run()

	m.logger.Info("Call started", "call_id", callID, "to", remoteID, "type", callType)
	return sess, nil
}

// AnswerCall accepts a ringing incoming call.
func (m *Manager) AnswerCall(callID uuid.UUID) error {
	sess, ok := m.session(callID)
	if !ok {
		return ErrCallFinished
	}
	return sess.do(command{kind: cmdAnswer}).err
}

// DeclineCall rejects a ringing incoming call. Terminal.
func (m *Manager) DeclineCall(callID uuid.UUID) (*db.CallRecord, error) {
	sess, ok := m.session(callID)
	if !ok {
		return nil, ErrCallFinished
	}
	res := sess.do(command{kind: cmdDecline})
	return res.record, res.err
}

// EndCall hangs up from any non-terminal state and returns the history
// entry. The optional override replaces the computed final status.
func (m *Manager) EndCall(callID uuid.UUID, override ...db.CallFinalStatus) (*db.CallRecord, error) {
	sess, ok := m.session(callID)
	if !ok {
		return nil, ErrCallFinished
	}
	cmd := command{kind: cmdEnd}
	if len(override) > 0 {
		cmd.override = override[0]
	}
	res := sess.do(cmd)
	return res.record, res.err
}

// ToggleMute flips the local mute control, returning the previous value.
func (m *Manager) ToggleMute(callID uuid.UUID) (bool, error) {
	return m.toggle(callID, cmdToggleMute)
}

// ToggleSpeaker flips the local speaker control, returning the previous value.
func (m *Manager) ToggleSpeaker(callID uuid.UUID) (bool, error) {
	return m.toggle(callID, cmdToggleSpeaker)
}

// ToggleVideo flips the local video control, returning the previous value.
func (m *Manager) ToggleVideo(callID uuid.UUID) (bool, error) {
	return m.toggle(callID, cmdToggleVideo)
}

func (m *Manager) toggle(callID uuid.UUID, kind cmdKind) (bool, error) {
	sess, ok := m.session(callID)
	if !ok {
		// No active session: no-op.
		return false, ErrCallFinished
	}
	res := sess.do(command{kind: kind})
	return res.prev, res.err
}

// Session returns the active session for callID, if any.
func (m *Manager) Session(callID uuid.UUID) (*Session, bool) {
	return m.session(callID)
}

// ActiveCalls returns the number of sessions currently tracked.
func (m *Manager) ActiveCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close tears down the signal subscription and hangs up every active call.
func (m *Manager) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		_, _ = m.EndCall(s.CallID())
	}
}

func (m *Manager) session(callID uuid.UUID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[callID]
	return s, ok
}

// removeSession is called by the session actor on termination, before its
// done channel closes, so late signals fall through to the unknown-call
// path and are discarded.
func (m *Manager) removeSession(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.callID)
	m.mu.Unlock()
}

// handleSignal routes one inbound signal. Offers for unknown calls create
// ringing sessions; everything else is dispatched to the matching session
// or, when the call is unknown or already finished, discarded.
func (m *Manager) handleSignal(sig *signal.Signal) {
	callID := sig.Payload.CallID()

	if offer, ok := sig.Payload.(*signal.Offer); ok {
		m.handleOffer(sig.From, offer)
		return
	}

	sess, ok := m.session(callID)
	if !ok {
		m.logger.Debug(
			"Discarding signal for unknown or finished call",
			"call_id", callID,
			"type", sig.Payload.Kind(),
			"from", sig.From,
		)
		return
	}
	sess.deliver(sig.Payload)
}

func (m *Manager) handleOffer(from uuid.UUID, offer *signal.Offer) {
	m.mu.Lock()
	if _, exists := m.sessions[offer.Call]; exists {
		// Duplicate delivery; the session already rings.
		m.mu.Unlock()
		return
	}

	callType := offer.CallType
	if callType == "" {
		callType = db.CallTypeVoice
	}

	sess := newSession(m, offer.Call, from, callType, false)
	m.sessions[offer.Call] = sess
	m.mu.Unlock()

	go sess.run()

	m.logger.Info("Incoming call", "call_id", offer.Call, "from", from, "type", callType)

	ic := &IncomingCall{
		CallID: offer.Call,
		From:   from,
		Type:   callType,
		Answer: func() error {
			return m.AnswerCall(offer.Call)
		},
		Decline: func() (*db.CallRecord, error) {
			return m.DeclineCall(offer.Call)
		},
	}

	m.incomingMu.RLock()
	handlers := make([]func(*IncomingCall), len(m.incoming))
	copy(handlers, m.incoming)
	m.incomingMu.RUnlock()

	for _, fn := range handlers {
		fn(ic)
	}
}

func (m *Manager) broadcast(ev Event) {
	m.listenerMu.RLock()
	listeners := make([]func(Event), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.listenerMu.RUnlock()

	for _, fn := range listeners {
		fn(ev)
	}
}
