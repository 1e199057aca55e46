package delivery

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/machamire/ndeip-core/internal/db"
)

// ErrNotResendable is returned by Resend for messages not in failed state.
var ErrNotResendable = errors.New("message is not in a resendable state")

const (
	deliverTimeout = 10 * time.Second
	storeTimeout   = 5 * time.Second
	actorQueueCap  = 64
)

// Pipeline accepts outbound messages, makes them visible immediately and
// guarantees each one ends acknowledged or failed-after-exhausted-retries.
// One Pipeline per process, constructed at startup and injected into
// consumers.
type Pipeline struct {
	messages  db.MessageStore
	convs     db.ConversationStore
	retry     RetryStore
	transport Transport
	policy    RetryPolicy
	clock     Clock
	jitter    func() float64
	logger    *log.Logger

	mu     sync.Mutex
	actors map[uuid.UUID]*convActor
	online bool

	listenerMu   sync.RWMutex
	listeners    map[int]func(Event)
	nextListener int

	closed chan struct{}
	wg     sync.WaitGroup
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithClock sets the time source.
func WithClock(c Clock) PipelineOption {
	return func(p *Pipeline) { p.clock = c }
}

// WithJitter sets the jitter source, a func returning values in [0, 1).
func WithJitter(fn func() float64) PipelineOption {
	return func(p *Pipeline) { p.jitter = fn }
}

// NewPipeline wires the pipeline. It starts online; the transport flips
// connectivity via SetOnline as it observes the link.
func NewPipeline(
	messages db.MessageStore,
	convs db.ConversationStore,
	retry RetryStore,
	transport Transport,
	policy RetryPolicy,
	logger *log.Logger,
	opts ...PipelineOption,
) *Pipeline {
	p := &Pipeline{
		messages:  messages,
		convs:     convs,
		retry:     retry,
		transport: transport,
		policy:    policy,
		clock:     time.Now,
		jitter:    rand.Float64,
		logger:    logger,
		actors:    make(map[uuid.UUID]*convActor),
		online:    true,
		listeners: make(map[int]func(Event)),
		closed:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Subscribe registers a message-event listener; returns an unsubscribe func.
func (p *Pipeline) Subscribe(fn func(Event)) func() {
	p.listenerMu.Lock()
	id := p.nextListener
	p.nextListener++
	p.listeners[id] = fn
	p.listenerMu.Unlock()

	return func() {
		p.listenerMu.Lock()
		delete(p.listeners, id)
		p.listenerMu.Unlock()
	}
}

// Send creates the message optimistically and returns it immediately with
// status sending; delivery proceeds on the conversation's actor. The only
// error surfaced here is a failure to persist the optimistic record — in
// that case nothing was created at all.
func (p *Pipeline) Send(ctx context.Context, conversationID, senderID uuid.UUID, msgType db.MessageType, body, attachmentPath string) (*db.Message, error) {
	now := p.clock()
	msg := &db.Message{
		ID:             NewLocalID(now),
		ConversationID: conversationID,
		SenderID:       senderID,
		Type:           msgType,
		Body:           body,
		AttachmentPath: attachmentPath,
		Status:         db.MessageStatusSending,
		CreatedAt:      now,
	}

	if err := p.messages.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to persist outbound message: %w", err)
	}
	if err := p.convs.TouchConversation(ctx, conversationID, msg); err != nil {
		p.logger.Warn("Failed to update conversation preview", "conversation_id", conversationID, "error", err)
	}

	p.broadcast(Event{Message: cloneMessage(msg)})

	p.actor(conversationID).enqueue(actorCmd{kind: cmdSend, msg: cloneMessage(msg)})
	return msg, nil
}

// Resend restarts delivery for a failed message.
func (p *Pipeline) Resend(ctx context.Context, messageID string) (*db.Message, error) {
	applied, err := p.messages.ResetMessageForResend(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, ErrNotResendable
	}

	msg, err := p.messages.GetMessageByID(ctx, messageID)
	if err != nil {
		return nil, err
	}

	p.broadcast(Event{Message: cloneMessage(msg)})
	p.actor(msg.ConversationID).enqueue(actorCmd{kind: cmdSend, msg: cloneMessage(msg)})
	return msg, nil
}

// Cancel removes a message's retry entry and clears its scheduled retry.
// Safe to call while an attempt is mid-flight; a result for a cancelled
// entry is discarded.
func (p *Pipeline) Cancel(conversationID uuid.UUID, messageID string) {
	p.actor(conversationID).enqueue(actorCmd{kind: cmdCancel, messageID: messageID})
}

// ApplyStatus ingests a remote status event (sent ack, delivered, read)
// for one of our messages. Idempotent; backward transitions are ignored.
func (p *Pipeline) ApplyStatus(conversationID uuid.UUID, messageID string, status db.MessageStatus, at time.Time) {
	p.actor(conversationID).enqueue(actorCmd{
		kind:      cmdStatus,
		messageID: messageID,
		status:    status,
		at:        at,
	})
}

// ReceiveInbound ingests a message pushed from the remote side.
func (p *Pipeline) ReceiveInbound(msg *db.Message) {
	p.actor(msg.ConversationID).enqueue(actorCmd{kind: cmdInbound, msg: cloneMessage(msg)})
}

// SetOnline flips connectivity. Regaining it triggers an immediate flush
// of every conversation's eligible retry entries.
func (p *Pipeline) SetOnline(online bool) {
	p.mu.Lock()
	changed := p.online != online
	p.online = online
	actors := make([]*convActor, 0, len(p.actors))
	for _, a := range p.actors {
		actors = append(actors, a)
	}
	p.mu.Unlock()

	if !changed {
		return
	}
	p.logger.Info("Connectivity changed", "online", online)

	if online {
		for _, a := range actors {
			a.enqueue(actorCmd{kind: cmdFlush})
		}
	}
}

// Online reports current connectivity.
func (p *Pipeline) Online() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

// MarkRead advances the reader's horizon in the conversation and reports
// the read receipt for the newest message back to its sender.
func (p *Pipeline) MarkRead(ctx context.Context, conversationID, readerID uuid.UUID, upTo time.Time, lastMessageID string) error {
	if err := p.convs.MarkReadUpTo(ctx, conversationID, readerID, upTo); err != nil {
		return err
	}

	if lastMessageID != "" {
		if err := p.transport.SendReceipt(ctx, conversationID, lastMessageID, db.MessageStatusRead, upTo); err != nil {
			p.logger.Warn("Failed to send read receipt", "message_id", lastMessageID, "error", err)
		}
	}
	return nil
}

// Recover re-enqueues persisted retry entries after a restart. Entries
// whose message already left sending are dropped; the rest become
// immediately eligible.
func (p *Pipeline) Recover(ctx context.Context) error {
	entries, err := p.retry.ListRetryEntries(ctx)
	if err != nil {
		return fmt.Errorf("failed to list retry entries: %w", err)
	}

	recovered := 0
	for _, entry := range entries {
		msg, err := p.messages.GetMessageByID(ctx, entry.MessageID)
		if err != nil || msg.Status != db.MessageStatusSending {
			if derr := p.retry.DeleteRetryEntry(ctx, entry.MessageID); derr != nil {
				p.logger.Warn("Failed to drop stale retry entry", "message_id", entry.MessageID, "error", derr)
			}
			continue
		}

		entry.NextRetryAt = p.clock()
		p.actor(entry.ConversationID).enqueue(actorCmd{kind: cmdRecover, entry: entry})
		recovered++
	}

	if recovered > 0 {
		p.logger.Info("Recovered retry queue", "entries", recovered)
	}
	return nil
}

// Close stops all conversation actors.
func (p *Pipeline) Close() {
	select {
	case <-p.closed:
		return
	default:
		close(p.closed)
	}
	p.wg.Wait()
}

func (p *Pipeline) actor(conversationID uuid.UUID) *convActor {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.actors[conversationID]
	if !ok {
		a = &convActor{
			p:              p,
			conversationID: conversationID,
			cmds:           make(chan actorCmd, actorQueueCap),
			pending:        make(map[string]*RetryEntry),
		}
		p.actors[conversationID] = a
		p.wg.Add(1)
		go a.run()
	}
	return a
}

func (p *Pipeline) broadcast(ev Event) {
	p.listenerMu.RLock()
	listeners := make([]func(Event), 0, len(p.listeners))
	for _, fn := range p.listeners {
		listeners = append(listeners, fn)
	}
	p.listenerMu.RUnlock()

	for _, fn := range listeners {
		fn(ev)
	}
}

func cloneMessage(msg *db.Message) *db.Message {
	c := *msg
	return &c
}

type actorCmdKind int

const (
	cmdSend actorCmdKind = iota
	cmdStatus
	cmdInbound
	cmdFlush
	cmdCancel
	cmdRecover
)

type actorCmd struct {
	kind      actorCmdKind
	msg       *db.Message
	entry     *RetryEntry
	messageID string
	status    db.MessageStatus
	at        time.Time
}

// convActor serializes all pipeline work for one conversation. Sends are
// FIFO as submitted; the retry timer is armed for the earliest pending
// entry only.
type convActor struct {
	p              *Pipeline
	conversationID uuid.UUID
	cmds           chan actorCmd

	// Owned by run.
	pending map[string]*RetryEntry
	timer   *time.Timer
	timerC  <-chan time.Time
}

func (a *convActor) enqueue(cmd actorCmd) {
	select {
	case a.cmds <- cmd:
	case <-a.p.closed:
	}
}

func (a *convActor) run() {
	defer a.p.wg.Done()
	defer func() {
		if a.timer != nil {
			a.timer.Stop()
		}
	}()

	for {
		select {
		case <-a.p.closed:
			return
		case cmd := <-a.cmds:
			a.handle(cmd)
		case <-a.timerC:
			a.timerC = nil
			a.flush()
		}
		a.armTimer()
	}
}

func (a *convActor) handle(cmd actorCmd) {
	switch cmd.kind {
	case cmdSend:
		if a.p.Online() {
			a.attempt(cmd.msg.ID, nil)
		} else {
			a.park(cmd.msg.ID, "offline")
		}

	case cmdStatus:
		a.applyStatus(cmd.messageID, cmd.status, cmd.at)

	case cmdInbound:
		a.inbound(cmd.msg)

	case cmdFlush:
		a.flush()

	case cmdCancel:
		a.remove(cmd.messageID)

	case cmdRecover:
		a.pending[cmd.entry.MessageID] = cmd.entry
		if a.p.Online() {
			a.flush()
		}
	}
}

// attempt performs one delivery try for the message. entry is nil for the
// first, immediate attempt of a fresh send.
func (a *convActor) attempt(messageID string, entry *RetryEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()

	msg, err := a.p.messages.GetMessageByID(ctx, messageID)
	if err != nil {
		// Deleted while queued; nothing left to deliver.
		a.remove(messageID)
		return
	}
	if msg.Status != db.MessageStatusSending {
		a.remove(messageID)
		return
	}

	err = a.p.transport.Deliver(ctx, msg)
	if err == nil {
		a.remove(messageID)
		a.markStatus(msg, db.MessageStatusSent, a.p.clock())
		return
	}

	// Transient transport error: converted into the next scheduled retry,
	// never propagated to the caller.
	a.p.logger.Debug(
		"Delivery attempt failed",
		"message_id", messageID,
		"error", err,
	)
	a.reschedule(msg, entry, err)
}

// park queues a message without burning an attempt, eligible as soon as
// connectivity returns.
func (a *convActor) park(messageID, reason string) {
	now := a.p.clock()
	entry := &RetryEntry{
		MessageID:      messageID,
		ConversationID: a.conversationID,
		AttemptCount:   0,
		NextRetryAt:    now,
		LastError:      reason,
		CreatedAt:      now,
	}
	a.pending[messageID] = entry
	a.persistEntry(entry)
}

func (a *convActor) reschedule(msg *db.Message, entry *RetryEntry, cause error) {
	now := a.p.clock()
	if entry == nil {
		if existing, ok := a.pending[msg.ID]; ok {
			entry = existing
		} else {
			entry = &RetryEntry{
				MessageID:      msg.ID,
				ConversationID: a.conversationID,
				CreatedAt:      msg.CreatedAt,
			}
		}
	}

	entry.AttemptCount++
	entry.LastError = cause.Error()

	if entry.AttemptCount >= a.p.policy.MaxAttempts {
		a.remove(msg.ID)
		a.markStatus(msg, db.MessageStatusFailed, now)
		a.p.logger.Warn(
			"Message failed after exhausting retries",
			"message_id", msg.ID,
			"attempts", entry.AttemptCount,
		)
		return
	}

	entry.NextRetryAt = now.Add(a.p.policy.Jittered(entry.AttemptCount-1, a.p.jitter()))
	a.pending[msg.ID] = entry
	a.persistEntry(entry)
}

// flush attempts every eligible entry, oldest first, pacing attempts so a
// reconnect burst does not overwhelm the transport.
func (a *convActor) flush() {
	if !a.p.Online() {
		return
	}
	now := a.p.clock()

	due := make([]*RetryEntry, 0, len(a.pending))
	for _, entry := range a.pending {
		if !entry.NextRetryAt.After(now) {
			due = append(due, entry)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })

	for i, entry := range due {
		if i > 0 && a.p.policy.FlushSpacing > 0 {
			time.Sleep(a.p.policy.FlushSpacing)
		}
		a.attempt(entry.MessageID, entry)
	}
}

func (a *convActor) applyStatus(messageID string, status db.MessageStatus, at time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	applied, err := a.p.messages.UpdateMessageStatus(ctx, messageID, status, at)
	if err != nil {
		a.p.logger.Warn("Failed to apply status event", "message_id", messageID, "status", status, "error", err)
		return
	}
	if !applied {
		// Duplicate or backward event; idempotent no-op.
		return
	}

	// An ack implies the message left sending; its retry entry is moot.
	a.remove(messageID)

	msg, err := a.p.messages.GetMessageByID(ctx, messageID)
	if err == nil {
		a.p.broadcast(Event{Message: msg})
	}
}

func (a *convActor) inbound(msg *db.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if existing, err := a.p.messages.GetMessageByID(ctx, msg.ID); err == nil && existing != nil {
		// Our own echo, or a duplicate push.
		return
	}

	msg.Status = db.MessageStatusDelivered
	now := a.p.clock()
	msg.DeliveredAt = &now

	if err := a.p.messages.CreateMessage(ctx, msg); err != nil {
		a.p.logger.Error("Failed to persist inbound message", "message_id", msg.ID, "error", err)
		return
	}
	if err := a.p.convs.TouchConversation(ctx, a.conversationID, msg); err != nil {
		a.p.logger.Warn("Failed to update conversation preview", "conversation_id", a.conversationID, "error", err)
	}

	a.p.broadcast(Event{Message: cloneMessage(msg), Inbound: true})

	if err := a.p.transport.SendReceipt(ctx, a.conversationID, msg.ID, db.MessageStatusDelivered, now); err != nil {
		a.p.logger.Warn("Failed to send delivered receipt", "message_id", msg.ID, "error", err)
	}
}

func (a *convActor) markStatus(msg *db.Message, status db.MessageStatus, at time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	applied, err := a.p.messages.UpdateMessageStatus(ctx, msg.ID, status, at)
	if err != nil {
		a.p.logger.Error("Failed to update message status", "message_id", msg.ID, "status", status, "error", err)
		return
	}
	if !applied {
		return
	}

	updated, err := a.p.messages.GetMessageByID(ctx, msg.ID)
	if err != nil {
		updated = cloneMessage(msg)
		updated.Status = status
	}
	a.p.broadcast(Event{Message: updated})
}

func (a *convActor) remove(messageID string) {
	if _, ok := a.pending[messageID]; !ok {
		return
	}
	delete(a.pending, messageID)

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := a.p.retry.DeleteRetryEntry(ctx, messageID); err != nil {
		a.p.logger.Warn("Failed to delete retry entry", "message_id", messageID, "error", err)
	}
}

func (a *convActor) persistEntry(entry *RetryEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := a.p.retry.SaveRetryEntry(ctx, entry); err != nil {
		a.p.logger.Warn("Failed to persist retry entry", "message_id", entry.MessageID, "error", err)
	}
}

// armTimer keeps exactly one timer armed, for the earliest pending retry.
// While offline no timer runs at all; the flush on reconnect wakes the
// actor instead.
func (a *convActor) armTimer() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
		a.timerC = nil
	}
	if len(a.pending) == 0 || !a.p.Online() {
		return
	}

	var earliest time.Time
	for _, entry := range a.pending {
		if earliest.IsZero() || entry.NextRetryAt.Before(earliest) {
			earliest = entry.NextRetryAt
		}
	}

	wait := earliest.Sub(a.p.clock())
	if wait < 0 {
		wait = 0
	}
	a.timer = time.NewTimer(wait)
	a.timerC = a.timer.C
}
