package delivery_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/machamire/ndeip-core/internal/db"
	"github.com/machamire/ndeip-core/internal/delivery"
)

func testLogger() *log.Logger {
	return log.New(io.Discard)
}

var errNotFound = errors.New("message not found")

// memMessages mirrors the store's guarded status updates: only forward
// transitions apply, and the caller learns whether anything changed.
type memMessages struct {
	mu   sync.Mutex
	rows map[string]*db.Message
}

func newMemMessages() *memMessages {
	return &memMessages{rows: make(map[string]*db.Message)}
}

func (m *memMessages) CreateMessage(_ context.Context, msg *db.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[msg.ID]; ok {
		return nil
	}
	cp := *msg
	m.rows[msg.ID] = &cp
	return nil
}

func (m *memMessages) GetMessageByID(_ context.Context, id string) (*db.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, errNotFound
	}
	cp := *row
	return &cp, nil
}

func (m *memMessages) GetMessagesByConversation(_ context.Context, convID uuid.UUID, _, _ int) ([]*db.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*db.Message
	for _, row := range m.rows {
		if row.ConversationID == convID {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memMessages) UpdateMessageStatus(_ context.Context, id string, status db.MessageStatus, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return false, nil
	}
	if !row.Status.CanTransition(status) {
		return false, nil
	}
	row.Status = status
	switch status {
	case db.MessageStatusDelivered:
		t := at
		row.DeliveredAt = &t
	case db.MessageStatusRead:
		t := at
		row.ReadAt = &t
		if row.DeliveredAt == nil {
			row.DeliveredAt = &t
		}
	}
	return true, nil
}

func (m *memMessages) ResetMessageForResend(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.Status != db.MessageStatusFailed {
		return false, nil
	}
	row.Status = db.MessageStatusSending
	return true, nil
}

func (m *memMessages) DeleteMessage(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	return nil
}

func (m *memMessages) status(t *testing.T, id string) db.MessageStatus {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		t.Fatalf("message %s not in store", id)
	}
	return row.Status
}

// memConvs records preview touches and read horizons.
type memConvs struct {
	mu      sync.Mutex
	touches []string
	readUp  map[uuid.UUID]time.Time
}

func newMemConvs() *memConvs {
	return &memConvs{readUp: make(map[uuid.UUID]time.Time)}
}

func (c *memConvs) CreateConversation(context.Context, *db.Conversation, []uuid.UUID) error {
	return nil
}

func (c *memConvs) GetConversationByID(context.Context, uuid.UUID) (*db.Conversation, error) {
	return nil, errNotFound
}

func (c *memConvs) GetConversationsForUser(context.Context, uuid.UUID) ([]*db.ConversationSummary, error) {
	return nil, nil
}

func (c *memConvs) TouchConversation(_ context.Context, _ uuid.UUID, msg *db.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touches = append(c.touches, msg.ID)
	return nil
}

func (c *memConvs) MarkReadUpTo(_ context.Context, _ uuid.UUID, userID uuid.UUID, upTo time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if upTo.After(c.readUp[userID]) {
		c.readUp[userID] = upTo
	}
	return nil
}

// memRetry is an in-memory RetryStore.
type memRetry struct {
	mu      sync.Mutex
	entries map[string]*delivery.RetryEntry
}

func newMemRetry() *memRetry {
	return &memRetry{entries: make(map[string]*delivery.RetryEntry)}
}

func (r *memRetry) SaveRetryEntry(_ context.Context, entry *delivery.RetryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *entry
	r.entries[entry.MessageID] = &cp
	return nil
}

func (r *memRetry) DeleteRetryEntry(_ context.Context, messageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, messageID)
	return nil
}

func (r *memRetry) ListRetryEntries(context.Context) ([]*delivery.RetryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*delivery.RetryEntry, 0, len(r.entries))
	for _, e := range r.entries {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (r *memRetry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// fakeTransport fails the first failures deliveries, then succeeds.
type fakeTransport struct {
	mu       sync.Mutex
	failures int
	delivers []string
	receipts []string
}

func (f *fakeTransport) Deliver(_ context.Context, msg *db.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures != 0 {
		if f.failures > 0 {
			f.failures--
		}
		return fmt.Errorf("broker unreachable")
	}
	f.delivers = append(f.delivers, msg.ID)
	return nil
}

func (f *fakeTransport) SendReceipt(_ context.Context, _ uuid.UUID, messageID string, status db.MessageStatus, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts = append(f.receipts, string(status)+":"+messageID)
	return nil
}

func (f *fakeTransport) delivered() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.delivers))
	copy(out, f.delivers)
	return out
}

func (f *fakeTransport) receiptList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.receipts))
	copy(out, f.receipts)
	return out
}

type pipelineFixture struct {
	messages  *memMessages
	convs     *memConvs
	retry     *memRetry
	transport *fakeTransport
	pipeline  *delivery.Pipeline
	events    chan delivery.Event
}

func fastPolicy() delivery.RetryPolicy {
	return delivery.RetryPolicy{
		BaseDelay:     time.Millisecond,
		BackoffFactor: 2,
		MaxDelay:      10 * time.Millisecond,
		MaxAttempts:   3,
		FlushSpacing:  0,
	}
}

func newPipelineFixture(t *testing.T, policy delivery.RetryPolicy) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{
		messages:  newMemMessages(),
		convs:     newMemConvs(),
		retry:     newMemRetry(),
		transport: &fakeTransport{},
		events:    make(chan delivery.Event, 128),
	}
	f.pipeline = delivery.NewPipeline(
		f.messages, f.convs, f.retry, f.transport,
		policy, testLogger(),
		delivery.WithJitter(func() float64 { return 0.5 }),
	)
	t.Cleanup(f.pipeline.Close)
	f.pipeline.Subscribe(func(ev delivery.Event) { f.events <- ev })
	return f
}

func (f *pipelineFixture) waitStatus(t *testing.T, messageID string, want db.MessageStatus) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-f.events:
			if ev.Message.ID == messageID && ev.Message.Status == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s on message %s (store says %s)",
				want, messageID, f.messages.status(t, messageID))
		}
	}
}

func TestSendDeliversOnline(t *testing.T) {
	f := newPipelineFixture(t, fastPolicy())
	convID := uuid.New()

	msg, err := f.pipeline.Send(context.Background(), convID, uuid.New(), db.MessageTypeText, "hello", "")
	if err != nil {
		t.Fatal(err)
	}

	// Optimistic result is immediately visible as sending.
	if msg.Status != db.MessageStatusSending {
		t.Errorf("initial status = %s, want sending", msg.Status)
	}

	f.waitStatus(t, msg.ID, db.MessageStatusSent)

	if got := f.transport.delivered(); len(got) != 1 || got[0] != msg.ID {
		t.Errorf("delivered = %v, want [%s]", got, msg.ID)
	}
	if f.retry.size() != 0 {
		t.Errorf("retry entries = %d, want 0 after ack", f.retry.size())
	}
}

func TestOfflineParksThenFlushesInOrder(t *testing.T) {
	f := newPipelineFixture(t, fastPolicy())
	convID := uuid.New()
	sender := uuid.New()

	f.pipeline.SetOnline(false)

	var ids []string
	for i := 0; i < 3; i++ {
		msg, err := f.pipeline.Send(context.Background(), convID, sender, db.MessageTypeText, fmt.Sprintf("m%d", i), "")
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, msg.ID)
		time.Sleep(2 * time.Millisecond) // distinct CreatedAt
	}

	// Nothing moves while offline; entries are parked, not attempted.
	time.Sleep(20 * time.Millisecond)
	if got := f.transport.delivered(); len(got) != 0 {
		t.Fatalf("delivered while offline: %v", got)
	}
	for _, id := range ids {
		if st := f.messages.status(t, id); st != db.MessageStatusSending {
			t.Errorf("message %s status = %s while offline, want sending", id, st)
		}
	}

	f.pipeline.SetOnline(true)

	for _, id := range ids {
		f.waitStatus(t, id, db.MessageStatusSent)
	}

	got := f.transport.delivered()
	if len(got) != 3 {
		t.Fatalf("delivered %d messages, want 3", len(got))
	}
	for i, id := range ids {
		if got[i] != id {
			t.Fatalf("flush order = %v, want %v (oldest first)", got, ids)
		}
	}
	if f.retry.size() != 0 {
		t.Errorf("retry entries = %d, want 0 after flush", f.retry.size())
	}
}

func TestExhaustedRetriesFail(t *testing.T) {
	f := newPipelineFixture(t, fastPolicy())
	f.transport.failures = -1 // never succeed

	msg, err := f.pipeline.Send(context.Background(), uuid.New(), uuid.New(), db.MessageTypeText, "doomed", "")
	if err != nil {
		t.Fatal(err)
	}

	f.waitStatus(t, msg.ID, db.MessageStatusFailed)

	if f.retry.size() != 0 {
		t.Errorf("retry entries = %d, want 0 after giving up", f.retry.size())
	}
	if st := f.messages.status(t, msg.ID); st != db.MessageStatusFailed {
		t.Errorf("store status = %s, want failed", st)
	}
}

func TestTransientFailureRecovers(t *testing.T) {
	f := newPipelineFixture(t, fastPolicy())
	f.transport.failures = 2 // two broken attempts, then the link is back

	msg, err := f.pipeline.Send(context.Background(), uuid.New(), uuid.New(), db.MessageTypeText, "flaky", "")
	if err != nil {
		t.Fatal(err)
	}

	f.waitStatus(t, msg.ID, db.MessageStatusSent)

	if got := f.transport.delivered(); len(got) != 1 {
		t.Errorf("successful delivers = %d, want 1", len(got))
	}
}

func TestResendFailedMessage(t *testing.T) {
	f := newPipelineFixture(t, fastPolicy())
	f.transport.failures = -1

	msg, err := f.pipeline.Send(context.Background(), uuid.New(), uuid.New(), db.MessageTypeText, "retry me", "")
	if err != nil {
		t.Fatal(err)
	}
	f.waitStatus(t, msg.ID, db.MessageStatusFailed)

	// Link comes back; explicit user resend restarts the attempt cycle.
	f.transport.mu.Lock()
	f.transport.failures = 0
	f.transport.mu.Unlock()

	if _, err := f.pipeline.Resend(context.Background(), msg.ID); err != nil {
		t.Fatalf("resend: %v", err)
	}
	f.waitStatus(t, msg.ID, db.MessageStatusSent)
}

func TestResendRejectsNonFailed(t *testing.T) {
	f := newPipelineFixture(t, fastPolicy())

	msg, err := f.pipeline.Send(context.Background(), uuid.New(), uuid.New(), db.MessageTypeText, "fine", "")
	if err != nil {
		t.Fatal(err)
	}
	f.waitStatus(t, msg.ID, db.MessageStatusSent)

	if _, err := f.pipeline.Resend(context.Background(), msg.ID); !errors.Is(err, delivery.ErrNotResendable) {
		t.Errorf("Resend of a sent message = %v, want ErrNotResendable", err)
	}
}

func TestApplyStatusMonotonicAndIdempotent(t *testing.T) {
	f := newPipelineFixture(t, fastPolicy())
	convID := uuid.New()

	msg, err := f.pipeline.Send(context.Background(), convID, uuid.New(), db.MessageTypeText, "acked", "")
	if err != nil {
		t.Fatal(err)
	}
	f.waitStatus(t, msg.ID, db.MessageStatusSent)

	now := time.Now()
	f.pipeline.ApplyStatus(convID, msg.ID, db.MessageStatusDelivered, now)
	f.waitStatus(t, msg.ID, db.MessageStatusDelivered)

	// Duplicate and backward events change nothing.
	f.pipeline.ApplyStatus(convID, msg.ID, db.MessageStatusDelivered, now)
	f.pipeline.ApplyStatus(convID, msg.ID, db.MessageStatusSent, now)

	f.pipeline.ApplyStatus(convID, msg.ID, db.MessageStatusRead, now.Add(time.Second))
	f.waitStatus(t, msg.ID, db.MessageStatusRead)

	if st := f.messages.status(t, msg.ID); st != db.MessageStatusRead {
		t.Errorf("final status = %s, want read", st)
	}
}

func TestInboundStoredAndAcked(t *testing.T) {
	f := newPipelineFixture(t, fastPolicy())
	convID := uuid.New()

	inbound := &db.Message{
		ID:             delivery.NewLocalID(time.Now()),
		ConversationID: convID,
		SenderID:       uuid.New(),
		Type:           db.MessageTypeText,
		Body:           "hi there",
		Status:         db.MessageStatusSent,
		CreatedAt:      time.Now(),
	}
	f.pipeline.ReceiveInbound(inbound)

	f.waitStatus(t, inbound.ID, db.MessageStatusDelivered)

	receipts := f.transport.receiptList()
	if len(receipts) != 1 || receipts[0] != "delivered:"+inbound.ID {
		t.Errorf("receipts = %v, want [delivered:%s]", receipts, inbound.ID)
	}
}

func TestInboundEchoIgnored(t *testing.T) {
	f := newPipelineFixture(t, fastPolicy())
	convID := uuid.New()

	msg, err := f.pipeline.Send(context.Background(), convID, uuid.New(), db.MessageTypeText, "mine", "")
	if err != nil {
		t.Fatal(err)
	}
	f.waitStatus(t, msg.ID, db.MessageStatusSent)

	// Our own message comes back from the shared topic.
	echo := *msg
	f.pipeline.ReceiveInbound(&echo)

	// And again, as a duplicate.
	f.pipeline.ReceiveInbound(&echo)

	time.Sleep(50 * time.Millisecond)
	if st := f.messages.status(t, msg.ID); st != db.MessageStatusSent {
		t.Errorf("status after echo = %s, want sent (untouched)", st)
	}
	if receipts := f.transport.receiptList(); len(receipts) != 0 {
		t.Errorf("receipts for echoes = %v, want none", receipts)
	}
}

func TestMarkReadSendsReceipt(t *testing.T) {
	f := newPipelineFixture(t, fastPolicy())
	convID := uuid.New()
	reader := uuid.New()

	err := f.pipeline.MarkRead(context.Background(), convID, reader, time.Now(), "1234-abcd")
	if err != nil {
		t.Fatal(err)
	}

	receipts := f.transport.receiptList()
	if len(receipts) != 1 || receipts[0] != "read:1234-abcd" {
		t.Errorf("receipts = %v, want [read:1234-abcd]", receipts)
	}
}

func TestRecoverRequeuesSendingEntries(t *testing.T) {
	messages := newMemMessages()
	retry := newMemRetry()
	convID := uuid.New()

	// A message that was mid-retry when the process died.
	stuck := &db.Message{
		ID:             "100-aaaa",
		ConversationID: convID,
		SenderID:       uuid.New(),
		Type:           db.MessageTypeText,
		Body:           "stuck",
		Status:         db.MessageStatusSending,
		CreatedAt:      time.Now().Add(-time.Minute),
	}
	if err := messages.CreateMessage(context.Background(), stuck); err != nil {
		t.Fatal(err)
	}
	_ = retry.SaveRetryEntry(context.Background(), &delivery.RetryEntry{
		MessageID:      stuck.ID,
		ConversationID: convID,
		AttemptCount:   1,
		NextRetryAt:    time.Now().Add(time.Hour),
		CreatedAt:      stuck.CreatedAt,
	})

	// A stale entry whose message was acked before the crash.
	acked := &db.Message{
		ID:             "101-bbbb",
		ConversationID: convID,
		SenderID:       stuck.SenderID,
		Type:           db.MessageTypeText,
		Body:           "done",
		Status:         db.MessageStatusSent,
		CreatedAt:      time.Now().Add(-time.Minute),
	}
	if err := messages.CreateMessage(context.Background(), acked); err != nil {
		t.Fatal(err)
	}
	_ = retry.SaveRetryEntry(context.Background(), &delivery.RetryEntry{
		MessageID:      acked.ID,
		ConversationID: convID,
		NextRetryAt:    time.Now(),
		CreatedAt:      acked.CreatedAt,
	})

	transport := &fakeTransport{}
	events := make(chan delivery.Event, 128)
	p := delivery.NewPipeline(messages, newMemConvs(), retry, transport, fastPolicy(), testLogger())
	t.Cleanup(p.Close)
	p.Subscribe(func(ev delivery.Event) { events <- ev })

	if err := p.Recover(context.Background()); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Message.ID == stuck.ID && ev.Message.Status == db.MessageStatusSent {
				goto done
			}
		case <-deadline:
			t.Fatal("timed out waiting for recovered message to send")
		}
	}
done:

	if got := transport.delivered(); len(got) != 1 || got[0] != stuck.ID {
		t.Errorf("delivered = %v, want only the stuck message", got)
	}
	if retry.size() != 0 {
		t.Errorf("retry entries = %d, want 0 (stale dropped, stuck acked)", retry.size())
	}
}
