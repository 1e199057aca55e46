package signal

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// Transport moves opaque signal frames between participants. Delivery is
// best-effort; duplicates and loss are tolerated by the consumer's state
// machine. Order is preserved per publisher.
type Transport interface {
	Publish(ctx context.Context, to uuid.UUID, data []byte) error
	Subscribe(participantID uuid.UUID, fn func(data []byte)) (cancel func(), err error)
}

// Hub multiplexes signal listeners over the transport: any number of
// listeners per participant share exactly one underlying transport
// subscription, torn down when the last listener unsubscribes.
type Hub struct {
	transport Transport
	logger    *log.Logger

	mu   sync.Mutex
	subs map[uuid.UUID]*participantSub
}

type participantSub struct {
	cancel    func()
	nextID    int
	listeners map[int]func(*Signal)
}

func NewHub(transport Transport, logger *log.Logger) *Hub {
	return &Hub{
		transport: transport,
		logger:    logger,
		subs:      make(map[uuid.UUID]*participantSub),
	}
}

// Send publishes a signal to its addressee. Fire-and-forget: the caller's
// own timeout logic covers loss, so failures are logged, never retried here.
func (h *Hub) Send(ctx context.Context, sig *Signal) error {
	data, err := Marshal(sig)
	if err != nil {
		return err
	}

	if err := h.transport.Publish(ctx, sig.To, data); err != nil {
		h.logger.Warn(
			"Failed to publish signal",
			"type", sig.Payload.Kind(),
			"to", sig.To,
			"error", err,
		)
		return err
	}

	return nil
}

// Subscribe registers fn for signals addressed to participantID and
// returns an unsubscribe func. The first listener opens the transport
// subscription; the last one out closes it.
func (h *Hub) Subscribe(participantID uuid.UUID, fn func(*Signal)) (func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subs[participantID]
	if !ok {
		sub = &participantSub{listeners: make(map[int]func(*Signal))}

		cancel, err := h.transport.Subscribe(participantID, func(data []byte) {
			h.dispatch(participantID, data)
		})
		if err != nil {
			return nil, err
		}
		sub.cancel = cancel
		h.subs[participantID] = sub
	}

	id := sub.nextID
	sub.nextID++
	sub.listeners[id] = fn

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		s, ok := h.subs[participantID]
		if !ok {
			return
		}
		delete(s.listeners, id)
		if len(s.listeners) == 0 {
			s.cancel()
			delete(h.subs, participantID)
		}
	}, nil
}

// ListenerCount reports the number of listeners registered for a
// participant. Mostly useful in tests.
func (h *Hub) ListenerCount(participantID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subs[participantID]
	if !ok {
		return 0
	}
	return len(sub.listeners)
}

func (h *Hub) dispatch(participantID uuid.UUID, data []byte) {
	sig, err := Unmarshal(data)
	if err != nil {
		// Malformed or unknown frame: protocol error, discard.
		h.logger.Warn("Discarding bad signal frame", "participant", participantID, "error", err)
		return
	}

	h.mu.Lock()
	sub, ok := h.subs[participantID]
	if !ok {
		h.mu.Unlock()
		return
	}
	listeners := make([]func(*Signal), 0, len(sub.listeners))
	for _, fn := range sub.listeners {
		listeners = append(listeners, fn)
	}
	h.mu.Unlock()

	for _, fn := range listeners {
		fn(sig)
	}
}
