package signal

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryBroker is an in-process Transport. Both ends of a test share one
// broker instance. Each subscription drains its own queue on a dedicated
// goroutine, so publish order is preserved per subscriber while delivery
// stays asynchronous, like a real pub/sub transport.
type MemoryBroker struct {
	mu     sync.Mutex
	queues map[uuid.UUID][]*memorySub
	closed bool
}

type memorySub struct {
	ch   chan []byte
	stop chan struct{}
}

const memoryQueueCap = 256

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		queues: make(map[uuid.UUID][]*memorySub),
	}
}

func (b *MemoryBroker) Publish(_ context.Context, to uuid.UUID, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("broker closed")
	}

	frame := make([]byte, len(data))
	copy(frame, data)

	for _, sub := range b.queues[to] {
		select {
		case sub.ch <- frame:
		default:
			// Subscriber is not draining; drop rather than block the publisher.
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(participantID uuid.UUID, fn func(data []byte)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("broker closed")
	}

	sub := &memorySub{
		ch:   make(chan []byte, memoryQueueCap),
		stop: make(chan struct{}),
	}
	b.queues[participantID] = append(b.queues[participantID], sub)

	go func() {
		for {
			select {
			case <-sub.stop:
				return
			case frame := <-sub.ch:
				fn(frame)
			}
		}
	}()

	cancel := func() {
		b.mu.Lock()
		subs := b.queues[participantID]
		for i, s := range subs {
			if s == sub {
				b.queues[participantID] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		close(sub.stop)
	}

	return cancel, nil
}

// SubscriptionCount reports active transport subscriptions for a
// participant, used to assert the hub's multiplexing behavior.
func (b *MemoryBroker) SubscriptionCount(participantID uuid.UUID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[participantID])
}

func (b *MemoryBroker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}
