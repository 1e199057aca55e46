package signal

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

func testLogger() *log.Logger {
	return log.New(io.Discard)
}

func waitFor(t *testing.T, ch <-chan *Signal) *Signal {
	t.Helper()
	select {
	case sig := <-ch:
		return sig
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for signal")
		return nil
	}
}

func TestHubDeliversToSubscriber(t *testing.T) {
	broker := NewMemoryBroker()
	defer broker.Close()

	hub := NewHub(broker, testLogger())

	alice := uuid.New()
	bob := uuid.New()
	callID := uuid.New()

	received := make(chan *Signal, 1)
	unsub, err := hub.Subscribe(bob, func(sig *Signal) {
		received <- sig
	})
	if err != nil {
		t.Fatal(err)
	}
	defer unsub()

	err = hub.Send(context.Background(), &Signal{
		From:    alice,
		To:      bob,
		Payload: &Offer{Call: callID},
	})
	if err != nil {
		t.Fatal(err)
	}

	sig := waitFor(t, received)
	if sig.From != alice {
		t.Errorf("from = %s, want %s", sig.From, alice)
	}
	if sig.Payload.Kind() != KindOffer {
		t.Errorf("kind = %s, want offer", sig.Payload.Kind())
	}
	if sig.Payload.CallID() != callID {
		t.Errorf("callId = %s, want %s", sig.Payload.CallID(), callID)
	}
}

func TestHubMultiplexesListeners(t *testing.T) {
	broker := NewMemoryBroker()
	defer broker.Close()

	hub := NewHub(broker, testLogger())
	bob := uuid.New()

	first := make(chan *Signal, 1)
	second := make(chan *Signal, 1)

	unsub1, err := hub.Subscribe(bob, func(sig *Signal) { first <- sig })
	if err != nil {
		t.Fatal(err)
	}
	unsub2, err := hub.Subscribe(bob, func(sig *Signal) { second <- sig })
	if err != nil {
		t.Fatal(err)
	}

	// Two listeners, one transport subscription.
	if n := broker.SubscriptionCount(bob); n != 1 {
		t.Fatalf("transport subscriptions = %d, want 1", n)
	}
	if n := hub.ListenerCount(bob); n != 2 {
		t.Fatalf("listeners = %d, want 2", n)
	}

	err = hub.Send(context.Background(), &Signal{
		From:    uuid.New(),
		To:      bob,
		Payload: &Hangup{Call: uuid.New()},
	})
	if err != nil {
		t.Fatal(err)
	}

	waitFor(t, first)
	waitFor(t, second)

	// First unsubscribe keeps the transport subscription alive.
	unsub1()
	if n := broker.SubscriptionCount(bob); n != 1 {
		t.Fatalf("transport subscriptions after first unsub = %d, want 1", n)
	}

	// Last one out tears it down.
	unsub2()
	if n := broker.SubscriptionCount(bob); n != 0 {
		t.Fatalf("transport subscriptions after last unsub = %d, want 0", n)
	}
	if n := hub.ListenerCount(bob); n != 0 {
		t.Fatalf("listeners after unsub = %d, want 0", n)
	}
}

func TestHubDiscardsBadFrames(t *testing.T) {
	broker := NewMemoryBroker()
	defer broker.Close()

	hub := NewHub(broker, testLogger())
	bob := uuid.New()

	received := make(chan *Signal, 1)
	unsub, err := hub.Subscribe(bob, func(sig *Signal) { received <- sig })
	if err != nil {
		t.Fatal(err)
	}
	defer unsub()

	// Garbage straight onto the transport; the hub must swallow it.
	if err := broker.Publish(context.Background(), bob, []byte("{bad")); err != nil {
		t.Fatal(err)
	}

	// A good frame after the bad one still arrives.
	err = hub.Send(context.Background(), &Signal{
		From:    uuid.New(),
		To:      bob,
		Payload: &Reject{Call: uuid.New()},
	})
	if err != nil {
		t.Fatal(err)
	}

	sig := waitFor(t, received)
	if sig.Payload.Kind() != KindReject {
		t.Errorf("kind = %s, want reject", sig.Payload.Kind())
	}
}
