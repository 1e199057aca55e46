package signal

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	signalTopicPrefix = "ndeip/signal/"
	publishTimeout    = 5 * time.Second
)

// MQTTTransport carries signal frames over an MQTT broker, one topic per
// participant. QoS 1 gives at-least-once delivery; the state machines on
// top already tolerate duplicates.
type MQTTTransport struct {
	client mqtt.Client
	qos    byte
}

func NewMQTTTransport(client mqtt.Client, qos byte) *MQTTTransport {
	return &MQTTTransport{
		client: client,
		qos:    qos,
	}
}

func signalTopic(participantID uuid.UUID) string {
	return signalTopicPrefix + participantID.String()
}

func (t *MQTTTransport) Publish(ctx context.Context, to uuid.UUID, data []byte) error {
	token := t.client.Publish(signalTopic(to), t.qos, false, data)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(publishTimeout):
		return fmt.Errorf("publish to %s timed out", signalTopic(to))
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish signal: %w", err)
	}
	return nil
}

func (t *MQTTTransport) Subscribe(participantID uuid.UUID, fn func(data []byte)) (func(), error) {
	topic := signalTopic(participantID)

	token := t.client.Subscribe(topic, t.qos, func(_ mqtt.Client, msg mqtt.Message) {
		fn(msg.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	cancel := func() {
		t.client.Unsubscribe(topic)
	}
	return cancel, nil
}
