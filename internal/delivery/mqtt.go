package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/machamire/ndeip-core/internal/db"
)

const (
	convTopicPrefix = "ndeip/conv/"
	messagesSuffix  = "/messages"
	receiptsSuffix  = "/receipts"

	mqttPublishTimeout = 5 * time.Second
)

// Sink is what the transport pushes inbound traffic into. *Pipeline
// satisfies it.
type Sink interface {
	ReceiveInbound(msg *db.Message)
	ApplyStatus(conversationID uuid.UUID, messageID string, status db.MessageStatus, at time.Time)
	SetOnline(online bool)
}

// messageFrame wraps a message on the wire with its origin node, so a
// node can skip its own publishes echoed back by the broker.
type messageFrame struct {
	Origin  string      `json:"origin"`
	Message *db.Message `json:"message"`
}

type receiptFrame struct {
	Origin         string           `json:"origin"`
	ConversationID uuid.UUID        `json:"conversation_id"`
	MessageID      string           `json:"message_id"`
	Status         db.MessageStatus `json:"status"`
	At             time.Time        `json:"at"`
}

// MQTTTransport moves messages and receipts over per-conversation MQTT
// topics at QoS 1. Duplicate deliveries are absorbed by the pipeline's
// idempotent status handling.
type MQTTTransport struct {
	client mqtt.Client
	qos    byte
	nodeID string
	logger *log.Logger
}

func NewMQTTTransport(client mqtt.Client, qos byte, nodeID string, logger *log.Logger) *MQTTTransport {
	return &MQTTTransport{
		client: client,
		qos:    qos,
		nodeID: nodeID,
		logger: logger,
	}
}

// Deliver publishes one outbound message and waits for broker acceptance.
func (t *MQTTTransport) Deliver(ctx context.Context, msg *db.Message) error {
	frame := messageFrame{Origin: t.nodeID, Message: msg}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to encode message frame: %w", err)
	}

	topic := convTopicPrefix + msg.ConversationID.String() + messagesSuffix
	return t.publish(ctx, topic, data)
}

// SendReceipt publishes a delivered/read receipt for an inbound message.
func (t *MQTTTransport) SendReceipt(ctx context.Context, conversationID uuid.UUID, messageID string, status db.MessageStatus, at time.Time) error {
	frame := receiptFrame{
		Origin:         t.nodeID,
		ConversationID: conversationID,
		MessageID:      messageID,
		Status:         status,
		At:             at,
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to encode receipt frame: %w", err)
	}

	topic := convTopicPrefix + conversationID.String() + receiptsSuffix
	return t.publish(ctx, topic, data)
}

// Start subscribes the inbound side and marks the sink online. Safe to
// call again from an on-connect handler after a broker reconnect.
func (t *MQTTTransport) Start(sink Sink) error {
	msgToken := t.client.Subscribe(convTopicPrefix+"+"+messagesSuffix, t.qos, func(_ mqtt.Client, m mqtt.Message) {
		t.handleMessage(sink, m.Payload())
	})
	msgToken.Wait()
	if err := msgToken.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to messages: %w", err)
	}

	rcptToken := t.client.Subscribe(convTopicPrefix+"+"+receiptsSuffix, t.qos, func(_ mqtt.Client, m mqtt.Message) {
		t.handleReceipt(sink, m.Payload())
	})
	rcptToken.Wait()
	if err := rcptToken.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to receipts: %w", err)
	}

	sink.SetOnline(true)
	return nil
}

func (t *MQTTTransport) handleMessage(sink Sink, payload []byte) {
	var frame messageFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		t.logger.Warn("Discarding malformed message frame", "error", err)
		return
	}
	if frame.Origin == t.nodeID || frame.Message == nil {
		return
	}
	if strings.TrimSpace(frame.Message.ID) == "" {
		t.logger.Warn("Discarding message frame without id")
		return
	}

	sink.ReceiveInbound(frame.Message)
}

func (t *MQTTTransport) handleReceipt(sink Sink, payload []byte) {
	var frame receiptFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		t.logger.Warn("Discarding malformed receipt frame", "error", err)
		return
	}
	if frame.Origin == t.nodeID || frame.MessageID == "" {
		return
	}

	sink.ApplyStatus(frame.ConversationID, frame.MessageID, frame.Status, frame.At)
}

func (t *MQTTTransport) publish(ctx context.Context, topic string, data []byte) error {
	token := t.client.Publish(topic, t.qos, false, data)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(mqttPublishTimeout):
		return fmt.Errorf("publish to %s timed out", topic)
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}
