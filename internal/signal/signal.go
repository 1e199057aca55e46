// Package signal carries the small asynchronous payloads used to
// coordinate call setup and teardown between participants. The media
// stream itself never passes through here.
package signal

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/machamire/ndeip-core/internal/db"
)

type Kind string

const (
	KindOffer     Kind = "offer"
	KindAnswer    Kind = "answer"
	KindReject    Kind = "reject"
	KindHangup    Kind = "hangup"
	KindCandidate Kind = "ice-candidate"
)

// Payload is the closed set of signal bodies. Only the five types below
// implement it, so a switch over them can be checked for completeness.
type Payload interface {
	Kind() Kind
	CallID() uuid.UUID
}

type Offer struct {
	Call     uuid.UUID   `json:"callId"`
	CallType db.CallType `json:"callType"`
	SDP      string      `json:"sdp,omitempty"`
}

type Answer struct {
	Call uuid.UUID `json:"callId"`
	SDP  string    `json:"sdp,omitempty"`
}

type Reject struct {
	Call uuid.UUID `json:"callId"`
}

type Hangup struct {
	Call uuid.UUID `json:"callId"`
}

type Candidate struct {
	Call      uuid.UUID `json:"callId"`
	Candidate string    `json:"candidate"`
}

func (o *Offer) Kind() Kind         { return KindOffer }
func (o *Offer) CallID() uuid.UUID  { return o.Call }
func (a *Answer) Kind() Kind        { return KindAnswer }
func (a *Answer) CallID() uuid.UUID { return a.Call }
func (r *Reject) Kind() Kind        { return KindReject }
func (r *Reject) CallID() uuid.UUID { return r.Call }
func (h *Hangup) Kind() Kind        { return KindHangup }
func (h *Hangup) CallID() uuid.UUID { return h.Call }

func (c *Candidate) Kind() Kind        { return KindCandidate }
func (c *Candidate) CallID() uuid.UUID { return c.Call }

// Signal is one addressed signaling message.
type Signal struct {
	From    uuid.UUID
	To      uuid.UUID
	Payload Payload
}

// envelope is the wire shape: {type, from, to, payload}.
type envelope struct {
	Type    Kind            `json:"type"`
	From    uuid.UUID       `json:"from"`
	To      uuid.UUID       `json:"to"`
	Payload json.RawMessage `json:"payload"`
}

// Marshal encodes a signal for the transport.
func Marshal(sig *Signal) ([]byte, error) {
	if sig.Payload == nil {
		return nil, fmt.Errorf("signal has no payload")
	}

	raw, err := json.Marshal(sig.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode signal payload: %w", err)
	}

	return json.Marshal(envelope{
		Type:    sig.Payload.Kind(),
		From:    sig.From,
		To:      sig.To,
		Payload: raw,
	})
}

// Unmarshal decodes a transport frame. Frames whose type is outside the
// closed set are rejected; the consumer logs and discards them.
func Unmarshal(data []byte) (*Signal, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode signal envelope: %w", err)
	}

	var payload Payload
	switch env.Type {
	case KindOffer:
		payload = &Offer{}
	case KindAnswer:
		payload = &Answer{}
	case KindReject:
		payload = &Reject{}
	case KindHangup:
		payload = &Hangup{}
	case KindCandidate:
		payload = &Candidate{}
	default:
		return nil, fmt.Errorf("unknown signal type %q", env.Type)
	}

	if err := json.Unmarshal(env.Payload, payload); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", env.Type, err)
	}

	if payload.CallID() == uuid.Nil {
		return nil, fmt.Errorf("%s signal is missing callId", env.Type)
	}

	return &Signal{
		From:    env.From,
		To:      env.To,
		Payload: payload,
	}, nil
}
