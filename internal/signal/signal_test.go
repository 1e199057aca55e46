package signal

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"

	"github.com/machamire/ndeip-core/internal/db"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	callID := uuid.New()
	from := uuid.New()
	to := uuid.New()

	payloads := []Payload{
		&Offer{Call: callID, CallType: db.CallTypeVideo, SDP: "v=0"},
		&Answer{Call: callID, SDP: "v=0"},
		&Reject{Call: callID},
		&Hangup{Call: callID},
		&Candidate{Call: callID, Candidate: "candidate:1 1 UDP 2122"},
	}

	for _, p := range payloads {
		data, err := Marshal(&Signal{From: from, To: to, Payload: p})
		if err != nil {
			t.Fatalf("marshal %s: %v", p.Kind(), err)
		}

		sig, err := Unmarshal(data)
		if err != nil {
			t.Fatalf("unmarshal %s: %v", p.Kind(), err)
		}

		if sig.From != from || sig.To != to {
			t.Errorf("%s: addressing lost in round trip", p.Kind())
		}
		if sig.Payload.Kind() != p.Kind() {
			t.Errorf("kind = %s, want %s", sig.Payload.Kind(), p.Kind())
		}
		if sig.Payload.CallID() != callID {
			t.Errorf("%s: callId = %s, want %s", p.Kind(), sig.Payload.CallID(), callID)
		}
	}
}

func TestUnmarshalOfferFields(t *testing.T) {
	in := &Offer{Call: uuid.New(), CallType: db.CallTypeVoice, SDP: "sdp-body"}
	data, err := Marshal(&Signal{From: uuid.New(), To: uuid.New(), Payload: in})
	if err != nil {
		t.Fatal(err)
	}

	sig, err := Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}

	out, ok := sig.Payload.(*Offer)
	if !ok {
		t.Fatalf("payload type = %T, want *Offer", sig.Payload)
	}
	if out.CallType != db.CallTypeVoice {
		t.Errorf("callType = %s, want voice", out.CallType)
	}
	if out.SDP != "sdp-body" {
		t.Errorf("sdp = %q, want %q", out.SDP, "sdp-body")
	}
}

func TestUnmarshalRejectsUnknownKind(t *testing.T) {
	frame, _ := json.Marshal(map[string]any{
		"type":    "mute-request",
		"from":    uuid.New(),
		"to":      uuid.New(),
		"payload": map[string]any{"callId": uuid.New()},
	})

	if _, err := Unmarshal(frame); err == nil {
		t.Fatal("expected error for unknown signal type")
	}
}

func TestUnmarshalRejectsMissingCallID(t *testing.T) {
	frame, _ := json.Marshal(map[string]any{
		"type":    "hangup",
		"from":    uuid.New(),
		"to":      uuid.New(),
		"payload": map[string]any{},
	})

	if _, err := Unmarshal(frame); err == nil {
		t.Fatal("expected error for hangup without callId")
	}
}

func TestMarshalRejectsNilPayload(t *testing.T) {
	if _, err := Marshal(&Signal{From: uuid.New(), To: uuid.New()}); err == nil {
		t.Fatal("expected error for signal without payload")
	}
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	if _, err := Unmarshal([]byte("not json")); err == nil {
		t.Fatal("expected error for malformed frame")
	}
}
