package db

import "testing"

func TestStatusTransitionsForward(t *testing.T) {
	cases := []struct {
		from MessageStatus
		to   MessageStatus
		want bool
	}{
		{MessageStatusSending, MessageStatusSent, true},
		{MessageStatusSending, MessageStatusDelivered, true},
		{MessageStatusSending, MessageStatusRead, true},
		{MessageStatusSent, MessageStatusDelivered, true},
		{MessageStatusSent, MessageStatusRead, true},
		{MessageStatusDelivered, MessageStatusRead, true},

		// Backwards is never allowed
		{MessageStatusSent, MessageStatusSending, false},
		{MessageStatusDelivered, MessageStatusSent, false},
		{MessageStatusRead, MessageStatusDelivered, false},
		{MessageStatusRead, MessageStatusSending, false},

		// Re-applying the current status is rejected; callers treat it
		// as a no-op
		{MessageStatusSent, MessageStatusSent, false},
		{MessageStatusRead, MessageStatusRead, false},
	}

	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.want {
			t.Errorf("CanTransition(%s -> %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestStatusTransitionsFailed(t *testing.T) {
	if !MessageStatusSending.CanTransition(MessageStatusFailed) {
		t.Error("sending -> failed should be allowed")
	}
	if !MessageStatusSent.CanTransition(MessageStatusFailed) {
		t.Error("sent -> failed should be allowed")
	}
	if MessageStatusDelivered.CanTransition(MessageStatusFailed) {
		t.Error("delivered -> failed should be rejected")
	}
	if MessageStatusRead.CanTransition(MessageStatusFailed) {
		t.Error("read -> failed should be rejected")
	}

	// failed is terminal for the status machine; resend goes through
	// ResetMessageForResend instead
	for _, next := range []MessageStatus{
		MessageStatusSending, MessageStatusSent, MessageStatusDelivered, MessageStatusRead,
	} {
		if MessageStatusFailed.CanTransition(next) {
			t.Errorf("failed -> %s should be rejected", next)
		}
	}
}

func TestStatusTransitionsUnknown(t *testing.T) {
	if MessageStatus("bogus").CanTransition(MessageStatusSent) {
		t.Error("unknown status should not transition")
	}
	if MessageStatusSending.CanTransition(MessageStatus("bogus")) {
		t.Error("transition to unknown status should be rejected")
	}
}
