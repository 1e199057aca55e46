package call

import (
	"github.com/google/uuid"

	"github.com/machamire/ndeip-core/internal/db"
)

// MediaEvent is a transport-level report from the media layer.
type MediaEvent int

const (
	// MediaConnected fires when the peer connection is established, and
	// again when it recovers after a disconnect.
	MediaConnected MediaEvent = iota

	// MediaDisconnected fires when the transport drops without closing.
	MediaDisconnected

	// MediaFailed fires on an unrecoverable transport error.
	MediaFailed
)

// MediaSession is the seam to the WebRTC peer connection. Codec and ICE
// negotiation live entirely behind it; the session state machine only
// consumes its connectivity events and applies local control toggles.
type MediaSession interface {
	Events() <-chan MediaEvent
	AddRemoteCandidate(candidate string)
	SetMuted(muted bool)
	SetSpeakerOn(on bool)
	SetVideoEnabled(enabled bool)
	Close() error
}

// MediaFactory opens one MediaSession per call when it enters connecting.
type MediaFactory interface {
	Open(callID uuid.UUID, callType db.CallType, initiator bool) (MediaSession, error)
}

// NopMedia is a MediaFactory whose sessions report connected immediately.
// It stands in wherever no real peer-connection library is wired.
type NopMedia struct{}

type nopMediaSession struct {
	events chan MediaEvent
}

func (NopMedia) Open(_ uuid.UUID, _ db.CallType, _ bool) (MediaSession, error) {
	s := &nopMediaSession{events: make(chan MediaEvent, 1)}
	s.events <- MediaConnected
	return s, nil
}

func (s *nopMediaSession) Events() <-chan MediaEvent { return s.events }
func (s *nopMediaSession) AddRemoteCandidate(string) {}
func (s *nopMediaSession) SetMuted(bool)             {}
func (s *nopMediaSession) SetSpeakerOn(bool)         {}
func (s *nopMediaSession) SetVideoEnabled(bool)      {}
func (s *nopMediaSession) Close() error              { return nil }
