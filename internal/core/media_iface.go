//go:generate go run go.uber.org/mock/mockgen -source=media_iface.go -destination=../mocks/mock_local_media.go -package=mocks -exclude_interfaces=Transport,TransportFactory
package core

import (
	"encoding/json"
	"errors"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/VoiceMesh/internal/domain"
)

// ErrCaptureUnavailable means the local device for a media kind cannot be opened.
var ErrCaptureUnavailable = errors.New("capture unavailable")

// TransportState is the connectivity reported by the underlying peer transport.
type TransportState int

const (
	TransportNew TransportState = iota
	TransportConnecting
	TransportConnected
	TransportDisconnected
	TransportFailed
	TransportClosed
)

func (s TransportState) String() string {
	switch s {
	case TransportNew:
		return "new"
	case TransportConnecting:
		return "connecting"
	case TransportConnected:
		return "connected"
	case TransportDisconnected:
		return "disconnected"
	case TransportFailed:
		return "failed"
	case TransportClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// TransportHooks are invoked from transport-owned goroutines.
// Implementations must only hand the data over to the control loop.
type TransportHooks struct {
	OnState     func(TransportState)
	OnCandidate func(json.RawMessage)
	// OnBundle delivers the complete current set of tracks of one stream kind.
	OnBundle func(domain.StreamBundle)
}

// Transport is the point-to-point media connection behind a peer session.
// Methods are called from the control loop only and must not block on the network.
type Transport interface {
	CreateOffer() (json.RawMessage, error)
	AcceptOffer(offer json.RawMessage) (json.RawMessage, error)
	ApplyAnswer(answer json.RawMessage) error
	AddICECandidate(candidate json.RawMessage) error
	// Close should stop all underlying media resources.
	Close() error
}

type TransportFactory interface {
	NewTransport(remote domain.ParticipantID, hooks TransportHooks) (Transport, error)
}

// LocalMedia is the single capture handle shared by every peer transport.
type LocalMedia interface {
	Available(kind domain.MediaKind) bool
	SetEnabled(kind domain.MediaKind, enabled bool) error
	Tracks() []webrtc.TrackLocal
}
