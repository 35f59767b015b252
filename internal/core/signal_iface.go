//go:generate go run go.uber.org/mock/mockgen -source=signal_iface.go -destination=../mocks/mock_signaler.go -package=mocks -exclude_interfaces=SignalConnection
package core

import "github.com/dkeye/VoiceMesh/internal/protocol"

// Frame is a raw encoded relay message.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Signaler delivers typed messages to the relay. Delivery is fire-and-forget;
// an error only means the message never left this process.
type Signaler interface {
	Send(protocol.Message) error
}
