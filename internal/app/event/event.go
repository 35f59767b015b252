// Package event lists every message the control loop consumes.
// Producers on other goroutines never touch orchestrator state; they post one of these.
package event

import (
	"encoding/json"

	"github.com/dkeye/VoiceMesh/internal/app/timers"
	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
	"github.com/dkeye/VoiceMesh/internal/protocol"
)

type Event interface {
	isEvent()
}

// Poster hands an event to the control loop.
type Poster func(Event)

// Inbound is a message received from the relay.
type Inbound struct {
	Msg protocol.Message
}

type RelayConnected struct{}

type RelayDisconnected struct {
	Err error
}

// TransportState is a connectivity change of the session with generation Gen.
type TransportState struct {
	Peer  domain.ParticipantID
	Gen   uint64
	State core.TransportState
}

type LocalCandidate struct {
	Peer    domain.ParticipantID
	Gen     uint64
	Payload json.RawMessage
}

type BundleReceived struct {
	Peer   domain.ParticipantID
	Gen    uint64
	Bundle domain.StreamBundle
}

// TimerFired carries both the timer generation and the generation of the
// session the timer was armed for.
type TimerFired struct {
	Key        timers.Key
	TimerGen   uint64
	SessionGen uint64
}

type HealthTick struct{}

// Command runs Fn on the control loop and closes Done afterwards.
type Command struct {
	Fn   func()
	Done chan struct{}
}

func (Inbound) isEvent()           {}
func (RelayConnected) isEvent()    {}
func (RelayDisconnected) isEvent() {}
func (TransportState) isEvent()    {}
func (LocalCandidate) isEvent()    {}
func (BundleReceived) isEvent()    {}
func (TimerFired) isEvent()        {}
func (HealthTick) isEvent()        {}
func (Command) isEvent()           {}
