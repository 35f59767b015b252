package relay

import "fmt"

// BackpressureAction is what the client does when the outbound queue is full.
type BackpressureAction int

const (
	// DropFrame loses the message; session health recovers what it carried.
	DropFrame BackpressureAction = iota
	// Redial drops the connection so the relay resyncs us after the re-join.
	Redial
)

func (a BackpressureAction) String() string {
	switch a {
	case DropFrame:
		return "drop"
	case Redial:
		return "redial"
	default:
		return "unknown"
	}
}

// ParseBackpressureAction maps a config value. Empty means DropFrame.
func ParseBackpressureAction(s string) (BackpressureAction, error) {
	switch s {
	case "", DropFrame.String():
		return DropFrame, nil
	case Redial.String():
		return Redial, nil
	default:
		return DropFrame, fmt.Errorf("unknown backpressure action %q", s)
	}
}
