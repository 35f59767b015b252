package domain

import "time"

type StreamKind string

const (
	StreamCamera StreamKind = "camera"
	StreamScreen StreamKind = "screen"
)

type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// Track is a received media track. Disabling keeps it bound so it can be
// re-enabled without renegotiation.
type Track interface {
	ID() string
	Kind() MediaKind
	Enabled() bool
	SetEnabled(bool)
}

// StreamBundle is the set of tracks of one kind received from one participant.
type StreamBundle struct {
	OwnerID    ParticipantID
	Kind       StreamKind
	Tracks     []Track
	ReceivedAt time.Time
	Version    uint64
}

// StreamInfo is a read-only view of a bundle for APIs.
type StreamInfo struct {
	OwnerID    ParticipantID `json:"ownerId"`
	Kind       StreamKind    `json:"kind"`
	Version    uint64        `json:"version"`
	ReceivedAt time.Time     `json:"receivedAt"`
	Tracks     []TrackInfo   `json:"tracks"`
}

type TrackInfo struct {
	ID      string    `json:"id"`
	Kind    MediaKind `json:"kind"`
	Enabled bool      `json:"enabled"`
}

func (b StreamBundle) Info() StreamInfo {
	tracks := make([]TrackInfo, 0, len(b.Tracks))
	for _, t := range b.Tracks {
		tracks = append(tracks, TrackInfo{ID: t.ID(), Kind: t.Kind(), Enabled: t.Enabled()})
	}
	return StreamInfo{
		OwnerID:    b.OwnerID,
		Kind:       b.Kind,
		Version:    b.Version,
		ReceivedAt: b.ReceivedAt,
		Tracks:     tracks,
	}
}
