package domain

import "time"

// MediaState is a participant's declared audio/video flags. Last writer wins by UpdatedAt.
type MediaState struct {
	OwnerID      ParticipantID `json:"ownerId"`
	AudioEnabled bool          `json:"audioEnabled"`
	VideoEnabled bool          `json:"videoEnabled"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

func (m MediaState) NewerThan(other MediaState) bool {
	return m.UpdatedAt.After(other.UpdatedAt)
}

func (m MediaState) Enabled(kind MediaKind) bool {
	if kind == MediaAudio {
		return m.AudioEnabled
	}
	return m.VideoEnabled
}
