//go:build !capture

package capture

import (
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// openDevices needs the cgo codecs; build with -tags capture to enable it.
func openDevices(Config, zerolog.Logger) ([]webrtc.TrackLocal, func(), error) {
	return nil, nil, fmt.Errorf("built without device support: %w", ErrUnavailable)
}
