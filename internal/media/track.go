// Package media owns local capture devices. Only the Manager starts or stops
// hardware capture; links read the resulting tracks.
package media

import (
	"context"

	"github.com/pion/webrtc/v4"
)

type Kind int

const (
	KindAudio Kind = iota
	KindVideo
	KindScreen
	kindCount
)

func (k Kind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	case KindScreen:
		return "screen"
	default:
		return "unknown"
	}
}

// ScreenStreamID tags screen share tracks so remote sides can tell them
// apart from the camera.
const ScreenStreamID = "screen"

// Constraints limit what a device may deliver.
type Constraints struct {
	MaxWidth  int
	MaxHeight int
	// AnyDevice drops the preference for the default device.
	AnyDevice bool
}

var (
	DefaultConstraints = Constraints{MaxWidth: 1280, MaxHeight: 720}
	RelaxedConstraints = Constraints{MaxWidth: 640, MaxHeight: 480, AnyDevice: true}
)

// Track is one captured local track.
type Track interface {
	ID() string
	Kind() Kind
	// Local is what gets attached to a PeerConnection sender.
	Local() webrtc.TrackLocal
	// Stop releases the underlying hardware.
	Stop() error
}

// Devices opens capture hardware. Implementations return errors wrapping
// domain.ErrPermissionDenied or domain.ErrDeviceBusy so the manager can
// decide whether a relaxed retry makes sense.
type Devices interface {
	Open(ctx context.Context, kind Kind, c Constraints) (Track, error)
}
