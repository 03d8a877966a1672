//go:build !linux

package capture

import (
	"context"
	"fmt"

	"github.com/dkeye/voicecall/internal/domain"
	"github.com/dkeye/voicecall/internal/media"
)

// Devices has no capture backend outside Linux; every open reports the
// device as unavailable so calls fail cleanly instead of half-starting.
type Devices struct{}

func NewDevices() (*Devices, error) { return &Devices{}, nil }

func (d *Devices) Open(_ context.Context, kind media.Kind, _ media.Constraints) (media.Track, error) {
	return nil, fmt.Errorf("%s capture: %w", kind, domain.ErrDeviceUnavailable)
}
