// Package capture opens local cameras, microphones and displays for the media
// manager.
package capture

import (
	"errors"
	"io/fs"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/voicecall/internal/domain"
	"github.com/dkeye/voicecall/internal/media"
)

// streamTrack overrides the stream id of a captured track so remote peers can
// tell a screen share from a camera.
type streamTrack struct {
	webrtc.TrackLocal
	stream string
}

func (s *streamTrack) StreamID() string { return s.stream }

type closer interface{ Close() error }

// deviceTrack adapts a capture backend track to media.Track.
type deviceTrack struct {
	id    string
	kind  media.Kind
	local webrtc.TrackLocal
	src   closer

	once sync.Once
	err  error
}

func newDeviceTrack(kind media.Kind, local webrtc.TrackLocal, src closer) *deviceTrack {
	if kind == media.KindScreen {
		local = &streamTrack{TrackLocal: local, stream: media.ScreenStreamID}
	}
	return &deviceTrack{id: local.ID(), kind: kind, local: local, src: src}
}

func (t *deviceTrack) ID() string               { return t.id }
func (t *deviceTrack) Kind() media.Kind         { return t.kind }
func (t *deviceTrack) Local() webrtc.TrackLocal { return t.local }

func (t *deviceTrack) Stop() error {
	t.once.Do(func() { t.err = t.src.Close() })
	return t.err
}

// classify maps backend errors onto the media manager's taxonomy. Anything
// that is not a permission problem is treated as busy so the manager gets a
// chance to retry with relaxed constraints.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrPermission) {
		return errors.Join(domain.ErrPermissionDenied, err)
	}
	return errors.Join(domain.ErrDeviceBusy, err)
}
