// Package mediatest provides in-memory capture devices for tests.
package mediatest

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/voicecall/internal/media"
)

type Track struct {
	id    string
	kind  media.Kind
	local *webrtc.TrackLocalStaticSample

	mu    sync.Mutex
	stops int
}

func NewTrack(id string, kind media.Kind) *Track {
	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	stream := "local"
	switch kind {
	case media.KindVideo:
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	case media.KindScreen:
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
		stream = media.ScreenStreamID
	}
	local, err := webrtc.NewTrackLocalStaticSample(codec, id, stream)
	if err != nil {
		panic(err)
	}
	return &Track{id: id, kind: kind, local: local}
}

func (t *Track) ID() string               { return t.id }
func (t *Track) Kind() media.Kind         { return t.kind }
func (t *Track) Local() webrtc.TrackLocal { return t.local }

func (t *Track) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stops++
	return nil
}

// Stops reports how many times the hardware behind the track was released.
func (t *Track) Stops() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops
}

// Devices hands out fake tracks. Errors queued with Fail are returned by the
// next Open calls for that kind, in order.
type Devices struct {
	mu       sync.Mutex
	failures map[media.Kind][]error
	opened   []*Track
	calls    []media.Constraints
	seq      int
}

func NewDevices() *Devices {
	return &Devices{failures: make(map[media.Kind][]error)}
}

func (d *Devices) Fail(kind media.Kind, errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[kind] = append(d.failures[kind], errs...)
}

func (d *Devices) Open(_ context.Context, kind media.Kind, c media.Constraints) (media.Track, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, c)
	if q := d.failures[kind]; len(q) > 0 {
		err := q[0]
		d.failures[kind] = q[1:]
		return nil, err
	}
	d.seq++
	t := NewTrack(fmt.Sprintf("%s-%d", kind, d.seq), kind)
	d.opened = append(d.opened, t)
	return t, nil
}

// Opened returns every track handed out so far.
func (d *Devices) Opened() []*Track {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Track(nil), d.opened...)
}

// Calls returns the constraints of every Open call.
func (d *Devices) Calls() []media.Constraints {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]media.Constraints(nil), d.calls...)
}

// Held counts opened tracks whose hardware was never released.
func (d *Devices) Held() int {
	n := 0
	for _, t := range d.Opened() {
		if t.Stops() == 0 {
			n++
		}
	}
	return n
}
