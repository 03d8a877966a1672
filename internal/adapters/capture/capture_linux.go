//go:build linux

package capture

import (
	"context"
	"fmt"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicecall/internal/media"
)

// Devices captures through pion/mediadevices (V4L2, malgo and X11 on Linux).
type Devices struct {
	selector *mediadevices.CodecSelector
}

func NewDevices() (*Devices, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	for _, d := range mediadevices.EnumerateDevices() {
		log.Debug().Str("module", "capture").Str("kind", fmt.Sprint(d.Kind)).Str("label", d.Label).Msg("media device")
	}

	return &Devices{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

func (d *Devices) Open(_ context.Context, kind media.Kind, c media.Constraints) (media.Track, error) {
	constraints := mediadevices.MediaStreamConstraints{Codec: d.selector}

	video := func(mc *mediadevices.MediaTrackConstraints) {
		// Raw formats only; some cameras expose a broken MJPEG node.
		mc.FrameFormat = prop.FrameFormatOneOf{
			frame.FormatYUYV,
			frame.FormatI420,
			frame.FormatI444,
			frame.FormatRGBA,
		}
		mc.Width = prop.IntRanged{Max: c.MaxWidth}
		mc.Height = prop.IntRanged{Max: c.MaxHeight}
	}

	var (
		stream mediadevices.MediaStream
		err    error
	)
	switch kind {
	case media.KindAudio:
		constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		stream, err = mediadevices.GetUserMedia(constraints)
	case media.KindVideo:
		if c.AnyDevice {
			constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
				mc.Width = prop.IntRanged{Max: c.MaxWidth}
				mc.Height = prop.IntRanged{Max: c.MaxHeight}
			}
		} else {
			constraints.Video = video
		}
		stream, err = mediadevices.GetUserMedia(constraints)
	case media.KindScreen:
		constraints.Video = func(_ *mediadevices.MediaTrackConstraints) {}
		stream, err = mediadevices.GetDisplayMedia(constraints)
	default:
		return nil, fmt.Errorf("unsupported kind %s", kind)
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "capture").Str("kind", kind.String()).Msg("capture failed")
		return nil, classify(err)
	}

	tracks := stream.GetTracks()
	if len(tracks) == 0 {
		return nil, classify(fmt.Errorf("%s: no tracks", kind))
	}
	for _, extra := range tracks[1:] {
		_ = extra.Close()
	}

	tr := tracks[0]
	tr.OnEnded(func(err error) {
		if err != nil {
			log.Warn().Err(err).Str("module", "capture").Str("kind", kind.String()).Str("track_id", tr.ID()).Msg("local track ended")
		}
	})
	log.Info().Str("module", "capture").Str("kind", kind.String()).Str("track_id", tr.ID()).Msg("captured")
	return newDeviceTrack(kind, tr, tr), nil
}
