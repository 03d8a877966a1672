package rtc

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/dkeye/voicecall/internal/domain"
	"github.com/dkeye/voicecall/internal/media"
)

// MediaSink is the external media engine that decodes and renders remote RTP.
type MediaSink interface {
	WriteRTP(member domain.MemberID, kind media.Kind, pkt *rtp.Packet) error
}

// DiscardSink drops every packet. Used when no media engine is attached.
type DiscardSink struct{}

func (DiscardSink) WriteRTP(domain.MemberID, media.Kind, *rtp.Packet) error { return nil }

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateDelete
)

// remoteTrack is one incoming track pumped into the media sink.
type remoteTrack struct {
	src   *webrtc.TrackRemote
	kind  media.Kind
	state atomic.Int32 // Zero by default (TrackStateOk)
}

func newRemoteTrack(src *webrtc.TrackRemote) *remoteTrack {
	return &remoteTrack{src: src, kind: remoteKind(src.Kind(), src.StreamID())}
}

func remoteKind(k webrtc.RTPCodecType, streamID string) media.Kind {
	switch {
	case k == webrtc.RTPCodecTypeAudio:
		return media.KindAudio
	case strings.HasPrefix(streamID, media.ScreenStreamID):
		return media.KindScreen
	default:
		return media.KindVideo
	}
}

func (r *remoteTrack) GetState() TrackState { return TrackState(r.state.Load()) }
func (r *remoteTrack) MarkDelete()          { r.state.Store(int32(TrackStateDelete)) }

// loop reads RTP packets from the remote track and hands them to the sink
// until the track ends or ctx is done.
func (r *remoteTrack) loop(ctx context.Context, member domain.MemberID, sink MediaSink, logger *zerolog.Logger) {
	defer r.MarkDelete()
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("remote track ctx done")
			return
		default:
		}
		pkt, _, err := r.src.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("remote track ended")
			return
		}
		if err := sink.WriteRTP(member, r.kind, pkt); err != nil {
			logger.Warn().Err(err).Uint16("seq", pkt.SequenceNumber).Msg("media sink rejected packet")
		}
	}
}

// presence folds live remote tracks into member-level media flags.
func presence(tracks map[string]*remoteTrack) domain.RemoteMedia {
	var rm domain.RemoteMedia
	for _, t := range tracks {
		if t.GetState() != TrackStateOk {
			continue
		}
		switch t.kind {
		case media.KindAudio:
			rm.Audio = true
		case media.KindVideo:
			rm.Video = true
		case media.KindScreen:
			rm.Screen = true
		}
	}
	return rm
}
