package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/dkeye/voicecall/internal/ice"
	"github.com/dkeye/voicecall/internal/media"
)

type Config struct {
	ICEServers []string
	// DisconnectedTimeout is how long ICE may stay disconnected before it fails.
	DisconnectedTimeout time.Duration
	FailedTimeout       time.Duration
	KeepAliveInterval   time.Duration
	Sink                MediaSink
}

func DefaultWebRTCConfig(servers []string) webrtc.Configuration {
	if len(servers) == 0 {
		return webrtc.Configuration{}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: servers,
			},
		},
	}
}

// Factory builds links sharing one pion API (codecs, interceptors, ICE timeouts).
type Factory struct {
	api  *webrtc.API
	conf webrtc.Configuration
	sink MediaSink
}

func NewFactory(cfg Config) (*Factory, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	if cfg.DisconnectedTimeout > 0 && cfg.FailedTimeout > 0 && cfg.KeepAliveInterval > 0 {
		se.SetICETimeouts(cfg.DisconnectedTimeout, cfg.FailedTimeout, cfg.KeepAliveInterval)
	}

	sink := cfg.Sink
	if sink == nil {
		sink = DiscardSink{}
	}

	return &Factory{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(interceptorRegistry),
			webrtc.WithSettingEngine(se),
		),
		conf: DefaultWebRTCConfig(cfg.ICEServers),
		sink: sink,
	}, nil
}

func (f *Factory) NewLink(ctx context.Context, p core.LinkParams) (core.PeerLink, error) {
	pc, err := f.api.NewPeerConnection(f.conf)
	if err != nil {
		return nil, err
	}
	l := newLink(pc, p, f.sink)
	l.start(ctx)
	return l, nil
}

// Link wraps one *webrtc.PeerConnection toward a member or the relay.
type Link struct {
	pc     *webrtc.PeerConnection
	params core.LinkParams
	sink   MediaSink
	logger zerolog.Logger
	cancel context.CancelFunc

	mu          sync.Mutex
	negotiating bool
	remoteSet   bool
	closed      bool
	senders     map[string]*webrtc.RTPSender
	remotes     map[string]*remoteTrack
}

func newLink(pc *webrtc.PeerConnection, p core.LinkParams, sink MediaSink) *Link {
	if p.Buffer == nil {
		p.Buffer = ice.NewBuffer()
	}
	return &Link{
		pc:     pc,
		params: p,
		sink:   sink,
		logger: log.With().
			Str("module", "rtc").
			Str("sid", p.SessionID).
			Int64("chat", int64(p.Chat)).
			Int64("member", int64(p.Member)).
			Logger(),
		senders: make(map[string]*webrtc.RTPSender),
		remotes: make(map[string]*remoteTrack),
	}
}

func (l *Link) Member() domain.MemberID { return l.params.Member }

func (l *Link) start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	l.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		l.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
	})

	l.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		l.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		switch s {
		case webrtc.PeerConnectionStateConnected:
			if l.params.Hooks.OnConnected != nil {
				l.params.Hooks.OnConnected()
			}
		case webrtc.PeerConnectionStateFailed:
			if l.params.Hooks.OnFailed != nil {
				l.params.Hooks.OnFailed(fmt.Errorf("%w: peer connection failed", domain.ErrNegotiationFailed))
			}
		}
	})

	l.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		if err := l.params.Signals.SendCandidate(l.params.Chat, l.params.Member, cand.ToJSON()); err != nil {
			l.logger.Warn().Err(err).Msg("send local candidate")
		}
	})

	l.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		l.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")

		rt := newRemoteTrack(track)
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return
		}
		l.remotes[track.ID()] = rt
		l.mu.Unlock()
		l.reportMedia()

		logger := l.logger.With().Str("track_id", track.ID()).Str("kind", rt.kind.String()).Logger()
		go func() {
			rt.loop(ctx, l.params.Member, l.sink, &logger)
			l.mu.Lock()
			if l.remotes[track.ID()] == rt {
				delete(l.remotes, track.ID())
			}
			l.mu.Unlock()
			l.reportMedia()
		}()
	})
}

func (l *Link) reportMedia() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	rm := presence(l.remotes)
	l.mu.Unlock()
	if l.params.Hooks.OnRemoteMedia != nil {
		l.params.Hooks.OnRemoteMedia(rm)
	}
}

func (l *Link) CreateOffer(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return domain.ErrLinkClosed
	}
	if l.negotiating {
		l.mu.Unlock()
		return domain.ErrNegotiationInProgress
	}
	l.negotiating = true
	l.mu.Unlock()

	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		l.setNegotiating(false)
		return fmt.Errorf("%w: create offer: %v", domain.ErrNegotiationFailed, err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		l.setNegotiating(false)
		return fmt.Errorf("%w: set local offer: %v", domain.ErrNegotiationFailed, err)
	}
	if err := ctx.Err(); err != nil {
		l.setNegotiating(false)
		return err
	}
	if err := l.params.Signals.SendOffer(l.params.Chat, l.params.Member, offer.SDP); err != nil {
		l.setNegotiating(false)
		return err
	}
	l.logger.Info().Msg("offer sent")
	return nil
}

func (l *Link) ApplyRemoteOffer(ctx context.Context, sdp string) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return domain.ErrLinkClosed
	}
	glare := l.negotiating
	l.negotiating = false
	l.mu.Unlock()

	if glare {
		// Both sides offered; ours yields to the remote one.
		l.logger.Warn().Msg("offer collision, rolling back local offer")
		if err := l.pc.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
			return fmt.Errorf("%w: rollback: %v", domain.ErrNegotiationFailed, err)
		}
	}

	offer := webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	}
	if err := l.pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("%w: set remote offer: %v", domain.ErrNegotiationFailed, err)
	}
	l.markRemoteSet()

	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("%w: create answer: %v", domain.ErrNegotiationFailed, err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("%w: set local answer: %v", domain.ErrNegotiationFailed, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := l.params.Signals.SendAnswer(l.params.Chat, l.params.Member, answer.SDP); err != nil {
		return err
	}
	l.logger.Info().Msg("answer sent")
	return nil
}

func (l *Link) ApplyRemoteAnswer(_ context.Context, sdp string) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return domain.ErrLinkClosed
	}
	if !l.negotiating {
		l.mu.Unlock()
		return fmt.Errorf("%w: answer without outstanding offer", domain.ErrStaleSignal)
	}
	l.mu.Unlock()

	answer := webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	}
	err := l.pc.SetRemoteDescription(answer)
	l.setNegotiating(false)
	if err != nil {
		return fmt.Errorf("%w: set remote answer: %v", domain.ErrNegotiationFailed, err)
	}
	l.markRemoteSet()
	return nil
}

// markRemoteSet flips the link to direct candidate application and replays
// whatever was buffered for this member, in arrival order.
func (l *Link) markRemoteSet() {
	l.mu.Lock()
	l.remoteSet = true
	l.mu.Unlock()

	pending := l.params.Buffer.Drain(l.params.Member)
	for _, p := range pending {
		if err := l.pc.AddICECandidate(p.Candidate); err != nil {
			l.logger.Warn().Err(err).Str("candidate", p.Candidate.Candidate).Msg("apply buffered candidate")
		}
	}
	if len(pending) > 0 {
		l.logger.Info().Int("count", len(pending)).Msg("buffered candidates applied")
	}
}

func (l *Link) AddICECandidate(c webrtc.ICECandidateInit) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return domain.ErrLinkClosed
	}
	ready := l.remoteSet
	l.mu.Unlock()

	if !ready {
		l.params.Buffer.Enqueue(l.params.Member, c)
		return nil
	}
	return l.pc.AddICECandidate(c)
}

func (l *Link) setNegotiating(v bool) {
	l.mu.Lock()
	l.negotiating = v
	l.mu.Unlock()
}

// AttachLocalTrack is a no-op for a track that is already attached.
func (l *Link) AttachLocalTrack(t media.Track) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return domain.ErrLinkClosed
	}
	if _, ok := l.senders[t.ID()]; ok {
		return nil
	}
	sender, err := l.pc.AddTrack(t.Local())
	if err != nil {
		return err
	}
	l.senders[t.ID()] = sender
	go drainRTCP(sender)
	l.logger.Info().Str("track_id", t.ID()).Str("kind", t.Kind().String()).Msg("local track attached")
	return nil
}

func (l *Link) DetachLocalTrack(t media.Track) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	sender, ok := l.senders[t.ID()]
	if !ok {
		return nil
	}
	delete(l.senders, t.ID())
	return l.pc.RemoveTrack(sender)
}

func (l *Link) SetTrackEnabled(t media.Track, enabled bool) error {
	l.mu.Lock()
	sender, ok := l.senders[t.ID()]
	closed := l.closed
	l.mu.Unlock()
	if closed || !ok {
		return nil
	}
	if enabled {
		return sender.ReplaceTrack(t.Local())
	}
	return sender.ReplaceTrack(nil)
}

func (l *Link) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	for _, rt := range l.remotes {
		rt.MarkDelete()
	}
	l.mu.Unlock()

	if l.cancel != nil {
		l.cancel()
	}
	if err := l.pc.Close(); err != nil && !errors.Is(err, webrtc.ErrConnectionClosed) {
		l.logger.Error().Err(err).Msg("close error")
	} else {
		l.logger.Info().Msg("closed")
	}
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
