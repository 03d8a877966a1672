// Package router is the bridge between the signaling stream and the call
// machine. Inbound envelopes are decoded into signal messages and dispatched
// with one type switch; outbound calls are encoded and published.
package router

import (
	"context"
	"errors"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicecall/internal/domain"
	"github.com/dkeye/voicecall/internal/metrics"
	"github.com/dkeye/voicecall/internal/signal"
)

// Publisher sends an envelope on the transport.
type Publisher interface {
	Publish(env signal.Envelope) error
}

// Source yields inbound envelopes of one stream.
type Source interface {
	Next(ctx context.Context) (signal.Envelope, error)
}

// Inbound is the machine surface fed by remote signaling.
type Inbound interface {
	ReceiveIncoming(ctx context.Context, chat domain.ChatID, from domain.MemberID, video bool, mode domain.Mode) error
	RemoteAccept(ctx context.Context, chat domain.ChatID, from domain.MemberID) error
	RemoteReject(ctx context.Context, chat domain.ChatID, from domain.MemberID, isCallerCancel bool, reason domain.Reason) error
	RemoteEnd(ctx context.Context, chat domain.ChatID, from domain.MemberID) error
	MemberJoined(ctx context.Context, chat domain.ChatID, member domain.MemberID) error
	MemberLeft(ctx context.Context, chat domain.ChatID, member domain.MemberID) error
	RemoteOffer(ctx context.Context, chat domain.ChatID, member domain.MemberID, sdp string) error
	RemoteAnswer(ctx context.Context, chat domain.ChatID, member domain.MemberID, sdp string) error
	RemoteCandidate(ctx context.Context, chat domain.ChatID, member domain.MemberID, c webrtc.ICECandidateInit) error
	TransportChanged(connected bool)
}

type Router struct {
	pub     Publisher
	metrics *metrics.Metrics
	in      Inbound
	logger  zerolog.Logger
}

func New(pub Publisher, m *metrics.Metrics) *Router {
	return &Router{
		pub:     pub,
		metrics: m,
		logger:  log.With().Str("module", "app.router").Logger(),
	}
}

// Bind sets the machine receiving inbound signals. It must be called
// before Run and before the transport reports state.
func (r *Router) Bind(in Inbound) { r.in = in }

// Run pumps src until ctx is done or the stream is closed.
func (r *Router) Run(ctx context.Context, src Source) error {
	if r.in == nil {
		return errors.New("router: no inbound bound")
	}
	for {
		env, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, domain.ErrStopped) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		r.handle(ctx, env)
	}
}

func (r *Router) handle(ctx context.Context, env signal.Envelope) {
	msg, err := signal.Decode(env)
	if err != nil {
		r.logger.Warn().Err(err).Str("type", env.Type).Msg("drop undecodable signal")
		return
	}
	r.metrics.RecordSignalIn(string(msg.Kind()))

	err = r.dispatch(ctx, msg)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrStaleSignal):
		r.logger.Debug().Err(err).Str("type", env.Type).Int64("chat", int64(msg.Chat())).Msg("stale signal")
	default:
		r.logger.Warn().Err(err).Str("type", env.Type).Int64("chat", int64(msg.Chat())).Msg("signal handling failed")
	}
}

func (r *Router) dispatch(ctx context.Context, msg signal.Message) error {
	switch m := msg.(type) {
	case signal.Incoming:
		return r.in.ReceiveIncoming(ctx, m.ChatID, m.FromMemberID, m.IsVideoCall, domain.ModeFromFlags(m.IsGroupCall, m.IsBroadcast))
	case signal.Accept:
		return r.in.RemoteAccept(ctx, m.ChatID, m.FromMemberID)
	case signal.Reject:
		return r.in.RemoteReject(ctx, m.ChatID, m.FromMemberID, m.IsCallerCancel, m.Reason)
	case signal.End:
		return r.in.RemoteEnd(ctx, m.ChatID, m.FromMemberID)
	case signal.MemberJoined:
		return r.in.MemberJoined(ctx, m.ChatID, m.MemberID)
	case signal.MemberLeft:
		return r.in.MemberLeft(ctx, m.ChatID, m.MemberID)
	case signal.Offer:
		return r.in.RemoteOffer(ctx, m.ChatID, m.MemberID, m.SDP)
	case signal.Answer:
		return r.in.RemoteAnswer(ctx, m.ChatID, m.MemberID, m.SDP)
	case signal.Candidate:
		return r.in.RemoteCandidate(ctx, m.ChatID, m.MemberID, candidateInit(m))
	case signal.Initiate:
		// Echo of our own outbound kind; the backend answers it with call.incoming on the callee side.
		return domain.ErrStaleSignal
	default:
		return signal.ErrUnknownKind
	}
}

// TransportChanged forwards connection state to the machine. It matches
// the transport's state callback signature.
func (r *Router) TransportChanged(connected bool) {
	r.logger.Info().Bool("connected", connected).Msg("transport state")
	if r.in != nil {
		r.in.TransportChanged(connected)
	}
}

func candidateInit(m signal.Candidate) webrtc.ICECandidateInit {
	c := webrtc.ICECandidateInit{Candidate: m.Candidate, SDPMLineIndex: m.SDPMLineIndex}
	if m.SDPMid != "" {
		mid := m.SDPMid
		c.SDPMid = &mid
	}
	return c
}
