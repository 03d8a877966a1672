package router

import (
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/voicecall/internal/domain"
	"github.com/dkeye/voicecall/internal/signal"
)

func (r *Router) send(msg signal.Message) error {
	env, err := signal.Encode(msg)
	if err == nil {
		err = r.pub.Publish(env)
	}
	r.metrics.RecordSignalOut(string(msg.Kind()), err)
	if err != nil {
		r.logger.Warn().Err(err).Str("type", string(msg.Kind())).Int64("chat", int64(msg.Chat())).Msg("signal send failed")
	}
	return err
}

func (r *Router) SendInitiate(chat domain.ChatID, video bool, mode domain.Mode) error {
	return r.send(signal.Initiate{
		ChatID:      chat,
		IsVideoCall: video,
		IsGroupCall: mode == domain.ModeGroup,
		IsBroadcast: mode == domain.ModeBroadcast,
	})
}

func (r *Router) SendAccept(chat domain.ChatID, from domain.MemberID) error {
	return r.send(signal.Accept{ChatID: chat, FromMemberID: from})
}

func (r *Router) SendReject(chat domain.ChatID, from domain.MemberID, isCallerCancel bool, reason domain.Reason) error {
	return r.send(signal.Reject{ChatID: chat, FromMemberID: from, IsCallerCancel: isCallerCancel, Reason: reason})
}

func (r *Router) SendEnd(chat domain.ChatID, from domain.MemberID) error {
	return r.send(signal.End{ChatID: chat, FromMemberID: from})
}

func (r *Router) SendOffer(chat domain.ChatID, member domain.MemberID, sdp string) error {
	return r.send(signal.Offer{ChatID: chat, MemberID: member, SDP: sdp})
}

func (r *Router) SendAnswer(chat domain.ChatID, member domain.MemberID, sdp string) error {
	return r.send(signal.Answer{ChatID: chat, MemberID: member, SDP: sdp})
}

func (r *Router) SendCandidate(chat domain.ChatID, member domain.MemberID, c webrtc.ICECandidateInit) error {
	m := signal.Candidate{ChatID: chat, MemberID: member, Candidate: c.Candidate, SDPMLineIndex: c.SDPMLineIndex}
	if c.SDPMid != nil {
		m.SDPMid = *c.SDPMid
	}
	return r.send(m)
}
