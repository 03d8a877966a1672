package call

import (
	"context"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicecall/internal/domain"
)

func stale(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{domain.ErrStaleSignal}, args...)...)
}

// ReceiveIncoming handles call.incoming. A live session sends the call to
// the busy policy; it never replaces the session.
func (m *Machine) ReceiveIncoming(ctx context.Context, chat domain.ChatID, from domain.MemberID, video bool, mode domain.Mode) error {
	return m.do(ctx, func() error {
		return m.receiveIncoming(ctx, incomingCall{chat: chat, from: from, video: video, mode: mode})
	})
}

func (m *Machine) receiveIncoming(ctx context.Context, in incomingCall) error {
	if s := m.sess; s != nil {
		if s.chat == in.chat {
			return stale("duplicate incoming for chat %d", in.chat)
		}
		return m.busy(ctx, in)
	}
	local, err := m.chats.LocalMemberID(ctx, in.chat)
	if err != nil {
		return fmt.Errorf("resolve local member: %w", err)
	}
	if in.from == local {
		return stale("own call echoed for chat %d", in.chat)
	}

	s := m.newSession(in.chat, in.mode, in.video, false, in.from, local)
	s.members.Ensure(in.from, m.now())
	m.begin(s, TriggerIncoming)
	return nil
}

func (m *Machine) busy(ctx context.Context, in incomingCall) error {
	logger := log.With().Str("module", "app.call").Int64("chat", int64(in.chat)).Int64("from", int64(in.from)).Logger()

	if m.cfg.Policy == QueueBusy && len(m.queued) < m.cfg.BusyQueue {
		for _, q := range m.queued {
			if q.chat == in.chat {
				return stale("incoming for chat %d already queued", in.chat)
			}
		}
		m.queued = append(m.queued, in)
		m.metrics.RecordBusy("queued")
		logger.Info().Int("queued", len(m.queued)).Msg("busy, incoming call queued")
		return nil
	}

	if !m.limiter.Allow(in.from) {
		m.metrics.RecordBusy("limited")
		logger.Warn().Msg("busy reply rate limited")
		return nil
	}
	local, err := m.chats.LocalMemberID(ctx, in.chat)
	if err != nil {
		return fmt.Errorf("resolve local member: %w", err)
	}
	m.metrics.RecordBusy("declined")
	logger.Info().Msg("busy, incoming call declined")
	if err := m.signals.SendReject(in.chat, local, false, domain.ReasonBusy); err != nil {
		return transportErr(err)
	}
	return nil
}

func (m *Machine) dequeue(chat domain.ChatID) bool {
	for i, q := range m.queued {
		if q.chat == chat {
			m.queued = append(m.queued[:i], m.queued[i+1:]...)
			log.Info().Str("module", "app.call").Int64("chat", int64(chat)).Msg("queued call withdrawn")
			return true
		}
	}
	return false
}

func (m *Machine) replayQueued() {
	for len(m.queued) > 0 && m.sess == nil {
		in := m.queued[0]
		m.queued = m.queued[1:]
		log.Info().Str("module", "app.call").Int64("chat", int64(in.chat)).Msg("replaying queued call")
		if err := m.receiveIncoming(m.runCtx, in); err != nil {
			log.Warn().Err(err).Str("module", "app.call").Int64("chat", int64(in.chat)).Msg("replay queued call")
		}
	}
}

// RemoteAccept handles call.accept from the callee.
func (m *Machine) RemoteAccept(ctx context.Context, chat domain.ChatID, from domain.MemberID) error {
	return m.do(ctx, func() error {
		s, ok := m.active(chat)
		if !ok {
			return stale("accept for chat %d without live call", chat)
		}
		if from == s.local || s.status != domain.StatusOutgoing {
			return stale("accept from %d while %s", from, s.status)
		}
		m.remoteAccepted(s, from)
		return nil
	})
}

func (m *Machine) remoteAccepted(s *session, from domain.MemberID) {
	stopTimer(&s.ringTimer)
	if !s.mode.UsesRelay() && s.peer == 0 {
		s.peer = from
	}
	if !m.fire(TriggerRemoteAccept) {
		return
	}
	m.offer(s, linkKey(s, from))
}

// RemoteReject handles call.reject: a decline, a busy reply or the caller
// cancelling.
func (m *Machine) RemoteReject(ctx context.Context, chat domain.ChatID, from domain.MemberID, isCallerCancel bool, reason domain.Reason) error {
	return m.do(ctx, func() error {
		s, ok := m.active(chat)
		if !ok {
			if m.dequeue(chat) {
				return nil
			}
			return stale("reject for chat %d without live call", chat)
		}
		if from == s.local {
			return stale("own reject echoed")
		}
		if s.foreign(from) {
			return stale("reject from %d, peer is %d", from, s.peer)
		}

		switch s.status {
		case domain.StatusOutgoing:
			if s.mode.UsesRelay() {
				s.logger.Info().Int64("member", int64(from)).Msg("member declined group call")
				return nil
			}
			s.reason = domain.ReasonDeclined
			if reason == domain.ReasonBusy {
				s.reason = domain.ReasonBusy
			}
			m.fire(TriggerRemoteReject)
		case domain.StatusIncoming:
			if !isCallerCancel && from != s.initiator {
				return nil
			}
			s.reason = domain.ReasonCanceled
			m.fire(TriggerRemoteCancel)
		default:
			if s.mode.UsesRelay() {
				m.memberGone(s, from)
				return nil
			}
			s.reason = domain.ReasonRemoteHangup
			m.fire(TriggerRemoteReject)
		}
		return nil
	})
}

// RemoteEnd handles call.end.
func (m *Machine) RemoteEnd(ctx context.Context, chat domain.ChatID, from domain.MemberID) error {
	return m.do(ctx, func() error {
		s, ok := m.active(chat)
		if !ok {
			if m.dequeue(chat) {
				return nil
			}
			return stale("end for chat %d without live call", chat)
		}
		if from == s.local {
			return stale("own end echoed")
		}
		if s.foreign(from) {
			return stale("end from %d, peer is %d", from, s.peer)
		}

		switch s.status {
		case domain.StatusIncoming:
			if s.mode.UsesRelay() && from != s.initiator {
				m.memberGone(s, from)
				return nil
			}
			s.reason = domain.ReasonCanceled
			m.fire(TriggerRemoteEnd)
		default:
			if s.mode.UsesRelay() {
				m.memberGone(s, from)
				return nil
			}
			s.reason = domain.ReasonRemoteHangup
			m.fire(TriggerRemoteEnd)
		}
		return nil
	})
}

// MemberJoined handles call.member.joined.
func (m *Machine) MemberJoined(ctx context.Context, chat domain.ChatID, member domain.MemberID) error {
	return m.do(ctx, func() error {
		s, ok := m.active(chat)
		if !ok {
			return stale("join for chat %d without live call", chat)
		}
		if member == s.local || member == domain.RelayMemberID || s.foreign(member) {
			return stale("join of member %d", member)
		}

		switch s.status {
		case domain.StatusOutgoing:
			m.remoteAccepted(s, member)
			if !s.closing {
				m.admit(s, member)
			}
		case domain.StatusIncoming:
			s.members.Ensure(member, m.now()).joined = true
		default:
			m.admit(s, member)
		}
		return nil
	})
}

// MemberLeft handles call.member.left.
func (m *Machine) MemberLeft(ctx context.Context, chat domain.ChatID, member domain.MemberID) error {
	return m.do(ctx, func() error {
		s, ok := m.active(chat)
		if !ok {
			return stale("leave for chat %d without live call", chat)
		}
		if member == s.local {
			return stale("own leave echoed")
		}
		if s.foreign(member) {
			return stale("leave of %d, peer is %d", member, s.peer)
		}
		m.memberGone(s, member)
		return nil
	})
}

func (m *Machine) admit(s *session, member domain.MemberID) {
	if !s.members.Admit(member, m.now()) {
		return
	}
	if s.mode.UsesRelay() {
		// The relay link carries everyone; per-member mute is not observable.
		if e, ok := s.members.Get(member); ok {
			e.member.IsMuted = false
		}
	}
	prev := s.status
	m.fire(TriggerMemberJoined)
	if m.sess == s && s.status == prev {
		m.publish()
	}
}

func (m *Machine) memberGone(s *session, member domain.MemberID) {
	if s.status == domain.StatusIncoming && member == s.initiator {
		s.reason = domain.ReasonCanceled
		m.fire(TriggerRemoteCancel)
		return
	}

	wasAdmitted := s.members.Remove(member)
	switch s.status {
	case domain.StatusConnecting, domain.StatusConnected:
		if s.members.AdmittedCount() == 0 && (wasAdmitted || !s.mode.UsesRelay()) {
			if err := m.signals.SendEnd(s.chat, s.local); err != nil {
				s.logger.Warn().Err(err).Msg("send hang-up after last member left")
			}
			s.reason = domain.ReasonMembersLeft
			m.fire(TriggerLastMemberLeft)
			return
		}
	case domain.StatusOutgoing:
		if !s.mode.UsesRelay() {
			s.reason = domain.ReasonRemoteHangup
			m.fire(TriggerRemoteEnd)
			return
		}
	}
	if wasAdmitted {
		m.publish()
	}
}

// RemoteOffer applies an offer from the peer or the relay and answers it.
func (m *Machine) RemoteOffer(ctx context.Context, chat domain.ChatID, member domain.MemberID, sdp string) error {
	return m.do(ctx, func() error {
		s, ok := m.active(chat)
		if !ok {
			return stale("offer for chat %d without live call", chat)
		}
		if s.status != domain.StatusConnecting && s.status != domain.StatusConnected {
			return stale("offer from %d while %s", member, s.status)
		}
		if s.foreign(member) {
			return stale("offer from %d, peer is %d", member, s.peer)
		}

		link, err := m.ensureLink(s, member)
		if err == nil {
			err = link.ApplyRemoteOffer(ctx, sdp)
		}
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrStaleSignal):
			return err
		default:
			m.negotiationFailed(s, member, err)
			return nil
		}
		if !s.mode.UsesRelay() {
			m.admit(s, member)
		}
		return nil
	})
}

// RemoteAnswer applies the answer to our outstanding offer.
func (m *Machine) RemoteAnswer(ctx context.Context, chat domain.ChatID, member domain.MemberID, sdp string) error {
	return m.do(ctx, func() error {
		s, ok := m.active(chat)
		if !ok {
			return stale("answer for chat %d without live call", chat)
		}
		if s.foreign(member) {
			return stale("answer from %d, peer is %d", member, s.peer)
		}
		e, ok := s.members.Get(linkKey(s, member))
		if !ok || e.link == nil {
			return stale("answer from %d without link", member)
		}

		err := e.link.ApplyRemoteAnswer(ctx, sdp)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrStaleSignal):
			return err
		default:
			m.negotiationFailed(s, member, err)
			return nil
		}
		if !s.mode.UsesRelay() {
			m.admit(s, member)
		}
		return nil
	})
}

// RemoteCandidate applies a trickled candidate or buffers it until the link
// able to take it exists.
func (m *Machine) RemoteCandidate(ctx context.Context, chat domain.ChatID, member domain.MemberID, c webrtc.ICECandidateInit) error {
	return m.do(ctx, func() error {
		s, ok := m.active(chat)
		if !ok {
			return stale("candidate for chat %d without live call", chat)
		}
		if s.foreign(member) {
			return stale("candidate from %d, peer is %d", member, s.peer)
		}
		key := linkKey(s, member)
		if e, ok := s.members.Get(key); ok && e.link != nil {
			if err := e.link.AddICECandidate(c); err != nil {
				s.logger.Warn().Err(err).Int64("member", int64(member)).Msg("add candidate")
			}
			return nil
		}
		s.buffer.Enqueue(key, c)
		s.logger.Debug().Int64("member", int64(key)).Int("pending", s.buffer.Len(key)).Msg("candidate buffered")
		return nil
	})
}

// TransportChanged is fed by the signaling transport. Losing it starts the
// grace timer of the live session; getting it back cancels the timer.
func (m *Machine) TransportChanged(connected bool) {
	m.post(func() {
		m.online = connected
		s := m.sess
		if s == nil || s.closing {
			return
		}
		if !connected {
			m.startGrace(s)
			return
		}
		if s.graceTimer != nil {
			s.logger.Info().Msg("transport back within grace")
			stopTimer(&s.graceTimer)
		}
	})
}
