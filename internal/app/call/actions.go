package call

import (
	"context"
	"fmt"

	"github.com/dkeye/voicecall/internal/domain"
	"github.com/dkeye/voicecall/internal/media"
)

// Initiate starts an outgoing call. Media is acquired first; when that fails
// no session exists, nothing is sent and the projection carries lastError.
func (m *Machine) Initiate(ctx context.Context, chat domain.ChatID, video bool, mode domain.Mode) error {
	return m.do(ctx, func() error {
		if s := m.sess; s != nil {
			return fmt.Errorf("%w: call already %s", domain.ErrInvalidTransition, s.status)
		}
		local, err := m.chats.LocalMemberID(ctx, chat)
		if err != nil {
			return fmt.Errorf("resolve local member: %w", err)
		}
		if err := m.capture.Acquire(ctx, video); err != nil {
			m.lastErr = domain.ReasonOf(err)
			m.publish()
			return err
		}

		s := m.newSession(chat, mode, video, true, local, local)
		m.begin(s, TriggerInitiate)
		if m.cfg.RingTimeout > 0 {
			s.ringTimer = m.after(s, m.cfg.RingTimeout, m.ringTimeout)
		}
		if err := m.signals.SendInitiate(chat, video, mode); err != nil {
			return m.failTransport(s, err)
		}
		return nil
	})
}

// Accept answers the ringing call.
func (m *Machine) Accept(ctx context.Context) error {
	return m.do(ctx, func() error {
		s := m.sess
		if s == nil {
			return domain.ErrNoActiveCall
		}
		if s.status != domain.StatusIncoming {
			return fmt.Errorf("%w: accept while %s", domain.ErrInvalidTransition, s.status)
		}

		if err := m.capture.Acquire(ctx, s.video); err != nil {
			reason := domain.ReasonOf(err)
			if serr := m.signals.SendReject(s.chat, s.local, false, reason); serr != nil {
				s.logger.Warn().Err(serr).Msg("send reject after media failure")
			}
			s.reason = reason
			m.lastErr = reason
			m.fire(TriggerMediaFailure)
			return err
		}

		m.fire(TriggerLocalAccept)
		if err := m.signals.SendAccept(s.chat, s.local); err != nil {
			return m.failTransport(s, err)
		}
		if s.mode.UsesRelay() {
			m.offer(s, domain.RelayMemberID)
			if s.closing {
				return nil
			}
			for _, id := range s.members.Joined() {
				m.admit(s, id)
			}
		}
		return nil
	})
}

// Reject declines a ringing incoming call, or cancels our own ringing call
// when isCancel is set.
func (m *Machine) Reject(ctx context.Context, isCancel bool) error {
	return m.do(ctx, func() error {
		s := m.sess
		if s == nil {
			return domain.ErrNoActiveCall
		}
		switch {
		case isCancel && s.status == domain.StatusOutgoing:
			if err := m.signals.SendReject(s.chat, s.local, true, domain.ReasonCanceled); err != nil {
				s.logger.Warn().Err(err).Msg("send cancel")
			}
			s.reason = domain.ReasonCanceled
			m.fire(TriggerLocalCancel)
		case !isCancel && s.status == domain.StatusIncoming:
			if err := m.signals.SendReject(s.chat, s.local, false, domain.ReasonDeclined); err != nil {
				s.logger.Warn().Err(err).Msg("send reject")
			}
			s.reason = domain.ReasonDeclined
			m.fire(TriggerLocalReject)
		default:
			return fmt.Errorf("%w: reject(cancel=%t) while %s", domain.ErrInvalidTransition, isCancel, s.status)
		}
		return nil
	})
}

// EndCall hangs up whatever is live. Calling it with no session is a no-op.
func (m *Machine) EndCall(ctx context.Context, reason domain.Reason) error {
	return m.do(ctx, func() error {
		m.endCall(reason)
		return nil
	})
}

func (m *Machine) endCall(reason domain.Reason) {
	s := m.sess
	if s == nil || s.closing {
		return
	}
	if reason == domain.ReasonNone {
		reason = domain.ReasonHangup
	}

	var err error
	switch s.status {
	case domain.StatusOutgoing:
		if reason == domain.ReasonHangup {
			reason = domain.ReasonCanceled
		}
		err = m.signals.SendReject(s.chat, s.local, true, reason)
	case domain.StatusIncoming:
		if reason == domain.ReasonHangup {
			reason = domain.ReasonDeclined
		}
		err = m.signals.SendReject(s.chat, s.local, false, reason)
	default:
		err = m.signals.SendEnd(s.chat, s.local)
	}
	if err != nil {
		s.logger.Warn().Err(err).Msg("send hang-up")
	}
	s.reason = reason
	if !m.fire(TriggerLocalEnd) {
		m.forceEnd(domain.StatusEnded)
	}
}

func (m *Machine) ringTimeout(s *session) {
	if s.status != domain.StatusOutgoing {
		return
	}
	s.logger.Info().Dur("after", m.cfg.RingTimeout).Msg("no answer")
	if err := m.signals.SendReject(s.chat, s.local, true, domain.ReasonTimeout); err != nil {
		s.logger.Warn().Err(err).Msg("send timeout cancel")
	}
	s.ringTimer = nil
	s.reason = domain.ReasonTimeout
	m.fire(TriggerRingTimeout)
}

func (m *Machine) failTransport(s *session, err error) error {
	err = transportErr(err)
	s.logger.Error().Err(err).Msg("signaling send failed")
	s.reason = domain.ReasonTransportLost
	m.lastErr = domain.ReasonTransportLost
	if !m.fire(TriggerTransportLost) {
		m.forceEnd(domain.StatusError)
	}
	return err
}

func (m *Machine) ToggleAudio(ctx context.Context) error {
	return m.toggle(ctx, m.capture.ToggleAudio)
}

func (m *Machine) ToggleVideo(ctx context.Context) error {
	return m.toggle(ctx, m.capture.ToggleVideo)
}

func (m *Machine) ToggleScreenShare(ctx context.Context) error {
	return m.toggle(ctx, m.capture.ToggleScreenShare)
}

func (m *Machine) toggle(ctx context.Context, fn func(context.Context) (media.Change, error)) error {
	return m.do(ctx, func() error {
		s := m.sess
		if s == nil || s.closing || !s.status.Live() {
			return domain.ErrNoActiveCall
		}
		ch, err := fn(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Str("kind", ch.Kind.String()).Msg("toggle failed")
			return err
		}
		m.applyChange(s, ch)
		m.publish()
		return nil
	})
}
