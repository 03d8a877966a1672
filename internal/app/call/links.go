package call

import (
	"errors"
	"fmt"

	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/dkeye/voicecall/internal/media"
)

// linkKey maps a wire member id onto the registry entry holding the link.
// Group and broadcast calls have a single link to the relay.
func linkKey(s *session, member domain.MemberID) domain.MemberID {
	if s.mode.UsesRelay() {
		return domain.RelayMemberID
	}
	return member
}

// ensureLink returns the link for member, creating it with every local
// track attached.
func (m *Machine) ensureLink(s *session, member domain.MemberID) (core.PeerLink, error) {
	key := linkKey(s, member)
	e := s.members.Ensure(key, m.now())
	if e.link != nil {
		return e.link, nil
	}

	link, err := m.links.NewLink(m.runCtx, core.LinkParams{
		SessionID: s.id,
		Chat:      s.chat,
		Member:    key,
		Buffer:    s.buffer,
		Signals:   m.signals,
		Hooks:     m.hooks(s, key),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: new link: %v", domain.ErrNegotiationFailed, err)
	}
	e.link = link

	for _, ch := range m.capture.Tracks() {
		if err := link.AttachLocalTrack(ch.Track); err != nil {
			s.logger.Warn().Err(err).Str("kind", ch.Kind.String()).Msg("attach local track")
			continue
		}
		if !ch.Enabled {
			if err := link.SetTrackEnabled(ch.Track, false); err != nil {
				s.logger.Warn().Err(err).Str("kind", ch.Kind.String()).Msg("disable local track")
			}
		}
	}
	s.logger.Info().Int64("member", int64(key)).Msg("link created")
	return link, nil
}

// offer creates the link when needed and sends an offer over it.
func (m *Machine) offer(s *session, member domain.MemberID) {
	link, err := m.ensureLink(s, member)
	if err == nil {
		err = link.CreateOffer(m.runCtx)
	}
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNegotiationInProgress):
		s.logger.Debug().Int64("member", int64(member)).Msg("offer already in flight")
	default:
		m.negotiationFailed(s, member, err)
	}
}

// negotiationFailed ends the call: a direct call has one peer and a relay
// call has one link, so there is nothing left to fall back to.
func (m *Machine) negotiationFailed(s *session, member domain.MemberID, err error) {
	m.metrics.RecordNegotiationFailure()
	s.logger.Error().Err(err).Int64("member", int64(member)).Msg("negotiation failed")
	s.reason = domain.ReasonNegotiationFailed
	m.lastErr = domain.ReasonNegotiationFailed
	if !m.fire(TriggerNegotiationFailure) {
		m.forceEnd(domain.StatusError)
	}
}

func (m *Machine) hooks(s *session, key domain.MemberID) core.LinkHooks {
	sid := s.id
	return core.LinkHooks{
		OnRemoteMedia: func(rm domain.RemoteMedia) {
			m.post(func() {
				if s, ok := m.current(sid); ok {
					m.remoteMedia(s, key, rm)
				}
			})
		},
		OnConnected: func() {
			m.post(func() {
				if s, ok := m.current(sid); ok {
					s.logger.Info().Int64("member", int64(key)).Msg("link connected")
					m.fire(TriggerLinkConnected)
				}
			})
		},
		OnFailed: func(err error) {
			m.post(func() {
				if s, ok := m.current(sid); ok {
					m.negotiationFailed(s, key, err)
				}
			})
		},
	}
}

func (m *Machine) remoteMedia(s *session, key domain.MemberID, rm domain.RemoteMedia) {
	if key == domain.RelayMemberID {
		s.logger.Debug().Bool("audio", rm.Audio).Bool("video", rm.Video).Bool("screen", rm.Screen).Msg("relay media")
		return
	}
	e, ok := s.members.Get(key)
	if !ok {
		return
	}
	e.member.Apply(rm)
	if e.admitted {
		m.publish()
	}
}

// applyChange pushes a local media change to every link.
func (m *Machine) applyChange(s *session, ch media.Change) {
	links := s.members.Links()
	switch {
	case ch.Added:
		for _, l := range links {
			if err := l.AttachLocalTrack(ch.Track); err != nil {
				s.logger.Warn().Err(err).Int64("member", int64(l.Member())).Msg("attach local track")
			}
		}
		m.renegotiate(s, links)
	case ch.Removed:
		for _, l := range links {
			if err := l.DetachLocalTrack(ch.Track); err != nil {
				s.logger.Warn().Err(err).Int64("member", int64(l.Member())).Msg("detach local track")
			}
		}
		m.renegotiate(s, links)
	default:
		for _, l := range links {
			if err := l.SetTrackEnabled(ch.Track, ch.Enabled); err != nil {
				s.logger.Warn().Err(err).Int64("member", int64(l.Member())).Msg("set track enabled")
			}
		}
	}
}

func (m *Machine) renegotiate(s *session, links []core.PeerLink) {
	if s.status != domain.StatusConnecting && s.status != domain.StatusConnected {
		return
	}
	for _, l := range links {
		if s.closing {
			return
		}
		err := l.CreateOffer(m.runCtx)
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrNegotiationInProgress):
			s.logger.Debug().Int64("member", int64(l.Member())).Msg("renegotiation deferred, offer in flight")
		default:
			m.negotiationFailed(s, l.Member(), err)
		}
	}
}
