package call

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicecall/internal/domain"
	"github.com/dkeye/voicecall/internal/ice"
)

// session is the single live call. Everything it owns (links, timers,
// buffered candidates) dies with it.
type session struct {
	id        string
	chat      domain.ChatID
	mode      domain.Mode
	status    domain.Status
	outgoing  bool
	video     bool
	initiator domain.MemberID
	local     domain.MemberID
	// peer is the one remote party of a direct call, zero until known.
	peer domain.MemberID

	startedAt   time.Time
	connectedAt time.Time
	endedAt     time.Time
	reason      domain.Reason

	members *registry
	buffer  *ice.Buffer

	ringTimer  *time.Timer
	graceTimer *time.Timer
	closing    bool

	logger zerolog.Logger
}

type incomingCall struct {
	chat  domain.ChatID
	from  domain.MemberID
	video bool
	mode  domain.Mode
}

func (m *Machine) newSession(chat domain.ChatID, mode domain.Mode, video, outgoing bool, initiator, local domain.MemberID) *session {
	id := uuid.NewString()
	s := &session{
		id:        id,
		chat:      chat,
		mode:      mode,
		status:    domain.StatusIdle,
		outgoing:  outgoing,
		video:     video,
		initiator: initiator,
		local:     local,
		startedAt: m.now(),
		members:   newRegistry(id),
		buffer:    ice.NewBuffer(),
		logger: log.With().
			Str("module", "app.call").
			Str("sid", id).
			Int64("chat", int64(chat)).
			Str("mode", mode.String()).
			Logger(),
	}
	if !outgoing && !mode.UsesRelay() {
		s.peer = initiator
	}
	return s
}

// foreign reports whether member is someone other than the remote party of
// a direct call. Before a caller learns who answered, nobody is foreign.
func (s *session) foreign(member domain.MemberID) bool {
	return !s.mode.UsesRelay() && s.peer != 0 && member != s.peer
}

// begin installs s as the live session.
func (m *Machine) begin(s *session, t Trigger) {
	s.status, _ = Next(domain.StatusIdle, t)
	m.sess = s
	m.lastErr = domain.ReasonNone
	m.chats.SetNotificationsMuted(true)
	m.metrics.RecordCallStarted(s.mode, s.outgoing)
	if !m.online {
		m.startGrace(s)
	}
	s.logger.Info().Bool("outgoing", s.outgoing).Bool("video", s.video).Int64("initiator", int64(s.initiator)).Msg("session started")
	m.publish()
}

// current reports whether sid still names the live, non-closing session.
func (m *Machine) current(sid string) (*session, bool) {
	s := m.sess
	if s == nil || s.id != sid || s.closing {
		return nil, false
	}
	return s, true
}

// active returns the live session for chat.
func (m *Machine) active(chat domain.ChatID) (*session, bool) {
	s := m.sess
	if s == nil || s.chat != chat || s.closing || !s.status.Live() {
		return nil, false
	}
	return s, true
}

// fire applies t. A terminal result tears the session down. It reports
// whether the trigger was valid in the current status.
func (m *Machine) fire(t Trigger) bool {
	s := m.sess
	if s == nil || s.closing {
		return false
	}
	next, ok := Next(s.status, t)
	if !ok {
		s.logger.Debug().Str("status", s.status.String()).Str("trigger", t.String()).Msg("trigger ignored")
		return false
	}
	prev := s.status
	s.status = next
	if next == domain.StatusConnected && s.connectedAt.IsZero() {
		s.connectedAt = m.now()
	}
	if prev != next {
		s.logger.Info().Str("from", prev.String()).Str("to", next.String()).Str("trigger", t.String()).Msg("transition")
	}
	if next.Terminal() {
		m.teardown()
		return true
	}
	if prev != next {
		m.publish()
	}
	return true
}

// forceEnd tears down into status even when no table edge exists, for
// failures that must not leave a session behind.
func (m *Machine) forceEnd(status domain.Status) {
	s := m.sess
	if s == nil || s.closing {
		return
	}
	s.logger.Warn().Str("from", s.status.String()).Str("to", status.String()).Msg("forced end")
	s.status = status
	m.teardown()
}

// teardown runs exactly once per session, in order: stop accepting
// signals, close links, release capture, clear buffer and timers, publish
// the terminal state, reset to idle.
func (m *Machine) teardown() {
	s := m.sess
	if s == nil || s.closing {
		return
	}
	s.closing = true

	links := s.members.CloseAll()
	tracks := m.capture.Release()

	dropped := s.buffer.Reset()
	stopTimer(&s.ringTimer)
	stopTimer(&s.graceTimer)

	s.endedAt = m.now()
	if s.reason == domain.ReasonNone {
		s.reason = defaultReason(s.status)
	}
	m.publish()

	s.contain("metrics", func() {
		m.metrics.RecordCandidatesDropped(dropped)
		m.metrics.RecordCallEnded(s.status, s.reason, s.connectedDuration())
	})
	s.contain("history", func() { m.record(s) })
	s.contain("unmute", func() { m.chats.SetNotificationsMuted(false) })

	s.logger.Info().
		Str("status", s.status.String()).
		Str("reason", string(s.reason)).
		Int("links_closed", links).
		Int("tracks_stopped", tracks).
		Int("candidates_dropped", dropped).
		Msg("session torn down")

	m.reset()
}

// reset drops the finished session and lets a queued call in.
func (m *Machine) reset() {
	m.sess = nil
	m.publish()
	m.replayQueued()
}

// contain runs one teardown side effect. A panic there is logged and the
// teardown goes on to idle.
func (s *session) contain(step string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Str("step", step).Msg("teardown step panicked")
		}
	}()
	fn()
}

func defaultReason(st domain.Status) domain.Reason {
	switch st {
	case domain.StatusCanceled:
		return domain.ReasonCanceled
	case domain.StatusRejected:
		return domain.ReasonDeclined
	case domain.StatusError:
		return domain.ReasonInternal
	default:
		return domain.ReasonHangup
	}
}

func (s *session) connectedDuration() time.Duration {
	if s.connectedAt.IsZero() {
		return 0
	}
	return s.endedAt.Sub(s.connectedAt)
}

func (m *Machine) record(s *session) {
	if m.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := m.history.Record(ctx, domain.CallRecord{
		SessionID:   s.id,
		ChatID:      s.chat,
		Mode:        s.mode,
		Outgoing:    s.outgoing,
		Video:       s.video,
		Initiator:   s.initiator,
		Status:      s.status,
		Reason:      s.reason,
		Members:     s.members.peak,
		StartedAt:   s.startedAt,
		ConnectedAt: s.connectedAt,
		EndedAt:     s.endedAt,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("record call history")
	}
}

// after arms a timer whose callback runs on the actor, and only while sid
// is still the live session.
func (m *Machine) after(s *session, d time.Duration, fn func(s *session)) *time.Timer {
	sid := s.id
	return time.AfterFunc(d, func() {
		m.post(func() {
			if cur, ok := m.current(sid); ok {
				fn(cur)
			}
		})
	})
}

func stopTimer(t **time.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (m *Machine) startGrace(s *session) {
	if s.graceTimer != nil || m.cfg.TransportGrace <= 0 {
		return
	}
	s.logger.Warn().Dur("grace", m.cfg.TransportGrace).Msg("transport down, grace started")
	var t *time.Timer
	t = m.after(s, m.cfg.TransportGrace, func(s *session) {
		if s.graceTimer != t {
			return
		}
		s.graceTimer = nil
		s.reason = domain.ReasonTransportLost
		m.lastErr = domain.ReasonTransportLost
		m.fire(TriggerTransportLost)
	})
	s.graceTimer = t
}
