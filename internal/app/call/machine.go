// Package call is the call session coordinator: one actor goroutine owns the
// session, its member registry, timers and ICE buffer. Every entry point is
// a command on one ordered queue.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/dkeye/voicecall/internal/metrics"
)

var errPanicked = errors.New("call command panicked")

type Config struct {
	RingTimeout    time.Duration
	TransportGrace time.Duration
	Policy         BusyPolicy
	// BusyQueue bounds the calls held by QueueBusy.
	BusyQueue int
	// BusyLimit busy replies per caller within BusyWindow.
	BusyLimit  int
	BusyWindow time.Duration
}

func DefaultConfig() Config {
	return Config{
		RingTimeout:    60 * time.Second,
		TransportGrace: 15 * time.Second,
		Policy:         DeclineBusy,
		BusyQueue:      1,
		BusyLimit:      3,
		BusyWindow:     30 * time.Second,
	}
}

type Deps struct {
	Capture core.Capture
	Links   core.LinkFactory
	Signals core.Signaler
	Chats   core.ChatDirectory
	// History is optional.
	History core.CallLog
	Metrics *metrics.Metrics
	Now     func() time.Time
}

type command func()

type Machine struct {
	cfg     Config
	capture core.Capture
	links   core.LinkFactory
	signals core.Signaler
	chats   core.ChatDirectory
	history core.CallLog
	metrics *metrics.Metrics
	now     func() time.Time

	cmds    chan command
	done    chan struct{}
	started atomic.Bool

	state atomic.Pointer[domain.CallState]

	subMu   sync.Mutex
	subs    map[int]chan domain.CallState
	nextSub int

	// Owned by the actor goroutine.
	runCtx  context.Context
	sess    *session
	lastErr domain.Reason
	online  bool
	queued  []incomingCall
	limiter *busyLimiter
}

func New(cfg Config, deps Deps) *Machine {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	m := &Machine{
		cfg:     cfg,
		capture: deps.Capture,
		links:   deps.Links,
		signals: deps.Signals,
		chats:   deps.Chats,
		history: deps.History,
		metrics: deps.Metrics,
		now:     deps.Now,
		cmds:    make(chan command, 256),
		done:    make(chan struct{}),
		subs:    make(map[int]chan domain.CallState),
		runCtx:  context.Background(),
		online:  true,
		limiter: newBusyLimiter(cfg.BusyLimit, cfg.BusyWindow),
	}
	idle := domain.Idle(domain.ReasonNone)
	m.state.Store(&idle)
	return m
}

// Run executes commands until ctx is done. A live session is hung up on exit.
func (m *Machine) Run(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return errors.New("call machine already running")
	}
	defer close(m.done)
	m.runCtx = ctx
	log.Info().Str("module", "app.call").Msg("machine started")

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return nil
		case cmd := <-m.cmds:
			m.exec(cmd)
		}
	}
}

func (m *Machine) exec(cmd command) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "app.call").Interface("panic", r).Msg("command panicked")
			if s := m.sess; s != nil {
				if s.closing {
					// Teardown was cut short; the session is already dead.
					m.sess = nil
					m.publish()
					m.post(m.replayQueued)
					return
				}
				s.reason = domain.ReasonInternal
				m.lastErr = domain.ReasonInternal
				m.forceEnd(domain.StatusError)
			}
		}
	}()
	cmd()
}

func (m *Machine) shutdown() {
	if m.sess == nil {
		return
	}
	log.Info().Str("module", "app.call").Str("sid", m.sess.id).Msg("machine stopping, hanging up")
	m.endCall(domain.ReasonHangup)
}

// do runs fn on the actor and waits for its result.
func (m *Machine) do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	cmd := func() {
		err := errPanicked
		defer func() { errc <- err }()
		err = fn()
	}
	select {
	case m.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return domain.ErrStopped
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return domain.ErrStopped
	}
}

// post queues fn without waiting. Used by link hooks and timers, which run
// on foreign goroutines and must never block on the actor.
func (m *Machine) post(fn func()) {
	select {
	case m.cmds <- fn:
	default:
		go func() {
			select {
			case m.cmds <- fn:
			case <-m.done:
			}
		}()
	}
}

// Snapshot returns the latest published projection.
func (m *Machine) Snapshot() domain.CallState {
	return *m.state.Load()
}

// Subscribe streams projections, starting with the current one. A slow
// subscriber loses intermediate states, never the latest one.
func (m *Machine) Subscribe() (<-chan domain.CallState, func()) {
	ch := make(chan domain.CallState, 16)
	ch <- m.Snapshot()

	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subs, id)
			m.subMu.Unlock()
		})
	}
}

func (m *Machine) publish() {
	st := m.project()
	m.state.Store(&st)

	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- st:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st:
		default:
		}
	}
}

func (m *Machine) project() domain.CallState {
	s := m.sess
	if s == nil {
		return domain.Idle(m.lastErr)
	}
	local := m.capture.State()
	return domain.CallState{
		SessionID:         s.id,
		ChatID:            s.chat,
		Mode:              s.mode,
		Status:            s.status,
		IsVideoEnabled:    local.VideoEnabled,
		IsAudioEnabled:    local.AudioEnabled,
		IsScreenSharing:   local.Screen,
		InitiatorMemberID: s.initiator,
		LocalMemberID:     s.local,
		StartedAt:         s.startedAt,
		ConnectedAt:       s.connectedAt,
		EndedAt:           s.endedAt,
		Reason:            s.reason,
		Members:           s.members.Admitted(),
		LastError:         m.lastErr,
	}
}

// transportErr marks an outbound send failure as a transport problem.
func transportErr(err error) error {
	if err == nil || errors.Is(err, domain.ErrTransportDisconnected) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrTransportDisconnected, err)
}
