package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicecall/internal/domain"
)

type ownership int

const (
	notAcquired ownership = iota
	acquired
	released
)

// slot is the tri-state holder of one track kind. A track moves
// acquired -> released exactly once; release on any other state is a no-op.
type slot struct {
	state   ownership
	track   Track
	enabled bool
}

func (s *slot) hold(t Track) {
	s.state = acquired
	s.track = t
	s.enabled = true
}

func (s *slot) held() bool { return s.state == acquired }

func (s *slot) release() Track {
	if s.state != acquired {
		return nil
	}
	t := s.track
	s.state = released
	s.track = nil
	s.enabled = false
	if err := t.Stop(); err != nil {
		log.Warn().Err(err).Str("module", "media").Str("kind", t.Kind().String()).Str("track_id", t.ID()).Msg("stop track")
	}
	return t
}

// Change reports the effect of a toggle on one kind.
type Change struct {
	Kind    Kind
	Track   Track
	Enabled bool
	// Added is set when new hardware was opened and the track must be attached.
	Added bool
	// Removed is set when the track was stopped and must be detached.
	Removed bool
}

// State is a read-only view of local media.
type State struct {
	Audio        bool `json:"audio"`
	AudioEnabled bool `json:"audioEnabled"`
	Video        bool `json:"video"`
	VideoEnabled bool `json:"videoEnabled"`
	Screen       bool `json:"screen"`
}

type Manager struct {
	mu      sync.Mutex
	devices Devices
	slots   [kindCount]slot
}

func NewManager(devices Devices) *Manager {
	return &Manager{devices: devices}
}

// Acquire requests audio always and video when asked. Kinds already held are
// kept as they are. On failure everything opened by this call is released.
func (m *Manager) Acquire(ctx context.Context, video bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kinds := []Kind{KindAudio}
	if video {
		kinds = append(kinds, KindVideo)
	}

	var opened []Kind
	for _, k := range kinds {
		if m.slots[k].held() {
			continue
		}
		t, err := m.open(ctx, k)
		if err != nil {
			for _, o := range opened {
				m.slots[o].release()
			}
			return err
		}
		m.slots[k].hold(t)
		opened = append(opened, k)
	}
	log.Info().Str("module", "media").Bool("video", video).Int("opened", len(opened)).Msg("local media acquired")
	return nil
}

// open tries the default constraints and, when the device is busy, exactly
// one more time with relaxed constraints.
func (m *Manager) open(ctx context.Context, k Kind) (Track, error) {
	t, err := m.devices.Open(ctx, k, DefaultConstraints)
	if err == nil {
		return t, nil
	}
	if errors.Is(err, domain.ErrPermissionDenied) {
		return nil, fmt.Errorf("open %s: %w", k, err)
	}
	if !errors.Is(err, domain.ErrDeviceBusy) {
		return nil, fmt.Errorf("open %s: %w: %v", k, domain.ErrDeviceUnavailable, err)
	}

	log.Warn().Err(err).Str("module", "media").Str("kind", k.String()).Msg("device busy, retrying with relaxed constraints")
	t, err = m.devices.Open(ctx, k, RelaxedConstraints)
	if err == nil {
		return t, nil
	}
	if errors.Is(err, domain.ErrPermissionDenied) {
		return nil, fmt.Errorf("open %s: %w", k, err)
	}
	return nil, fmt.Errorf("open %s: %w: %v", k, domain.ErrDeviceUnavailable, err)
}

func (m *Manager) ToggleAudio(ctx context.Context) (Change, error) {
	return m.toggle(ctx, KindAudio)
}

func (m *Manager) ToggleVideo(ctx context.Context) (Change, error) {
	return m.toggle(ctx, KindVideo)
}

// ToggleScreenShare starts display capture when none is held and stops it
// otherwise; a paused screen share has no meaning to the remote side.
func (m *Manager) ToggleScreenShare(ctx context.Context) (Change, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &m.slots[KindScreen]
	if s.held() {
		t := s.release()
		return Change{Kind: KindScreen, Track: t, Removed: true}, nil
	}
	t, err := m.open(ctx, KindScreen)
	if err != nil {
		return Change{Kind: KindScreen}, err
	}
	s.hold(t)
	return Change{Kind: KindScreen, Track: t, Enabled: true, Added: true}, nil
}

func (m *Manager) toggle(ctx context.Context, k Kind) (Change, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &m.slots[k]
	if s.held() {
		s.enabled = !s.enabled
		return Change{Kind: k, Track: s.track, Enabled: s.enabled}, nil
	}
	t, err := m.open(ctx, k)
	if err != nil {
		return Change{Kind: k}, err
	}
	s.hold(t)
	return Change{Kind: k, Track: t, Enabled: true, Added: true}, nil
}

// Release stops every held track. Safe to call when nothing is held.
func (m *Manager) Release() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.slots {
		if m.slots[k].release() != nil {
			n++
		}
	}
	if n > 0 {
		log.Info().Str("module", "media").Int("stopped", n).Msg("local media released")
	}
	return n
}

// Tracks returns the held tracks with their enabled flag.
func (m *Manager) Tracks() []Change {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Change, 0, len(m.slots))
	for k := range m.slots {
		s := &m.slots[k]
		if s.held() {
			out = append(out, Change{Kind: Kind(k), Track: s.track, Enabled: s.enabled})
		}
	}
	return out
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		Audio:        m.slots[KindAudio].held(),
		AudioEnabled: m.slots[KindAudio].held() && m.slots[KindAudio].enabled,
		Video:        m.slots[KindVideo].held(),
		VideoEnabled: m.slots[KindVideo].held() && m.slots[KindVideo].enabled,
		Screen:       m.slots[KindScreen].held(),
	}
}
