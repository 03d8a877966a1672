package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/dkeye/voicecall/internal/media"
	"github.com/dkeye/voicecall/internal/media/mediatest"
)

const (
	localID domain.MemberID = 100
	bob     domain.MemberID = 2
	carol   domain.MemberID = 3
)

type sent struct {
	kind     string
	chat     domain.ChatID
	member   domain.MemberID
	isCancel bool
	reason   domain.Reason
}

type fakeSignals struct {
	mu   sync.Mutex
	sent []sent
	fail error
}

func (f *fakeSignals) add(s sent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.sent = append(f.sent, s)
	return nil
}

func (f *fakeSignals) SendInitiate(chat domain.ChatID, _ bool, _ domain.Mode) error {
	return f.add(sent{kind: "initiate", chat: chat})
}

func (f *fakeSignals) SendAccept(chat domain.ChatID, from domain.MemberID) error {
	return f.add(sent{kind: "accept", chat: chat, member: from})
}

func (f *fakeSignals) SendReject(chat domain.ChatID, from domain.MemberID, isCancel bool, reason domain.Reason) error {
	return f.add(sent{kind: "reject", chat: chat, member: from, isCancel: isCancel, reason: reason})
}

func (f *fakeSignals) SendEnd(chat domain.ChatID, from domain.MemberID) error {
	return f.add(sent{kind: "end", chat: chat, member: from})
}

func (f *fakeSignals) SendOffer(chat domain.ChatID, member domain.MemberID, _ string) error {
	return f.add(sent{kind: "offer", chat: chat, member: member})
}

func (f *fakeSignals) SendAnswer(chat domain.ChatID, member domain.MemberID, _ string) error {
	return f.add(sent{kind: "answer", chat: chat, member: member})
}

func (f *fakeSignals) SendCandidate(chat domain.ChatID, member domain.MemberID, _ webrtc.ICECandidateInit) error {
	return f.add(sent{kind: "candidate", chat: chat, member: member})
}

func (f *fakeSignals) all() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

func (f *fakeSignals) of(kind string) []sent {
	var out []sent
	for _, s := range f.all() {
		if s.kind == kind {
			out = append(out, s)
		}
	}
	return out
}

type fakeLink struct {
	mu          sync.Mutex
	params      core.LinkParams
	offers      int
	answers     int
	negotiating bool
	remoteSet   bool
	closes      int
	attached    map[string]media.Kind
	disabled    map[string]bool
	applied     []string
	failOffer   error
}

func (l *fakeLink) Member() domain.MemberID { return l.params.Member }

func (l *fakeLink) CreateOffer(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closes > 0 {
		return domain.ErrLinkClosed
	}
	if l.negotiating {
		return domain.ErrNegotiationInProgress
	}
	if l.failOffer != nil {
		return l.failOffer
	}
	l.negotiating = true
	l.offers++
	return l.params.Signals.SendOffer(l.params.Chat, l.params.Member, "offer")
}

func (l *fakeLink) ApplyRemoteOffer(context.Context, string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closes > 0 {
		return domain.ErrLinkClosed
	}
	l.negotiating = false
	l.remoteSet = true
	l.drain()
	l.answers++
	return l.params.Signals.SendAnswer(l.params.Chat, l.params.Member, "answer")
}

func (l *fakeLink) ApplyRemoteAnswer(context.Context, string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.negotiating {
		return domain.ErrStaleSignal
	}
	l.negotiating = false
	l.remoteSet = true
	l.drain()
	return nil
}

func (l *fakeLink) drain() {
	for _, p := range l.params.Buffer.Drain(l.params.Member) {
		l.applied = append(l.applied, p.Candidate.Candidate)
	}
}

func (l *fakeLink) AddICECandidate(c webrtc.ICECandidateInit) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.remoteSet {
		l.params.Buffer.Enqueue(l.params.Member, c)
		return nil
	}
	l.applied = append(l.applied, c.Candidate)
	return nil
}

func (l *fakeLink) AttachLocalTrack(t media.Track) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attached[t.ID()] = t.Kind()
	return nil
}

func (l *fakeLink) DetachLocalTrack(t media.Track) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attached, t.ID())
	return nil
}

func (l *fakeLink) SetTrackEnabled(t media.Track, enabled bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disabled[t.ID()] = !enabled
	return nil
}

func (l *fakeLink) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closes++
}

func (l *fakeLink) kinds() []media.Kind {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []media.Kind
	for _, k := range l.attached {
		out = append(out, k)
	}
	return out
}

func (l *fakeLink) snapshot() (offers, closes int, applied []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.offers, l.closes, append([]string(nil), l.applied...)
}

type fakeLinks struct {
	mu        sync.Mutex
	links     []*fakeLink
	failOffer error
	panicNew  bool
}

func (f *fakeLinks) NewLink(_ context.Context, p core.LinkParams) (core.PeerLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicNew {
		panic("link factory exploded")
	}
	l := &fakeLink{
		params:    p,
		attached:  make(map[string]media.Kind),
		disabled:  make(map[string]bool),
		failOffer: f.failOffer,
	}
	f.links = append(f.links, l)
	return l, nil
}

func (f *fakeLinks) all() []*fakeLink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeLink(nil), f.links...)
}

func (f *fakeLinks) only(t *testing.T) *fakeLink {
	t.Helper()
	all := f.all()
	require.Len(t, all, 1)
	return all[0]
}

type fakeChats struct {
	mu    sync.Mutex
	muted []bool
}

func (f *fakeChats) LocalMemberID(context.Context, domain.ChatID) (domain.MemberID, error) {
	return localID, nil
}

func (f *fakeChats) SetNotificationsMuted(muted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muted = append(f.muted, muted)
}

type fakeHistory struct {
	mu      sync.Mutex
	records []domain.CallRecord
	explode bool
}

func (f *fakeHistory) Record(_ context.Context, rec domain.CallRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.explode {
		panic("history store exploded")
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeHistory) all() []domain.CallRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.CallRecord(nil), f.records...)
}

type harness struct {
	m       *Machine
	devices *mediatest.Devices
	links   *fakeLinks
	signals *fakeSignals
	chats   *fakeChats
	history *fakeHistory
	states  <-chan domain.CallState
}

func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()
	cfg := DefaultConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}
	h := &harness{
		devices: mediatest.NewDevices(),
		links:   &fakeLinks{},
		signals: &fakeSignals{},
		chats:   &fakeChats{},
		history: &fakeHistory{},
	}
	h.m = New(cfg, Deps{
		Capture: media.NewManager(h.devices),
		Links:   h.links,
		Signals: h.signals,
		Chats:   h.chats,
		History: h.history,
	})
	states, unsubscribe := h.m.Subscribe()
	h.states = states

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.m.Run(ctx)
	}()
	t.Cleanup(func() {
		unsubscribe()
		cancel()
		<-done
	})
	return h
}

// statuses drains the subscription and returns the distinct status sequence.
func (h *harness) statuses() []domain.Status {
	var out []domain.Status
	for {
		select {
		case st := <-h.states:
			if len(out) == 0 || out[len(out)-1] != st.Status {
				out = append(out, st.Status)
			}
		default:
			return out
		}
	}
}

func (h *harness) eventuallyStatus(t *testing.T, want domain.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.m.Snapshot().Status == want
	}, 2*time.Second, 5*time.Millisecond, "want %s, have %s", want, h.m.Snapshot().Status)
}

// sync waits until every command posted so far has run.
func (h *harness) sync(t *testing.T) {
	t.Helper()
	require.NoError(t, h.m.do(context.Background(), func() error { return nil }))
}

var errBoom = errors.New("boom")
