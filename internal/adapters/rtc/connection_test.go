package rtc

import (
	"context"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/dkeye/voicecall/internal/ice"
	"github.com/dkeye/voicecall/internal/media"
	"github.com/dkeye/voicecall/internal/media/mediatest"
)

type recordingSignals struct {
	mu         sync.Mutex
	offers     []string
	answers    []string
	candidates int
}

func (r *recordingSignals) SendInitiate(domain.ChatID, bool, domain.Mode) error { return nil }
func (r *recordingSignals) SendAccept(domain.ChatID, domain.MemberID) error     { return nil }
func (r *recordingSignals) SendReject(domain.ChatID, domain.MemberID, bool, domain.Reason) error {
	return nil
}
func (r *recordingSignals) SendEnd(domain.ChatID, domain.MemberID) error { return nil }

func (r *recordingSignals) SendOffer(_ domain.ChatID, _ domain.MemberID, sdp string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offers = append(r.offers, sdp)
	return nil
}

func (r *recordingSignals) SendAnswer(_ domain.ChatID, _ domain.MemberID, sdp string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answers = append(r.answers, sdp)
	return nil
}

func (r *recordingSignals) SendCandidate(domain.ChatID, domain.MemberID, webrtc.ICECandidateInit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.candidates++
	return nil
}

func (r *recordingSignals) lastOffer() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.offers[len(r.offers)-1]
}

func (r *recordingSignals) lastAnswer() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.answers[len(r.answers)-1]
}

var _ core.Signaler = (*recordingSignals)(nil)

func newTestLink(t *testing.T, member domain.MemberID, buf *ice.Buffer) (*Link, *recordingSignals) {
	t.Helper()
	f, err := NewFactory(Config{})
	require.NoError(t, err)
	sig := &recordingSignals{}
	pl, err := f.NewLink(context.Background(), core.LinkParams{
		SessionID: "sid",
		Chat:      7,
		Member:    member,
		Buffer:    buf,
		Signals:   sig,
	})
	require.NoError(t, err)
	l := pl.(*Link)
	t.Cleanup(l.Close)
	return l, sig
}

func TestOfferAnswerRoundTrip(t *testing.T) {
	ctx := context.Background()
	a, sigA := newTestLink(t, 2, ice.NewBuffer())
	b, sigB := newTestLink(t, 1, ice.NewBuffer())

	require.NoError(t, a.AttachLocalTrack(mediatest.NewTrack("mic", media.KindAudio)))
	require.NoError(t, a.CreateOffer(ctx))
	require.NoError(t, b.ApplyRemoteOffer(ctx, sigA.lastOffer()))
	require.NoError(t, a.ApplyRemoteAnswer(ctx, sigB.lastAnswer()))

	assert.Equal(t, webrtc.SignalingStateStable, a.pc.SignalingState())
	assert.Equal(t, webrtc.SignalingStateStable, b.pc.SignalingState())
}

func TestSecondOfferWhileNegotiating(t *testing.T) {
	ctx := context.Background()
	a, _ := newTestLink(t, 2, ice.NewBuffer())
	require.NoError(t, a.AttachLocalTrack(mediatest.NewTrack("mic", media.KindAudio)))

	require.NoError(t, a.CreateOffer(ctx))
	assert.ErrorIs(t, a.CreateOffer(ctx), domain.ErrNegotiationInProgress)
}

func TestAnswerWithoutOfferIsStale(t *testing.T) {
	a, _ := newTestLink(t, 2, ice.NewBuffer())
	err := a.ApplyRemoteAnswer(context.Background(), "v=0")
	assert.ErrorIs(t, err, domain.ErrStaleSignal)
}

func TestCandidatesBufferedUntilRemoteDescription(t *testing.T) {
	ctx := context.Background()
	buf := ice.NewBuffer()
	a, sigA := newTestLink(t, 2, ice.NewBuffer())
	b, _ := newTestLink(t, 1, buf)

	cand := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2130706431 10.0.0.1 5000 typ host"}
	require.NoError(t, b.AddICECandidate(cand))
	require.NoError(t, b.AddICECandidate(cand))
	assert.Equal(t, 2, buf.Len(1))

	require.NoError(t, a.AttachLocalTrack(mediatest.NewTrack("mic", media.KindAudio)))
	require.NoError(t, a.CreateOffer(ctx))
	require.NoError(t, b.ApplyRemoteOffer(ctx, sigA.lastOffer()))

	assert.Zero(t, buf.Len(1), "buffer drained once the remote description is set")
}

func TestAttachIsIdempotent(t *testing.T) {
	a, _ := newTestLink(t, 2, ice.NewBuffer())
	mic := mediatest.NewTrack("mic", media.KindAudio)

	require.NoError(t, a.AttachLocalTrack(mic))
	require.NoError(t, a.AttachLocalTrack(mic))
	assert.Len(t, a.senders, 1)

	require.NoError(t, a.SetTrackEnabled(mic, false))
	require.NoError(t, a.SetTrackEnabled(mic, true))

	require.NoError(t, a.DetachLocalTrack(mic))
	require.NoError(t, a.DetachLocalTrack(mic))
	assert.Empty(t, a.senders)
}

func TestClosedLinkRejectsWork(t *testing.T) {
	a, _ := newTestLink(t, 2, ice.NewBuffer())
	a.Close()
	a.Close()

	assert.ErrorIs(t, a.CreateOffer(context.Background()), domain.ErrLinkClosed)
	assert.ErrorIs(t, a.AddICECandidate(webrtc.ICECandidateInit{Candidate: "x"}), domain.ErrLinkClosed)
	assert.ErrorIs(t, a.AttachLocalTrack(mediatest.NewTrack("mic", media.KindAudio)), domain.ErrLinkClosed)
}

func TestRemoteKind(t *testing.T) {
	assert.Equal(t, media.KindAudio, remoteKind(webrtc.RTPCodecTypeAudio, "x"))
	assert.Equal(t, media.KindVideo, remoteKind(webrtc.RTPCodecTypeVideo, "local"))
	assert.Equal(t, media.KindScreen, remoteKind(webrtc.RTPCodecTypeVideo, media.ScreenStreamID))
}

func TestPresenceSkipsDeletedTracks(t *testing.T) {
	live := &remoteTrack{kind: media.KindAudio}
	gone := &remoteTrack{kind: media.KindScreen}
	gone.MarkDelete()

	rm := presence(map[string]*remoteTrack{"a": live, "s": gone})
	assert.Equal(t, domain.RemoteMedia{Audio: true}, rm)
}
