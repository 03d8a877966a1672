package core

import (
	"context"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/voicecall/internal/domain"
	"github.com/dkeye/voicecall/internal/ice"
	"github.com/dkeye/voicecall/internal/media"
)

// PeerLink is one negotiated media connection, to a peer or to the relay.
type PeerLink interface {
	Member() domain.MemberID
	// CreateOffer emits an offer with every attached track. A second call
	// while a negotiation is in flight fails with domain.ErrNegotiationInProgress.
	CreateOffer(ctx context.Context) error
	// ApplyRemoteOffer sets the remote description, drains buffered
	// candidates and emits the answer.
	ApplyRemoteOffer(ctx context.Context, sdp string) error
	// ApplyRemoteAnswer fails with domain.ErrStaleSignal when no offer is outstanding.
	ApplyRemoteAnswer(ctx context.Context, sdp string) error
	// AddICECandidate applies now or buffers until a remote description exists.
	AddICECandidate(c webrtc.ICECandidateInit) error
	AttachLocalTrack(t media.Track) error
	DetachLocalTrack(t media.Track) error
	SetTrackEnabled(t media.Track, enabled bool) error
	// Close never fails and may be called any number of times.
	Close()
}

// LinkHooks are invoked from link goroutines; receivers must not block.
type LinkHooks struct {
	OnRemoteMedia func(domain.RemoteMedia)
	OnConnected   func()
	OnFailed      func(error)
}

type LinkParams struct {
	SessionID string
	Chat      domain.ChatID
	Member    domain.MemberID
	Buffer    *ice.Buffer
	Signals   Signaler
	Hooks     LinkHooks
}

type LinkFactory interface {
	NewLink(ctx context.Context, p LinkParams) (PeerLink, error)
}
