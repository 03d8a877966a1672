package core

import (
	"context"

	"github.com/dkeye/voicecall/internal/domain"
	"github.com/dkeye/voicecall/internal/media"
)

// Capture is the machine's view of the local media manager.
// Only Capture starts or stops hardware; links just read its tracks.
type Capture interface {
	Acquire(ctx context.Context, video bool) error
	ToggleAudio(ctx context.Context) (media.Change, error)
	ToggleVideo(ctx context.Context) (media.Change, error)
	ToggleScreenShare(ctx context.Context) (media.Change, error)
	Release() int
	Tracks() []media.Change
	State() media.State
}

// ChatDirectory is the slice of the chat/presence service the coordinator uses.
type ChatDirectory interface {
	LocalMemberID(ctx context.Context, chat domain.ChatID) (domain.MemberID, error)
	SetNotificationsMuted(muted bool)
}

// CallLog persists finished sessions.
type CallLog interface {
	Record(ctx context.Context, rec domain.CallRecord) error
}
