// Package directory is the config-backed chat directory: it knows which
// member id the local user has in each chat and owns the notification
// sound toggle.
package directory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicecall/internal/domain"
)

type Directory struct {
	mu       sync.RWMutex
	members  map[domain.ChatID]domain.MemberID
	fallback domain.MemberID
	muted    atomic.Bool
}

// New copies members. fallback is used for unknown chats; zero disables it.
func New(members map[domain.ChatID]domain.MemberID, fallback domain.MemberID) *Directory {
	d := &Directory{members: make(map[domain.ChatID]domain.MemberID, len(members)), fallback: fallback}
	for chat, id := range members {
		d.members[chat] = id
	}
	return d
}

func (d *Directory) LocalMemberID(_ context.Context, chat domain.ChatID) (domain.MemberID, error) {
	d.mu.RLock()
	id, ok := d.members[chat]
	d.mu.RUnlock()
	if ok {
		return id, nil
	}
	if d.fallback != 0 {
		return d.fallback, nil
	}
	return 0, fmt.Errorf("%w: no local member for chat %d", domain.ErrUnknownChat, chat)
}

// Set records the local member id of a chat.
func (d *Directory) Set(chat domain.ChatID, id domain.MemberID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.members[chat] = id
}

func (d *Directory) SetNotificationsMuted(muted bool) {
	if d.muted.Swap(muted) != muted {
		log.Info().Str("module", "adapters.directory").Bool("muted", muted).Msg("notification sounds")
	}
}

func (d *Directory) NotificationsMuted() bool { return d.muted.Load() }
