package call

import (
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
)

// entry owns one member and, in direct calls, that member's link.
// The relay link lives under domain.RelayMemberID and is never admitted.
type entry struct {
	member   domain.CallMember
	link     core.PeerLink
	admitted bool
	// joined is set when the backend reported the member in the call
	// before we could admit it (we were still ringing).
	joined bool
}

// registry is the per-session member arena. Removing an entry closes its
// link, so no link outlives its member. Owned by the machine goroutine.
type registry struct {
	sid     string
	entries map[domain.MemberID]*entry
	// peak is the largest admitted count seen, kept for the call record.
	peak int
}

func newRegistry(sid string) *registry {
	return &registry{sid: sid, entries: make(map[domain.MemberID]*entry)}
}

func (r *registry) Get(id domain.MemberID) (*entry, bool) {
	e, ok := r.entries[id]
	return e, ok
}

// Ensure returns the member's entry, registering it as pending when absent.
func (r *registry) Ensure(id domain.MemberID, now time.Time) *entry {
	if e, ok := r.entries[id]; ok {
		return e
	}
	e := &entry{member: domain.NewCallMember(id, now)}
	r.entries[id] = e
	log.Debug().Str("module", "app.call.registry").Str("sid", r.sid).Int64("member", int64(id)).Msg("member registered")
	return e
}

// Admit reports whether the member was newly admitted.
func (r *registry) Admit(id domain.MemberID, now time.Time) bool {
	if id == domain.RelayMemberID {
		return false
	}
	e := r.Ensure(id, now)
	if e.admitted {
		return false
	}
	e.admitted = true
	e.member.JoinedAt = now
	if n := r.AdmittedCount(); n > r.peak {
		r.peak = n
	}
	log.Info().Str("module", "app.call.registry").Str("sid", r.sid).Int64("member", int64(id)).Msg("member admitted")
	return true
}

// Remove drops the entry and closes its link. It reports whether the
// member had been admitted.
func (r *registry) Remove(id domain.MemberID) bool {
	e, ok := r.entries[id]
	if !ok {
		return false
	}
	delete(r.entries, id)
	if e.link != nil {
		e.link.Close()
	}
	log.Info().Str("module", "app.call.registry").Str("sid", r.sid).Int64("member", int64(id)).Bool("admitted", e.admitted).Msg("member removed")
	return e.admitted
}

func (r *registry) AdmittedCount() int {
	n := 0
	for _, e := range r.entries {
		if e.admitted {
			n++
		}
	}
	return n
}

// Admitted is the projection view, sorted by member id.
func (r *registry) Admitted() []domain.CallMember {
	out := make([]domain.CallMember, 0, len(r.entries))
	for _, e := range r.entries {
		if e.admitted {
			out = append(out, e.member)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Joined lists members the backend reported before admission was possible.
func (r *registry) Joined() []domain.MemberID {
	var out []domain.MemberID
	for id, e := range r.entries {
		if e.joined && !e.admitted {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *registry) Links() []core.PeerLink {
	out := make([]core.PeerLink, 0, len(r.entries))
	for _, e := range r.entries {
		if e.link != nil {
			out = append(out, e.link)
		}
	}
	return out
}

// CloseAll closes every link and empties the arena. It reports how many
// links were closed.
func (r *registry) CloseAll() int {
	n := 0
	for id, e := range r.entries {
		if e.link != nil {
			e.link.Close()
			n++
		}
		delete(r.entries, id)
	}
	return n
}
