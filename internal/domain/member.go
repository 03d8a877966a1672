package domain

import "time"

// CallMember represents one remote participant admitted to a call.
// No transport or lifecycle logic here.
type CallMember struct {
	ID              MemberID  `json:"memberId"`
	IsMuted         bool      `json:"isMuted"`
	IsVideoEnabled  bool      `json:"isVideoEnabled"`
	IsScreenSharing bool      `json:"isScreenSharing"`
	JoinedAt        time.Time `json:"joinedAt"`
}

// NewCallMember avoids raw literals in the machine and keeps construction obvious.
// A member without any remote audio track yet is muted.
func NewCallMember(id MemberID, now time.Time) CallMember {
	return CallMember{ID: id, IsMuted: true, JoinedAt: now}
}

// RemoteMedia describes which kinds a remote link currently delivers.
type RemoteMedia struct {
	Audio  bool
	Video  bool
	Screen bool
}

// Apply derives member-level flags from remote media presence.
// Absence of audio means muted, not an error.
func (m *CallMember) Apply(rm RemoteMedia) {
	m.IsMuted = !rm.Audio
	m.IsVideoEnabled = rm.Video
	m.IsScreenSharing = rm.Screen
}
