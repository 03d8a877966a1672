// Package domain contains call entities without logic, just meta-data
package domain

import (
	"strconv"
	"time"
)

type (
	ChatID   int64
	MemberID int64
)

// RelayMemberID addresses the shared media relay in group and broadcast calls.
const RelayMemberID MemberID = 0

func (id ChatID) String() string   { return strconv.FormatInt(int64(id), 10) }
func (id MemberID) String() string { return strconv.FormatInt(int64(id), 10) }

type Mode int

const (
	ModeDirect Mode = iota
	ModeGroup
	ModeBroadcast
)

func (m Mode) String() string {
	switch m {
	case ModeDirect:
		return "direct"
	case ModeGroup:
		return "group"
	case ModeBroadcast:
		return "broadcast"
	default:
		return "unknown"
	}
}

// UsesRelay reports whether media is routed through the shared relay link.
func (m Mode) UsesRelay() bool { return m == ModeGroup || m == ModeBroadcast }

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Mode) UnmarshalText(b []byte) error {
	mode, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "direct":
		return ModeDirect, nil
	case "group":
		return ModeGroup, nil
	case "broadcast":
		return ModeBroadcast, nil
	default:
		return ModeDirect, ErrUnknownMode
	}
}

// ModeFromFlags maps the wire flags of call.initiate / call.incoming.
func ModeFromFlags(isGroup, isBroadcast bool) Mode {
	switch {
	case isBroadcast:
		return ModeBroadcast
	case isGroup:
		return ModeGroup
	default:
		return ModeDirect
	}
}

type Status int

const (
	StatusIdle Status = iota
	StatusOutgoing
	StatusIncoming
	StatusConnecting
	StatusConnected
	StatusEnded
	StatusRejected
	StatusCanceled
	StatusError
)

var statusNames = [...]string{
	StatusIdle:       "idle",
	StatusOutgoing:   "outgoing",
	StatusIncoming:   "incoming",
	StatusConnecting: "connecting",
	StatusConnected:  "connected",
	StatusEnded:      "ended",
	StatusRejected:   "rejected",
	StatusCanceled:   "canceled",
	StatusError:      "error",
}

func (s Status) String() string {
	if int(s) < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Terminal statuses are published once and then converge to StatusIdle.
func (s Status) Terminal() bool {
	switch s {
	case StatusEnded, StatusRejected, StatusCanceled, StatusError:
		return true
	}
	return false
}

// Live statuses accept call signaling.
func (s Status) Live() bool {
	switch s {
	case StatusOutgoing, StatusIncoming, StatusConnecting, StatusConnected:
		return true
	}
	return false
}

// Reason travels on call.reject and is recorded when a session ends.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonHangup            Reason = "hangup"
	ReasonRemoteHangup      Reason = "remote_hangup"
	ReasonDeclined          Reason = "declined"
	ReasonCanceled          Reason = "canceled"
	ReasonBusy              Reason = "busy"
	ReasonTimeout           Reason = "timeout"
	ReasonPermissionDenied  Reason = "permission_denied"
	ReasonDeviceUnavailable Reason = "device_unavailable"
	ReasonNegotiationFailed Reason = "negotiation_failed"
	ReasonTransportLost     Reason = "transport_lost"
	ReasonMembersLeft       Reason = "members_left"
	ReasonInternal          Reason = "internal_error"
)

// CallState is the read-only projection handed to the UI layer.
type CallState struct {
	SessionID         string       `json:"sessionId,omitempty"`
	ChatID            ChatID       `json:"chatId,omitempty"`
	Mode              Mode         `json:"mode"`
	Status            Status       `json:"status"`
	IsVideoEnabled    bool         `json:"isVideoEnabled"`
	IsAudioEnabled    bool         `json:"isAudioEnabled"`
	IsScreenSharing   bool         `json:"isScreenSharing"`
	InitiatorMemberID MemberID     `json:"initiatorMemberId,omitempty"`
	LocalMemberID     MemberID     `json:"localMemberId,omitempty"`
	StartedAt         time.Time    `json:"startedAt,omitzero"`
	ConnectedAt       time.Time    `json:"connectedAt,omitzero"`
	EndedAt           time.Time    `json:"endedAt,omitzero"`
	Reason            Reason       `json:"reason,omitempty"`
	Members           []CallMember `json:"members"`
	LastError         Reason       `json:"lastError,omitempty"`
}

// Idle is the projection of a coordinator without a session.
func Idle(lastErr Reason) CallState {
	return CallState{Status: StatusIdle, Members: []CallMember{}, LastError: lastErr}
}
