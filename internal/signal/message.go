// Package signal defines the closed set of call signaling messages and their
// JSON envelope. Every message kind is a distinct Go type implementing Message;
// the unexported marker keeps the set closed to this package.
package signal

import (
	"github.com/dkeye/voicecall/internal/domain"
)

type Kind string

const (
	KindInitiate     Kind = "call.initiate"
	KindIncoming     Kind = "call.incoming"
	KindAccept       Kind = "call.accept"
	KindReject       Kind = "call.reject"
	KindEnd          Kind = "call.end"
	KindMemberJoined Kind = "call.member.joined"
	KindMemberLeft   Kind = "call.member.left"
	KindOffer        Kind = "call.sdp.offer"
	KindAnswer       Kind = "call.sdp.answer"
	KindCandidate    Kind = "call.ice.candidate"
)

// Prefix selects the call stream on a multiplexed transport.
const Prefix = "call."

type Message interface {
	Kind() Kind
	Chat() domain.ChatID
	message()
}

type Initiate struct {
	ChatID      domain.ChatID `json:"chatId"`
	IsVideoCall bool          `json:"isVideoCall"`
	IsGroupCall bool          `json:"isGroupCall"`
	IsBroadcast bool          `json:"isBroadcast,omitempty"`
}

type Incoming struct {
	ChatID       domain.ChatID   `json:"chatId"`
	FromMemberID domain.MemberID `json:"fromMemberId"`
	IsVideoCall  bool            `json:"isVideoCall"`
	IsGroupCall  bool            `json:"isGroupCall"`
	IsBroadcast  bool            `json:"isBroadcast,omitempty"`
}

type Accept struct {
	ChatID       domain.ChatID   `json:"chatId"`
	FromMemberID domain.MemberID `json:"fromMemberId"`
}

type Reject struct {
	ChatID         domain.ChatID   `json:"chatId"`
	FromMemberID   domain.MemberID `json:"fromMemberId"`
	IsCallerCancel bool            `json:"isCallerCancel,omitempty"`
	Reason         domain.Reason   `json:"reason,omitempty"`
}

type End struct {
	ChatID       domain.ChatID   `json:"chatId"`
	FromMemberID domain.MemberID `json:"fromMemberId"`
}

type MemberJoined struct {
	ChatID   domain.ChatID   `json:"chatId"`
	MemberID domain.MemberID `json:"memberId"`
}

type MemberLeft struct {
	ChatID   domain.ChatID   `json:"chatId"`
	MemberID domain.MemberID `json:"memberId"`
}

type Offer struct {
	ChatID   domain.ChatID   `json:"chatId"`
	MemberID domain.MemberID `json:"memberId"`
	SDP      string          `json:"sdp"`
}

type Answer struct {
	ChatID   domain.ChatID   `json:"chatId"`
	MemberID domain.MemberID `json:"memberId"`
	SDP      string          `json:"sdp"`
}

type Candidate struct {
	ChatID        domain.ChatID   `json:"chatId"`
	MemberID      domain.MemberID `json:"memberId"`
	Candidate     string          `json:"candidate"`
	SDPMid        string          `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16         `json:"sdpMLineIndex,omitempty"`
}

func (Initiate) Kind() Kind     { return KindInitiate }
func (Incoming) Kind() Kind     { return KindIncoming }
func (Accept) Kind() Kind       { return KindAccept }
func (Reject) Kind() Kind       { return KindReject }
func (End) Kind() Kind          { return KindEnd }
func (MemberJoined) Kind() Kind { return KindMemberJoined }
func (MemberLeft) Kind() Kind   { return KindMemberLeft }
func (Offer) Kind() Kind        { return KindOffer }
func (Answer) Kind() Kind       { return KindAnswer }
func (Candidate) Kind() Kind    { return KindCandidate }

func (m Initiate) Chat() domain.ChatID     { return m.ChatID }
func (m Incoming) Chat() domain.ChatID     { return m.ChatID }
func (m Accept) Chat() domain.ChatID       { return m.ChatID }
func (m Reject) Chat() domain.ChatID       { return m.ChatID }
func (m End) Chat() domain.ChatID          { return m.ChatID }
func (m MemberJoined) Chat() domain.ChatID { return m.ChatID }
func (m MemberLeft) Chat() domain.ChatID   { return m.ChatID }
func (m Offer) Chat() domain.ChatID        { return m.ChatID }
func (m Answer) Chat() domain.ChatID       { return m.ChatID }
func (m Candidate) Chat() domain.ChatID    { return m.ChatID }

func (Initiate) message()     {}
func (Incoming) message()     {}
func (Accept) message()       {}
func (Reject) message()       {}
func (End) message()          {}
func (MemberJoined) message() {}
func (MemberLeft) message()   {}
func (Offer) message()        {}
func (Answer) message()       {}
func (Candidate) message()    {}
