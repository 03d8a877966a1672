package core

import (
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/voicecall/internal/domain"
)

// Signaler emits outbound call signaling. The event router implements it;
// the machine and links never see the wire format.
type Signaler interface {
	SendInitiate(chat domain.ChatID, video bool, mode domain.Mode) error
	SendAccept(chat domain.ChatID, from domain.MemberID) error
	SendReject(chat domain.ChatID, from domain.MemberID, isCallerCancel bool, reason domain.Reason) error
	SendEnd(chat domain.ChatID, from domain.MemberID) error
	SendOffer(chat domain.ChatID, member domain.MemberID, sdp string) error
	SendAnswer(chat domain.ChatID, member domain.MemberID, sdp string) error
	SendCandidate(chat domain.ChatID, member domain.MemberID, c webrtc.ICECandidateInit) error
}
