package call

import "github.com/dkeye/voicecall/internal/domain"

type Trigger int

const (
	TriggerInitiate Trigger = iota
	TriggerIncoming
	TriggerLocalAccept
	TriggerLocalReject
	TriggerLocalCancel
	TriggerRemoteAccept
	TriggerRemoteReject
	TriggerRemoteCancel
	TriggerMemberJoined
	TriggerLastMemberLeft
	TriggerLocalEnd
	TriggerRemoteEnd
	TriggerRingTimeout
	TriggerMediaFailure
	TriggerNegotiationFailure
	TriggerTransportLost
	TriggerLinkConnected
	// TriggerReset closes the loop from a published terminal status to idle.
	TriggerReset
)

var triggerNames = [...]string{
	TriggerInitiate:           "initiate",
	TriggerIncoming:           "incoming",
	TriggerLocalAccept:        "local_accept",
	TriggerLocalReject:        "local_reject",
	TriggerLocalCancel:        "local_cancel",
	TriggerRemoteAccept:       "remote_accept",
	TriggerRemoteReject:       "remote_reject",
	TriggerRemoteCancel:       "remote_cancel",
	TriggerMemberJoined:       "member_joined",
	TriggerLastMemberLeft:     "last_member_left",
	TriggerLocalEnd:           "local_end",
	TriggerRemoteEnd:          "remote_end",
	TriggerRingTimeout:        "ring_timeout",
	TriggerMediaFailure:       "media_failure",
	TriggerNegotiationFailure: "negotiation_failure",
	TriggerTransportLost:      "transport_lost",
	TriggerLinkConnected:      "link_connected",
	TriggerReset:              "reset",
}

func (t Trigger) String() string {
	if int(t) < 0 || int(t) >= len(triggerNames) {
		return "unknown"
	}
	return triggerNames[t]
}

type edge struct {
	from domain.Status
	on   Trigger
}

var table = map[edge]domain.Status{
	{domain.StatusIdle, TriggerInitiate}: domain.StatusOutgoing,
	{domain.StatusIdle, TriggerIncoming}: domain.StatusIncoming,

	{domain.StatusOutgoing, TriggerRemoteAccept}:       domain.StatusConnecting,
	{domain.StatusOutgoing, TriggerMemberJoined}:       domain.StatusConnecting,
	{domain.StatusOutgoing, TriggerRemoteReject}:       domain.StatusRejected,
	{domain.StatusOutgoing, TriggerRemoteEnd}:          domain.StatusEnded,
	{domain.StatusOutgoing, TriggerLocalCancel}:        domain.StatusCanceled,
	{domain.StatusOutgoing, TriggerLocalEnd}:           domain.StatusCanceled,
	{domain.StatusOutgoing, TriggerRingTimeout}:        domain.StatusCanceled,
	{domain.StatusOutgoing, TriggerMediaFailure}:       domain.StatusError,
	{domain.StatusOutgoing, TriggerNegotiationFailure}: domain.StatusError,
	{domain.StatusOutgoing, TriggerTransportLost}:      domain.StatusError,

	{domain.StatusIncoming, TriggerLocalAccept}:   domain.StatusConnecting,
	{domain.StatusIncoming, TriggerLocalReject}:   domain.StatusRejected,
	{domain.StatusIncoming, TriggerLocalEnd}:      domain.StatusRejected,
	{domain.StatusIncoming, TriggerRemoteCancel}:  domain.StatusCanceled,
	{domain.StatusIncoming, TriggerRemoteReject}:  domain.StatusCanceled,
	{domain.StatusIncoming, TriggerRemoteEnd}:     domain.StatusCanceled,
	{domain.StatusIncoming, TriggerMediaFailure}:  domain.StatusError,
	{domain.StatusIncoming, TriggerTransportLost}: domain.StatusError,

	{domain.StatusConnecting, TriggerMemberJoined}:       domain.StatusConnected,
	{domain.StatusConnecting, TriggerLinkConnected}:      domain.StatusConnected,
	{domain.StatusConnecting, TriggerLastMemberLeft}:     domain.StatusEnded,
	{domain.StatusConnecting, TriggerLocalEnd}:           domain.StatusEnded,
	{domain.StatusConnecting, TriggerRemoteEnd}:          domain.StatusEnded,
	{domain.StatusConnecting, TriggerRemoteReject}:       domain.StatusEnded,
	{domain.StatusConnecting, TriggerMediaFailure}:       domain.StatusError,
	{domain.StatusConnecting, TriggerNegotiationFailure}: domain.StatusError,
	{domain.StatusConnecting, TriggerTransportLost}:      domain.StatusError,

	{domain.StatusConnected, TriggerMemberJoined}:       domain.StatusConnected,
	{domain.StatusConnected, TriggerLinkConnected}:      domain.StatusConnected,
	{domain.StatusConnected, TriggerLastMemberLeft}:     domain.StatusEnded,
	{domain.StatusConnected, TriggerLocalEnd}:           domain.StatusEnded,
	{domain.StatusConnected, TriggerRemoteEnd}:          domain.StatusEnded,
	{domain.StatusConnected, TriggerRemoteReject}:       domain.StatusEnded,
	{domain.StatusConnected, TriggerNegotiationFailure}: domain.StatusError,
	{domain.StatusConnected, TriggerTransportLost}:      domain.StatusError,
}

// Next is the whole transition table. ok is false when the trigger has no
// meaning in the given status; callers treat that as a stale event.
func Next(from domain.Status, on Trigger) (domain.Status, bool) {
	if on == TriggerReset {
		if from.Terminal() {
			return domain.StatusIdle, true
		}
		return from, false
	}
	to, ok := table[edge{from, on}]
	if !ok {
		return from, false
	}
	return to, true
}
