package call

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dkeye/voicecall/internal/domain"
)

func TestNext(t *testing.T) {
	cases := []struct {
		from domain.Status
		on   Trigger
		to   domain.Status
		ok   bool
	}{
		{domain.StatusIdle, TriggerInitiate, domain.StatusOutgoing, true},
		{domain.StatusIdle, TriggerIncoming, domain.StatusIncoming, true},
		{domain.StatusIdle, TriggerLocalEnd, domain.StatusIdle, false},
		{domain.StatusOutgoing, TriggerRemoteAccept, domain.StatusConnecting, true},
		{domain.StatusOutgoing, TriggerMemberJoined, domain.StatusConnecting, true},
		{domain.StatusOutgoing, TriggerRingTimeout, domain.StatusCanceled, true},
		{domain.StatusOutgoing, TriggerLocalEnd, domain.StatusCanceled, true},
		{domain.StatusOutgoing, TriggerRemoteReject, domain.StatusRejected, true},
		{domain.StatusOutgoing, TriggerLocalAccept, domain.StatusOutgoing, false},
		{domain.StatusIncoming, TriggerLocalAccept, domain.StatusConnecting, true},
		{domain.StatusIncoming, TriggerLocalEnd, domain.StatusRejected, true},
		{domain.StatusIncoming, TriggerRemoteCancel, domain.StatusCanceled, true},
		{domain.StatusIncoming, TriggerMediaFailure, domain.StatusError, true},
		{domain.StatusIncoming, TriggerRingTimeout, domain.StatusIncoming, false},
		{domain.StatusConnecting, TriggerMemberJoined, domain.StatusConnected, true},
		{domain.StatusConnecting, TriggerLinkConnected, domain.StatusConnected, true},
		{domain.StatusConnecting, TriggerNegotiationFailure, domain.StatusError, true},
		{domain.StatusConnecting, TriggerRingTimeout, domain.StatusConnecting, false},
		{domain.StatusConnected, TriggerMemberJoined, domain.StatusConnected, true},
		{domain.StatusConnected, TriggerLastMemberLeft, domain.StatusEnded, true},
		{domain.StatusConnected, TriggerTransportLost, domain.StatusError, true},
		{domain.StatusConnected, TriggerLocalAccept, domain.StatusConnected, false},
		{domain.StatusEnded, TriggerReset, domain.StatusIdle, true},
		{domain.StatusError, TriggerReset, domain.StatusIdle, true},
		{domain.StatusConnected, TriggerReset, domain.StatusConnected, false},
	}
	for _, tc := range cases {
		to, ok := Next(tc.from, tc.on)
		assert.Equal(t, tc.ok, ok, "%s on %s", tc.from, tc.on)
		assert.Equal(t, tc.to, to, "%s on %s", tc.from, tc.on)
	}
}

func TestTerminalStatusesHaveNoEdges(t *testing.T) {
	for _, st := range []domain.Status{domain.StatusEnded, domain.StatusRejected, domain.StatusCanceled, domain.StatusError} {
		for tr := TriggerInitiate; tr < TriggerReset; tr++ {
			_, ok := Next(st, tr)
			assert.False(t, ok, "%s on %s", st, tr)
		}
	}
}

func TestEveryEdgeLeavesIdleOrEntersIt(t *testing.T) {
	// Idle is only left by initiate or incoming and only entered by reset.
	for e, to := range table {
		if e.from == domain.StatusIdle {
			assert.Contains(t, []Trigger{TriggerInitiate, TriggerIncoming}, e.on)
		}
		assert.NotEqual(t, domain.StatusIdle, to, "%s on %s", e.from, e.on)
	}
}
