package domain

import "time"

// CallRecord is what remains of a session once it is torn down.
type CallRecord struct {
	SessionID   string
	ChatID      ChatID
	Mode        Mode
	Outgoing    bool
	Video       bool
	Initiator   MemberID
	Status      Status
	Reason      Reason
	Members     int
	StartedAt   time.Time
	ConnectedAt time.Time
	EndedAt     time.Time
}

// Duration is the connected time, zero when the call never connected.
func (r CallRecord) Duration() time.Duration {
	if r.ConnectedAt.IsZero() || r.EndedAt.Before(r.ConnectedAt) {
		return 0
	}
	return r.EndedAt.Sub(r.ConnectedAt)
}
