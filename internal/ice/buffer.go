// Package ice holds remote ICE candidates that arrive before the link able
// to apply them is ready.
package ice

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/voicecall/internal/domain"
)

// Pending is one buffered candidate.
type Pending struct {
	MemberID   domain.MemberID
	Candidate  webrtc.ICECandidateInit
	ReceivedAt time.Time
}

// Buffer is an append-only per-member queue. One Buffer belongs to exactly
// one call session; it is reset when that session is torn down.
type Buffer struct {
	mu     sync.Mutex
	queues map[domain.MemberID][]Pending
	now    func() time.Time
}

func NewBuffer() *Buffer {
	return &Buffer{
		queues: make(map[domain.MemberID][]Pending),
		now:    time.Now,
	}
}

func (b *Buffer) Enqueue(member domain.MemberID, c webrtc.ICECandidateInit) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues[member] = append(b.queues[member], Pending{
		MemberID:   member,
		Candidate:  c,
		ReceivedAt: b.now(),
	})
}

// Drain returns and clears the member's candidates in arrival order.
func (b *Buffer) Drain(member domain.MemberID) []Pending {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.queues[member]
	delete(b.queues, member)
	return out
}

func (b *Buffer) Len(member domain.MemberID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[member])
}

// Total counts buffered candidates across all members.
func (b *Buffer) Total() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, q := range b.queues {
		n += len(q)
	}
	return n
}

// Reset discards everything and reports how many candidates were dropped.
func (b *Buffer) Reset() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for member, q := range b.queues {
		n += len(q)
		delete(b.queues, member)
	}
	return n
}
