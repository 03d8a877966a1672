package call

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/voicecall/internal/domain"
)

// BusyPolicy decides what happens to an incoming call while another
// session is live.
type BusyPolicy int

const (
	// DeclineBusy answers the caller with call.reject{reason: busy}.
	DeclineBusy BusyPolicy = iota
	// QueueBusy holds the call and replays it once the machine is idle.
	// When the queue is full the call is declined.
	QueueBusy
)

func (p BusyPolicy) String() string {
	if p == QueueBusy {
		return "queue"
	}
	return "decline"
}

func ParseBusyPolicy(s string) (BusyPolicy, error) {
	switch strings.ToLower(s) {
	case "", "decline":
		return DeclineBusy, nil
	case "queue":
		return QueueBusy, nil
	default:
		return DeclineBusy, fmt.Errorf("unknown busy policy %q", s)
	}
}

// busyLimiter caps busy replies per caller in a sliding window.
type busyLimiter struct {
	mu       sync.Mutex
	history  map[domain.MemberID][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

func newBusyLimiter(limit int, interval time.Duration) *busyLimiter {
	return &busyLimiter{
		history:  make(map[domain.MemberID][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (rl *busyLimiter) Allow(caller domain.MemberID) bool {
	if rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[caller]
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) >= rl.limit {
		rl.history[caller] = fresh
		return false
	}
	rl.history[caller] = append(fresh, now)
	return true
}
