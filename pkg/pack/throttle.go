package pack

import "time"

// throttle forwards at most one report per interval to a channel, dropping
// reports instead of blocking.
type throttle struct {
	ch       chan<- Progress
	interval time.Duration
	last     time.Time
	now      func() time.Time
}

func newThrottle(ch chan<- Progress, interval time.Duration) *throttle {
	return &throttle{ch: ch, interval: interval, now: time.Now}
}

func (t *throttle) report(p Progress) {
	if t == nil || t.ch == nil {
		return
	}
	now := t.now()
	if !t.last.IsZero() && now.Sub(t.last) < t.interval {
		return
	}
	select {
	case t.ch <- p:
		t.last = now
	default:
	}
}
