package pack

import (
	"testing"
	"time"
)

func TestThrottle(t *testing.T) {
	t.Parallel()

	ch := make(chan Progress, 8)
	th := newThrottle(ch, 100*time.Millisecond)
	clock := time.Unix(0, 0)
	th.now = func() time.Time { return clock }

	for _, step := range []time.Duration{0, 50 * time.Millisecond, 40 * time.Millisecond, 20 * time.Millisecond, 100 * time.Millisecond} {
		clock = clock.Add(step)
		th.report(Progress{Path: clock.Format("05.000")})
	}
	close(ch)

	var got []string
	for p := range ch {
		got = append(got, p.Path)
	}
	want := []string{"00.000", "00.110", "00.210"}
	if len(got) != len(want) {
		t.Fatalf("reports = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("report %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestThrottleNeverBlocks(t *testing.T) {
	t.Parallel()

	ch := make(chan Progress) // nobody receives
	th := newThrottle(ch, time.Nanosecond)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			th.report(Progress{Files: i})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("report blocked on a full channel")
	}

	var nilThrottle *throttle
	nilThrottle.report(Progress{})
	newThrottle(nil, time.Second).report(Progress{})
}
