package scrub

import (
	"testing"
	"time"
)

func noKeyframes(clipID string, t float64) float64 { return 0 } // single GOP covering everything

func TestGateCoalescesWithinInterval(t *testing.T) {
	c := New(24, noKeyframes)
	c.BeginScrub([]string{"clip"})
	now := time.Now()

	j1, ok1 := c.UpdateScrub("clip", 5.0, now)
	if !ok1 {
		t.Fatalf("first update should admit a job")
	}
	defer j1.Release()

	// Second update arrives well inside the gate window: the 0.1s jump in
	// 5ms classifies as fast, whose interval (30ms) is the shortest gated one.
	_, ok2 := c.UpdateScrub("clip", 5.1, now.Add(5*time.Millisecond))
	if ok2 {
		t.Fatalf("update inside the gated window should coalesce, not admit")
	}
}

func TestGOPCoalescingRetargetsInFlight(t *testing.T) {
	sameGOP := func(clipID string, t float64) float64 { return 0 }
	c := New(24, sameGOP)
	c.BeginScrub([]string{"clip"})
	now := time.Now()

	j1, ok := c.UpdateScrub("clip", 1.0, now)
	if !ok {
		t.Fatalf("expected first job admitted")
	}
	defer j1.Release()

	// Force past the gate so this call is evaluated for admission, but it
	// shares clip+GOP key with j1, so it should retarget rather than create
	// a second in-flight job.
	j2, ok := c.admitForTest("clip", 1.2, now.Add(100*time.Millisecond))
	if !ok {
		t.Fatalf("expected retarget to report admitted")
	}
	if !j2.Reused {
		t.Fatalf("expected Reused=true for same-GOP retarget")
	}
}

// admitForTest exposes admit() directly for tests that want to bypass the
// gating/classification path and exercise GOP coalescing in isolation.
func (c *Coordinator) admitForTest(clipID string, target float64, now time.Time) (Job, bool) {
	c.mu.Lock()
	c.epoch++
	epoch := c.epoch
	c.mu.Unlock()
	return c.admit(clipID, target, epoch, false)
}

func TestGlobalInFlightCapEnforced(t *testing.T) {
	distinctGOPs := func(clipID string, t float64) float64 { return t }
	c := New(24, distinctGOPs)
	c.BeginScrub([]string{"clip"})

	var jobs []Job
	for i := 0; i < defaultGlobalBudget; i++ {
		j, ok := c.admitForTest("clip", float64(i), time.Now())
		if !ok {
			t.Fatalf("expected job %d to be admitted within budget", i)
		}
		jobs = append(jobs, j)
	}

	if _, ok := c.admitForTest("clip", 999, time.Now()); ok {
		t.Fatalf("expected the 7th concurrent job to be denied (non-critical)")
	}

	// A critical (deadline) job should still get through via the +2 budget.
	if _, ok := c.admitForTest("clip", 1000, time.Now()); ok {
		t.Fatalf("sanity: non-critical admit should still fail")
	}
	deadline := c.EndScrub("clip", 1000)
	if !deadline.Critical {
		t.Fatalf("expected the deadline decode to draw from the critical budget")
	}

	for _, j := range jobs {
		j.Release()
	}
	deadline.Release()
}

func TestEndScrubAlwaysAdmitsOnce(t *testing.T) {
	c := New(24, noKeyframes)
	c.BeginScrub([]string{"clip"})
	job := c.EndScrub("clip", 42.0)
	if job.TargetTime != 42.0 {
		t.Fatalf("deadline decode target = %v, want 42.0", job.TargetTime)
	}
	job.Release()
}

func TestCancelForClipsCancelsInvisibleClips(t *testing.T) {
	distinctGOPs := func(clipID string, t float64) float64 { return t }
	c := New(24, distinctGOPs)
	c.BeginScrub([]string{"a", "b"})

	ja, _ := c.admitForTest("a", 1.0, time.Now())
	jb, _ := c.admitForTest("b", 1.0, time.Now())
	defer ja.Release()
	defer jb.Release()

	c.CancelForClips(map[string]bool{"a": true})

	select {
	case <-jb.Ctx.Done():
	default:
		t.Fatalf("clip b's job should have been cancelled")
	}
	select {
	case <-ja.Ctx.Done():
		t.Fatalf("clip a's job should still be live")
	default:
	}
}
