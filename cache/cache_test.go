package cache

import (
	"testing"
	"time"
)

func mkFrame(t float64, bytes int, origin Origin) Frame {
	return Frame{PresentationTime: t, Bytes: bytes, Origin: origin}
}

func TestGetBiasFiltersSide(t *testing.T) {
	c := New(1<<30, 0)
	now := time.Now()
	c.Record(mkFrame(1.0, 100, OriginPlayback), now)
	c.Record(mkFrame(2.0, 100, OriginPlayback), now)

	if _, ok := c.Get(1.5, 0.6, BiasReverse); !ok {
		t.Fatalf("reverse bias should find the frame at 1.0")
	}
	f, _ := c.Get(1.5, 0.6, BiasReverse)
	if f.PresentationTime != 1.0 {
		t.Fatalf("reverse bias picked %v, want 1.0", f.PresentationTime)
	}

	f, ok := c.Get(1.5, 0.6, BiasForward)
	if !ok || f.PresentationTime != 2.0 {
		t.Fatalf("forward bias should pick 2.0, got %v ok=%v", f.PresentationTime, ok)
	}
}

func TestEvictionRespectsBudget(t *testing.T) {
	c := New(250, 0)
	now := time.Now()
	for i := 0; i < 5; i++ {
		c.Record(mkFrame(float64(i), 100, OriginPlayback), now.Add(time.Duration(i)*time.Millisecond))
	}
	if c.Bytes() > 250 {
		t.Fatalf("bytes-in-use %d exceeds budget 250", c.Bytes())
	}
}

func TestLastDisplayedNeverEvicted(t *testing.T) {
	c := New(100, 0)
	now := time.Now()
	c.Record(mkFrame(1.0, 100, OriginPlayback), now)
	c.SetLastDisplayed(1.0)
	// Insert frames that would normally force eviction under budget.
	for i := 2; i < 10; i++ {
		c.Record(mkFrame(float64(i), 100, OriginPlayback), now)
	}
	if _, ok := c.FrameAt(1.0, 1e-6); !ok {
		t.Fatalf("last-displayed frame at 1.0 should survive eviction")
	}
}

func TestMaxAgeEvictsUnconditionally(t *testing.T) {
	c := New(1<<30, 10*time.Millisecond)
	old := time.Now().Add(-time.Second)
	c.Record(mkFrame(1.0, 10, OriginPlayback), old)
	c.Record(mkFrame(2.0, 10, OriginPlayback), time.Now())
	if _, ok := c.FrameAt(1.0, 1e-6); ok {
		t.Fatalf("stale frame should have been evicted")
	}
	if _, ok := c.FrameAt(2.0, 1e-6); !ok {
		t.Fatalf("fresh frame should still be present")
	}
}

func TestScrubOriginPreferredOnEviction(t *testing.T) {
	c := New(150, 0)
	c.SetAnchor(1.5) // both frames inside the bias window, so only origin differs
	now := time.Now()
	c.Record(mkFrame(1.0, 100, OriginScrub), now)
	c.Record(mkFrame(2.0, 100, OriginPlayback), now)
	// Over budget: the playback-origin frame should be evicted first since
	// scrub-origin frames get a priority boost.
	if _, ok := c.FrameAt(1.0, 1e-6); !ok {
		t.Fatalf("scrub-origin frame should have survived eviction")
	}
}

func TestPruneBeforeAndAfter(t *testing.T) {
	c := New(1<<30, 0)
	now := time.Now()
	for i := 0; i < 5; i++ {
		c.Record(mkFrame(float64(i), 10, OriginPlayback), now)
	}
	c.PruneBefore(2)
	if c.Count(0, 10) != 3 {
		t.Fatalf("expected 3 frames remaining after PruneBefore(2), got %d", c.Count(0, 10))
	}
	c.PruneAfter(3)
	if c.Count(0, 10) != 2 {
		t.Fatalf("expected 2 frames remaining after PruneAfter(3), got %d", c.Count(0, 10))
	}
}
