package transport

import (
	"testing"
	"time"

	"github.com/lilluzifer/cinnamon/cache"
	"github.com/lilluzifer/cinnamon/mapper"
)

func TestStateString(t *testing.T) {
	cases := map[State]string{StatePaused: "paused", StatePlaying: "playing", StateScrubbing: "scrubbing"}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Fatalf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestVisibleClipIDsReturnsDrawListOfContainingSlice(t *testing.T) {
	graph := mapper.PlaybackGraph{
		Slices: []mapper.Slice{
			{Start: 0, End: 1, Draw: []string{"a"}},
			{Start: 1, End: 2, Draw: []string{"b", "c"}},
		},
	}
	if ids := visibleClipIDs(graph, 0.5); len(ids) != 1 || ids[0] != "a" {
		t.Fatalf("expected [a] at t=0.5, got %v", ids)
	}
	if ids := visibleClipIDs(graph, 1.5); len(ids) != 2 || ids[0] != "b" || ids[1] != "c" {
		t.Fatalf("expected [b c] at t=1.5, got %v", ids)
	}
	if ids := visibleClipIDs(graph, 5.0); ids != nil {
		t.Fatalf("expected nil in a gap, got %v", ids)
	}
}

func TestVisibleClipIDsReturnsACopy(t *testing.T) {
	graph := mapper.PlaybackGraph{Slices: []mapper.Slice{{Start: 0, End: 1, Draw: []string{"a"}}}}
	ids := visibleClipIDs(graph, 0.5)
	ids[0] = "mutated"
	if graph.Slices[0].Draw[0] != "a" {
		t.Fatalf("visibleClipIDs leaked a mutable alias into the graph")
	}
}

func TestPassesAntiFlickerRequiresMinHold(t *testing.T) {
	now := time.Now()
	cs := &clipState{
		displayed:     cache.Frame{PresentationTime: 1.0},
		haveDisplayed: true,
		displayedAt:   now,
	}
	candidate := cache.Frame{PresentationTime: 1.1} // far closer to sampleTime below
	if passesAntiFlicker(candidate, cs, 1.1, now) {
		t.Fatalf("swap should be denied before minHoldSeconds elapses")
	}
}

func TestPassesAntiFlickerAllowsClearImprovementAfterMinHold(t *testing.T) {
	now := time.Now()
	cs := &clipState{
		displayed:     cache.Frame{PresentationTime: 1.0},
		haveDisplayed: true,
		displayedAt:   now.Add(-100 * time.Millisecond),
	}
	candidate := cache.Frame{PresentationTime: 1.1}
	if !passesAntiFlicker(candidate, cs, 1.1, now) {
		t.Fatalf("expected swap: candidate is an exact match for sampleTime after min-hold")
	}
}

func TestPassesAntiFlickerRejectsTinyImprovementWhileFresh(t *testing.T) {
	now := time.Now()
	cs := &clipState{
		displayed:     cache.Frame{PresentationTime: 1.000},
		haveDisplayed: true,
		displayedAt:   now.Add(-50 * time.Millisecond), // past minHold, not yet stale-relaxed
	}
	candidate := cache.Frame{PresentationTime: 1.001} // 1ms improvement, below hyst and stale-relax min
	if passesAntiFlicker(candidate, cs, 1.002, now) {
		t.Fatalf("tiny improvement on a fresh frame should not cause a swap")
	}
}

func TestPassesAntiFlickerRelaxesOnStaleFrame(t *testing.T) {
	now := time.Now()
	cs := &clipState{
		displayed:     cache.Frame{PresentationTime: 1.000},
		haveDisplayed: true,
		displayedAt:   now.Add(-400 * time.Millisecond), // beyond staleRelaxThresholdSeconds
	}
	candidate := cache.Frame{PresentationTime: 1.004} // small but >= staleRelaxMinImprovementSeconds
	if !passesAntiFlicker(candidate, cs, 1.004, now) {
		t.Fatalf("a small improvement should be accepted once the current frame is stale")
	}
}

func TestLeadFramesOrderedScrubbingLowestPausedHighest(t *testing.T) {
	if leadFrames(StatePlaying) <= leadFrames(StateScrubbing) {
		t.Fatalf("expected playing's lead budget to exceed scrubbing's")
	}
	if leadFrames(StatePaused) <= leadFrames(StatePlaying) {
		t.Fatalf("expected paused's lead budget to exceed playing's")
	}
}
