package transport

import (
	"time"

	"github.com/lilluzifer/cinnamon/cache"
	"github.com/lilluzifer/cinnamon/timebase"
)

// Per-state lead/tolerance budgets, expressed in frame durations, and the
// anti-flicker gate constants, all from spec.md §4.7.
const (
	playingLeadFrames   = 6
	pausedLeadFrames    = 7
	scrubbingLeadFrames = 3

	hystSeconds                   = 0.014
	staleRelaxThresholdSeconds    = 0.350
	staleRelaxMinImprovementSeconds = 0.003
	minHoldSeconds                = 0.025
)

func leadFrames(state State) float64 {
	switch state {
	case StatePlaying:
		return playingLeadFrames
	case StateScrubbing:
		return scrubbingLeadFrames
	default:
		return pausedLeadFrames
	}
}

// leadSeconds converts a state's lead budget to seconds at the composition's
// frame rate.
func leadSeconds(state State, tb timebase.Timebase) float64 {
	return leadFrames(state) * tb.FrameDuration()
}

func biasForState(state State) cache.Bias {
	if state == StateScrubbing {
		return cache.BiasReverse
	}
	return cache.BiasNeutral
}

// SelectFrame is the renderer's synchronous read path: it never decodes,
// only chooses among already-cached/primary frames, applying the anti-
// flicker hold gate outside of Playing state per spec.md §4.7.
func (c *Controller) SelectFrame(clipID string, sampleTime float64) (cache.Frame, bool) {
	c.mu.Lock()
	cs, ok := c.clips[clipID]
	state := c.state
	tb := c.tb
	c.mu.Unlock()
	if !ok {
		return cache.Frame{}, false
	}

	now := time.Now()
	budget := leadSeconds(state, tb)

	candidate, haveCandidate := bestCandidate(cs, sampleTime, budget, state)

	if state != StatePlaying && cs.haveDisplayed {
		if !haveCandidate || !passesAntiFlicker(candidate, cs, sampleTime, now) {
			return cs.displayed, true
		}
	}

	if !haveCandidate {
		if cs.haveDisplayed {
			return cs.displayed, true
		}
		if hist, ok := cs.cache.BestFrame(sampleTime, nil); ok {
			return hist, true
		}
		return cache.Frame{}, false
	}

	cs.displayed = candidate
	cs.haveDisplayed = true
	cs.displayedAt = now
	cs.cache.SetLastDisplayed(candidate.PresentationTime)
	return candidate, true
}

// bestCandidate compares the clip's designated primary frame against a
// direct cache lookup and returns whichever is closer to sampleTime and
// within the state's lead budget.
func bestCandidate(cs *clipState, sampleTime, budget float64, state State) (cache.Frame, bool) {
	var best cache.Frame
	haveBest := false

	if cs.primary != nil {
		lead := cs.primary.PresentationTime - sampleTime
		if lead <= budget {
			best, haveBest = *cs.primary, true
		}
	}

	if hit, ok := cs.cache.Get(sampleTime, budget, biasForState(state)); ok {
		if !haveBest || absf(hit.PresentationTime-sampleTime) < absf(best.PresentationTime-sampleTime) {
			best, haveBest = hit, true
		}
	}

	return best, haveBest
}

// passesAntiFlicker gates whether candidate may replace the currently
// displayed frame: either it's meaningfully closer to sampleTime (hyst), or
// the current frame is stale enough to relax onto a smaller improvement —
// in both cases only once the current frame has been held for minHoldMS.
func passesAntiFlicker(candidate cache.Frame, cs *clipState, sampleTime float64, now time.Time) bool {
	held := now.Sub(cs.displayedAt).Seconds()
	if held < minHoldSeconds {
		return false
	}
	currentDist := absf(cs.displayed.PresentationTime - sampleTime)
	candidateDist := absf(candidate.PresentationTime - sampleTime)
	improvement := currentDist - candidateDist

	if improvement >= hystSeconds {
		return true
	}
	if held > staleRelaxThresholdSeconds && improvement >= staleRelaxMinImprovementSeconds {
		return true
	}
	return false
}

func absf(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
