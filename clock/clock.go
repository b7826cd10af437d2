// Package clock implements PlaybackClock, the single authoritative time
// source for the engine. It generalizes the reference-time bookkeeping the
// teacher repo inlined into each video controller (referenceTime +
// referencePosition, advanced by wall-clock deltas) into an explicitly owned,
// thread-safe component owned by the transport and read by the audio mixer
// and the renderer.
package clock

import (
	"sync"
	"time"
)

// Source identifies what last drove a clock update.
type Source uint8

const (
	SourceInternal Source = iota
	SourceVideo
	SourceAudio
)

// State is a lock-free snapshot of the clock suitable for cheap polling from
// any context (renderer, UI), per the "snapshot-plus-subscription" design
// note in spec.md §9.
type State struct {
	TimelineTime float64
	HostTime     time.Time
	Rate         float64
	Playing      bool
	Source       Source
}

// DriftSample is one ingest() measurement, kept for diagnostics. Telemetry
// formatting itself is out of scope (spec.md §1); only the raw measurement
// is retained.
type DriftSample struct {
	HostTime time.Time
	Drift    float64 // observed time - predicted time, seconds
	Source   Source
}

const driftHistoryCap = 32

// maxAudioNudge bounds how far a single audio clock sample may nudge the
// base time, so a single bad sample can't cause a visible jump.
const maxAudioNudge = 0.030

// Clock is the authoritative (timelineTime, hostTime, rate, playing) tuple.
// Thread-safe: readable from any context, written only through its methods.
type Clock struct {
	mu sync.RWMutex

	baseTime float64
	baseHost time.Time
	rate     float64
	playing  bool
	source   Source

	drift []DriftSample

	// now is overridable for deterministic tests.
	now func() time.Time
}

// New creates a paused clock at time 0.
func New() *Clock {
	return &Clock{
		baseHost: time.Now(),
		now:      time.Now,
	}
}

// newWithClock is a test seam so scenarios can supply a fake host clock.
func newWithClock(now func() time.Time) *Clock {
	c := New()
	c.now = now
	c.baseHost = now()
	return c
}

// Play activates the clock's playback from timeline time t at the given
// rate, using the current host time as the new base.
func (c *Clock) Play(t float64, rate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseTime = t
	c.baseHost = c.now()
	c.rate = rate
	c.playing = true
	c.source = SourceInternal
}

// Pause freezes the clock at timeline time t.
func (c *Clock) Pause(t float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseTime = t
	c.baseHost = c.now()
	c.playing = false
}

// Seek jumps to timeline time t, setting both timelineTime and hostTime
// atomically. This deliberately breaks monotonicity.
func (c *Clock) Seek(t float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseTime = t
	c.baseHost = c.now()
}

// Align updates baseTime while preserving the playing flag, used by the
// transport to reconcile small tick drift without a visible discontinuity
// as long as the correction stays within one frame of the predicted time.
func (c *Clock) Align(t float64, hostTime ...time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.now()
	if len(hostTime) > 0 {
		h = hostTime[0]
	}
	c.baseTime = t
	c.baseHost = h
}

// Ingest records a drift measurement (observed - predicted) for telemetry.
// When the sample originates from audio, it may nudge the base time by a
// bounded correction to keep video and audio converged.
func (c *Clock) Ingest(observed float64, source Source, hostTime ...time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.now()
	if len(hostTime) > 0 {
		h = hostTime[0]
	}
	predicted := c.noLockCurrentTime(h)
	sample := DriftSample{HostTime: h, Drift: observed - predicted, Source: source}
	c.drift = append(c.drift, sample)
	if len(c.drift) > driftHistoryCap {
		c.drift = c.drift[len(c.drift)-driftHistoryCap:]
	}

	if source == SourceAudio && c.playing {
		nudge := sample.Drift
		if nudge > maxAudioNudge {
			nudge = maxAudioNudge
		} else if nudge < -maxAudioNudge {
			nudge = -maxAudioNudge
		}
		c.baseTime = predicted + nudge
		c.baseHost = h
		c.source = SourceAudio
	}
}

// CurrentTime returns the current timeline time. If playing, it extrapolates
// from the base using the given (or current) host time; it is non-decreasing
// for a fixed observation thread while playing with rate > 0, and frozen
// while paused.
func (c *Clock) CurrentTime(hostTime ...time.Time) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h := c.now()
	if len(hostTime) > 0 {
		h = hostTime[0]
	}
	return c.noLockCurrentTime(h)
}

func (c *Clock) noLockCurrentTime(h time.Time) float64 {
	if !c.playing {
		return c.baseTime
	}
	if c.baseHost.After(h) {
		h = c.baseHost
	}
	return c.baseTime + h.Sub(c.baseHost).Seconds()*c.rate
}

// CurrentState returns a full snapshot of the clock.
func (c *Clock) CurrentState() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h := c.now()
	return State{
		TimelineTime: c.noLockCurrentTime(h),
		HostTime:     h,
		Rate:         c.rate,
		Playing:      c.playing,
		Source:       c.source,
	}
}

// DriftHistory returns a copy of the recent drift samples, most recent last.
func (c *Clock) DriftHistory() []DriftSample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]DriftSample, len(c.drift))
	copy(out, c.drift)
	return out
}
