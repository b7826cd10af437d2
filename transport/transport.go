// Package transport implements TransportController: the state machine and
// dispatcher that owns the playback graph, routes tick/scrub events into
// decode requests, and serves the renderer synchronously. It generalizes
// the teacher's per-controller state machines (Stopped/Playing/Paused in
// controller_no_audio.go / controller_yes_audio.go) from one clip to a
// whole composition's worth of clips, tracks and gaps.
package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lilluzifer/cinnamon/cache"
	"github.com/lilluzifer/cinnamon/clock"
	"github.com/lilluzifer/cinnamon/composition"
	"github.com/lilluzifer/cinnamon/internal/debug"
	"github.com/lilluzifer/cinnamon/mapper"
	"github.com/lilluzifer/cinnamon/scrub"
	"github.com/lilluzifer/cinnamon/source"
	"github.com/lilluzifer/cinnamon/ticker"
	"github.com/lilluzifer/cinnamon/timebase"
)

// State is the transport's top-level mode.
type State uint8

const (
	StatePaused State = iota
	StatePlaying
	StateScrubbing
)

func (s State) String() string {
	switch s {
	case StatePlaying:
		return "playing"
	case StateScrubbing:
		return "scrubbing"
	default:
		return "paused"
	}
}

// warmupLead is how far ahead of a segment boundary the transport issues a
// preparatory decode for the next clip, per spec.md §4.7.
const warmupLead = 0.2 // seconds

// SourceFactory builds a VideoSource for a clip, deferred so the transport
// doesn't need to know about asset resolution or decode backends directly.
type SourceFactory func(clip composition.Clip) (*source.VideoSource, error)

// clipState tracks per-clip primary/history bookkeeping the cache itself
// does not own: which frame is the "primary" slot vs. history, and what's
// currently displayed for the anti-flicker gate.
type clipState struct {
	src    *source.VideoSource
	cache  *cache.FrameCache
	primary   *cache.Frame
	displayed cache.Frame
	haveDisplayed bool
	displayedAt   time.Time
}

// Controller is the TransportController.
type Controller struct {
	mu sync.Mutex

	tb      timebase.Timebase
	clock   *clock.Clock
	ticker  *ticker.Ticker
	mixer   AudioMixer
	factory SourceFactory

	graph mapper.PlaybackGraph
	clips map[string]*clipState
	transformsLocked map[string]composition.Transform

	coordinator *scrub.Coordinator

	state        State
	scrubVersion int64
	wasPlayingBeforeScrub bool
	rate         float64

	decodeCtx    context.Context
	decodeCancel context.CancelFunc
	decodeGroup  *errgroup.Group

	frameBudget int // bytes per clip cache
}

// New constructs a Controller. factory is called once per enabled clip, when
// AdoptComposition first sees that clip.
func New(tb timebase.Timebase, mixer AudioMixer, factory SourceFactory) *Controller {
	c := &Controller{
		tb:          tb,
		clock:       clock.New(),
		ticker:      ticker.New(tb.FPS()),
		mixer:       mixer,
		factory:     factory,
		clips:       map[string]*clipState{},
		frameBudget: 64 * 1024 * 1024,
	}
	c.coordinator = scrub.New(tb.FPS(), c.nearestKeyframe)
	return c
}

// AdoptComposition recomputes the PlaybackGraph from a composition, builds
// VideoSources for newly enabled clips (keeping those of clips already
// present) and invalidates the sources of clips no longer present. The
// clock and the transport state are left unchanged.
func (c *Controller) AdoptComposition(comp composition.Composition) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	version := c.graph.Version + 1
	newGraph := mapper.Map(comp, version)

	newClips := map[string]*clipState{}
	for _, clip := range comp.Clips {
		if !clip.Enabled {
			continue
		}
		if existing, ok := c.clips[clip.ID]; ok {
			newClips[clip.ID] = existing
			continue
		}
		src, err := c.factory(clip)
		if err != nil {
			return fmt.Errorf("transport: building source for clip %q: %w", clip.ID, err)
		}
		newClips[clip.ID] = &clipState{src: src, cache: cache.New(c.frameBudget, 2*time.Second)}
	}
	// Invalidate and drop sources for clips no longer present.
	for id, cs := range c.clips {
		if _, ok := newClips[id]; !ok {
			cs.src.Invalidate()
		}
	}

	transforms := make(map[string]composition.Transform, len(comp.Clips))
	for _, clip := range comp.Clips {
		transforms[clip.ID] = clip.Transform
	}

	c.graph = newGraph
	c.clips = newClips
	c.transformsLocked = transforms
	debug.Transportf("adopted composition version=%d, %d clips, duration=%.3f", version, len(newClips), newGraph.Duration)
	return nil
}

// nearestKeyframe adapts scrub.KeyframeLookup: the coordinator deals in
// timeline times, so this first maps to source time before asking the
// clip's VideoSource for the nearest IDR at-or-before it.
func (c *Controller) nearestKeyframe(clipID string, timelineTime float64) float64 {
	c.mu.Lock()
	cs, ok := c.clips[clipID]
	c.mu.Unlock()
	if !ok {
		return timelineTime
	}
	return cs.src.NearestKeyframe(cs.src.SourceTime(timelineTime))
}

// RequestPlay starts the clock, the decode pool and the ticker from the
// current time. The same ticker runs across clips and gaps; in a gap,
// onTick finds no visible clip and issues no decode.
func (c *Controller) RequestPlay(rate float64) error {
	c.mu.Lock()
	if c.state == StatePlaying {
		c.mu.Unlock()
		return nil
	}
	t := c.clock.CurrentTime()
	c.state = StatePlaying
	c.rate = rate
	c.clock.Play(t, rate)
	c.startDecodePool()
	c.mu.Unlock()

	c.mixer.Activate(visibleClipIDs(c.graph, t), t, rate, true)
	c.ticker.Start(t, rate, c.onTick)
	debug.Transportf("play requested at t=%.3f rate=%v", t, rate)
	return nil
}

// RequestPause cancels active decode tasks, prunes the cache for future
// frames, and freezes the clock.
func (c *Controller) RequestPause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePlaying && c.state != StateScrubbing {
		return nil
	}
	t := c.clock.CurrentTime()
	c.ticker.Stop()
	c.stopDecodePool()
	c.clock.Pause(t)
	c.pruneFutureLocked(t, StatePaused)
	c.state = StatePaused
	c.mixer.PauseAll()
	debug.Transportf("pause requested at t=%.3f", t)
	return nil
}

// RequestTime clamps and quantizes t, pauses, seeks the clock to t, then
// decodes the frame for t of each visible clip inline (best-effort, bounded
// by a 250 ms timeout) before returning.
func (c *Controller) RequestTime(t float64) error {
	c.mu.Lock()
	if t < 0 {
		t = 0
	}
	if c.graph.Duration > 0 && t > c.graph.Duration {
		t = c.graph.Duration
	}
	t = c.tb.Quantize(t, timebase.Nearest)
	c.mu.Unlock()

	if err := c.RequestPause(); err != nil {
		return err
	}

	c.mu.Lock()
	c.clock.Seek(t)
	clipIDs := visibleClipIDs(c.graph, t)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	for _, id := range clipIDs {
		c.syncDecode(ctx, id, t, source.CallerPlayback, c.scrubVersionSnapshot())
	}
	c.mixer.Seek(t)
	return nil
}

// BeginScrub enters scrubbing and hands off the initial clip set to the
// coordinator.
func (c *Controller) BeginScrub() {
	c.mu.Lock()
	c.wasPlayingBeforeScrub = c.state == StatePlaying
	if c.state == StatePlaying {
		c.ticker.Stop()
		c.stopDecodePool()
	}
	t := c.clock.CurrentTime()
	clipIDs := visibleClipIDs(c.graph, t)
	c.state = StateScrubbing
	c.startDecodePool()
	c.mu.Unlock()

	c.coordinator.BeginScrub(clipIDs)
	debug.Transportf("begin scrub at t=%.3f", t)
}

// ScrubSeek advances the scrub anchor to t, incrementing scrubVersion and
// dispatching at most one admitted decode job per clip per gated interval.
func (c *Controller) ScrubSeek(t float64) {
	c.mu.Lock()
	c.scrubVersion++
	version := c.scrubVersion
	t = c.tb.Quantize(t, timebase.Nearest)
	c.clock.Seek(t)
	clipIDs := visibleClipIDs(c.graph, t)
	for _, cs := range c.clips {
		cs.cache.SetAnchor(t)
	}
	c.mu.Unlock()

	now := time.Now()
	for _, id := range clipIDs {
		job, ok := c.coordinator.UpdateScrub(id, t, now)
		if !ok {
			continue
		}
		c.dispatchScrubJob(id, job, version, source.CallerScrub)
	}
}

// EndScrub issues a single ungated, highest-priority deadline decode at the
// final time, then restores playback if it was playing before the scrub
// gesture and resumeIfWanted is true.
func (c *Controller) EndScrub(tFinal float64, resumeIfWanted bool) {
	c.mu.Lock()
	c.scrubVersion++
	version := c.scrubVersion
	tFinal = c.tb.Quantize(tFinal, timebase.Nearest)
	c.clock.Seek(tFinal)
	clipIDs := visibleClipIDs(c.graph, tFinal)
	wasPlaying := c.wasPlayingBeforeScrub
	c.mu.Unlock()

	for _, id := range clipIDs {
		job := c.coordinator.EndScrub(id, tFinal)
		c.dispatchScrubJob(id, job, version, source.CallerScrub)
	}

	c.mu.Lock()
	c.stopDecodePool()
	c.state = StatePaused
	c.mu.Unlock()

	debug.Transportf("end scrub at t=%.3f, resume=%v wasPlaying=%v", tFinal, resumeIfWanted, wasPlaying)
	if resumeIfWanted && wasPlaying {
		c.RequestPlay(c.rate)
	}
}

func (c *Controller) scrubVersionSnapshot() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scrubVersion
}

func visibleClipIDs(g mapper.PlaybackGraph, t float64) []string {
	for _, s := range g.Slices {
		if s.Start <= t && t < s.End {
			return append([]string{}, s.Draw...)
		}
	}
	return nil
}

func (c *Controller) startDecodePool() {
	if c.decodeGroup != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)
	c.decodeCtx, c.decodeCancel, c.decodeGroup = gctx, cancel, group
}

// stopDecodePool cancels and waits for the decode pool. Caller must hold
// c.mu; it is released while waiting, because in-flight decodes take c.mu
// to record their results.
func (c *Controller) stopDecodePool() {
	if c.decodeCancel == nil {
		return
	}
	cancel, group := c.decodeCancel, c.decodeGroup
	c.decodeCtx, c.decodeCancel, c.decodeGroup = nil, nil, nil
	cancel()
	c.mu.Unlock()
	_ = group.Wait()
	c.mu.Lock()
}

// onTick is the ticker callback: it decodes each clip visible at t and, as a
// warmup, the top clip visible at t+warmupLead; nothing is decoded in a gap.
// No segment or slice cursor is kept: each tick looks the slice up afresh.
func (c *Controller) onTick(t float64) {
	c.mu.Lock()
	if c.graph.Duration > 0 && t > c.graph.Duration {
		t = c.graph.Duration
	}
	clipIDs := visibleClipIDs(c.graph, t)
	ctx := c.decodeCtx
	version := c.scrubVersion
	upcoming := c.upcomingClipAtLocked(t + warmupLead)
	c.mu.Unlock()

	if ctx == nil {
		return
	}
	for _, id := range clipIDs {
		c.dispatchPlaybackDecode(ctx, id, t, version)
	}
	if upcoming != "" {
		c.dispatchPlaybackDecode(ctx, upcoming, t+warmupLead, version)
	}

	c.mixer.UpdateClockState(c.clock.CurrentState())
}

// upcomingClipAtLocked returns the clip ID active at t (for warmup), or ""
// if t lands in a gap. Caller must hold c.mu.
func (c *Controller) upcomingClipAtLocked(t float64) string {
	ids := visibleClipIDs(c.graph, t)
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

func (c *Controller) dispatchPlaybackDecode(ctx context.Context, clipID string, t float64, version int64) {
	c.mu.Lock()
	cs, ok := c.clips[clipID]
	group := c.decodeGroup
	c.mu.Unlock()
	if !ok || group == nil {
		return
	}
	group.Go(func() error {
		frame, presTime, err := cs.src.CopyFrame(ctx, t, source.CallerPlayback)
		if err != nil {
			debug.Playf("playback decode error clip=%s t=%.3f: %v", clipID, t, err)
			return nil
		}
		c.handleDecodeResult(clipID, frame, presTime, version)
		return nil
	})
}

func (c *Controller) dispatchScrubJob(clipID string, job scrub.Job, version int64, caller source.CallerKind) {
	if job.Ctx == nil {
		return
	}
	c.mu.Lock()
	cs, ok := c.clips[clipID]
	group := c.decodeGroup
	c.mu.Unlock()
	if !ok || group == nil {
		job.Release()
		return
	}
	group.Go(func() error {
		defer job.Release()
		if !c.coordinator.IsCurrent(job.Epoch) {
			return nil
		}
		frame, presTime, err := cs.src.CopyFrame(job.Ctx, job.TargetTime, caller)
		if err != nil {
			return nil
		}
		if !c.coordinator.IsCurrent(job.Epoch) {
			return nil // stale past decode-finish checkpoint
		}
		c.handleDecodeResult(clipID, frame, presTime, version)
		return nil
	})
}

// syncDecode runs one decode inline (used by RequestTime's synchronous
// "load to first render" contract) instead of going through the pool.
func (c *Controller) syncDecode(ctx context.Context, clipID string, t float64, caller source.CallerKind, version int64) {
	c.mu.Lock()
	cs, ok := c.clips[clipID]
	c.mu.Unlock()
	if !ok {
		return
	}
	frame, presTime, err := cs.src.CopyFrame(ctx, t, caller)
	if err != nil {
		return
	}
	c.handleDecodeResult(clipID, frame, presTime, version)
}

// handleDecodeResult applies the primary-vs-history versioning rule of
// spec.md §4.7: delta 0 goes to the primary slot, delta 1-2 to history
// only, delta > 2 is discarded outright.
func (c *Controller) handleDecodeResult(clipID string, frame source.Frame, presentationTime float64, stampedVersion int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cs, ok := c.clips[clipID]
	if !ok {
		return
	}
	current := c.scrubVersion
	delta := current - stampedVersion
	if delta > 2 {
		debug.Playf("discarding stale decode clip=%s delta=%d", clipID, delta)
		return
	}

	origin := cache.OriginPlayback
	if c.state == StateScrubbing {
		origin = cache.OriginScrub
	}
	cached := cache.Frame{
		Image:            frame.Image,
		PresentationTime: presentationTime,
		Version:          stampedVersion,
		Origin:           origin,
		Bytes:            estimateFrameBytes(frame),
	}
	cs.cache.Record(cached, time.Now())

	if delta <= 0 {
		f := cached
		cs.primary = &f
	}
}

func estimateFrameBytes(f source.Frame) int {
	if f.Image == nil {
		return 0
	}
	b := f.Image.Bounds()
	return b.Dx() * b.Dy() * 4
}

// pruneFutureLocked drops cached frames more than the per-state lead
// budget ahead of t, for every clip. Caller must hold c.mu.
func (c *Controller) pruneFutureLocked(t float64, state State) {
	budget := leadSeconds(state, c.tb)
	for _, cs := range c.clips {
		cs.cache.PruneAfter(t + budget)
	}
}

// Clock exposes the underlying PlaybackClock for observers.
func (c *Controller) Clock() *clock.Clock { return c.clock }

// SetMixer swaps the AudioMixer after construction, for callers that need
// the controller's own Clock to build the mixer (e.g. EbitenAudioMixer's
// drift-ingest loop).
func (c *Controller) SetMixer(mixer AudioMixer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mixer = mixer
}

// State returns the transport's current mode.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Graph returns the currently adopted PlaybackGraph.
func (c *Controller) Graph() mapper.PlaybackGraph {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.graph
}
