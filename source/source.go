// Package source implements VideoSource: per-clip decode that maps timeline
// time to source time and serves arbitrary requested timestamps using a
// keyframe-aware seek strategy, generalizing the teacher's single-playhead
// controllers (controller_no_audio.go, controller_yes_audio.go,
// controller_stream.go) to random access.
package source

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/lilluzifer/cinnamon/internal/debug"
	"github.com/lilluzifer/cinnamon/timebase"
)

// CallerKind distinguishes playback-driven requests (which wait for a busy
// source) from scrub-driven ones (which drop instead), per spec.md §5
// "Shared resources".
type CallerKind uint8

const (
	CallerPlayback CallerKind = iota
	CallerScrub
)

// prerollBudget bounds how far ahead of the live reader's last delivered
// source time a forward request may still reuse it instead of reseeking,
// per spec.md §4.3. Flagged as an Open Question in spec.md §9: very-long-GOP
// assets may need a larger value; it is a fixed package constant, not
// configurable per source.
const prerollBudget = 0.5

// Mapping describes how a clip's timeline placement maps to source time,
// i.e. the subset of composition.Clip that VideoSource needs to stay
// decoupled from the composition package's edit-op concerns.
type Mapping struct {
	SrcStart    float64
	SrcDuration float64
	DstStart    float64
	Speed       float64
}

func (m Mapping) srcEnd() float64 { return m.SrcStart + m.SrcDuration }

// VideoSource owns one clip's decode backend, its keyframe table, and at
// most one live reader positioned at some source time.
type VideoSource struct {
	mu sync.Mutex

	// decodeMu serializes actual decode work (SeekNear/ReadNextFrame) across
	// the whole duration of a CopyFrame call, not just the busy-flag check:
	// playback callers block on it, scrub callers TryLock and drop instead,
	// per spec.md §5.
	decodeMu sync.Mutex

	backend Backend
	tb      timebase.Timebase
	mapping Mapping

	keyframes []float64

	liveOpen      bool
	lastDelivered float64

	latest    Frame
	haveFrame bool
}

// New creates a VideoSource over the given backend and clip mapping.
func New(backend Backend, mapping Mapping, tb timebase.Timebase) *VideoSource {
	return &VideoSource{backend: backend, mapping: mapping, tb: tb}
}

// SourceTime maps a timeline time to source time, clamped to the clip's
// source range, honoring speed and srcRange per spec.md §4.3.
func (s *VideoSource) SourceTime(timelineTime float64) float64 {
	speed := s.mapping.Speed
	if speed == 0 {
		speed = 1
	}
	ts := s.mapping.SrcStart + (timelineTime-s.mapping.DstStart)*speed
	if ts < s.mapping.SrcStart {
		ts = s.mapping.SrcStart
	}
	if end := s.mapping.srcEnd(); ts > end {
		ts = end
	}
	return ts
}

// CopyFrame returns the pixel buffer for the given timeline time. Concurrent
// calls on the same source are serialized internally via decodeMu, held for
// the full decode, not just a flag check: playback callers block until the
// source is free, scrub callers TryLock and drop instead, matching spec.md
// §5 ("only one decode per source is in flight at a time").
func (s *VideoSource) CopyFrame(ctx context.Context, timelineTime float64, caller CallerKind) (Frame, float64, error) {
	if caller == CallerScrub {
		if !s.decodeMu.TryLock() {
			return Frame{}, 0, ErrCancelled
		}
	} else {
		s.decodeMu.Lock()
	}
	defer s.decodeMu.Unlock()

	if err := ctx.Err(); err != nil {
		return Frame{}, 0, ErrCancelled
	}

	ts := s.SourceTime(timelineTime)
	if err := s.ensureKeyframes(); err != nil {
		return Frame{}, 0, err
	}

	s.mu.Lock()
	canReuse := s.liveOpen && s.lastDelivered <= ts && (ts-s.lastDelivered) < prerollBudget
	s.mu.Unlock()

	if !canReuse {
		k := nearestKeyframeAtOrBefore(s.keyframes, ts)
		debug.Playf("source: reseek to keyframe %.3f for target %.3f", k, ts)
		if err := s.backend.SeekNear(k); err != nil {
			return Frame{}, 0, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		s.mu.Lock()
		s.liveOpen = true
		s.mu.Unlock()
	}

	frame, err := s.decodeForward(ctx, ts)
	if err != nil {
		return Frame{}, 0, err
	}

	s.mu.Lock()
	s.lastDelivered = frame.SourceTime
	s.latest = frame
	s.haveFrame = true
	s.mu.Unlock()

	presentationTime := s.timelineTimeFor(frame.SourceTime)
	return frame, presentationTime, nil
}

// decodeForward reads frames until reaching one with source time >= ts, or
// returns ErrEndOfStream / ErrCancelled / ErrDecode.
func (s *VideoSource) decodeForward(ctx context.Context, ts float64) (Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Frame{}, ErrCancelled
		}
		frame, ok, err := s.backend.ReadNextFrame()
		if err != nil {
			return Frame{}, err
		}
		if !ok {
			return Frame{}, ErrEndOfStream
		}
		if frame.SourceTime >= ts {
			return frame, nil
		}
	}
}

// timelineTimeFor converts a decoded source time back to the timeline time
// it presents at, rounded through the timebase, per spec.md §4.3's
// copyFrame contract.
func (s *VideoSource) timelineTimeFor(sourceTime float64) float64 {
	speed := s.mapping.Speed
	if speed == 0 {
		speed = 1
	}
	t := s.mapping.DstStart + (sourceTime-s.mapping.SrcStart)/speed
	return s.tb.Quantize(t, timebase.Nearest)
}

func (s *VideoSource) ensureKeyframes() error {
	s.mu.Lock()
	if s.keyframes != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	kfs, err := s.backend.Keyframes()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	s.mu.Lock()
	s.keyframes = kfs
	s.mu.Unlock()
	return nil
}

// nearestKeyframeAtOrBefore binary searches for the largest keyframe <= ts.
func nearestKeyframeAtOrBefore(keyframes []float64, ts float64) float64 {
	if len(keyframes) == 0 {
		return 0
	}
	i := sort.Search(len(keyframes), func(i int) bool { return keyframes[i] > ts })
	if i == 0 {
		return keyframes[0]
	}
	return keyframes[i-1]
}

// NearestKeyframe returns the largest keyframe source time at or before ts,
// ensuring the keyframe table is loaded first. Used by scrub.Coordinator to
// compute GOP coalescing keys without reaching into decoder internals.
func (s *VideoSource) NearestKeyframe(ts float64) float64 {
	if err := s.ensureKeyframes(); err != nil {
		return ts
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return nearestKeyframeAtOrBefore(s.keyframes, ts)
}

// LatestFrame returns the most recently decoded frame, if any.
func (s *VideoSource) LatestFrame() (Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.haveFrame
}

// NaturalSize returns the clip's native pixel dimensions.
func (s *VideoSource) NaturalSize() (int, int) {
	return s.backend.NaturalSize()
}

// Invalidate tears down the live reader, forcing the next CopyFrame to
// reseek. Called when the clip is removed from the composition.
func (s *VideoSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.liveOpen = false
	s.haveFrame = false
}

// Close releases the underlying decode backend.
func (s *VideoSource) Close() error {
	return s.backend.Close()
}
