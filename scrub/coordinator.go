// Package scrub implements ScrubCoordinator: admission control and
// coalescing for scrub-driven decode jobs. It classifies velocity, keys
// jobs by (clipID, nearest IDR) for GOP coalescing, enforces a global
// in-flight cap via a weighted semaphore, and biases lookahead by
// direction, per spec.md §4.5.
package scrub

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/lilluzifer/cinnamon/internal/debug"
)

// State is the coordinator's velocity-classified activity level.
type State uint8

const (
	StateIdle State = iota
	StateSlow
	StateMedium
	StateFast
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateSlow:
		return "slow"
	case StateMedium:
		return "medium"
	case StateFast:
		return "fast"
	case StatePaused:
		return "paused"
	default:
		return "idle"
	}
}

// Direction is the scrub drag direction.
type Direction uint8

const (
	DirectionIdle Direction = iota
	DirectionForward
	DirectionReverse
)

const (
	defaultGlobalBudget   = 6
	defaultCriticalBudget = 2
	lookaheadAlpha        = 0.15
	repairWindowSeconds   = 0.25
)

// gateInterval returns the minimum spacing between admitted jobs for a
// given classification state, per spec.md §4.5.
func gateInterval(s State) time.Duration {
	switch s {
	case StateSlow:
		return 60 * time.Millisecond
	case StateMedium:
		return 45 * time.Millisecond
	case StateFast:
		return 30 * time.Millisecond
	default:
		return 0
	}
}

// KeyframeLookup resolves the nearest IDR at-or-before a timeline time for a
// clip, used to compute GOP coalescing keys. The coordinator has no
// decoder knowledge of its own; the transport supplies this from each
// clip's VideoSource, which performs the timeline-to-source mapping
// internally.
type KeyframeLookup func(clipID string, timelineTime float64) float64

// Job describes one admitted or retargeted decode request.
type Job struct {
	ClipID     string
	TargetTime float64 // timeline time to decode to
	GOPKey     float64
	Epoch      int64
	Critical   bool
	Reused     bool // true if this call retargeted an existing in-flight job

	// Ctx is cancelled if this job (or the in-flight job it retargeted)
	// gets superseded by a different GOP key or a clip-set change.
	Ctx context.Context

	release func()
}

// Release must be called exactly once when the job's decode completes (or
// is abandoned), freeing its global in-flight slot.
func (j *Job) Release() {
	if j.release != nil {
		j.release()
		j.release = nil
	}
}

type inflight struct {
	job      Job
	cancel   context.CancelFunc
	critical bool
}

type sample struct {
	t    float64
	wall time.Time
}

// Coordinator is the scrub admission/coalescing state machine.
type Coordinator struct {
	mu sync.Mutex

	fps float64

	state     State
	direction Direction
	velocity  float64 // frames/s

	history map[string][]sample

	epoch int64

	lastAdmission map[string]time.Time

	inFlight map[string]*inflight // keyed by clipID|gopKey

	globalSem      *semaphore.Weighted
	criticalSem    *semaphore.Weighted
	criticalUsed   bool
	activeClips    map[string]bool
	keyframeLookup KeyframeLookup
}

// New creates a Coordinator for a composition at the given frame rate.
func New(fps float64, lookup KeyframeLookup) *Coordinator {
	return &Coordinator{
		fps:            fps,
		history:        map[string][]sample{},
		lastAdmission:  map[string]time.Time{},
		inFlight:       map[string]*inflight{},
		globalSem:      semaphore.NewWeighted(defaultGlobalBudget),
		criticalSem:    semaphore.NewWeighted(defaultCriticalBudget),
		activeClips:    map[string]bool{},
		keyframeLookup: lookup,
	}
}

// BeginScrub records the initial visible clip set, resets the critical
// budget usage flag and velocity history, and resets the classification to
// idle until the next UpdateScrub.
func (c *Coordinator) BeginScrub(clips []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeClips = make(map[string]bool, len(clips))
	for _, id := range clips {
		c.activeClips[id] = true
	}
	c.criticalUsed = false
	c.state = StateIdle
	c.direction = DirectionIdle
	c.history = map[string][]sample{}
	c.epoch++
	debug.Transportf("scrub: begin, epoch=%d, clips=%v", c.epoch, clips)
}

// classify estimates velocity from a clip's recent (time, wallclock)
// history and returns the partitioned state and direction.
func (c *Coordinator) classify(clipID string, tNow float64, now time.Time) (State, Direction, float64) {
	h := append(c.history[clipID], sample{t: tNow, wall: now})
	if len(h) > 8 {
		h = h[len(h)-8:]
	}
	c.history[clipID] = h

	if len(h) < 2 {
		return StateIdle, DirectionIdle, 0
	}
	first, last := h[0], h[len(h)-1]
	dt := last.wall.Sub(first.wall).Seconds()
	if dt <= 0 {
		return StateIdle, DirectionIdle, 0
	}
	framesPerSec := (last.t - first.t) / dt * c.fps

	dir := DirectionIdle
	if framesPerSec > 1e-6 {
		dir = DirectionForward
	} else if framesPerSec < -1e-6 {
		dir = DirectionReverse
	}

	abs := framesPerSec
	if abs < 0 {
		abs = -abs
	}
	var st State
	switch {
	case abs <= 0.5*c.fps:
		st = StateSlow
	case abs <= 3*c.fps:
		st = StateMedium
	default:
		st = StateFast
	}
	return st, dir, framesPerSec
}

// UpdateScrub classifies the current velocity/direction and admits at most
// one job per gated interval per clip. If the request falls inside the
// gated window, it coalesces: no job is admitted (ok=false), and the
// position it carried is superseded by whichever call next lands once the
// gate reopens, which by construction always reports a tNow at least as
// recent as this one's (the caller drives UpdateScrub once per live scrub
// input event).
func (c *Coordinator) UpdateScrub(clipID string, tNow float64, now time.Time) (Job, bool) {
	c.mu.Lock()

	st, dir, v := c.classify(clipID, tNow, now)
	c.state, c.direction, c.velocity = st, dir, v
	c.epoch++
	epoch := c.epoch

	interval := gateInterval(st)
	last, seen := c.lastAdmission[clipID]
	if seen && now.Sub(last) < interval {
		// Coalesced: no job starts until the gate elapses. Comparison uses
		// ">=" at the boundary, so an exact-interval gap is NOT coalesced.
		c.mu.Unlock()
		return Job{}, false
	}
	c.lastAdmission[clipID] = now

	target := c.biasedTarget(tNow, v, dir)
	c.mu.Unlock()

	return c.admit(clipID, target, epoch, false)
}

// biasedTarget applies the forward/reverse lookahead bias of spec.md §4.5.
func (c *Coordinator) biasedTarget(tNow, v float64, dir Direction) float64 {
	switch dir {
	case DirectionForward:
		return tNow + lookaheadAlpha*v*0.1
	case DirectionReverse:
		return tNow + lookaheadAlpha*v*0.1 // v is negative for reverse, biasing backward
	default:
		return tNow
	}
}

// EndScrub issues a single ungated, highest-priority deadline decode at
// exactly tFinal, using the critical budget if the normal pool is full and
// it hasn't already been used this gesture.
func (c *Coordinator) EndScrub(clipID string, tFinal float64) Job {
	c.mu.Lock()
	c.epoch++
	epoch := c.epoch
	c.state = StatePaused
	c.mu.Unlock()

	job, _ := c.admit(clipID, tFinal, epoch, true)
	return job
}

// admit performs GOP coalescing and global-cap acquisition for one job.
func (c *Coordinator) admit(clipID string, target float64, epoch int64, critical bool) (Job, bool) {
	gopKey := target
	if c.keyframeLookup != nil {
		gopKey = c.keyframeLookup(clipID, target)
	}
	key := clipKey(clipID, gopKey)

	c.mu.Lock()
	if existing, ok := c.inFlight[key]; ok {
		// Retarget rather than cancel: same GOP key, update the final
		// decode-to time.
		existing.job.TargetTime = target
		existing.job.Epoch = epoch
		job := existing.job
		job.Reused = true
		c.mu.Unlock()
		debug.Playf("scrub: retargeted in-flight job clip=%s key=%.3f target=%.3f", clipID, gopKey, target)
		return job, true
	}
	c.mu.Unlock()

	// Cancel any in-flight job for this clip under a *different* key.
	c.cancelClipJobsExcept(clipID, key)

	_, usedCritical, ok := c.acquireSlot(critical)
	if !ok {
		return Job{}, false
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := Job{ClipID: clipID, TargetTime: target, GOPKey: gopKey, Epoch: epoch, Critical: usedCritical, Ctx: ctx}
	job.release = c.releaseFunc(key, usedCritical)

	c.mu.Lock()
	c.inFlight[key] = &inflight{job: job, cancel: cancel, critical: usedCritical}
	c.mu.Unlock()
	return job, true
}

func (c *Coordinator) acquireSlot(critical bool) (bool, bool, bool) {
	if c.globalSem.TryAcquire(1) {
		return true, false, true
	}
	if critical {
		c.mu.Lock()
		already := c.criticalUsed
		c.mu.Unlock()
		if !already && c.criticalSem.TryAcquire(1) {
			c.mu.Lock()
			c.criticalUsed = true
			c.mu.Unlock()
			return true, true, true
		}
	}
	return false, false, false
}

func (c *Coordinator) releaseFunc(key string, critical bool) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.inFlight, key)
			c.mu.Unlock()
			if critical {
				c.criticalSem.Release(1)
			} else {
				c.globalSem.Release(1)
			}
		})
	}
}

// cancelClipJobsExcept cancels every in-flight job for clipID whose key is
// not keep.
func (c *Coordinator) cancelClipJobsExcept(clipID, keep string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, j := range c.inFlight {
		if j.job.ClipID == clipID && key != keep {
			j.cancel()
		}
	}
}

// CancelForClips cancels every in-flight job whose clipID is not in the
// given visible set, called on a transition that changes the active clip
// set (spec.md §4.5 "Cancellation").
func (c *Coordinator) CancelForClips(visible map[string]bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, j := range c.inFlight {
		if !visible[j.job.ClipID] {
			j.cancel()
		}
	}
	c.activeClips = visible
}

// IsCurrent reports whether epoch is still the latest stamped epoch — used
// at decode-start and post-decode checkpoints to drop stale jobs.
func (c *Coordinator) IsCurrent(epoch int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return epoch >= c.epoch
}

// State returns the current classified state and direction.
func (c *Coordinator) State() (State, Direction, float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.direction, c.velocity
}

func clipKey(clipID string, gopKey float64) string {
	return clipID + "|" + ftoa(gopKey)
}

func ftoa(f float64) string {
	// Quantized to microseconds: GOP keys are keyframe source times, far
	// coarser than this, so this never collides two distinct keyframes.
	i := int64(f * 1e6)
	return itoa(i)
}

func itoa(i int64) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}
