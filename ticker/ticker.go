// Package ticker implements TimelineTicker: during playback, it calls back
// at display cadence with the timeline time extrapolated from its start
// point. It does not touch the clock itself; the transport stops it while
// scrubbing.
package ticker

import (
	"sync"
	"time"
)

const defaultRefreshHz = 60

// Ticker drives onTick(t') at ~60Hz (or composition fps, whichever is
// finer) using host-time deltas. It never queues: if onTick runs long, the
// next tick is skipped rather than backed up, per spec.md §4.6.
type Ticker struct {
	mu      sync.Mutex
	onTick  func(t float64)
	rate    float64
	from    float64
	hostRef time.Time
	period  time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
	active bool

	now func() time.Time
}

// New creates a Ticker whose cadence is the finer of 60Hz and
// compositionFPS.
func New(compositionFPS float64) *Ticker {
	hz := float64(defaultRefreshHz)
	if compositionFPS > hz {
		hz = compositionFPS
	}
	return &Ticker{period: time.Duration(float64(time.Second) / hz), now: time.Now}
}

// Start schedules onTick(t') at the ticker's cadence. rate == 0 does not
// spin: the ticker is marked active but no tick goroutine is started, so
// onTick is never called.
func (tk *Ticker) Start(from float64, rate float64, onTick func(t float64)) {
	tk.mu.Lock()
	if tk.active {
		tk.mu.Unlock()
		tk.Stop()
		tk.mu.Lock()
	}
	tk.from = from
	tk.rate = rate
	tk.onTick = onTick
	tk.hostRef = tk.now()
	tk.stopCh = make(chan struct{})
	tk.active = true
	stopCh := tk.stopCh
	tk.mu.Unlock()

	if rate == 0 {
		return
	}

	tk.wg.Add(1)
	go tk.run(stopCh)
}

func (tk *Ticker) run(stopCh chan struct{}) {
	defer tk.wg.Done()
	timer := time.NewTimer(tk.period)
	defer timer.Stop()
	for {
		select {
		case <-stopCh:
			return
		case now := <-timer.C:
			tk.mu.Lock()
			rate, from, hostRef, cb := tk.rate, tk.from, tk.hostRef, tk.onTick
			tk.mu.Unlock()
			if cb != nil && rate != 0 {
				t := from + now.Sub(hostRef).Seconds()*rate
				cb(t)
			}
			// Catch-up semantics: the period restarts when onTick returns,
			// not at the fire time received from `timer.C`, so a slow
			// onTick causes the next tick to be skipped rather than queued.
			timer.Reset(tk.period)
		}
	}
}

// Stop halts the ticker. Idempotent.
func (tk *Ticker) Stop() {
	tk.mu.Lock()
	if !tk.active {
		tk.mu.Unlock()
		return
	}
	close(tk.stopCh)
	tk.active = false
	tk.mu.Unlock()
	tk.wg.Wait()
}

// Seek rebases the ticker's origin without restarting the goroutine.
func (tk *Ticker) Seek(t float64) {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	tk.from = t
	tk.hostRef = tk.now()
}
