package composition

import (
	"fmt"

	"github.com/lilluzifer/cinnamon/internal/debug"
	"github.com/lilluzifer/cinnamon/timebase"
)

// Repair describes one correction the sanitizer performed. Spec.md §7
// requires "all repairs are logged"; Report gives tests and callers a
// structured view of the same information the log line carries.
type Repair struct {
	ClipID string
	Field  string
	Detail string
}

// Report is the outcome of a Sanitize pass.
type Report struct {
	Repairs []Repair
}

func (r *Report) add(clipID, field, detail string) {
	r.Repairs = append(r.Repairs, Repair{ClipID: clipID, Field: field, Detail: detail})
	debug.Warnf("composition: repaired clip %q field %q: %s", clipID, field, detail)
}

// Sanitize repairs a composition in place so every invariant in spec.md §3
// holds: srcRange.duration >= one frame, dstStart >= 0, matteSourceID never
// equal to self, and no matte-reference cycle. It never errors — a load-time
// hard error (ErrZeroOrNegativeDuration / ErrNonFiniteDuration) is reserved
// for callers that want to reject a document outright rather than repair it
// (see persistence.go LoadDocument).
//
// Sanitize is idempotent: Sanitize(Sanitize(c)) produces the same result as
// Sanitize(c), because every repair clamps into the invariant's valid range
// rather than transforming it further.
func Sanitize(c *Composition, tb timebase.Timebase) Report {
	var report Report

	minDuration := tb.FrameDuration()
	clipByID := make(map[string]*Clip, len(c.Clips))
	for i := range c.Clips {
		clip := &c.Clips[i]
		clipByID[clip.ID] = clip

		if clip.DstStart < 0 {
			report.add(clip.ID, "dstStart", fmt.Sprintf("clamped %.6f to 0", clip.DstStart))
			clip.DstStart = 0
		}
		if clip.Speed == 0 {
			report.add(clip.ID, "speed", "zero speed clamped to 1.0")
			clip.Speed = 1
		}
		if clip.SrcRange.Start < 0 {
			report.add(clip.ID, "srcRange.start", fmt.Sprintf("clamped %.6f to 0", clip.SrcRange.Start))
			clip.SrcRange.Start = 0
		}
		if clip.SrcRange.Duration < minDuration {
			report.add(clip.ID, "srcRange.duration", fmt.Sprintf("clamped %.6f to one frame (%.6f)", clip.SrcRange.Duration, minDuration))
			clip.SrcRange.Duration = minDuration
		}
		if clip.MatteSource == clip.ID && clip.MatteSource != "" {
			report.add(clip.ID, "matteSourceID", "self-matte cleared")
			clip.MatteSource = ""
			clip.MatteMode = MatteNone
		}
	}

	sanitizeMatteCycles(c.Clips, clipByID, &report)
	return report
}

// sanitizeMatteCycles walks the clip -> matteSource graph and breaks any
// cycle (including 2-clip mutual mattes, spec.md scenario 3) by clearing
// every matte edge on the cycle.
func sanitizeMatteCycles(clips []Clip, byID map[string]*Clip, report *Report) {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(clips))

	var clear func(id string, reason string)
	clear = func(id string, reason string) {
		clip, ok := byID[id]
		if !ok || clip.MatteMode == MatteNone {
			return
		}
		report.add(clip.ID, "matteSourceID", reason)
		clip.MatteSource = ""
		clip.MatteMode = MatteNone
	}

	var visit func(id string, path []string)
	visit = func(id string, path []string) {
		if state[id] == done {
			return
		}
		if state[id] == visiting {
			// cycle found: break every edge on the cycle starting at id.
			started := false
			for _, p := range path {
				if p == id {
					started = true
				}
				if started {
					clear(p, "matte cycle broken")
				}
			}
			return
		}
		clip, ok := byID[id]
		if !ok {
			state[id] = done
			return
		}
		state[id] = visiting
		if clip.MatteMode != MatteNone && clip.MatteSource != "" {
			if _, exists := byID[clip.MatteSource]; exists {
				visit(clip.MatteSource, append(path, id))
			} else {
				clear(id, "matte source does not exist")
			}
		}
		state[id] = done
	}

	for i := range clips {
		if state[clips[i].ID] == unvisited {
			visit(clips[i].ID, nil)
		}
	}
}
