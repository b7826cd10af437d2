// Package mapper implements TimelinePlaybackMapper: a pure function from a
// Composition to a PlaybackGraph (per-layer segments, a merged global
// timeline, and composite slices with matte bindings). It has no side
// effects and no concurrency of its own — the transport calls it once per
// composition adoption.
package mapper

import (
	"sort"

	"github.com/lilluzifer/cinnamon/composition"
	"github.com/lilluzifer/cinnamon/internal/debug"
)

// Segment is one clip or gap on a track or on the merged global timeline.
type Segment struct {
	ClipID string // empty for a gap
	IsGap  bool
	Start  float64
	End    float64
}

// Slice is a maximal time interval over which the active clip set and
// z-order is constant (spec.md §3, "composite slice").
type Slice struct {
	Start, End float64
	// Draw lists clip IDs top-first (highest zIndex/stackIndex first).
	Draw []string
	// Mattes maps a clipID to the clip ID supplying its matte, for clips
	// with a resolved (non-None, non-rejected) matte binding.
	Mattes map[string]string
}

// PlaybackGraph is the full derived, immutable-per-version output of Map.
type PlaybackGraph struct {
	Version        int64
	PerLayer       map[string][]Segment
	GlobalSegments []Segment
	Duration       float64
	Slices         []Slice
}

const sliceMergeEpsilon = 1e-3

// Map derives a PlaybackGraph from a composition. Two calls with an
// identical composition (same field values) produce identical output —
// the mapper sorts everything explicitly rather than relying on input
// order, and never consults wall-clock or randomness.
func Map(c composition.Composition, version int64) PlaybackGraph {
	graph := PlaybackGraph{Version: version, PerLayer: map[string][]Segment{}}

	enabled := make([]composition.Clip, 0, len(c.Clips))
	for _, clip := range c.Clips {
		if clip.Enabled {
			enabled = append(enabled, clip)
		}
	}
	sort.Slice(enabled, func(i, j int) bool {
		if enabled[i].TrackID != enabled[j].TrackID {
			return enabled[i].TrackID < enabled[j].TrackID
		}
		return enabled[i].DstStart < enabled[j].DstStart
	})

	byTrack := map[string][]composition.Clip{}
	for _, clip := range enabled {
		byTrack[clip.TrackID] = append(byTrack[clip.TrackID], clip)
	}

	var maxEnd float64
	for trackID, clips := range byTrack {
		graph.PerLayer[trackID] = layerSegments(clips)
		for _, clip := range clips {
			if end := clip.DstEnd(); end > maxEnd {
				maxEnd = end
			}
		}
	}
	graph.Duration = maxEnd
	graph.GlobalSegments = globalSegments(enabled, maxEnd)
	graph.Slices = compositeSlices(c, enabled)

	debug.Timelinef("mapped composition: %d clips, %d slices, duration=%.3f", len(enabled), len(graph.Slices), graph.Duration)
	return graph
}

// layerSegments produces one track's clip/gap segments in order, with gaps
// inserted between clips (and before the first / after none, since tracks
// have no defined trailing gap).
func layerSegments(clips []composition.Clip) []Segment {
	segs := make([]Segment, 0, len(clips)*2)
	cursor := 0.0
	for _, clip := range clips {
		start := clip.DstStart
		if start > cursor+1e-9 {
			segs = append(segs, Segment{IsGap: true, Start: cursor, End: start})
		}
		end := clip.DstEnd()
		segs = append(segs, Segment{ClipID: clip.ID, Start: start, End: end})
		cursor = end
	}
	return segs
}

// globalSegments merges per-clip boundaries across all tracks into a single
// sequence of gap/non-gap intervals, coalescing adjacent gaps.
func globalSegments(clips []composition.Clip, duration float64) []Segment {
	if len(clips) == 0 {
		if duration <= 0 {
			return nil
		}
		return []Segment{{IsGap: true, Start: 0, End: duration}}
	}

	boundarySet := map[float64]struct{}{0: {}, duration: {}}
	for _, clip := range clips {
		boundarySet[clip.DstStart] = struct{}{}
		boundarySet[clip.DstEnd()] = struct{}{}
	}
	boundaries := make([]float64, 0, len(boundarySet))
	for b := range boundarySet {
		boundaries = append(boundaries, b)
	}
	sort.Float64s(boundaries)

	var segs []Segment
	for i := 0; i+1 < len(boundaries); i++ {
		start, end := boundaries[i], boundaries[i+1]
		if end-start <= 1e-9 {
			continue
		}
		active := false
		for _, clip := range clips {
			if clip.DstStart <= start && end <= clip.DstEnd()+1e-9 {
				active = true
				break
			}
		}
		seg := Segment{IsGap: !active, Start: start, End: end}
		if n := len(segs); n > 0 && segs[n-1].IsGap && seg.IsGap {
			segs[n-1].End = seg.End
			continue
		}
		segs = append(segs, seg)
	}
	return segs
}

// compositeSlices computes the maximal intervals over which the active
// clip set and z-order is constant, resolving matte bindings per spec.md
// §4.8, then merges adjacent slices with equal content.
func compositeSlices(c composition.Composition, clips []composition.Clip) []Slice {
	if len(clips) == 0 {
		return nil
	}

	trackStack := map[string]int{}
	for _, t := range c.Tracks {
		trackStack[t.ID] = t.StackIndex
	}

	boundarySet := map[float64]struct{}{}
	for _, clip := range clips {
		boundarySet[clip.DstStart] = struct{}{}
		boundarySet[clip.DstEnd()] = struct{}{}
	}
	boundaries := make([]float64, 0, len(boundarySet))
	for b := range boundarySet {
		boundaries = append(boundaries, b)
	}
	sort.Float64s(boundaries)

	var slices []Slice
	for i := 0; i+1 < len(boundaries); i++ {
		start, end := boundaries[i], boundaries[i+1]
		if end-start <= 1e-9 {
			continue
		}
		mid := (start + end) / 2
		var active []composition.Clip
		for _, clip := range clips {
			if clip.DstStart <= mid && mid < clip.DstEnd() {
				active = append(active, clip)
			}
		}
		if len(active) == 0 {
			continue
		}
		sort.SliceStable(active, func(i, j int) bool {
			if active[i].ZIndex != active[j].ZIndex {
				return active[i].ZIndex > active[j].ZIndex
			}
			si, sj := trackStack[active[i].TrackID], trackStack[active[j].TrackID]
			if si != sj {
				return si > sj
			}
			if active[i].DstStart != active[j].DstStart {
				return active[i].DstStart < active[j].DstStart
			}
			return active[i].ID < active[j].ID
		})

		draw, mattes := resolveMattes(active)
		slices = append(slices, Slice{Start: start, End: end, Draw: draw, Mattes: mattes})
	}

	return mergeSlices(slices)
}

// resolveMattes implements the per-slice matte rule of spec.md §4.8: for
// each clip with a non-None matte, pick the explicit source or the next
// higher clip in the ordered list ("layer above"); reject self/mutual
// claims; hide the chosen matte-source clip from the draw list.
func resolveMattes(ordered []composition.Clip) (draw []string, mattes map[string]string) {
	byID := make(map[string]composition.Clip, len(ordered))
	index := make(map[string]int, len(ordered))
	for i, clip := range ordered {
		byID[clip.ID] = clip
		index[clip.ID] = i
	}

	mattes = map[string]string{}
	hidden := map[string]bool{}

	for _, clip := range ordered {
		if clip.MatteMode == composition.MatteNone {
			continue
		}
		var source string
		if clip.UseLayerAbove {
			i := index[clip.ID]
			if i == 0 {
				continue // no layer above
			}
			source = ordered[i-1].ID
		} else {
			source = clip.MatteSource
		}
		if source == "" || source == clip.ID {
			continue
		}
		sourceClip, ok := byID[source]
		if !ok {
			continue
		}
		// mutual claim: the chosen source also claims this clip as its matte.
		if sourceClip.MatteMode != composition.MatteNone {
			sourceResolvesTo := sourceClip.MatteSource
			if sourceClip.UseLayerAbove {
				if i := index[sourceClip.ID]; i > 0 {
					sourceResolvesTo = ordered[i-1].ID
				}
			}
			if sourceResolvesTo == clip.ID {
				continue
			}
		}
		mattes[clip.ID] = source
		hidden[source] = true
	}

	for _, clip := range ordered {
		if !hidden[clip.ID] {
			draw = append(draw, clip.ID)
		}
	}
	return draw, mattes
}

func mergeSlices(slices []Slice) []Slice {
	if len(slices) == 0 {
		return nil
	}
	merged := []Slice{slices[0]}
	for _, s := range slices[1:] {
		last := &merged[len(merged)-1]
		if last.End+sliceMergeEpsilon >= s.Start && sameContent(*last, s) {
			last.End = s.End
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

func sameContent(a, b Slice) bool {
	if len(a.Draw) != len(b.Draw) {
		return false
	}
	for i := range a.Draw {
		if a.Draw[i] != b.Draw[i] {
			return false
		}
	}
	if len(a.Mattes) != len(b.Mattes) {
		return false
	}
	for k, v := range a.Mattes {
		if b.Mattes[k] != v {
			return false
		}
	}
	return true
}
