// Package composition models the edited timeline: tracks, clips, mattes and
// the derived playback graph. Edit operations (trim/slip/slide/ripple) and
// their undo stack live outside this engine (spec.md §1); this package only
// owns the data and its invariants.
package composition

import "errors"

// MatteMode selects how a clip's alpha is derived from another clip.
type MatteMode uint8

const (
	MatteNone MatteMode = iota
	MatteAlpha
	MatteLuma
)

// BlendMode is carried through to the compositor untouched; this engine
// never interprets it beyond passing it along in composite slices.
type BlendMode string

// Transform is the 2D placement of a clip within its frame.
type Transform struct {
	TranslateX, TranslateY float64
	ScaleX, ScaleY         float64
	RotationDegrees        float64
}

// IdentityTransform returns the neutral transform.
func IdentityTransform() Transform {
	return Transform{ScaleX: 1, ScaleY: 1}
}

// SourceRange is a clip's in/out range within its source asset, in seconds
// at the asset's native rate.
type SourceRange struct {
	Start    float64
	Duration float64
}

// End returns Start + Duration.
func (r SourceRange) End() float64 { return r.Start + r.Duration }

// Track is an ordered layer; StackIndex determines z-order (higher draws on
// top, per the mapper's sort in spec.md §4.8).
type Track struct {
	ID         string
	StackIndex int
	Kind       string // "video" or "audio"
	Name       string
	Muted      bool
	Solo       bool
	Locked     bool
	Color      string
	Blend      BlendMode
}

// Clip owns identity, source mapping, timeline placement and optional matte
// bindings, per spec.md §3.
type Clip struct {
	ID          string
	Name        string
	AssetRef    string
	SrcRange    SourceRange
	DstStart    float64
	Speed       float64
	Transform   Transform
	TrackID     string
	Enabled     bool
	ZIndex      int
	Metadata    map[string]string
	MatteMode   MatteMode
	MatteSource string // explicit matte source clip ID, empty if none
	UseLayerAbove bool
	HideAsRender  bool
}

// DstEnd returns dstStart + srcRange.duration / speed, the derived timeline
// end of the clip.
func (c Clip) DstEnd() float64 {
	speed := c.Speed
	if speed == 0 {
		speed = 1
	}
	return c.DstStart + c.SrcRange.Duration/speed
}

// Marker is a named point of interest on the timeline.
type Marker struct {
	ID   string
	Time float64
	Name string
}

// KeyframeTrack is a flat, arena-style keyframe track keyed by a layer,
// avoiding the back-edge graphs ("layer <-> keyframe track <-> layer") the
// design notes (spec.md §9) call out for re-architecture: keyframe tracks
// are looked up by LayerID, not traversed by reference.
type KeyframeTrack struct {
	ID      string
	LayerID string
	Param   string
	Times   []float64
	Values  []float64
}

// Composition is the full edited document: an ordered set of tracks and a
// set of clips, plus auxiliary data untouched by this engine.
type Composition struct {
	FrameRateNum   int64
	FrameRateDenom int64
	Tracks         []Track
	Clips          []Clip
	Markers        []Marker
	WorkAreaStart  float64
	WorkAreaDur    float64
	KeyframeTracks []KeyframeTrack
}

var (
	ErrZeroOrNegativeDuration = errors.New("composition: clip srcRange.duration must be positive")
	ErrNonFiniteDuration      = errors.New("composition: clip srcRange.duration is not finite")
)
