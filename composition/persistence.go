package composition

import (
	"encoding/json"
	"fmt"
	"math"
)

// Document is the serialized form of a Composition, field-for-field matching
// spec.md §6 ("Persistence"). JSON is used for encoding, following the
// stdlib-first idiom of the teacher repo (neither reisen nor ebiten bring
// their own serialization format, so none is borrowed for this).
type Document struct {
	FrameRateNum   int64              `json:"frameRateNum"`
	FrameRateDenom int64              `json:"frameRateDenom"`
	Duration       float64            `json:"duration"`
	Tracks         []trackDoc         `json:"tracks"`
	Clips          []clipDoc          `json:"clips"`
	Markers        []markerDoc        `json:"markers,omitempty"`
	WorkAreaStart  float64            `json:"workAreaStart,omitempty"`
	WorkAreaDur    float64            `json:"workAreaDuration,omitempty"`
	KeyframeTracks []keyframeTrackDoc `json:"keyframeTracks,omitempty"`
}

type trackDoc struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
	Name string `json:"name"`

	// StackIndex is the current field name. Index is the legacy field name
	// kept for backward-compatible decoding only (spec.md §6: "Legacy
	// field 'index' on track decodes as stackIndex").
	StackIndex *int `json:"stackIndex,omitempty"`
	Index      *int `json:"index,omitempty"`

	Muted  bool   `json:"muted,omitempty"`
	Solo   bool   `json:"solo,omitempty"`
	Locked bool   `json:"locked,omitempty"`
	Color  string `json:"color,omitempty"`
	Blend  string `json:"blendMode,omitempty"`
}

func (t trackDoc) stackIndex() int {
	if t.StackIndex != nil {
		return *t.StackIndex
	}
	if t.Index != nil {
		return *t.Index
	}
	return 0
}

type clipDoc struct {
	ID            string            `json:"id"`
	Name          string            `json:"name,omitempty"`
	AssetRef      string            `json:"assetRef"`
	SrcStart      float64           `json:"srcStart"`
	SrcDuration   float64           `json:"srcDuration"`
	DstStart      float64           `json:"dstStart"`
	Enabled       bool              `json:"enabled"`
	TrackIndices  []int             `json:"trackIndices,omitempty"`
	TrackID       string            `json:"trackId,omitempty"`
	Speed         float64           `json:"speed"`
	Transform     transformDoc      `json:"transform"`
	TransformRef  string            `json:"transformRef,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	MatteMode     string            `json:"matteMode,omitempty"`
	MatteSourceID string            `json:"matteSourceID,omitempty"`
	UseLayerAbove bool              `json:"useLayerAbove,omitempty"`
	HideAsRender  bool              `json:"hideAsRender,omitempty"`
}

type transformDoc struct {
	TranslateX, TranslateY float64
	ScaleX, ScaleY         float64
	RotationDegrees        float64
}

type markerDoc struct {
	ID   string  `json:"id"`
	Time float64 `json:"time"`
	Name string  `json:"name,omitempty"`
}

type keyframeTrackDoc struct {
	ID      string    `json:"id"`
	LayerID string    `json:"layerId"`
	Param   string    `json:"param"`
	Times   []float64 `json:"times"`
	Values  []float64 `json:"values"`
}

func matteModeFromString(s string) MatteMode {
	switch s {
	case "alpha":
		return MatteAlpha
	case "luma":
		return MatteLuma
	default:
		return MatteNone
	}
}

func (m MatteMode) String() string {
	switch m {
	case MatteAlpha:
		return "alpha"
	case MatteLuma:
		return "luma"
	default:
		return "none"
	}
}

// LoadDocument decodes JSON bytes into a Composition. Per spec.md §7, a
// clip with srcDuration <= 0 or non-finite is a hard, fatal error for the
// load — it is not silently repaired like the other invariants Sanitize
// handles.
func LoadDocument(data []byte) (Composition, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Composition{}, fmt.Errorf("composition: decode: %w", err)
	}
	return documentToComposition(doc)
}

func documentToComposition(doc Document) (Composition, error) {
	comp := Composition{
		FrameRateNum:   doc.FrameRateNum,
		FrameRateDenom: doc.FrameRateDenom,
		WorkAreaStart:  doc.WorkAreaStart,
		WorkAreaDur:    doc.WorkAreaDur,
	}

	for _, t := range doc.Tracks {
		comp.Tracks = append(comp.Tracks, Track{
			ID:         t.ID,
			StackIndex: t.stackIndex(),
			Kind:       t.Kind,
			Name:       t.Name,
			Muted:      t.Muted,
			Solo:       t.Solo,
			Locked:     t.Locked,
			Color:      t.Color,
			Blend:      BlendMode(t.Blend),
		})
	}

	for _, cd := range doc.Clips {
		if math.IsNaN(cd.SrcDuration) || math.IsInf(cd.SrcDuration, 0) {
			return Composition{}, fmt.Errorf("%w: clip %q srcDuration=%v", ErrNonFiniteDuration, cd.ID, cd.SrcDuration)
		}
		if cd.SrcDuration <= 0 {
			return Composition{}, fmt.Errorf("%w: clip %q srcDuration=%v", ErrZeroOrNegativeDuration, cd.ID, cd.SrcDuration)
		}
		trackID := cd.TrackID
		if trackID == "" && len(cd.TrackIndices) > 0 {
			trackID = fmt.Sprintf("%d", cd.TrackIndices[0])
		}
		speed := cd.Speed
		if speed == 0 {
			speed = 1
		}
		comp.Clips = append(comp.Clips, Clip{
			ID:       cd.ID,
			Name:     cd.Name,
			AssetRef: cd.AssetRef,
			SrcRange: SourceRange{Start: cd.SrcStart, Duration: cd.SrcDuration},
			DstStart: cd.DstStart,
			Speed:    speed,
			Transform: Transform{
				TranslateX:      cd.Transform.TranslateX,
				TranslateY:      cd.Transform.TranslateY,
				ScaleX:          cd.Transform.ScaleX,
				ScaleY:          cd.Transform.ScaleY,
				RotationDegrees: cd.Transform.RotationDegrees,
			},
			TrackID:       trackID,
			Enabled:       cd.Enabled,
			Metadata:      cd.Metadata,
			MatteMode:     matteModeFromString(cd.MatteMode),
			MatteSource:   cd.MatteSourceID,
			UseLayerAbove: cd.UseLayerAbove,
			HideAsRender:  cd.HideAsRender,
		})
	}

	for _, m := range doc.Markers {
		comp.Markers = append(comp.Markers, Marker{ID: m.ID, Time: m.Time, Name: m.Name})
	}
	for _, k := range doc.KeyframeTracks {
		comp.KeyframeTracks = append(comp.KeyframeTracks, KeyframeTrack{
			ID: k.ID, LayerID: k.LayerID, Param: k.Param, Times: k.Times, Values: k.Values,
		})
	}

	return comp, nil
}

// ToDocument encodes a Composition back into its serialized Document form.
func ToDocument(c Composition) Document {
	doc := Document{
		FrameRateNum:   c.FrameRateNum,
		FrameRateDenom: c.FrameRateDenom,
		WorkAreaStart:  c.WorkAreaStart,
		WorkAreaDur:    c.WorkAreaDur,
	}
	for _, t := range c.Tracks {
		idx := t.StackIndex
		doc.Tracks = append(doc.Tracks, trackDoc{
			ID: t.ID, Kind: t.Kind, Name: t.Name, StackIndex: &idx,
			Muted: t.Muted, Solo: t.Solo, Locked: t.Locked, Color: t.Color, Blend: string(t.Blend),
		})
	}
	for _, c := range c.Clips {
		doc.Clips = append(doc.Clips, clipDoc{
			ID: c.ID, Name: c.Name, AssetRef: c.AssetRef,
			SrcStart: c.SrcRange.Start, SrcDuration: c.SrcRange.Duration,
			DstStart: c.DstStart, Enabled: c.Enabled, TrackID: c.TrackID, Speed: c.Speed,
			Transform: transformDoc{
				TranslateX: c.Transform.TranslateX, TranslateY: c.Transform.TranslateY,
				ScaleX: c.Transform.ScaleX, ScaleY: c.Transform.ScaleY,
				RotationDegrees: c.Transform.RotationDegrees,
			},
			Metadata: c.Metadata, MatteMode: c.MatteMode.String(), MatteSourceID: c.MatteSource,
			UseLayerAbove: c.UseLayerAbove, HideAsRender: c.HideAsRender,
		})
	}
	for _, m := range c.Markers {
		doc.Markers = append(doc.Markers, markerDoc{ID: m.ID, Time: m.Time, Name: m.Name})
	}
	for _, k := range c.KeyframeTracks {
		doc.KeyframeTracks = append(doc.KeyframeTracks, keyframeTrackDoc{
			ID: k.ID, LayerID: k.LayerID, Param: k.Param, Times: k.Times, Values: k.Values,
		})
	}
	return doc
}
