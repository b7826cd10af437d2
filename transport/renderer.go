package transport

import (
	"github.com/hajimehoshi/ebiten/v2"

	"github.com/lilluzifer/cinnamon/composition"
	"github.com/lilluzifer/cinnamon/mapper"
)

// RenderRequest is what a renderer needs from the transport for one frame:
// the slice active at sampleTime (draw order + matte bindings) and each
// drawn clip's placement transform, resolved once per composition adoption
// rather than walked fresh every frame.
type RenderRequest struct {
	Slice      mapper.Slice
	Transforms map[string]composition.Transform
}

// RenderRequestAt resolves the active slice and per-clip transforms for
// sampleTime, the synchronous read path a renderer calls once per frame
// alongside SelectFrame.
func (c *Controller) RenderRequestAt(sampleTime float64) (RenderRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.graph.Slices {
		if s.Start <= sampleTime && sampleTime < s.End {
			return RenderRequest{Slice: s, Transforms: c.transformsLocked}, true
		}
	}
	return RenderRequest{}, false
}

// DrawSlice composites the frames named in req.Slice.Draw onto viewport,
// back-to-front (req.Slice.Draw is already top-first, so this walks it in
// reverse), applying each clip's placement transform and any alpha matte
// binding. get must return the cached frame image for a clip ID, or false
// if nothing is resident yet.
//
// This generalizes the teacher's single-frame-fit draw.go: CalcProjection's
// fit-and-center math becomes the identity placement for a clip with
// IdentityTransform, and clip.Transform composes on top of it.
func DrawSlice(viewport *ebiten.Image, req RenderRequest, get func(clipID string) (*ebiten.Image, bool)) {
	draw := req.Slice.Draw
	for i := len(draw) - 1; i >= 0; i-- {
		clipID := draw[i]
		frame, ok := get(clipID)
		if !ok {
			continue
		}
		geom := placementGeoM(viewport, frame, req.Transforms[clipID])

		if matteSource, ok := req.Slice.Mattes[clipID]; ok {
			if matteFrame, ok := get(matteSource); ok {
				drawMatted(viewport, frame, matteFrame, geom)
				continue
			}
		}

		var opts ebiten.DrawImageOptions
		opts.GeoM = geom
		opts.Filter = ebiten.FilterLinear
		viewport.DrawImage(frame, &opts)
	}
}

// drawMatted draws frame onto an offscreen buffer sized like the viewport,
// then cuts it down to matteFrame's alpha via CompositeModeDestinationIn before
// blending onto viewport, approximating an alpha matte.
func drawMatted(viewport, frame, matteFrame *ebiten.Image, geom ebiten.GeoM) {
	bounds := viewport.Bounds()
	scratch := ebiten.NewImage(bounds.Dx(), bounds.Dy())
	defer scratch.Dispose()

	var opts ebiten.DrawImageOptions
	opts.GeoM = geom
	opts.Filter = ebiten.FilterLinear
	scratch.DrawImage(frame, &opts)

	var matteOpts ebiten.DrawImageOptions
	matteOpts.GeoM = geom
	matteOpts.Filter = ebiten.FilterLinear
	matteOpts.CompositeMode = ebiten.CompositeModeDestinationIn
	scratch.DrawImage(matteFrame, &matteOpts)

	var finalOpts ebiten.DrawImageOptions
	viewport.DrawImage(scratch, &finalOpts)
}

// placementGeoM generalizes draw.go's CalcProjection: fit-and-center the
// frame into viewport, then apply the clip's own transform on top.
func placementGeoM(viewport, frame *ebiten.Image, t composition.Transform) ebiten.GeoM {
	vw, vh := viewport.Bounds().Dx(), viewport.Bounds().Dy()
	fw, fh := frame.Bounds().Dx(), frame.Bounds().Dy()

	var geom ebiten.GeoM
	wf, hf := float64(vw)/float64(fw), float64(vh)/float64(fh)
	sf := wf
	if hf < wf {
		sf = hf
	}
	sfw, sfh := float64(fw)*sf, float64(fh)*sf
	geom.Scale(sf, sf)
	geom.Translate((float64(vw)-sfw)/2, (float64(vh)-sfh)/2)

	scaleX, scaleY := t.ScaleX, t.ScaleY
	if scaleX == 0 {
		scaleX = 1
	}
	if scaleY == 0 {
		scaleY = 1
	}
	geom.Translate(-float64(vw)/2, -float64(vh)/2)
	geom.Scale(scaleX, scaleY)
	geom.Rotate(t.RotationDegrees * (3.141592653589793 / 180))
	geom.Translate(float64(vw)/2+t.TranslateX, float64(vh)/2+t.TranslateY)

	return geom
}
