package mapper

import (
	"reflect"
	"testing"

	"github.com/lilluzifer/cinnamon/composition"
)

func twoClipComposition() composition.Composition {
	return composition.Composition{
		Tracks: []composition.Track{{ID: "t1", StackIndex: 0}},
		Clips: []composition.Clip{
			{ID: "A", TrackID: "t1", Enabled: true, DstStart: 0, Speed: 1, SrcRange: composition.SourceRange{Duration: 2}},
			{ID: "B", TrackID: "t1", Enabled: true, DstStart: 2, Speed: 1, SrcRange: composition.SourceRange{Duration: 2}},
		},
	}
}

func TestMapperDeterminism(t *testing.T) {
	c := twoClipComposition()
	g1 := Map(c, 1)
	g2 := Map(c, 1)
	if !reflect.DeepEqual(g1, g2) {
		t.Fatalf("mapper is not deterministic:\n%+v\n%+v", g1, g2)
	}
}

func TestGapTraversalScenario(t *testing.T) {
	// {clipA dst=[0,1], gap=[1,2], clipB dst=[2,3]} per spec.md scenario 7.
	c := composition.Composition{
		Tracks: []composition.Track{{ID: "t1"}},
		Clips: []composition.Clip{
			{ID: "A", TrackID: "t1", Enabled: true, DstStart: 0, Speed: 1, SrcRange: composition.SourceRange{Duration: 1}},
			{ID: "B", TrackID: "t1", Enabled: true, DstStart: 2, Speed: 1, SrcRange: composition.SourceRange{Duration: 1}},
		},
	}
	g := Map(c, 1)
	if len(g.GlobalSegments) != 3 {
		t.Fatalf("expected 3 global segments (clip,gap,clip), got %d: %+v", len(g.GlobalSegments), g.GlobalSegments)
	}
	if !g.GlobalSegments[1].IsGap || g.GlobalSegments[1].Start != 1 || g.GlobalSegments[1].End != 2 {
		t.Fatalf("middle segment should be the gap [1,2]: %+v", g.GlobalSegments[1])
	}
}

func TestCompositeSliceZOrder(t *testing.T) {
	c := composition.Composition{
		Tracks: []composition.Track{{ID: "bottom", StackIndex: 0}, {ID: "top", StackIndex: 1}},
		Clips: []composition.Clip{
			{ID: "B", TrackID: "bottom", Enabled: true, DstStart: 0, Speed: 1, SrcRange: composition.SourceRange{Duration: 5}},
			{ID: "T", TrackID: "top", Enabled: true, DstStart: 0, Speed: 1, SrcRange: composition.SourceRange{Duration: 5}},
		},
	}
	g := Map(c, 1)
	if len(g.Slices) != 1 {
		t.Fatalf("expected a single merged slice, got %d: %+v", len(g.Slices), g.Slices)
	}
	if got := g.Slices[0].Draw; len(got) != 2 || got[0] != "T" || got[1] != "B" {
		t.Fatalf("expected top-first draw order [T B], got %v", got)
	}
}

func TestMatteResolutionHidesSource(t *testing.T) {
	c := composition.Composition{
		Tracks: []composition.Track{{ID: "bottom", StackIndex: 0}, {ID: "top", StackIndex: 1}},
		Clips: []composition.Clip{
			{ID: "B", TrackID: "bottom", Enabled: true, DstStart: 0, Speed: 1, SrcRange: composition.SourceRange{Duration: 5}},
			{ID: "T", TrackID: "top", Enabled: true, DstStart: 0, Speed: 1, SrcRange: composition.SourceRange{Duration: 5},
				MatteMode: composition.MatteAlpha, UseLayerAbove: false, MatteSource: "B"},
		},
	}
	g := Map(c, 1)
	if len(g.Slices) != 1 {
		t.Fatalf("expected 1 slice, got %d", len(g.Slices))
	}
	s := g.Slices[0]
	if len(s.Draw) != 1 || s.Draw[0] != "T" {
		t.Fatalf("matte source B should be hidden from draw list: %v", s.Draw)
	}
	if s.Mattes["T"] != "B" {
		t.Fatalf("expected T's matte to resolve to B: %v", s.Mattes)
	}
}
