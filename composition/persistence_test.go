package composition

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestLegacyIndexFieldDecodesAsStackIndex(t *testing.T) {
	raw := `{
		"frameRateNum": 24, "frameRateDenom": 1, "duration": 10,
		"tracks": [{"id": "t1", "kind": "video", "name": "V1", "index": 3}],
		"clips": [{"id": "c1", "assetRef": "a", "srcStart": 0, "srcDuration": 1, "dstStart": 0, "enabled": true, "speed": 1}]
	}`
	comp, err := LoadDocument([]byte(raw))
	if err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}
	if len(comp.Tracks) != 1 || comp.Tracks[0].StackIndex != 3 {
		t.Fatalf("legacy index field not honored: %+v", comp.Tracks)
	}
}

func TestLoadDocumentRejectsNonPositiveDuration(t *testing.T) {
	raw := `{"clips": [{"id": "c1", "assetRef": "a", "srcDuration": 0}]}`
	_, err := LoadDocument([]byte(raw))
	if !errors.Is(err, ErrZeroOrNegativeDuration) {
		t.Fatalf("expected ErrZeroOrNegativeDuration, got %v", err)
	}
}

func TestDocumentRoundTrip(t *testing.T) {
	comp := Composition{
		FrameRateNum: 30000, FrameRateDenom: 1001,
		Tracks: []Track{{ID: "t1", StackIndex: 0, Kind: "video"}},
		Clips: []Clip{
			{ID: "c1", AssetRef: "asset://a", SrcRange: SourceRange{Start: 0, Duration: 2}, DstStart: 0, Speed: 1, TrackID: "t1"},
		},
	}
	doc := ToDocument(comp)
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	back, err := LoadDocument(data)
	if err != nil {
		t.Fatalf("LoadDocument: %v", err)
	}
	if len(back.Clips) != 1 || back.Clips[0].ID != "c1" || back.Clips[0].SrcRange.Duration != 2 {
		t.Fatalf("round trip mismatch: %+v", back.Clips)
	}
}
