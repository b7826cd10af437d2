// Command cinnamonplay is a demo driver for the playback/scrub engine,
// generalizing the teacher's examples/mediaplayer from "one video file" to
// "a JSON-authored composition of clips". Load a composition, press SPACE
// to play/pause, drag with the arrow keys to scrub the timeline.
package main

import (
	"errors"
	"flag"
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"github.com/erparts/reisen"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/audio"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"

	"github.com/lilluzifer/cinnamon/composition"
	"github.com/lilluzifer/cinnamon/source"
	"github.com/lilluzifer/cinnamon/timebase"
	"github.com/lilluzifer/cinnamon/transport"
)

func main() {
	path := flag.String("composition", "", "path to a composition JSON document")
	flag.Parse()
	if *path == "" {
		fmt.Println("usage: cinnamonplay -composition path/to/composition.json")
		os.Exit(1)
	}

	data, err := os.ReadFile(*path)
	if err != nil {
		panic(err)
	}
	comp, err := composition.LoadDocument(data)
	if err != nil {
		panic(err)
	}
	tb := timebase.NewRational(comp.FrameRateNum, comp.FrameRateDenom)
	report := composition.Sanitize(&comp, tb)
	for _, r := range report.Repairs {
		fmt.Printf("repaired: %s\n", r)
	}

	assetDir := filepath.Dir(*path)
	if err := primeAudioContext(comp, assetDir); err != nil {
		fmt.Printf("audio disabled: %v\n", err)
	}

	factory := func(clip composition.Clip) (*source.VideoSource, error) {
		backend, err := source.NewReisenBackend(filepath.Join(assetDir, clip.AssetRef))
		if err != nil {
			return nil, err
		}
		mapping := source.Mapping{
			SrcStart:    clip.SrcRange.Start,
			SrcDuration: clip.SrcRange.Duration,
			DstStart:    clip.DstStart,
			Speed:       clip.Speed,
		}
		return source.New(backend, mapping, tb), nil
	}

	tc := transport.New(tb, transport.NoopAudioMixer{}, factory)
	if audio.CurrentContext() != nil {
		tc.SetMixer(transport.NewEbitenAudioMixer(audioOpener(comp, assetDir), tc.Clock()))
	}
	if err := tc.AdoptComposition(comp); err != nil {
		panic(err)
	}

	ebiten.SetWindowTitle("cinnamonplay")
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetWindowSize(1280, 720)

	game := &game{tc: tc, duration: tc.Graph().Duration}
	if err := ebiten.RunGame(game); err != nil {
		panic(err)
	}
}

// audioOpener resolves a clip ID back to its media/audio stream for
// EbitenAudioMixer, reopening the container independently of the video
// decode path since reisen streams aren't safely shared across goroutines.
func audioOpener(comp composition.Composition, assetDir string) transport.AudioOpener {
	byID := map[string]string{}
	for _, clip := range comp.Clips {
		byID[clip.ID] = clip.AssetRef
	}
	return func(clipID string) (*reisen.Media, *reisen.AudioStream, error) {
		assetRef, ok := byID[clipID]
		if !ok {
			return nil, nil, fmt.Errorf("cinnamonplay: no clip %q", clipID)
		}
		media, err := reisen.NewMedia(filepath.Join(assetDir, assetRef))
		if err != nil {
			return nil, nil, err
		}
		streams := media.AudioStreams()
		if len(streams) == 0 {
			media.Close()
			return nil, nil, errors.New("cinnamonplay: no audio stream")
		}
		return media, streams[0], nil
	}
}

func primeAudioContext(comp composition.Composition, assetDir string) error {
	for _, clip := range comp.Clips {
		media, err := reisen.NewMedia(filepath.Join(assetDir, clip.AssetRef))
		if err != nil {
			continue
		}
		streams := media.AudioStreams()
		if len(streams) == 0 {
			media.Close()
			continue
		}
		rate := streams[0].SampleRate()
		media.Close()
		if audio.CurrentContext() == nil {
			audio.NewContext(rate)
		}
		return nil
	}
	return errors.New("no clip with an audio stream")
}

type game struct {
	tc       *transport.Controller
	duration float64

	playing   bool
	scrubbing bool
}

func (g *game) Layout(w, h int) (int, int) { return w, h }

func (g *game) Update() error {
	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		return ebiten.Termination
	}

	if inpututil.IsKeyJustPressed(ebiten.KeySpace) {
		if g.playing {
			g.tc.RequestPause()
			g.playing = false
		} else {
			g.tc.RequestPlay(1.0)
			g.playing = true
		}
	}

	left, right := ebiten.IsKeyPressed(ebiten.KeyLeft), ebiten.IsKeyPressed(ebiten.KeyRight)
	if left || right {
		if !g.scrubbing {
			g.tc.BeginScrub()
			g.scrubbing = true
		}
		t := g.tc.Clock().CurrentTime()
		step := 1.0 / 24.0
		if left {
			t -= step
		} else {
			t += step
		}
		g.tc.ScrubSeek(t)
	} else if g.scrubbing {
		g.tc.EndScrub(g.tc.Clock().CurrentTime(), g.playing)
		g.scrubbing = false
	}

	return nil
}

func (g *game) Draw(screen *ebiten.Image) {
	screen.Fill(color.Black)
	t := g.tc.Clock().CurrentTime()
	req, ok := g.tc.RenderRequestAt(t)
	if !ok {
		return
	}
	transport.DrawSlice(screen, req, func(clipID string) (*ebiten.Image, bool) {
		frame, ok := g.tc.SelectFrame(clipID, t)
		if !ok {
			return nil, false
		}
		img, ok := frame.Image.(*ebiten.Image)
		return img, ok
	})
	ebitenutil.DebugPrintAt(screen, fmt.Sprintf("%.2f / %.2f", t, g.duration), 8, 8)
}
