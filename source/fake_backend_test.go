package source

import "github.com/hajimehoshi/ebiten/v2"

// fakeBackend is a deterministic in-memory Backend used to test VideoSource
// without real media files, mirroring the Backend-abstraction seam this
// package exists to provide.
type fakeBackend struct {
	keyframes []float64
	frameStep float64
	duration  float64

	cursor float64
	opened bool
	seeks  int // number of SeekNear calls

	// readGate, if non-nil, is received from once per ReadNextFrame call
	// before it proceeds, letting tests hold a decode open to exercise
	// CopyFrame's serialization between playback and scrub callers.
	readGate chan struct{}
}

func newFakeBackend(duration, frameStep float64, keyframes []float64) *fakeBackend {
	return &fakeBackend{
		keyframes: keyframes,
		frameStep: frameStep,
		duration:  duration,
	}
}

func (f *fakeBackend) Open() error  { f.opened = true; return nil }
func (f *fakeBackend) Close() error { f.opened = false; return nil }
func (f *fakeBackend) Duration() float64 { return f.duration }
func (f *fakeBackend) FrameRate() (int64, int64) { return 24, 1 }
func (f *fakeBackend) NaturalSize() (int, int) { return 4, 4 }

func (f *fakeBackend) Keyframes() ([]float64, error) {
	return f.keyframes, nil
}

func (f *fakeBackend) SeekNear(sourceTime float64) error {
	k := nearestKeyframeAtOrBefore(f.keyframes, sourceTime)
	f.cursor = k
	f.seeks++
	return nil
}

func (f *fakeBackend) ReadNextFrame() (Frame, bool, error) {
	if f.readGate != nil {
		<-f.readGate
	}
	if f.cursor >= f.duration {
		return Frame{}, false, nil
	}
	// A fresh image per frame, like reisenBackend, so tests can tell two
	// decoded frames apart by identity instead of them aliasing one buffer.
	frame := Frame{Image: ebiten.NewImage(4, 4), SourceTime: f.cursor}
	f.cursor += f.frameStep
	return frame, true, nil
}
