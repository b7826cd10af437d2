package source

import (
	"fmt"
	"time"

	"github.com/erparts/reisen"
	"github.com/hajimehoshi/ebiten/v2"
)

// Frame is a decoded pixel buffer paired with the source-time it presents
// at. VideoSource rounds this back through the timebase to the caller-
// facing timeline time.
type Frame struct {
	Image      *ebiten.Image
	SourceTime float64
}

// Backend is the decode capability VideoSource drives. It decouples the
// keyframe-aware seek strategy from reisen directly, mirroring the
// teacher's own videoController interface abstraction (controller_interface.go)
// so tests can supply a fake decoder.
type Backend interface {
	// Open prepares the backend for reading, idempotent if already open.
	Open() error
	// Close releases all backend resources. The backend is unusable after.
	Close() error
	// Duration returns the source asset's total duration in seconds.
	Duration() float64
	// FrameRate returns the asset's native rational frame rate.
	FrameRate() (num, denom int64)
	// NaturalSize returns the asset's pixel dimensions.
	NaturalSize() (width, height int)
	// Keyframes returns the sorted source-time list of IDR frames, loading
	// it lazily on first call.
	Keyframes() ([]float64, error)
	// SeekNear tears down any live reader and repositions decoding at or
	// before sourceTime, typically at the nearest preceding keyframe.
	SeekNear(sourceTime float64) error
	// ReadNextFrame decodes and returns the next video frame in presentation
	// order from the current reader position. ok is false at end of stream.
	ReadNextFrame() (frame Frame, ok bool, err error)
}

// reisenBackend adapts the erparts/reisen decoder to Backend, generalizing
// the single-playback-head logic the teacher inlined across
// controller_no_audio.go / controller_stream.go into random-access decode
// for arbitrary requested timestamps.
type reisenBackend struct {
	media  *reisen.Media
	stream *reisen.VideoStream

	opened    bool
	keyframes []float64
	width     int
	height    int
}

// NewReisenBackend opens the given media file and selects its first video
// stream, matching player.go's handling of multi-video-stream files.
func NewReisenBackend(filename string) (Backend, error) {
	media, err := reisen.NewMedia(filename)
	if err != nil {
		return nil, err
	}
	streams := media.VideoStreams()
	if len(streams) == 0 {
		return nil, fmt.Errorf("source: %q has no video stream", filename)
	}
	stream := streams[0]
	return &reisenBackend{
		media:  media,
		stream: stream,
		width:  stream.Width(),
		height: stream.Height(),
	}, nil
}

func (b *reisenBackend) Open() error {
	if b.opened {
		return nil
	}
	if err := b.media.OpenDecode(); err != nil {
		return err
	}
	if err := b.stream.Open(); err != nil {
		return err
	}
	b.opened = true
	return nil
}

func (b *reisenBackend) Close() error {
	if !b.opened {
		b.media.Close()
		return nil
	}
	b.opened = false
	if err := b.stream.Close(); err != nil {
		return err
	}
	b.media.CloseDecode()
	b.media.Close()
	return nil
}

func (b *reisenBackend) Duration() float64 {
	d, err := b.stream.Duration()
	if err != nil {
		return 0
	}
	return d.Seconds()
}

func (b *reisenBackend) FrameRate() (num, denom int64) {
	n, d := b.stream.FrameRate()
	return int64(n), int64(d)
}

func (b *reisenBackend) NaturalSize() (int, int) {
	return b.width, b.height
}

// Keyframes loads the IDR table lazily by scanning the whole stream once
// and rewinding back to the start; real deployments would read the
// container's index instead, but reisen does not expose one directly, so
// this mirrors the demux-then-rewind pattern the teacher already uses
// for looping (noLockRewindForLooping).
func (b *reisenBackend) Keyframes() ([]float64, error) {
	if b.keyframes != nil {
		return b.keyframes, nil
	}
	if err := b.Open(); err != nil {
		return nil, err
	}
	var kfs []float64
	for {
		packet, ok, err := b.media.ReadPacket()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		if !ok {
			break
		}
		if packet.Type() != reisen.StreamVideo || packet.StreamIndex() != b.stream.Index() {
			continue
		}
		frame, got, err := b.stream.ReadVideoFrame()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		if !got || frame == nil {
			continue
		}
		if frame.KeyFrame() {
			pts, err := frame.PresentationOffset()
			if err != nil {
				continue
			}
			kfs = append(kfs, pts.Seconds())
		}
	}
	if len(kfs) == 0 {
		kfs = []float64{0}
	}
	if err := b.stream.Rewind(0); err != nil {
		return nil, err
	}
	b.keyframes = kfs
	return kfs, nil
}

func (b *reisenBackend) SeekNear(sourceTime float64) error {
	if err := b.Open(); err != nil {
		return err
	}
	if sourceTime < 0 {
		sourceTime = 0
	}
	return b.stream.Rewind(time.Duration(sourceTime * float64(time.Second)))
}

func (b *reisenBackend) ReadNextFrame() (Frame, bool, error) {
	if err := b.Open(); err != nil {
		return Frame{}, false, err
	}
	for {
		packet, ok, err := b.media.ReadPacket()
		if err != nil {
			return Frame{}, false, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		if !ok {
			return Frame{}, false, nil
		}
		if packet.Type() != reisen.StreamVideo || packet.StreamIndex() != b.stream.Index() {
			continue
		}
		frame, got, err := b.stream.ReadVideoFrame()
		if err != nil {
			return Frame{}, false, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		if !got || frame == nil {
			continue // frame skip, per controller_no_audio.go
		}
		pts, err := frame.PresentationOffset()
		if err != nil {
			return Frame{}, false, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		// Each decoded frame gets its own buffer: FrameCache retains several
		// simultaneously-valid frames per clip (primary plus history), so a
		// single backend-owned image reused across decodes would make every
		// cached entry silently alias whatever was decoded most recently.
		img := ebiten.NewImage(b.width, b.height)
		img.WritePixels(frame.Data())
		return Frame{Image: img, SourceTime: pts.Seconds()}, true, nil
	}
}
