package source

import (
	"context"
	"testing"
	"time"

	"github.com/lilluzifer/cinnamon/timebase"
)

func TestCopyFrameBasicMapping(t *testing.T) {
	backend := newFakeBackend(10, 1.0/24, []float64{0, 2, 4, 6, 8})
	vs := New(backend, Mapping{SrcStart: 0, SrcDuration: 10, DstStart: 0, Speed: 1}, timebase.New(24))

	frame, presTime, err := vs.CopyFrame(context.Background(), 3.0, CallerPlayback)
	if err != nil {
		t.Fatalf("CopyFrame: %v", err)
	}
	if frame.SourceTime < 3.0 {
		t.Fatalf("expected source time >= 3.0, got %v", frame.SourceTime)
	}
	if presTime < 3.0-0.05 || presTime > 3.0+0.05 {
		t.Fatalf("presentation time should track the requested time, got %v", presTime)
	}
}

func TestCopyFrameSpeedMapping(t *testing.T) {
	backend := newFakeBackend(20, 1.0/24, []float64{0})
	// speed 2: timeline second 1 -> source second 2.
	vs := New(backend, Mapping{SrcStart: 0, SrcDuration: 20, DstStart: 0, Speed: 2}, timebase.New(24))

	ts := vs.SourceTime(1.0)
	if ts < 1.9 || ts > 2.1 {
		t.Fatalf("SourceTime with speed=2 at t=1 should be ~2, got %v", ts)
	}
}

func TestCopyFrameEndOfStream(t *testing.T) {
	backend := newFakeBackend(2, 1.0/24, []float64{0})
	vs := New(backend, Mapping{SrcStart: 0, SrcDuration: 2, DstStart: 0, Speed: 1}, timebase.New(24))

	_, _, err := vs.CopyFrame(context.Background(), 100, CallerPlayback)
	if err == nil {
		t.Fatalf("expected an error for an out-of-range request")
	}
}

func TestCopyFrameReusesLiveReaderWithinPreroll(t *testing.T) {
	backend := newFakeBackend(10, 0.1, []float64{0, 5})
	vs := New(backend, Mapping{SrcStart: 0, SrcDuration: 10, DstStart: 0, Speed: 1}, timebase.New(24))

	if _, _, err := vs.CopyFrame(context.Background(), 1.0, CallerPlayback); err != nil {
		t.Fatalf("first CopyFrame: %v", err)
	}
	cursorAfterFirst := backend.cursor

	if _, _, err := vs.CopyFrame(context.Background(), 1.2, CallerPlayback); err != nil {
		t.Fatalf("second CopyFrame: %v", err)
	}
	// Reusing the live reader means the cursor only advanced forward from
	// where it left off, rather than jumping back to a keyframe at 0.
	if backend.cursor < cursorAfterFirst {
		t.Fatalf("expected forward progress reusing live reader, cursor went from %v to %v", cursorAfterFirst, backend.cursor)
	}
	if backend.seeks != 1 {
		t.Fatalf("expected only the first CopyFrame to seek, got %d seeks", backend.seeks)
	}
}

func TestCopyFrameCancelledContext(t *testing.T) {
	backend := newFakeBackend(10, 0.1, []float64{0})
	vs := New(backend, Mapping{SrcStart: 0, SrcDuration: 10, DstStart: 0, Speed: 1}, timebase.New(24))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := vs.CopyFrame(ctx, 1.0, CallerPlayback)
	if err != ErrCancelled {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

func TestCopyFrameReturnsDistinctImagesPerDecode(t *testing.T) {
	backend := newFakeBackend(10, 1.0/24, []float64{0})
	vs := New(backend, Mapping{SrcStart: 0, SrcDuration: 10, DstStart: 0, Speed: 1}, timebase.New(24))

	f1, _, err := vs.CopyFrame(context.Background(), 0, CallerPlayback)
	if err != nil {
		t.Fatalf("first CopyFrame: %v", err)
	}
	f2, _, err := vs.CopyFrame(context.Background(), 1.0/24, CallerPlayback)
	if err != nil {
		t.Fatalf("second CopyFrame: %v", err)
	}
	if f1.Image == f2.Image {
		t.Fatalf("expected distinct frame images, got the same buffer aliased across decodes")
	}
}

func TestCopyFrameScrubDropsWhilePlaybackInFlight(t *testing.T) {
	backend := newFakeBackend(10, 1.0/24, []float64{0})
	backend.readGate = make(chan struct{})
	vs := New(backend, Mapping{SrcStart: 0, SrcDuration: 10, DstStart: 0, Speed: 1}, timebase.New(24))

	done := make(chan error, 1)
	go func() {
		_, _, err := vs.CopyFrame(context.Background(), 1.0, CallerPlayback)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond) // let the goroutine enter decodeForward and block

	if _, _, err := vs.CopyFrame(context.Background(), 2.0, CallerScrub); err != ErrCancelled {
		t.Fatalf("expected scrub call to drop with ErrCancelled while playback holds the source, got %v", err)
	}

	close(backend.readGate)
	if err := <-done; err != nil {
		t.Fatalf("playback CopyFrame: %v", err)
	}
}
