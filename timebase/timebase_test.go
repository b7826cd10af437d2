package timebase

import "testing"

func TestSnapsCanonicalRates(t *testing.T) {
	cases := map[float64][2]int64{
		23.976: {24000, 1001},
		29.97:  {30000, 1001},
		59.94:  {60000, 1001},
		24.0:   {24, 1},
		30.0:   {30, 1},
	}
	for fps, want := range cases {
		tb := New(fps)
		num, denom := tb.Rational()
		if num != want[0] || denom != want[1] {
			t.Errorf("New(%v) = %d/%d, want %d/%d", fps, num, denom, want[0], want[1])
		}
	}
}

func TestNonCanonicalApproximation(t *testing.T) {
	tb := New(33.333)
	num, denom := tb.Rational()
	if float64(num)/float64(denom) < 33 || float64(num)/float64(denom) > 33.4 {
		t.Errorf("unexpected approximation %d/%d", num, denom)
	}
}

func TestRoundTrip(t *testing.T) {
	tb := New(29.97)
	for n := int64(0); n < 100000; n += 37 {
		got := tb.FrameIndex(tb.Time(n), Nearest)
		if got != n {
			t.Fatalf("round-trip failed for frame %d: got %d", n, got)
		}
	}
}

func TestNegativeAndNonFiniteClamp(t *testing.T) {
	tb := New(24)
	if tb.FrameIndex(-5, Nearest) != 0 {
		t.Errorf("negative time should clamp to 0")
	}
	if tb.FrameIndex(nan(), Nearest) != 0 {
		t.Errorf("NaN time should return 0")
	}
}

func nan() float64 {
	var zero float64
	return zero / zero
}

func TestQuantizeRoundingModes(t *testing.T) {
	tb := New(24) // frame duration = 1/24 = 0.041666...
	half := tb.FrameDuration() / 2
	base := tb.Time(10)
	if got := tb.Quantize(base+half-1e-9, Floor); got != base {
		t.Errorf("floor rounding: got %v want %v", got, base)
	}
	next := tb.Time(11)
	if got := tb.Quantize(base+half+1e-9, Ceil); got != next {
		t.Errorf("ceil rounding: got %v want %v", got, next)
	}
}
