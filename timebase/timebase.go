// Package timebase converts seconds to frame indices and back without
// accumulating floating-point drift, the foundation every other engine
// component quantizes through.
package timebase

import (
	"math"
)

// Rounding selects how a fractional frame position snaps to an integer index.
type Rounding uint8

const (
	Floor Rounding = iota
	Nearest
	Ceil
)

// canonicalRates lists the frame rates (num, denom) this engine recognizes
// exactly, matching the editing-software standards named in the spec:
// 23.976, 24, 25, 29.97, 30, 48, 50, 59.94, 60.
var canonicalRates = [][2]int64{
	{24, 1},
	{25, 1},
	{30, 1},
	{48, 1},
	{50, 1},
	{60, 1},
	{24000, 1001},
	{30000, 1001},
	{60000, 1001},
}

const snapTolerance = 5e-4

// Timebase holds a reduced rational frame rate (num/denom). Each time↔frame
// conversion is computed in one step from the integer num/denom pair in
// float64 arithmetic; nothing is accumulated per frame, so no drift builds
// up, but the conversions themselves are not done in integer arithmetic.
type Timebase struct {
	num   int64
	denom int64
}

// New snaps fps to the nearest canonical rational within snapTolerance;
// otherwise it forms an n/1000 approximation reduced by gcd.
func New(fps float64) Timebase {
	if !isFinitePositive(fps) {
		fps = 24
	}
	for _, r := range canonicalRates {
		candidate := float64(r[0]) / float64(r[1])
		if math.Abs(candidate-fps) <= snapTolerance {
			return Timebase{num: r[0], denom: r[1]}
		}
	}
	n := int64(math.Round(fps * 1000))
	if n <= 0 {
		n = 24000
	}
	g := gcd(n, 1000)
	return Timebase{num: n / g, denom: 1000 / g}
}

// NewRational builds a Timebase directly from a reduced numerator/denominator
// pair, e.g. for persistence round-trips that already carry the rational.
func NewRational(num, denom int64) Timebase {
	if num <= 0 || denom <= 0 {
		return New(24)
	}
	g := gcd(num, denom)
	return Timebase{num: num / g, denom: denom / g}
}

func isFinitePositive(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f > 0
}

func gcd(a, b int64) int64 {
	for b != 0 {
		a, b = b, a%b
	}
	if a == 0 {
		return 1
	}
	return a
}

// FPS returns the floating-point frames-per-second value.
func (t Timebase) FPS() float64 {
	return float64(t.num) / float64(t.denom)
}

// Rational returns the reduced numerator/denominator pair.
func (t Timebase) Rational() (num, denom int64) {
	return t.num, t.denom
}

// FrameIndex converts a time in seconds to an integer frame index using the
// given rounding mode. Negative times clamp to zero; non-finite times
// return zero.
func (t Timebase) FrameIndex(seconds float64, rounding Rounding) int64 {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0
	}
	if seconds < 0 {
		seconds = 0
	}
	exact := seconds * float64(t.num) / float64(t.denom)
	switch rounding {
	case Floor:
		return int64(math.Floor(exact))
	case Ceil:
		return int64(math.Ceil(exact))
	default:
		return int64(math.Floor(exact + 0.5))
	}
}

// Time converts a frame index back to seconds.
func (t Timebase) Time(frameIndex int64) float64 {
	if frameIndex < 0 {
		frameIndex = 0
	}
	return float64(frameIndex) * float64(t.denom) / float64(t.num)
}

// Quantize rounds a time to the nearest frame boundary and back, the
// operation every edit/seek/ruler-tick routes through to stay on the rail.
func (t Timebase) Quantize(seconds float64, rounding Rounding) float64 {
	return t.Time(t.FrameIndex(seconds, rounding))
}

// FrameDuration returns the duration of one frame in seconds.
func (t Timebase) FrameDuration() float64 {
	return float64(t.denom) / float64(t.num)
}
