package source

import "errors"

// Sentinel errors returned by VideoSource.CopyFrame, per spec.md §4.3 and
// the error taxonomy of §7.
var (
	// ErrEndOfStream is benign: it means the request fell past the clip's
	// last decodable frame. The caller should advance past the segment.
	ErrEndOfStream = errors.New("source: end of stream")
	// ErrCancelled is benign: the request's context was cancelled before a
	// frame was produced (scrub superseded, pause, or mode change).
	ErrCancelled = errors.New("source: cancelled")
	// ErrDecode wraps an underlying decoder failure. It is not fatal: the
	// caller holds the last good frame and retries on the next request.
	ErrDecode = errors.New("source: decode error")
)
