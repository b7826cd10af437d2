// Package debug centralizes the engine's environment-gated trace logging.
// Flags are read once at init so hot paths only pay for a bool check.
package debug

import (
	"log"
	"os"
)

var (
	PlaybackLogs   = os.Getenv("PLAYBACK_DEBUG_LOGS") == "1"
	TimelineTraces = os.Getenv("CIN_TIMELINE_DEBUG") == "1"
	TransportTrace = os.Getenv("CIN_TRANSPORT_TRACE") == "1"
)

// Logger is the minimal sink every package in this module depends on instead
// of a concrete logging framework, so callers can redirect or silence it.
type Logger interface {
	Printf(format string, v ...any)
}

var pkgLogger Logger = log.Default()

// SetLogger overrides the package-wide logger sink.
func SetLogger(logger Logger) {
	pkgLogger = logger
}

// Playf logs a decode/selection trace when PLAYBACK_DEBUG_LOGS=1.
func Playf(format string, v ...any) {
	if PlaybackLogs {
		pkgLogger.Printf("[playback] "+format, v...)
	}
}

// Timelinef logs a mapper/sanitizer trace when CIN_TIMELINE_DEBUG=1.
func Timelinef(format string, v ...any) {
	if TimelineTraces {
		pkgLogger.Printf("[timeline] "+format, v...)
	}
}

// Transportf logs a transport state transition when CIN_TRANSPORT_TRACE=1.
func Transportf(format string, v ...any) {
	if TransportTrace {
		pkgLogger.Printf("[transport] "+format, v...)
	}
}

// Warnf always logs regardless of env flags — used for sanitizer repairs,
// which must remain visible (spec §7: "all repairs are logged").
func Warnf(format string, v ...any) {
	pkgLogger.Printf("WARNING: "+format, v...)
}
