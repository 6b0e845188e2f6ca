package logger

import "go.uber.org/zap/zapcore"

// Verbosity level constants for CLI flag counts
const (
	VerbosityUser  = 0 // No flags: informational messages and above
	VerbosityInfo  = 1 // -v: debug messages
	VerbosityDebug = 2 // -vv: debug messages (same level as -v)
)

// VerbosityToLevel maps verbosity flags (-v, -vv, etc.) to zap log levels
//
// Mapping:
//
//	0 (none)  -> InfoLevel  (operational messages; a gateway is quiet without them)
//	1 (-v)    -> DebugLevel (+ per-frame and per-message detail)
//	2+ (-vv)  -> DebugLevel (zap has no finer levels)
func VerbosityToLevel(verbosity int) zapcore.Level {
	switch verbosity {
	case VerbosityUser:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}
