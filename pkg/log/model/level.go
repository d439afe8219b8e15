package model

import "strings"

type Level string

const (
	TraceLevel   Level = "TRACE"
	DebugLevel   Level = "DEBUG"
	InfoLevel    Level = "INFO"
	WarnLevel    Level = "WARN"
	ErrorLevel   Level = "ERROR"
	FatalLevel   Level = "FATAL"
	UnknownLevel Level = "UNKNOWN"
)

// ParseLevel matches s case-insensitively against the known level names and
// their common aliases. Anything unrecognized is UnknownLevel.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE", "VERBOSE":
		return TraceLevel
	case "DEBUG":
		return DebugLevel
	case "INFO", "INFORMATION":
		return InfoLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR", "ERR":
		return ErrorLevel
	case "FATAL", "CRITICAL":
		return FatalLevel
	default:
		return UnknownLevel
	}
}

func (l Level) String() string {
	return string(l)
}
