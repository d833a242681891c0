package model

import "strings"

// Level is a normalized log severity.
type Level string

// Normalized severities, ordered ERROR > WARN > INFO > DEBUG > UNKNOWN.
const (
	LevelUnknown Level = "UNKNOWN"
	LevelDebug   Level = "DEBUG"
	LevelInfo    Level = "INFO"
	LevelWarn    Level = "WARN"
	LevelError   Level = "ERROR"
)

// levelAliases maps every recognized severity token to its normalized level.
var levelAliases = map[string]Level{
	"TRACE":    LevelDebug,
	"DEBUG":    LevelDebug,
	"DBG":      LevelDebug,
	"INFO":     LevelInfo,
	"NOTICE":   LevelInfo,
	"WARN":     LevelWarn,
	"WARNING":  LevelWarn,
	"ERROR":    LevelError,
	"ERR":      LevelError,
	"FATAL":    LevelError,
	"CRITICAL": LevelError,
	"CRIT":     LevelError,
	"PANIC":    LevelError,
	"SEVERE":   LevelError,
	"ALERT":    LevelError,
	"EMERG":    LevelError,
}

// ParseLevel normalizes a severity token. The second return value is false
// when the token is not part of the known vocabulary.
func ParseLevel(token string) (Level, bool) {
	lvl, ok := levelAliases[strings.ToUpper(strings.TrimSpace(token))]
	return lvl, ok
}

// Rank orders levels for "worst severity" comparisons. Unset levels rank
// with UNKNOWN.
func (l Level) Rank() int {
	switch l {
	case LevelError:
		return 4
	case LevelWarn:
		return 3
	case LevelInfo:
		return 2
	case LevelDebug:
		return 1
	default:
		return 0
	}
}

// OrUnknown returns LevelUnknown for an unset level.
func (l Level) OrUnknown() Level {
	if l == "" {
		return LevelUnknown
	}
	return l
}

// Worse reports whether l is strictly more severe than other.
func (l Level) Worse(other Level) bool {
	return l.Rank() > other.Rank()
}
