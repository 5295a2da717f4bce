package audit

import (
	"fmt"
	"strings"
)

// Level classifies an audit entry.
type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "INFO"
	case LevelSuccess:
		return "SUCCESS"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// MarshalText renders the level name for JSON payloads.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText accepts the names produced by String, case-insensitively.
func (l *Level) UnmarshalText(text []byte) error {
	switch strings.ToUpper(strings.TrimSpace(string(text))) {
	case "INFO":
		*l = LevelInfo
	case "SUCCESS":
		*l = LevelSuccess
	case "WARNING", "WARN":
		*l = LevelWarning
	case "ERROR":
		*l = LevelError
	default:
		return fmt.Errorf("unknown audit level %q", text)
	}
	return nil
}

const (
	ansiReset  = "\x1b[0m"
	ansiBlue   = "\x1b[34m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiRed    = "\x1b[31m"
)

func (l Level) color() string {
	switch l {
	case LevelSuccess:
		return ansiGreen
	case LevelWarning:
		return ansiYellow
	case LevelError:
		return ansiRed
	default:
		return ansiBlue
	}
}
