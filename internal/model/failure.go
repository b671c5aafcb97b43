package model

import (
	"fmt"
	"strings"
	"time"
)

const (
	LevelInfo    = "INFO"
	LevelWarning = "WARNING"
	LevelError   = "ERROR"
)

const logTimeLayout = "15:04:05"

// LogLine is one entry of an error buffer or committed failure log. On the
// wire it is a single "time | level | source | message" string.
type LogLine struct {
	Time    string `json:"time"`
	Level   string `json:"level"`
	Source  string `json:"source"`
	Message string `json:"message"`
}

func NewLogLine(at time.Time, level string, source string, message string) LogLine {
	return LogLine{
		Time:    at.Format(logTimeLayout),
		Level:   strings.ToUpper(strings.TrimSpace(level)),
		Source:  strings.TrimSpace(source),
		Message: message,
	}
}

func (l LogLine) String() string {
	return fmt.Sprintf("%s | %s | %s | %s", l.Time, l.Level, l.Source, l.Message)
}

// ParseLogLine is lenient: anything that does not split into the four
// columns comes back as a message-only line.
func ParseLogLine(raw string) LogLine {
	parts := strings.SplitN(raw, " | ", 4)
	if len(parts) != 4 {
		return LogLine{Message: raw}
	}
	return LogLine{
		Time:    strings.TrimSpace(parts[0]),
		Level:   strings.TrimSpace(parts[1]),
		Source:  strings.TrimSpace(parts[2]),
		Message: parts[3],
	}
}

// Summary is the short form included in an error alert body.
func (l LogLine) Summary() string {
	if l.Time == "" && l.Level == "" && l.Source == "" {
		return l.Message
	}
	return fmt.Sprintf("[%s] %s %s: %s", l.Time, l.Level, l.Source, l.Message)
}

// FailureEntry is one item of a worker's failure record with its committed log.
type FailureEntry struct {
	Item  string   `json:"item"`
	Lines []string `json:"lines"`
}
