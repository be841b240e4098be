package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
)

// Logger is the structured logger shared by every component.
// args are optional context values: an error, a map[string]interface{} of fields
// or a types.Actor identifying the caller.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// Level orders log severities
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	default:
		return "ERROR"
	}
}

// ParseLevel maps a config string to a Level
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// StdLogger writes leveled lines through a standard log.Logger
type StdLogger struct {
	std   *log.Logger
	level Level
	mu    sync.Mutex
}

var _ Logger = (*StdLogger)(nil)

// NewStdLogger creates a logger writing to w at the given minimum level
func NewStdLogger(w io.Writer, level Level) *StdLogger {
	if w == nil {
		w = os.Stderr
	}
	return &StdLogger{std: log.New(w, "", log.LstdFlags), level: level}
}

func (l *StdLogger) write(level Level, msg string, args []interface{}) {
	if level < l.level {
		return
	}
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(level.String())
	b.WriteString("] ")
	b.WriteString(msg)
	for _, arg := range args {
		switch v := arg.(type) {
		case error:
			fmt.Fprintf(&b, " error=%q", v.Error())
		case map[string]interface{}:
			for _, k := range sortedKeys(v) {
				fmt.Fprintf(&b, " %s=%v", k, v[k])
			}
		default:
			fmt.Fprintf(&b, " %+v", v)
		}
	}
	l.mu.Lock()
	l.std.Println(b.String())
	l.mu.Unlock()
}

func (l *StdLogger) Debug(msg string, args ...interface{}) { l.write(LevelDebug, msg, args) }
func (l *StdLogger) Info(msg string, args ...interface{})  { l.write(LevelInfo, msg, args) }
func (l *StdLogger) Warn(msg string, args ...interface{})  { l.write(LevelWarn, msg, args) }
func (l *StdLogger) Error(msg string, args ...interface{}) { l.write(LevelError, msg, args) }

// Nop discards everything
type Nop struct{}

func (Nop) Debug(string, ...interface{}) {}
func (Nop) Info(string, ...interface{})  {}
func (Nop) Warn(string, ...interface{})  {}
func (Nop) Error(string, ...interface{}) {}

// OrNop returns l, or a Nop logger when l is nil
func OrNop(l Logger) Logger {
	if l == nil {
		return Nop{}
	}
	return l
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
