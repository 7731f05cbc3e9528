// Package logging wraps zerolog with the printf-style methods used across the
// build pipeline.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// LevelNames maps the accepted --log-level values to levels.
var LevelNames = map[Level][]string{
	LevelDebug: {"debug"},
	LevelInfo:  {"info"},
	LevelWarn:  {"warn", "warning"},
	LevelError: {"error"},
}

type Format int

const (
	FormatConsole Format = iota
	FormatJSON
)

var FormatNames = map[Format][]string{
	FormatConsole: {"console", "text"},
	FormatJSON:    {"json"},
}

type Config struct {
	Level  Level
	Format Format
	Output io.Writer
}

type Logger struct {
	zl zerolog.Logger
}

func NewLogger(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	if cfg.Format == FormatConsole {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly, NoColor: !isTerminal(out)}
	}

	return &Logger{zl: zerolog.New(out).Level(cfg.Level.zerolog()).With().Timestamp().Logger()}
}

// NewLoggerOrDefault returns l, or a logger that discards everything.
func NewLoggerOrDefault(l *Logger) *Logger {
	if l != nil {
		return l
	}
	return &Logger{zl: zerolog.Nop()}
}

// With returns a child logger carrying the given key/value field.
func (l *Logger) With(key string, value any) *Logger {
	return &Logger{zl: l.zl.With().Interface(key, value).Logger()}
}

func (l *Logger) Debugf(format string, args ...any) {
	l.zl.Debug().Msg(fmt.Sprintf(format, args...))
}

func (l *Logger) Infof(format string, args ...any) {
	l.zl.Info().Msg(fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...any) {
	l.zl.Warn().Msg(fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...any) {
	l.zl.Error().Msg(fmt.Sprintf(format, args...))
}

func (lvl Level) zerolog() zerolog.Level {
	switch lvl {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (lvl Level) String() string {
	if names, ok := LevelNames[lvl]; ok {
		return names[0]
	}
	return strings.ToLower(fmt.Sprintf("level(%d)", int(lvl)))
}
