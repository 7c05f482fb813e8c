package sentry

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var logLevels = map[string]zerolog.Level{
	"error": zerolog.ErrorLevel,
	"warn":  zerolog.WarnLevel,
	"info":  zerolog.InfoLevel,
	"debug": zerolog.DebugLevel,
}

// Logger is the SDK's internal diagnostic logger. Its level comes from
// SENTRY_LOG_LEVEL and is raised to debug by ClientOptions.Debug.
type Logger struct {
	zl    zerolog.Logger
	level atomic.Int32
}

var logger = newLogger(os.Stderr)

func newLogger(w io.Writer) *Logger {
	l := &Logger{
		zl: zerolog.New(zerolog.ConsoleWriter{Out: w, NoColor: true}).
			With().Timestamp().Str("component", "sentry").Logger(),
	}
	level := zerolog.ErrorLevel
	if name, ok := os.LookupEnv("SENTRY_LOG_LEVEL"); ok {
		if lvl, ok := logLevels[strings.ToLower(name)]; ok {
			level = lvl
		}
	}
	l.setLevel(level)
	return l
}

func (l *Logger) setLevel(level zerolog.Level) { l.level.Store(int32(level)) }

func (l *Logger) enabled(level zerolog.Level) bool {
	return level >= zerolog.Level(l.level.Load())
}

func (l *Logger) log(level zerolog.Level, args []interface{}) {
	if !l.enabled(level) {
		return
	}
	l.zl.WithLevel(level).Msg(strings.TrimSuffix(fmt.Sprintln(args...), "\n"))
}

func (l *Logger) info(args ...interface{})  { l.log(zerolog.InfoLevel, args) }
func (l *Logger) warn(args ...interface{})  { l.log(zerolog.WarnLevel, args) }
func (l *Logger) debug(args ...interface{}) { l.log(zerolog.DebugLevel, args) }
func (l *Logger) error(args ...interface{}) { l.log(zerolog.ErrorLevel, args) }
