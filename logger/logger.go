// Package logger wraps zerolog with the call shape used across this repo:
// Infof/Warnf/Debugf/Errorf for formatted messages, Info/Warn/Error for
// structured ones, plus per-strategy sub-loggers that carry a strategy_id
// field on every line.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Logger is a thin facade over zerolog.Logger.
type Logger struct {
	z zerolog.Logger
}

var (
	base     Logger
	baseOnce sync.Once
)

// Init configures the package-level logger. dev=true switches to a
// human-readable console writer; dev=false emits JSON lines (production).
func Init(dev bool, level zerolog.Level) {
	baseOnce.Do(func() {})
	var w io.Writer = os.Stdout
	if dev {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	z := zerolog.New(w).With().Timestamp().Logger().Level(level)
	base = Logger{z: z}
}

func init() {
	Init(true, zerolog.InfoLevel)
}

// For returns a sub-logger that stamps every line with strategy_id.
func For(strategyID string) Logger {
	return Logger{z: base.z.With().Str("strategy_id", strategyID).Logger()}
}

// With returns a sub-logger stamping an arbitrary key/value pair, used for
// venue- or component-scoped loggers (e.g. logger.With("venue", "binance")).
func With(key, value string) Logger {
	return Logger{z: base.z.With().Str(key, value).Logger()}
}

// With returns a copy of l with an additional key/value field, for
// chaining onto an already-scoped logger (e.g. logger.With("component",
// "x").With("exchange", id)).
func (l Logger) With(key, value string) Logger {
	return Logger{z: l.z.With().Str(key, value).Logger()}
}

func (l Logger) Infof(format string, args ...any)  { l.z.Info().Msg(fmt.Sprintf(format, args...)) }
func (l Logger) Warnf(format string, args ...any)  { l.z.Warn().Msg(fmt.Sprintf(format, args...)) }
func (l Logger) Debugf(format string, args ...any) { l.z.Debug().Msg(fmt.Sprintf(format, args...)) }
func (l Logger) Errorf(format string, args ...any) { l.z.Error().Msg(fmt.Sprintf(format, args...)) }

func (l Logger) Info(msg string)  { l.z.Info().Msg(msg) }
func (l Logger) Warn(msg string)  { l.z.Warn().Msg(msg) }
func (l Logger) Error(msg string) { l.z.Error().Msg(msg) }

// Err attaches an error field and logs at error level.
func (l Logger) Err(err error, msg string) { l.z.Error().Err(err).Msg(msg) }

// Package-level convenience funcs mirror the struct methods, delegating to
// the base logger — used by call sites that don't hold a scoped Logger.
func Infof(format string, args ...any)  { base.Infof(format, args...) }
func Warnf(format string, args ...any)  { base.Warnf(format, args...) }
func Debugf(format string, args ...any) { base.Debugf(format, args...) }
func Errorf(format string, args ...any) { base.Errorf(format, args...) }
func Info(msg string)                  { base.Info(msg) }
func Warn(msg string)                  { base.Warn(msg) }
func Error(msg string)                 { base.Error(msg) }
