// Package util provides logging, fingerprinting and statistics helpers shared
// by every other package.
package util

import (
	"fmt"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Leveled logging functions backed by pterm prefixed printers.
// All output goes to stderr by default (pterm's default).

func LogDebug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogSuccess(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// Logger tags every line with a component scope, e.g. scope=engine.
type Logger struct {
	scope string
}

// Scoped returns a Logger for the named component.
func Scoped(scope string) *Logger {
	return &Logger{scope: scope}
}

func (l *Logger) args(kv ...any) []pterm.LoggerArgument {
	return pterm.DefaultLogger.Args(append([]any{"scope", l.scope}, kv...)...)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...), l.args())
}

func (l *Logger) Info(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...), l.args())
}

func (l *Logger) Warn(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...), l.args())
}

func (l *Logger) Error(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...), l.args())
}

// With returns a copy of l whose lines also carry the given key/value pairs.
func (l *Logger) With(kv ...any) *FieldLogger {
	return &FieldLogger{parent: l, kv: kv}
}

// FieldLogger is a Logger with fixed extra fields (e.g. code=482913).
type FieldLogger struct {
	parent *Logger
	kv     []any
}

func (f *FieldLogger) Debug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...), f.parent.args(f.kv...))
}

func (f *FieldLogger) Info(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...), f.parent.args(f.kv...))
}

func (f *FieldLogger) Warn(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...), f.parent.args(f.kv...))
}

func (f *FieldLogger) Error(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...), f.parent.args(f.kv...))
}
