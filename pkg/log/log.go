// Copyright 2026 The KTOS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log provides leveled logging for the kernel and its host tools.
//
// The kernel proper and the host tools log through the same default Logger,
// whose emitter is the logrus-backed one writing to stderr. The kernel
// Console (see console.go) also implements Emitter; it receives log lines
// only once SetTarget installs it.
package log

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Level is a logging severity.
type Level uint32

// The set of levels, most severe first.
const (
	Warning Level = iota
	Info
	Debug
)

// String implements fmt.Stringer.
func (l Level) String() string {
	switch l {
	case Warning:
		return "W"
	case Info:
		return "I"
	case Debug:
		return "D"
	default:
		return fmt.Sprintf("L(%d)", l)
	}
}

// Emitter is the final destination for log lines.
type Emitter interface {
	Emit(level Level, timestamp time.Time, format string, v ...any)
}

// Logger is a high-level logging interface.
type Logger interface {
	// Debugf logs a debug statement.
	Debugf(format string, v ...any)

	// Infof logs at an info level.
	Infof(format string, v ...any)

	// Warningf logs at a warning level.
	Warningf(format string, v ...any)

	// IsLogging returns true iff this level is being logged.
	IsLogging(level Level) bool
}

// BasicLogger logs to a single Emitter at or above a fixed level.
type BasicLogger struct {
	Level Level
	Emitter
}

// Debugf implements Logger.Debugf.
func (l *BasicLogger) Debugf(format string, v ...any) {
	l.logf(Debug, format, v...)
}

// Infof implements Logger.Infof.
func (l *BasicLogger) Infof(format string, v ...any) {
	l.logf(Info, format, v...)
}

// Warningf implements Logger.Warningf.
func (l *BasicLogger) Warningf(format string, v ...any) {
	l.logf(Warning, format, v...)
}

// IsLogging implements Logger.IsLogging.
func (l *BasicLogger) IsLogging(level Level) bool {
	return level <= l.Level
}

func (l *BasicLogger) logf(level Level, format string, v ...any) {
	if l.IsLogging(level) {
		l.Emit(level, time.Now(), format, v...)
	}
}

var (
	// log is the default logger.
	logMu  sync.Mutex
	logVal atomic.Value
)

// Log returns the default logger.
func Log() *BasicLogger {
	if l, ok := logVal.Load().(*BasicLogger); ok {
		return l
	}
	logMu.Lock()
	defer logMu.Unlock()
	if l, ok := logVal.Load().(*BasicLogger); ok {
		return l
	}
	l := &BasicLogger{Level: Info, Emitter: LogrusEmitter()}
	logVal.Store(l)
	return l
}

// SetTarget sets the log target for the default logger.
//
// This is not thread safe with respect to concurrent logging and is intended
// for initialization only.
func SetTarget(target Emitter) {
	logMu.Lock()
	defer logMu.Unlock()
	logVal.Store(&BasicLogger{Level: Log().Level, Emitter: target})
}

// SetLevel sets the log level for the default logger.
func SetLevel(newLevel Level) {
	logMu.Lock()
	defer logMu.Unlock()
	logVal.Store(&BasicLogger{Level: newLevel, Emitter: Log().Emitter})
}

// Debugf logs to the default logger.
func Debugf(format string, v ...any) {
	Log().Debugf(format, v...)
}

// Infof logs to the default logger.
func Infof(format string, v ...any) {
	Log().Infof(format, v...)
}

// Warningf logs to the default logger.
func Warningf(format string, v ...any) {
	Log().Warningf(format, v...)
}
