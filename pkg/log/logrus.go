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

package log

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// logrusEmitter forwards log lines to a logrus logger.
type logrusEmitter struct {
	l *logrus.Logger
}

// Emit implements Emitter.Emit.
func (e logrusEmitter) Emit(level Level, _ time.Time, format string, v ...any) {
	switch level {
	case Warning:
		e.l.Warnf(format, v...)
	case Info:
		e.l.Infof(format, v...)
	default:
		e.l.Debugf(format, v...)
	}
}

// LogrusEmitter returns an Emitter backed by a logrus text logger writing to
// stderr. It is the default target for host tools.
func LogrusEmitter() Emitter {
	return LogrusEmitterTo(os.Stderr)
}

// LogrusEmitterTo returns an Emitter backed by a logrus text logger writing
// to w.
func LogrusEmitterTo(w io.Writer) Emitter {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: time.StampMicro,
	})
	return logrusEmitter{l: l}
}
