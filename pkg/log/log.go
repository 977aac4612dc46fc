// Copyright 2026 The OCR Core Authors.
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

// Package log is the package-level logging facade used throughout the OCR
// core. It wraps logrus so call sites can use the familiar
// log.Debugf/log.Infof/log.Warningf form without threading a *logrus.Logger
// through every constructor.
package log

import (
	"os"

	"github.com/sirupsen/logrus"
)

var std = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000000",
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel sets the minimum level emitted by the package logger. level must
// be one of "debug", "info", "warning", or "error"; an unrecognized value is
// ignored.
func SetLevel(level string) {
	if lvl, err := logrus.ParseLevel(level); err == nil {
		std.SetLevel(lvl)
	}
}

// IsLogging reports whether logs at the given level would be emitted.
// Hot-path callers use this to skip formatting work entirely when debug
// logging is disabled.
func IsLogging(level logrus.Level) bool {
	return std.IsLevelEnabled(level)
}

// Debugf logs at debug level.
func Debugf(format string, v ...any) {
	std.Debugf(format, v...)
}

// Infof logs at info level.
func Infof(format string, v ...any) {
	std.Infof(format, v...)
}

// Warningf logs at warning level.
func Warningf(format string, v ...any) {
	std.Warnf(format, v...)
}

// Fields wraps logrus.Fields so callers outside this package don't need the
// logrus import just to attach structured context to a line.
type Fields = logrus.Fields

// WithFields returns an entry carrying structured fields, for call sites
// that want key/value context (worker id, GUID, message type) rather than a
// free-form Sprintf.
func WithFields(f Fields) *logrus.Entry {
	return std.WithFields(f)
}
