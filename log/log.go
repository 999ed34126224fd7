// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package log provides the leveled logging contract used across the
// ctfir writer pipeline. It mirrors the minimal Logger/Helper split the
// library has always depended on: a Logger only ever sees key/value
// pairs, and a Helper adds the sugar (Errorf, Warnf, ...) on top.
package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// Level is a logging severity.
type Level int8

// Severities, from least to most severe.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// String returns the human readable form of the level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Logger is the minimal sink every component writes to.
type Logger interface {
	Log(level Level, keyvals ...interface{}) error
}

// stdLogger writes to an io.Writer using the standard library logger.
type stdLogger struct {
	mu  sync.Mutex
	std *log.Logger
}

// NewStdLogger returns a Logger that writes to w.
func NewStdLogger(w io.Writer) Logger {
	return &stdLogger{std: log.New(w, "", log.LstdFlags|log.Lmicroseconds)}
}

func (l *stdLogger) Log(level Level, keyvals ...interface{}) error {
	if len(keyvals) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	buf := fmt.Sprintf("level=%s", level)
	for i := 0; i < len(keyvals); i += 2 {
		if i+1 < len(keyvals) {
			buf += fmt.Sprintf(" %v=%v", keyvals[i], keyvals[i+1])
		} else {
			buf += fmt.Sprintf(" %v=<missing>", keyvals[i])
		}
	}
	l.std.Print(buf)
	return nil
}

// filter wraps a Logger and drops records below a minimum level.
type filter struct {
	logger Logger
	level  Level
}

// FilterOption configures a filter.
type FilterOption func(*filter)

// FilterLevel sets the minimum level a record must meet to pass through.
func FilterLevel(level Level) FilterOption {
	return func(f *filter) { f.level = level }
}

// NewFilter returns logger wrapped with the given options.
func NewFilter(logger Logger, opts ...FilterOption) Logger {
	f := &filter{logger: logger, level: LevelDebug}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *filter) Log(level Level, keyvals ...interface{}) error {
	if level < f.level {
		return nil
	}
	return f.logger.Log(level, keyvals...)
}

// Helper adds leveled sugar methods on top of a Logger.
type Helper struct {
	logger Logger
}

// NewHelper wraps logger.
func NewHelper(logger Logger) *Helper {
	return &Helper{logger: logger}
}

func (h *Helper) log(level Level, format string, args ...interface{}) {
	if h == nil || h.logger == nil {
		return
	}
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	_ = h.logger.Log(level, "msg", msg)
}

// Debugf logs at debug level.
func (h *Helper) Debugf(format string, args ...interface{}) { h.log(LevelDebug, format, args...) }

// Infof logs at info level.
func (h *Helper) Infof(format string, args ...interface{}) { h.log(LevelInfo, format, args...) }

// Warnf logs at warn level.
func (h *Helper) Warnf(format string, args ...interface{}) { h.log(LevelWarn, format, args...) }

// Errorf logs at error level.
func (h *Helper) Errorf(format string, args ...interface{}) { h.log(LevelError, format, args...) }

// DefaultHelper is used by constructors that receive no explicit logger,
// filtered so that only errors reach standard error.
func DefaultHelper() *Helper {
	return NewHelper(NewFilter(NewStdLogger(os.Stderr), FilterLevel(LevelError)))
}
