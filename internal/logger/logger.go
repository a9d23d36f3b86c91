/*
 * Copyright 2025 SREDiag Authors
 * Copyright 2023 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package logger is the leveled logger of the supervisor and its workers.
package logger

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"
)

// Levels, lowest first.
const (
	LevelTrace = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelNoPrint
)

var (
	level     atomic.Int32
	debugMode bool

	magenta = string([]byte{27, 91, 57, 53, 109}) // Trace
	green   = string([]byte{27, 91, 57, 50, 109}) // Debug
	blue    = string([]byte{27, 91, 57, 52, 109}) // Info
	yellow  = string([]byte{27, 91, 57, 51, 109}) // Warn
	red     = string([]byte{27, 91, 57, 49, 109}) // Error
	reset   = string([]byte{27, 91, 48, 109})

	colors = []string{
		magenta,
		green,
		blue,
		yellow,
		red,
	}

	levelName = []string{
		"Trace",
		"Debug",
		"Info",
		"Warn",
		"Error",
	}
)

func init() {
	configure(os.Getenv("COUNTERPAGE_LOG_LEVEL"), os.Getenv("COUNTERPAGE_DEBUG_MODE"))
}

// configure sets the level from levelEnv. A non-empty debugEnv turns on
// debug mode, which lowers the level to at least LevelDebug.
func configure(levelEnv, debugEnv string) {
	level.Store(LevelWarn)
	if n, err := strconv.Atoi(levelEnv); err == nil {
		SetLevel(n)
	}
	debugMode = debugEnv != ""
	if debugMode && Level() > LevelDebug {
		SetLevel(LevelDebug)
	}
}

// SetLevel changes the level of every logger. The default is LevelWarn, or
// the value of COUNTERPAGE_LOG_LEVEL.
func SetLevel(l int) {
	if l >= LevelTrace && l <= LevelNoPrint {
		level.Store(int32(l))
	}
}

// Level returns the current level.
func Level() int {
	return int(level.Load())
}

// DebugMode reports whether COUNTERPAGE_DEBUG_MODE is set. The supervisor
// dumps the shared counters on exit in debug mode.
func DebugMode() bool {
	return debugMode
}

// Logger writes colored, leveled lines tagged with a name and call site.
type Logger struct {
	name      string
	out       io.Writer
	callDepth int
}

// New returns a logger writing to out, os.Stdout when nil.
func New(name string, out io.Writer) *Logger {
	if out == nil {
		out = os.Stdout
	}
	return &Logger{
		name:      name,
		out:       out,
		callDepth: 4,
	}
}

func (l *Logger) logf(lv int, format string, a ...interface{}) {
	if Level() > lv {
		return
	}
	if _, err := fmt.Fprintf(l.out, l.prefix(lv)+format+reset+"\n", a...); err != nil {
		fmt.Fprintf(os.Stderr, "logger write failed: %v\n", err)
	}
}

// Errorf logs at LevelError.
func (l *Logger) Errorf(format string, a ...interface{}) { l.logf(LevelError, format, a...) }

// Warnf logs at LevelWarn.
func (l *Logger) Warnf(format string, a ...interface{}) { l.logf(LevelWarn, format, a...) }

// Infof logs at LevelInfo.
func (l *Logger) Infof(format string, a ...interface{}) { l.logf(LevelInfo, format, a...) }

// Debugf logs at LevelDebug.
func (l *Logger) Debugf(format string, a ...interface{}) { l.logf(LevelDebug, format, a...) }

// Tracef logs at LevelTrace.
func (l *Logger) Tracef(format string, a ...interface{}) { l.logf(LevelTrace, format, a...) }

func (l *Logger) prefix(level int) string {
	var buffer [64]byte
	buf := bytes.NewBuffer(buffer[:0])
	_, _ = buf.WriteString(colors[level])
	_, _ = buf.WriteString(levelName[level])
	_ = buf.WriteByte(' ')
	_, _ = buf.WriteString(time.Now().Format("2006-01-02 15:04:05.999999"))
	_ = buf.WriteByte(' ')
	_, _ = buf.WriteString(l.location())
	_ = buf.WriteByte(' ')
	_, _ = buf.WriteString(l.name)
	_ = buf.WriteByte(' ')
	return buf.String()
}

func (l *Logger) location() string {
	_, file, line, ok := runtime.Caller(l.callDepth)
	if !ok {
		file = "???"
		line = 0
	}
	file = filepath.Base(file)
	return file + ":" + strconv.Itoa(line)
}
