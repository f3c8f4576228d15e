/*
 * Copyright 2025 SREDiag Authors
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

package shm

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

	internalshm "github.com/srediag/zerobuffer/internal/shm"
)

type logger struct {
	name      string
	out       io.Writer
	callDepth int
}

var (
	internalLogger = &logger{"zerobuffer", os.Stdout, 4}
	level          atomic.Int32
	debugMode      = false

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

const (
	levelTrace = iota
	levelDebug
	levelInfo
	levelWarn
	levelError
	levelNoPrint
)

func init() {
	level.Store(levelWarn)
	if v := os.Getenv("ZEROBUFFER_LOG_LEVEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= levelTrace && n <= levelNoPrint {
			level.Store(int32(n))
		}
	}

	if os.Getenv("ZEROBUFFER_DEBUG_MODE") != "" {
		debugMode = true
	}

	internalshm.SetWarnLogger(platformWarnf)
}

// platformWarnf calls logf directly so the reported location is the
// platform layer's call site.
func platformWarnf(format string, a ...interface{}) {
	internalLogger.logf(levelWarn, format, a...)
}

// SetLogLevel used to change the internal logger's level and the default level is Warning.
// Levels run from 0 (trace) to 5 (silent).
// The process env `ZEROBUFFER_LOG_LEVEL` also could set log level
func SetLogLevel(l int) {
	if l >= levelTrace && l <= levelNoPrint {
		level.Store(int32(l))
	}
}

func newLogger(name string, out io.Writer) *logger {
	if out == nil {
		out = os.Stdout
	}
	return &logger{
		name:      name,
		out:       out,
		callDepth: 4,
	}
}

func (l *logger) logf(lvl int, format string, a ...interface{}) {
	if int(level.Load()) > lvl {
		return
	}
	if _, err := fmt.Fprintf(l.out, l.prefix(lvl)+format+reset+"\n", a...); err != nil {
		fmt.Fprintf(os.Stderr, "logger %s failed: %v\n", levelName[lvl], err)
	}
}

func (l *logger) errorf(format string, a ...interface{}) { l.logf(levelError, format, a...) }

func (l *logger) warnf(format string, a ...interface{}) { l.logf(levelWarn, format, a...) }

func (l *logger) infof(format string, a ...interface{}) { l.logf(levelInfo, format, a...) }

func (l *logger) debugf(format string, a ...interface{}) { l.logf(levelDebug, format, a...) }

func (l *logger) tracef(format string, a ...interface{}) { l.logf(levelTrace, format, a...) }

func (l *logger) prefix(lvl int) string {
	var buffer [64]byte
	buf := bytes.NewBuffer(buffer[:0])
	_, _ = buf.WriteString(colors[lvl])
	_, _ = buf.WriteString(levelName[lvl])
	_ = buf.WriteByte(' ')
	_, _ = buf.WriteString(time.Now().Format("2006-01-02 15:04:05.999999"))
	_ = buf.WriteByte(' ')
	_, _ = buf.WriteString(l.location())
	_ = buf.WriteByte(' ')
	_, _ = buf.WriteString(l.name)
	_ = buf.WriteByte(' ')
	return buf.String()
}

func (l *logger) location() string {
	_, file, line, ok := runtime.Caller(l.callDepth)
	if !ok {
		file = "???"
		line = 0
	}
	file = filepath.Base(file)
	return file + ":" + strconv.Itoa(line)
}

// DebugBufferDetail prints the control block of the named buffer on stdout.
func DebugBufferDetail(name string) {
	report, err := Inspect(name)
	if err != nil {
		fmt.Println(err)
		return
	}
	o := report.OIEB
	fmt.Printf("name:%s path:%s payload:%d free:%d write_pos:%d read_pos:%d written:%d read:%d writer:%d reader:%d\n",
		name, report.Path, o.PayloadSize, o.PayloadFreeBytes, o.PayloadWritePos, o.PayloadReadPos,
		o.PayloadWrittenCount, o.PayloadReadCount, o.WriterPID, o.ReaderPID)
}
