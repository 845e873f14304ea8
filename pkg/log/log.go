/*
 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

     https://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

package log

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
)

type LogLevel int32

const (
	LogPrefix     = "[go-hostport] "
	ErrorPrefix   = "[error] "
	WarningPrefix = "[warn] "
	InfoPrefix    = "[info] "
	DebugPrefix   = "[debug] "
	HelpLevels    = "Must be one of: error, warning, info, debug."
)

const (
	ErrorLevel LogLevel = iota
	WarningLevel
	InfoLevel
	DebugLevel
)

var levelMapping = map[string]LogLevel{
	"error":   ErrorLevel,
	"warning": WarningLevel,
	"warn":    WarningLevel,
	"info":    InfoLevel,
	"debug":   DebugLevel,
}

// Logger is shared by the worker, sequencer and API goroutines,
// so the level is kept in an atomic.
type Logger struct {
	level atomic.Int32
	*log.Logger
}

var logger = newLogger()

func newLogger() *Logger {
	l := &Logger{Logger: log.New(os.Stderr, LogPrefix, log.LstdFlags|log.Lmicroseconds)}
	l.level.Store(int32(InfoLevel))
	return l
}

func ParseLevel(strLevel string) (LogLevel, error) {
	level, ok := levelMapping[strings.ToLower(strings.TrimSpace(strLevel))]
	if !ok {
		return InfoLevel, errors.New("Wrong log level. " + HelpLevels)
	}
	return level, nil
}

func SetLevel(strLevel string) error {
	level, err := ParseLevel(strLevel)
	if err != nil {
		return err
	}
	logger.level.Store(int32(level))
	return nil
}

func Level() LogLevel {
	return LogLevel(logger.level.Load())
}

func Init(out io.Writer, strLevel string) {
	logger.SetOutput(out)
	if err := SetLevel(strLevel); err != nil {
		panic(err)
	}
}

func enabled(level LogLevel) bool {
	return Level() >= level
}

func Error(format string, v ...interface{}) {
	if enabled(ErrorLevel) {
		logger.Println(fmt.Sprintf(ErrorPrefix+format, v...))
	}
}

func Warning(format string, v ...interface{}) {
	if enabled(WarningLevel) {
		logger.Println(fmt.Sprintf(WarningPrefix+format, v...))
	}
}

func Info(format string, v ...interface{}) {
	if enabled(InfoLevel) {
		logger.Println(fmt.Sprintf(InfoPrefix+format, v...))
	}
}

// Debug is called on every register access of the worker,
// check the level before formatting.
func Debug(format string, v ...interface{}) {
	if enabled(DebugLevel) {
		logger.Println(fmt.Sprintf(DebugPrefix+format, v...))
	}
}

type levelWriter struct {
	level LogLevel
	print func(format string, v ...interface{})
}

func (w *levelWriter) Write(p []byte) (int, error) {
	if enabled(w.level) {
		w.print("%s", strings.TrimRight(string(p), "\n"))
	}
	return len(p), nil
}

// DebugWriter logs every write as a debug line, used for HTTP access logs
func DebugWriter() io.Writer {
	return &levelWriter{level: DebugLevel, print: Debug}
}

// ErrorWriter logs every write as an error line
func ErrorWriter() io.Writer {
	return &levelWriter{level: ErrorLevel, print: Error}
}
