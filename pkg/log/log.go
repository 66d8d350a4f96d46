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
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type LogLevel int

const (
	AppName    = "go-osi"
	HelpLevels = "Must be one of: error, warning, info, debug."
)

const (
	ErrorLevel LogLevel = iota
	WarningLevel
	InfoLevel
	DebugLevel
)

var zerologLevels = map[LogLevel]zerolog.Level{
	ErrorLevel:   zerolog.ErrorLevel,
	WarningLevel: zerolog.WarnLevel,
	InfoLevel:    zerolog.InfoLevel,
	DebugLevel:   zerolog.DebugLevel,
}

type Logger struct {
	level LogLevel
	zerolog.Logger
}

var logger = newLogger(os.Stderr, InfoLevel)

func newLogger(out io.Writer, level LogLevel) *Logger {
	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
	}
	return &Logger{
		level:  level,
		Logger: zerolog.New(output).Level(zerologLevels[level]).With().Timestamp().Str("app", AppName).Logger(),
	}
}

// ParseLevel converts the textual level used in config files and flags.
func ParseLevel(strLevel string) (LogLevel, error) {
	levelMapping := map[string]LogLevel{
		"error":   ErrorLevel,
		"warning": WarningLevel,
		"info":    InfoLevel,
		"debug":   DebugLevel,
	}
	level, ok := levelMapping[strLevel]
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
	logger.level = level
	logger.Logger = logger.Logger.Level(zerologLevels[level])
	return nil
}

func Init(out io.Writer, strLevel string) error {
	level, err := ParseLevel(strLevel)
	if err != nil {
		return err
	}
	logger = newLogger(out, level)
	return nil
}

// Enabled reports whether messages of the given level are written.
// Callers use it to skip building expensive debug output such as hex dumps.
func Enabled(level LogLevel) bool {
	return logger.level >= level
}

func Error(format string, v ...interface{}) {
	if logger.level >= ErrorLevel {
		logger.Logger.Error().Msg(fmt.Sprintf(format, v...))
	}
}

func Warning(format string, v ...interface{}) {
	if logger.level >= WarningLevel {
		logger.Logger.Warn().Msg(fmt.Sprintf(format, v...))
	}
}

func Info(format string, v ...interface{}) {
	if logger.level >= InfoLevel {
		logger.Logger.Info().Msg(fmt.Sprintf(format, v...))
	}
}

func Debug(format string, v ...interface{}) {
	if logger.level >= DebugLevel {
		logger.Logger.Debug().Msg(fmt.Sprintf(format, v...))
	}
}

type lineWriter struct {
	level LogLevel
}

func (w lineWriter) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\r\n")
	switch w.level {
	case ErrorLevel:
		Error("%s", msg)
	case WarningLevel:
		Warning("%s", msg)
	case DebugLevel:
		Debug("%s", msg)
	default:
		Info("%s", msg)
	}
	return len(p), nil
}

// Writer returns a writer that logs every write as one message, e.g. for HTTP access logs
func Writer(level LogLevel) io.Writer {
	return lineWriter{level: level}
}
