package utils

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

var loggerState struct {
	sync.RWMutex
	logger zerolog.Logger
}

func init() {
	loggerState.logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// InitLogger configures the global logger. When file is non-empty, output
// goes through a size/age-rotated file in addition to stdout.
func InitLogger(file string, maxSizeMB, maxBackups, maxAgeDays int, compress bool, level string) {
	var out io.Writer = os.Stdout
	if file != "" {
		rotated := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			MaxAge:     maxAgeDays,
			Compress:   compress,
		}
		out = io.MultiWriter(os.Stdout, rotated)
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	loggerState.Lock()
	loggerState.logger = zerolog.New(out).With().Timestamp().Logger().Level(lvl)
	loggerState.Unlock()
}

// SetLogLevel changes the level of the global logger at runtime.
func SetLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return
	}
	loggerState.Lock()
	loggerState.logger = loggerState.logger.Level(lvl)
	loggerState.Unlock()
}

// SetLoggerForTest replaces the global logger. Tests only.
func SetLoggerForTest(l zerolog.Logger) {
	loggerState.Lock()
	loggerState.logger = l
	loggerState.Unlock()
}

func getLogger() zerolog.Logger {
	loggerState.RLock()
	defer loggerState.RUnlock()
	return loggerState.logger
}

// Debug logs at debug level with alternating key/value pairs.
func Debug(msg string, kv ...interface{}) {
	l := getLogger()
	emit(l.Debug(), msg, kv...)
}

// Info logs at info level with alternating key/value pairs.
func Info(msg string, kv ...interface{}) {
	l := getLogger()
	emit(l.Info(), msg, kv...)
}

// Warn logs at warn level with alternating key/value pairs.
func Warn(msg string, kv ...interface{}) {
	l := getLogger()
	emit(l.Warn(), msg, kv...)
}

// Error logs at error level with alternating key/value pairs.
func Error(msg string, kv ...interface{}) {
	l := getLogger()
	emit(l.Error(), msg, kv...)
}

func emit(e *zerolog.Event, msg string, kv ...interface{}) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kv[i])
		}
		e = e.Interface(key, kv[i+1])
	}
	e.Msg(msg)
}
