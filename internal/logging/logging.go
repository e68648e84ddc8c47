// Package logging wires the standard library logger to an optional
// rotating file via lumberjack, matching the teacher's GlobalLogConfig
// handling in config/salmon_config.go.
package logging

import (
	"io"
	"log"
	"os"
	"sync/atomic"

	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"tunnelbroker/internal/config"
)

// Configure points the standard logger at stderr, or at a rotating file
// when cfg names one. A nil or empty-Filename cfg leaves logging on stderr.
func Configure(cfg *config.LogRotationConfig) *log.Logger {
	var out io.Writer = os.Stderr
	if cfg != nil && cfg.Filename != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
	}
	logger := log.New(out, "", log.LstdFlags|log.Lmicroseconds)
	log.SetOutput(out)
	return logger
}

// Level gates verbosity, matching SWL_LOG_LEVEL.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps the env var string to a Level, defaulting to LevelInfo.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// current holds the active verbosity level, defaulting to LevelInfo so
// call sites work before SetLevel is ever called (e.g. in tests).
var current atomic.Int32

func init() {
	current.Store(int32(LevelInfo))
}

// SetLevel changes the verbosity gate applied by Debugf/Infof/Warnf/Errorf.
// Safe to call concurrently with logging calls.
func SetLevel(l Level) {
	current.Store(int32(l))
}

func enabled(l Level) bool {
	return l >= Level(current.Load())
}

// Debugf logs at LevelDebug, the level SWL_LOG_LEVEL gates most often since
// it covers the health-probe chatter in the manager package's probe loop.
func Debugf(format string, args ...any) {
	if enabled(LevelDebug) {
		log.Printf(format, args...)
	}
}

// Infof logs at LevelInfo.
func Infof(format string, args ...any) {
	if enabled(LevelInfo) {
		log.Printf(format, args...)
	}
}

// Warnf logs at LevelWarn.
func Warnf(format string, args ...any) {
	if enabled(LevelWarn) {
		log.Printf(format, args...)
	}
}

// Errorf logs at LevelError.
func Errorf(format string, args ...any) {
	if enabled(LevelError) {
		log.Printf(format, args...)
	}
}
