package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

type Logger struct {
	zlog zerolog.Logger
}

// New builds a logger writing JSON lines to w at the given level.
// Unknown levels fall back to info.
func New(w io.Writer, level string) *Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return &Logger{
		zlog: zerolog.New(w).Level(lvl).With().Timestamp().Logger(),
	}
}

func (l *Logger) Info(format string, v ...interface{}) {
	l.zlog.Info().Msgf(format, v...)
}

func (l *Logger) Warn(format string, v ...interface{}) {
	l.zlog.Warn().Msgf(format, v...)
}

func (l *Logger) Error(format string, v ...interface{}) {
	l.zlog.Error().Msgf(format, v...)
}

func (l *Logger) Debug(format string, v ...interface{}) {
	l.zlog.Debug().Msgf(format, v...)
}

func (l *Logger) Fatal(format string, v ...interface{}) {
	l.zlog.Error().Msgf(format, v...)
	os.Exit(1)
}

// Module returns a zerolog logger tagged with the module name.
func (l *Logger) Module(name string) zerolog.Logger {
	return l.zlog.With().Str("module", name).Logger()
}

// Global logger instance
var GlobalLogger = New(os.Stdout, "info")

// Init replaces the global logger with one at the given level.
func Init(level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	GlobalLogger = New(os.Stdout, level)
}

// Convenience functions
func Info(format string, v ...interface{}) {
	GlobalLogger.Info(format, v...)
}

func Warn(format string, v ...interface{}) {
	GlobalLogger.Warn(format, v...)
}

func Error(format string, v ...interface{}) {
	GlobalLogger.Error(format, v...)
}

func Debug(format string, v ...interface{}) {
	GlobalLogger.Debug(format, v...)
}

func Fatal(format string, v ...interface{}) {
	GlobalLogger.Fatal(format, v...)
}

func Module(name string) zerolog.Logger {
	return GlobalLogger.Module(name)
}
