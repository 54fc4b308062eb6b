// Package logger предоставляет структурированный логгер приложения поверх zerolog.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger — интерфейс логгера, который используют все слои приложения.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(err error, format string, args ...any)
	// With возвращает дочерний логгер с дополнительным полем.
	With(key string, value any) Logger
}

const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

type ZerologLogger struct {
	log zerolog.Logger
}

// New создаёт логгер, пишущий в w с указанным уровнем и форматом.
// Неизвестный уровень трактуется как info.
func New(w io.Writer, level string, format string) *ZerologLogger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	if format == FormatConsole {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return &ZerologLogger{
		log: zerolog.New(w).Level(lvl).With().Timestamp().Logger(),
	}
}

// NewFromEnv читает LOG_LEVEL и LOG_FORMAT. Логгер создаётся раньше конфигурации,
// поэтому переменные читаются напрямую.
func NewFromEnv() *ZerologLogger {
	format := os.Getenv("LOG_FORMAT")
	if format == "" {
		format = FormatJSON
	}

	return New(os.Stdout, os.Getenv("LOG_LEVEL"), format)
}

// NewNop возвращает логгер, который ничего не пишет. Используется в тестах.
func NewNop() *ZerologLogger {
	return &ZerologLogger{log: zerolog.Nop()}
}

func (l *ZerologLogger) Debugf(format string, args ...any) {
	l.log.Debug().Msgf(format, args...)
}

func (l *ZerologLogger) Infof(format string, args ...any) {
	l.log.Info().Msgf(format, args...)
}

func (l *ZerologLogger) Warnf(format string, args ...any) {
	l.log.Warn().Msgf(format, args...)
}

func (l *ZerologLogger) Errorf(err error, format string, args ...any) {
	l.log.Error().Err(err).Msgf(format, args...)
}

func (l *ZerologLogger) With(key string, value any) Logger {
	return &ZerologLogger{log: l.log.With().Interface(key, value).Logger()}
}
