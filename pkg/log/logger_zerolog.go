package log

import (
	"context"
	"os"

	"github.com/rs/zerolog"
)

// ZeroLogger là backend structured logging dựa trên rs/zerolog.
// Các mức Alert/Critical/Emergency được map về error với field "severity".
type ZeroLogger struct {
	zl zerolog.Logger
}

func NewZeroLogger() (*ZeroLogger, error) {
	zl := zerolog.New(os.Stderr).With().Timestamp().Logger()
	return &ZeroLogger{zl: zl}, nil
}

func (l *ZeroLogger) Info(ctx context.Context, format string, args ...interface{}) {
	l.zl.Info().Msgf(format, args...)
}

func (l *ZeroLogger) Alert(ctx context.Context, format string, args ...interface{}) {
	l.zl.Error().Str("severity", "alert").Msgf(format, args...)
}

func (l *ZeroLogger) Error(ctx context.Context, format string, args ...interface{}) {
	l.zl.Error().Msgf(format, args...)
}

func (l *ZeroLogger) Warn(ctx context.Context, format string, args ...interface{}) {
	l.zl.Warn().Msgf(format, args...)
}

func (l *ZeroLogger) Debug(ctx context.Context, format string, args ...interface{}) {
	l.zl.Debug().Msgf(format, args...)
}

func (l *ZeroLogger) Notice(ctx context.Context, format string, args ...interface{}) {
	l.zl.Info().Str("severity", "notice").Msgf(format, args...)
}

func (l *ZeroLogger) Critical(ctx context.Context, format string, args ...interface{}) {
	l.zl.Error().Str("severity", "critical").Msgf(format, args...)
}

func (l *ZeroLogger) Emergency(ctx context.Context, format string, args ...interface{}) {
	l.zl.Error().Str("severity", "emergency").Msgf(format, args...)
}
