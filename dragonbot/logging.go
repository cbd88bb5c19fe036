package dragonbot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const loggerNameKey = "logger"

var defaultLogWriter io.Writer = os.Stdout

var discordGoLogLevels = map[int]slog.Level{
	discordgo.LogDebug:         slog.LevelDebug,
	discordgo.LogError:         slog.LevelError,
	discordgo.LogWarning:       slog.LevelWarn,
	discordgo.LogInformational: slog.LevelInfo,
}

// newLogHandler returns the handler used for each component's logger.
// A nil level falls back to slog.LevelInfo.
func newLogHandler(level slog.Leveler) slog.Handler {
	if lv, ok := level.(*slog.LevelVar); level == nil || (ok && lv == nil) {
		level = slog.LevelInfo
	}
	return tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     level,
			AddSource: true,
		},
	)
}

func discordgoLoggerFunc(ctx context.Context, handler slog.Handler) func(
	msgL int,
	caller int,
	format string,
	args ...any,
) {
	log := slog.New(handler).With(loggerNameKey, "discordgo")
	return func(
		msgL int,
		_ int,
		format string,
		args ...any,
	) {
		level, ok := discordGoLogLevels[msgL]
		if !ok {
			level = slog.LevelInfo
		}
		log.LogAttrs(
			ctx,
			level,
			strings.ReplaceAll(fmt.Sprintf(format, args...), "\n", ""),
		)
	}
}

type gormStructuredLogger struct {
	logger        *slog.Logger
	handler       slog.Handler
	SlowThreshold time.Duration
}

func newGORMLogger(
	handler slog.Handler,
	slowThreshold time.Duration,
) *gormStructuredLogger {
	return &gormStructuredLogger{
		logger:        slog.New(handler).With(loggerNameKey, "gorm"),
		handler:       handler,
		SlowThreshold: slowThreshold,
	}
}

// LogMode is a no-op, as levels are controlled by the handler's LevelVar
func (g gormStructuredLogger) LogMode(_ logger.LogLevel) logger.Interface {
	return g
}

func (g gormStructuredLogger) Info(
	ctx context.Context,
	s string,
	i ...any,
) {
	g.logger.InfoContext(ctx, fmt.Sprintf(s, i...))
}

func (g gormStructuredLogger) Warn(
	ctx context.Context,
	s string,
	i ...any,
) {
	g.logger.WarnContext(ctx, fmt.Sprintf(s, i...))
}

func (g gormStructuredLogger) Error(
	ctx context.Context,
	s string,
	i ...any,
) {
	g.logger.ErrorContext(ctx, fmt.Sprintf(s, i...))
}

func (g gormStructuredLogger) Trace(
	ctx context.Context,
	begin time.Time,
	fc func() (sql string, rowsAffected int64),
	err error,
) {
	elapsed := time.Since(begin)
	s, rowsAffected := fc()
	attrs := []any{
		"elapsed", elapsed,
		"threshold", g.SlowThreshold,
		"sql", s,
	}
	if rowsAffected == -1 {
		attrs = append(attrs, "rows", "-")
	} else {
		attrs = append(attrs, "rows", rowsAffected)
	}

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		g.logger.ErrorContext(ctx, "sql error", append(attrs, tint.Err(err))...)
	case g.SlowThreshold != 0 && elapsed > g.SlowThreshold:
		g.logger.WarnContext(ctx, "slow sql", attrs...)
	default:
		g.logger.DebugContext(ctx, "sql completed", attrs...)
	}
}

// cronLogger adapts a slog.Logger to cron.Logger
type cronLogger struct {
	logger *slog.Logger
}

var _ cron.Logger = cronLogger{}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.logger.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.logger.Error(msg, append(keysAndValues, tint.Err(err))...)
}
