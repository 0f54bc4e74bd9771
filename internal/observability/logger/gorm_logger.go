package logger

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

// GormLoggerConfig tunes the gorm-to-zap bridge.
type GormLoggerConfig struct {
	Level                gormlogger.LogLevel
	SlowThreshold        time.Duration
	IgnoreRecordNotFound bool
}

func DefaultGormLoggerConfig() GormLoggerConfig {
	return GormLoggerConfig{
		Level:                gormlogger.Warn,
		SlowThreshold:        200 * time.Millisecond,
		IgnoreRecordNotFound: true,
	}
}

type gormLogger struct {
	cfg GormLoggerConfig
}

// NewGormLogger adapts zap for gorm so query logs share the service fields.
func NewGormLogger(cfg GormLoggerConfig) gormlogger.Interface {
	if cfg.SlowThreshold <= 0 {
		cfg.SlowThreshold = 200 * time.Millisecond
	}
	return &gormLogger{cfg: cfg}
}

func (l *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.cfg.Level = level
	return &clone
}

func (l *gormLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	if l.cfg.Level < gormlogger.Info {
		return
	}
	FromContext(ctx).Sugar().Infof(msg, args...)
}

func (l *gormLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	if l.cfg.Level < gormlogger.Warn {
		return
	}
	FromContext(ctx).Sugar().Warnf(msg, args...)
}

func (l *gormLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	if l.cfg.Level < gormlogger.Error {
		return
	}
	FromContext(ctx).Sugar().Errorf(msg, args...)
}

func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.cfg.Level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []zap.Field{
		zap.String("component", "gorm"),
		zap.String("sql", sql),
		zap.Int64("duration_ms", elapsed.Milliseconds()),
	}
	if rows >= 0 {
		fields = append(fields, zap.Int64("rows_affected", rows))
	}

	switch {
	case err != nil && l.cfg.Level >= gormlogger.Error && !(l.cfg.IgnoreRecordNotFound && errors.Is(err, gormlogger.ErrRecordNotFound)):
		FromContext(ctx).Error("gorm.query", append(fields, zap.Error(err))...)
	case elapsed > l.cfg.SlowThreshold && l.cfg.Level >= gormlogger.Warn:
		FromContext(ctx).Warn("gorm.query", fields...)
	case l.cfg.Level >= gormlogger.Info:
		FromContext(ctx).Debug("gorm.query", fields...)
	}
}

// ParamsFilter strips bound values to avoid logging sensitive data.
func (l *gormLogger) ParamsFilter(ctx context.Context, sql string, params ...interface{}) (string, []interface{}) {
	_ = ctx
	_ = params
	return sql, nil
}

var _ gormlogger.Interface = (*gormLogger)(nil)
