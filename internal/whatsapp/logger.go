package whatsapp

import (
	"strings"

	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// NewLogger bridges whatsmeow logging into zap. level is one of whatsmeow's
// names (DEBUG, INFO, WARN, ERROR); anything else means INFO.
func NewLogger(logger *zap.Logger, level string) waLog.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	lvl := zapcore.InfoLevel
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		lvl = zapcore.DebugLevel
	case "WARN":
		lvl = zapcore.WarnLevel
	case "ERROR":
		lvl = zapcore.ErrorLevel
	}
	logger = logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return levelCore{Core: core, min: lvl}
	}))
	return &zapLogger{sugar: logger.Sugar()}
}

func (l *zapLogger) Warnf(msg string, args ...interface{})  { l.sugar.Warnf(msg, args...) }
func (l *zapLogger) Errorf(msg string, args ...interface{}) { l.sugar.Errorf(msg, args...) }
func (l *zapLogger) Infof(msg string, args ...interface{})  { l.sugar.Infof(msg, args...) }
func (l *zapLogger) Debugf(msg string, args ...interface{}) { l.sugar.Debugf(msg, args...) }

func (l *zapLogger) Sub(module string) waLog.Logger {
	return &zapLogger{sugar: l.sugar.Named(module)}
}

// levelCore drops entries below min regardless of the wrapped core's level.
type levelCore struct {
	zapcore.Core
	min zapcore.Level
}

func (c levelCore) Enabled(l zapcore.Level) bool {
	return l >= c.min && c.Core.Enabled(l)
}

func (c levelCore) With(fields []zapcore.Field) zapcore.Core {
	return levelCore{Core: c.Core.With(fields), min: c.min}
}

func (c levelCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}
