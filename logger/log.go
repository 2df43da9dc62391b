package logger

import (
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	log   atomic.Pointer[zap.Logger]
)

func init() {
	log.Store(newColorZap(os.Stdout))
}

func newColorZap(out zapcore.WriteSyncer) *zap.Logger {
	encCfg := zapcore.EncoderConfig{
		TimeKey:       "ts",
		LevelKey:      "level",
		NameKey:       "logger",
		CallerKey:     "caller",
		MessageKey:    "msg",
		StacktraceKey: "stack",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeTime:    zapcore.ISO8601TimeEncoder,
		EncodeLevel:   zapcore.CapitalColorLevelEncoder, // 彩色等级
		EncodeCaller:  zapcore.ShortCallerEncoder,
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.AddSync(out),
		level,
	)
	// skip the shortcut frame so caller points at the real call site
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
}

// Init sets the minimum level ("debug", "info", "warn", "error").
func Init(lvl string) error {
	var l zapcore.Level
	if err := l.Set(strings.ToLower(strings.TrimSpace(lvl))); err != nil {
		return fmt.Errorf("invalid log level %q: %w", lvl, err)
	}
	level.SetLevel(l)
	return nil
}

// Replace swaps the underlying logger, mostly for tests (zaptest / observer cores).
func Replace(l *zap.Logger) {
	if l == nil {
		return
	}
	log.Store(l)
}

// L returns the current logger without the shortcut caller skip.
func L() *zap.Logger { return log.Load().WithOptions(zap.AddCallerSkip(-1)) }

func Sync() { _ = log.Load().Sync() }

// 快捷方法
func Info(msg string, fields ...zap.Field) { log.Load().Info(msg, fields...) }
func Infof(format string, args ...interface{}) {
	log.Load().Info(fmt.Sprintf(format, args...))
}
func Warn(msg string, fields ...zap.Field) { log.Load().Warn(msg, fields...) }
func Warnf(format string, args ...interface{}) {
	log.Load().Warn(fmt.Sprintf(format, args...))
}
func Error(msg string, fields ...zap.Field) { log.Load().Error(msg, fields...) }

func Errorf(format string, args ...interface{}) {
	log.Load().Error(fmt.Sprintf(format, args...))
}

func Debug(msg string, fields ...zap.Field) { log.Load().Debug(msg, fields...) }
