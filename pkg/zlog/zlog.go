package zlog

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	logger = newConsoleLogger()
)

func newConsoleLogger() *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stdout),
		zapcore.InfoLevel,
	)
	return zap.New(core, zap.AddCallerSkip(1))
}

// Init switches logging to a rotated file plus stdout. Called once from main
// after the config is loaded; before that a console logger is in place.
func Init(logPath string) {
	if logPath == "" {
		return
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(logPath, "vnstockrag.log"),
		MaxSize:    100, // MB
		MaxBackups: 7,
		MaxAge:     30, // days
		Compress:   true,
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rotator), zapcore.InfoLevel),
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stdout), zapcore.InfoLevel),
	)

	mu.Lock()
	logger = zap.New(core, zap.AddCallerSkip(1))
	mu.Unlock()
}

func get() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func Debug(msg string, fields ...zap.Field) { get().Debug(msg, fields...) }

func Info(msg string, fields ...zap.Field) { get().Info(msg, fields...) }

func Warn(msg string, fields ...zap.Field) { get().Warn(msg, fields...) }

func Error(msg string, fields ...zap.Field) { get().Error(msg, fields...) }

// Fatal logs and exits the process.
func Fatal(msg string, fields ...zap.Field) { get().Fatal(msg, fields...) }

func Sync() { _ = get().Sync() }
