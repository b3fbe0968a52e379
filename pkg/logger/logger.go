package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"im-client/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var log = zap.NewNop()

// InitLogger 初始化日志系统
// 文件输出为 JSON，Console 打开时同时以文本格式输出到 stderr
func InitLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level := getLogLevel(cfg.Level)
	encoderConfig := newEncoderConfig()

	var cores []zapcore.Core
	if cfg.Filename != "" {
		// 创建日志目录
		if err := os.MkdirAll(filepath.Dir(cfg.Filename), 0755); err != nil {
			return nil, fmt.Errorf("无法创建日志目录: %w", err)
		}

		// 配置日志轮转
		writer := &lumberjack.Logger{
			Filename:   cfg.Filename,   // 日志文件路径
			MaxSize:    cfg.MaxSize,    // 单个文件最大大小(MB)
			MaxBackups: cfg.MaxBackups, // 最大备份文件数
			MaxAge:     cfg.MaxAge,     // 最大保存天数
			Compress:   cfg.Compress,   // 是否压缩
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderConfig),
			zapcore.AddSync(writer),
			level,
		))
	}
	if cfg.Console || len(cores) == 0 {
		consoleConfig := encoderConfig
		consoleConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleConfig),
			zapcore.Lock(os.Stderr),
			level,
		))
	}

	log = zap.New(zapcore.NewTee(cores...), zap.AddCaller())

	// 替换zap包中的全局logger
	zap.ReplaceGlobals(log)

	return log, nil
}

func newEncoderConfig() zapcore.EncoderConfig {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	return encoderConfig
}

// getLogLevel 获取日志级别
func getLogLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// L 当前日志记录器，未初始化时不输出
func L() *zap.Logger { return log }

// Named 组件子日志
func Named(name string) *zap.Logger { return log.Named(name) }

// Info 信息日志
func Info(msg string, fields ...zap.Field) {
	log.WithOptions(zap.AddCallerSkip(1)).Info(msg, fields...)
}

// Warn 警告日志
func Warn(msg string, fields ...zap.Field) {
	log.WithOptions(zap.AddCallerSkip(1)).Warn(msg, fields...)
}

// Error 错误日志
func Error(msg string, fields ...zap.Field) {
	log.WithOptions(zap.AddCallerSkip(1)).Error(msg, fields...)
}

// Sync 同步日志到磁盘
func Sync() error {
	return log.Sync()
}
