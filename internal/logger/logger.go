// Package logger 统一构建zap日志记录器
// 控制台核心带级别着色，文件核心输出JSON，两者按配置独立开关
package logger

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"fotofast/config"
)

// levelColors 级别到着色函数的映射
var levelColors = map[zapcore.Level]*color.Color{
	zapcore.DebugLevel: color.New(color.FgCyan),
	zapcore.InfoLevel:  color.New(color.FgGreen),
	zapcore.WarnLevel:  color.New(color.FgYellow),
	zapcore.ErrorLevel: color.New(color.FgRed),
}

// New 根据配置构建日志记录器
func New(cfg *config.LoggingConfig) (*zap.Logger, error) {
	level := parseLevel(cfg.Level)
	var cores []zapcore.Core

	if cfg.EnableConsole {
		encoderCfg := zap.NewDevelopmentEncoderConfig()
		encoderCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		encoderCfg.EncodeLevel = coloredLevelEncoder

		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(encoderCfg),
			zapcore.Lock(os.Stderr),
			level,
		))
	}

	if cfg.EnableFile {
		if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
			return nil, err
		}

		logFile := filepath.Join(cfg.LogDir,
			"fotofast_"+time.Now().Format("20060102")+".log")
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}

		encoderCfg := zap.NewProductionEncoderConfig()
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderCfg),
			zapcore.Lock(f),
			level,
		))
	}

	if len(cores) == 0 {
		return zap.NewNop(), nil
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

// coloredLevelEncoder 控制台级别着色
func coloredLevelEncoder(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if c, ok := levelColors[level]; ok {
		enc.AppendString(c.Sprint(level.CapitalString()))
		return
	}
	enc.AppendString(level.CapitalString())
}

// parseLevel 解析日志级别字符串
func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
