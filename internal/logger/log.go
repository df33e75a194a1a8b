// Package logger builds the zap loggers shared by the server and the peer client.
package logger

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mossy-p/lanmesh/config"
)

var (
	mu     sync.Mutex
	logger = zap.NewNop()
)

// New builds a logger from cfg. Unknown levels fall back to info.
func New(cfg config.LogConfig) (*zap.Logger, error) {
	conf := zap.NewDevelopmentConfig()
	encConfig := conf.EncoderConfig
	switch cfg.Format {
	case "json":
		conf = zap.NewProductionConfig()
		encConfig = conf.EncoderConfig
		encConfig.MessageKey = "msg"
		encConfig.TimeKey = "ts"
		encConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		conf.Encoding = "json"
	default:
		conf.Encoding = "console"
		encConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	conf.EncoderConfig = encConfig
	conf.DisableStacktrace = true

	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if cfg.Level != "" {
		if parsed, err := zap.ParseAtomicLevel(cfg.Level); err == nil {
			level = parsed
		}
	}
	conf.Level = level

	lg, err := conf.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return lg, nil
}

// SetDefault replaces the logger returned by Default and NewNamed.
func SetDefault(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

func Default() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	return logger
}

func NewNamed(name string, fields ...zap.Field) *zap.Logger {
	return Default().Named(name).With(fields...)
}
