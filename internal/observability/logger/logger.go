// Package logger provides the process-wide zap logger with context-based
// scoping: middlewares inject a request-scoped logger into the context and
// the rest of the code retrieves it with From(ctx).
//
// "dev" builds a colored console logger, "prod" builds JSON.
package logger

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config configures the logger build.
type Config struct {
	Env         string // "dev" (console, colors) or "prod" (JSON)
	Level       string // "debug" | "info" | "warn" | "error"
	ServiceName string
	Version     string
}

var (
	once     sync.Once
	instance *zap.Logger
)

// Init initializes the singleton. Idempotent; the first call wins.
func Init(cfg Config) {
	once.Do(func() {
		instance = build(cfg)
	})
}

// L returns the singleton, initializing a dev/info logger when Init was
// never called.
func L() *zap.Logger {
	if instance == nil {
		Init(Config{Env: "dev", Level: "info"})
	}
	return instance
}

// Named returns the singleton tagged with a component name.
func Named(name string) *zap.Logger {
	return L().Named(name)
}

// Sync flushes buffered entries. Call deferred from main.
func Sync() error {
	if instance != nil {
		return instance.Sync()
	}
	return nil
}

func build(cfg Config) *zap.Logger {
	level := parseLevel(cfg.Level)

	var zcfg zap.Config
	if strings.ToLower(cfg.Env) == "prod" {
		zcfg = zap.NewProductionConfig()
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zcfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		zcfg.DisableStacktrace = true
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	l, err := zcfg.Build(zap.AddCaller())
	if err != nil {
		l, _ = zap.NewProduction()
	}

	if cfg.ServiceName != "" {
		l = l.With(zap.String("service", cfg.ServiceName))
	}
	if cfg.Version != "" {
		l = l.With(zap.String("version", cfg.Version))
	}
	return l
}

func parseLevel(lvl string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
