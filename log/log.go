// Package log carries a zap logger through contexts.
//
// Development (console) output is used until Structured is called, after
// which entries are emitted as JSON at the level named by the LOGLEVEL
// environment variable (debug, info, warn, error).
package log

import (
	"context"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey struct{}

var (
	mu     sync.RWMutex
	global *zap.Logger
)

func init() {
	l, err := zap.NewDevelopment()
	if err != nil {
		l = zap.NewNop()
	}
	global = l
}

func level() zapcore.Level {
	lvl := zapcore.DebugLevel
	if env := os.Getenv("LOGLEVEL"); env != "" {
		if err := lvl.Set(env); err != nil {
			lvl = zapcore.InfoLevel
		}
	}
	return lvl
}

// Structured switches the global logger to JSON output.
func Structured() {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level())
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "severity"
	l, err := cfg.Build()
	if err != nil {
		return
	}
	SetLogger(l)
}

// SetLogger replaces the global logger.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	global = l
	mu.Unlock()
}

// Logger returns the logger attached to ctx, or the global one.
func Logger(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
			return l
		}
	}
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// With returns a context whose logger carries the given fields.
func With(ctx context.Context, fields ...zap.Field) context.Context {
	return context.WithValue(ctx, ctxKey{}, Logger(ctx).With(fields...))
}
