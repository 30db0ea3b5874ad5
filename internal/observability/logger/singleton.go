// Package logger wraps zap behind a process-wide singleton plus context
// propagation. Middlewares attach a request-scoped logger to the context;
// everything below uses From(ctx) without caring whether that happened.
package logger

import (
	"sync"

	"go.uber.org/zap"
)

var (
	once     sync.Once
	instance *zap.Logger
)

// Init builds the singleton. Idempotent; only the first call has effect.
func Init(cfg Config) {
	once.Do(func() {
		instance = build(cfg)
	})
}

// L returns the singleton, initializing a dev/info logger if Init was
// never called (tests, small tools).
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

// Sync flushes buffered entries. Deferred from main.
func Sync() error {
	if instance != nil {
		return instance.Sync()
	}
	return nil
}
