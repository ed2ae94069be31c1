// Package zlog wraps zap the same way the teacher's cmd/nerd entrypoint
// does: a production config by default, switched to debug level by a
// verbose flag, with Sync deferred by the caller.
package zlog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a *zap.Logger for the compiler driver. verbose raises the
// level to Debug (where the driver logs each pass boundary); non-verbose
// keeps only Info and above.
func New(verbose bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return config.Build()
}

// Nop returns a logger that discards everything, for call sites (tests,
// library embedders) that don't want a *zap.Logger dependency on stderr.
func Nop() *zap.Logger {
	return zap.NewNop()
}
