package zlog_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"zdcode-core/internal/zlog"
)

func TestNewDefaultsToInfoLevel(t *testing.T) {
	log, err := zlog.New(false)
	require.NoError(t, err)
	require.False(t, log.Core().Enabled(zapcore.DebugLevel), "non-verbose logger should not have Debug enabled")
	require.True(t, log.Core().Enabled(zapcore.InfoLevel), "non-verbose logger should have Info enabled")
}

func TestNewVerboseEnablesDebugLevel(t *testing.T) {
	log, err := zlog.New(true)
	require.NoError(t, err)
	require.True(t, log.Core().Enabled(zapcore.DebugLevel), "verbose logger should have Debug enabled")
}

func TestNopDiscardsEverything(t *testing.T) {
	log := zlog.Nop()
	require.NotNil(t, log)
	require.False(t, log.Core().Enabled(zapcore.InfoLevel), "Nop logger should report every level disabled")
}
