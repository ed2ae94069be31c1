package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zdcode-core/internal/config"
)

func TestDefault(t *testing.T) {
	opts := config.Default()
	assert.Equal(t, 4, opts.Emit.TabWidth)
	assert.False(t, opts.ID.Deterministic)
	assert.Equal(t, config.ErrorModeFailFast, opts.ErrorMode)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "zdcode.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
emit:
  tab_width: 2
id:
  deterministic: true
  seed: 7
error_mode: report_first
`), 0o600))

	opts, err := config.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, opts.Emit.TabWidth)
	assert.True(t, opts.ID.Deterministic)
	assert.EqualValues(t, 7, opts.ID.Seed)
	assert.Equal(t, config.ErrorModeReportFirst, opts.ErrorMode)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := config.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
