// Package config holds the compiler's ambient options: indentation,
// determinism seed, and error-handling mode. Laid out the way the
// teacher's own internal/config package does — a root struct of small,
// independently defaulted sub-configs, loaded from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrorMode controls how the driver reacts to the first CompileError.
type ErrorMode string

const (
	// ErrorModeFailFast propagates the first error immediately (default,
	// matches spec.md §7: "the error propagates out" with no handler set).
	ErrorModeFailFast ErrorMode = "fail_fast"
	// ErrorModeReportFirst converts the first error into a single reported
	// message and returns a failure indicator, per spec.md §7's description
	// of a top-level error handler.
	ErrorModeReportFirst ErrorMode = "report_first"
)

// EmitConfig controls DECORATE text emission.
type EmitConfig struct {
	// TabWidth is the number of spaces used per indentation level.
	TabWidth int `yaml:"tab_width"`
}

// DefaultEmitConfig matches spec.md §6: "default 4 spaces".
func DefaultEmitConfig() EmitConfig {
	return EmitConfig{TabWidth: 4}
}

// IDConfig controls program/anonymous identifier generation.
type IDConfig struct {
	// Deterministic selects the seeded generator instead of the
	// uuid-backed production generator.
	Deterministic bool `yaml:"deterministic"`
	// Seed is only consulted when Deterministic is true.
	Seed int64 `yaml:"seed"`
}

// DefaultIDConfig returns the production (non-deterministic) identifier mode.
func DefaultIDConfig() IDConfig {
	return IDConfig{Deterministic: false, Seed: 0}
}

// Options is the full set of ambient compiler options.
type Options struct {
	Emit      EmitConfig `yaml:"emit"`
	ID        IDConfig   `yaml:"id"`
	ErrorMode ErrorMode  `yaml:"error_mode"`
}

// Default returns the options a bare compile with no config file uses.
func Default() Options {
	return Options{
		Emit:      DefaultEmitConfig(),
		ID:        DefaultIDConfig(),
		ErrorMode: ErrorModeFailFast,
	}
}

// LoadFile reads and parses a YAML options file, layering it over Default().
func LoadFile(path string) (Options, error) {
	opts := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return Options{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return opts, nil
}
