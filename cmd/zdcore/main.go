// Package main implements the zdcore CLI: a thin cobra harness over the
// compiler core (internal/driver), reading an AST JSON document plus an
// optional YAML options file and writing DECORATE text. It exists only to
// exercise internal/driver end to end — the real preprocessor, tokenizer,
// grammar, bundler, and file-gathering CLI are out of this module's scope
// (spec.md §1). Structured around cobra the same way the teacher's
// cmd/nerd/main.go registers its root command and persistent flags.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"zdcode-core/internal/config"
	"zdcode-core/internal/driver"
	"zdcode-core/internal/idgen"
	"zdcode-core/internal/zast"
)

var (
	verbose       bool
	configPath    string
	outPath       string
	deterministic bool
	seed          int64
	version       string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "zdcore [ast.json]",
	Short: "Compile a ZDCode-style AST document into DECORATE text",
	Args:  cobra.ExactArgs(1),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zc := zap.NewProductionConfig()
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zc.Build()
		return err
	},
	RunE: runCompile,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML options file")
	rootCmd.Flags().StringVarP(&outPath, "out", "o", "", "output path (default: stdout)")
	rootCmd.Flags().BoolVar(&deterministic, "deterministic", false, "use a seeded identifier generator")
	rootCmd.Flags().Int64Var(&seed, "seed", 0, "seed for --deterministic")
	rootCmd.Flags().StringVar(&version, "decorate-version", "1.0", "version string for the emitted header comment")
}

func runCompile(cmd *cobra.Command, args []string) error {
	defer logger.Sync()

	opts := config.Default()
	if configPath != "" {
		loaded, err := config.LoadFile(configPath)
		if err != nil {
			return err
		}
		opts = loaded
	}
	if deterministic {
		opts.ID.Deterministic = true
		opts.ID.Seed = seed
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read AST document %s: %w", args[0], err)
	}
	var prog zast.Program
	if err := json.Unmarshal(data, &prog); err != nil {
		return fmt.Errorf("decode AST document %s: %w", args[0], err)
	}

	var gen idgen.Generator
	if opts.ID.Deterministic {
		gen = idgen.NewSeededGenerator(opts.ID.Seed)
	} else {
		gen = idgen.NewUUIDGenerator()
	}

	out, ok, err := driver.Compile(&prog, driver.Options{
		Gen:     gen,
		Log:     logger,
		Opts:    opts,
		Version: version,
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("compile failed (see logged error)")
	}

	if outPath == "" {
		_, err = fmt.Fprint(os.Stdout, out)
		return err
	}
	return os.WriteFile(outPath, []byte(out), 0o644)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "zdcore:", err)
		os.Exit(1)
	}
}
