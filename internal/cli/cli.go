// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/synth/internal/config"
	"github.com/jeranaias/synth/internal/engine"
	"github.com/jeranaias/synth/internal/logging"
)

// Version information (overridden at build time)
var (
	Version   = "0.3.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// =============================================================================
// GLOBAL OPTIONS
// =============================================================================

// App carries the global flags and the state every command shares.
type App struct {
	ConfigPath string
	JSON       bool
	Offline    bool
	Verbose    bool
	Quiet      bool

	cfg    *config.Config
	logger *zap.Logger

	// build wires the engine; tests replace it.
	build func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*engine.Components, error)
}

func newApp() *App {
	return &App{build: engine.Build}
}

// Config returns the loaded configuration.
func (a *App) Config() *config.Config { return a.cfg }

// Logger returns the command logger.
func (a *App) Logger() *zap.Logger { return logging.OrNop(a.logger) }

// load reads configuration and builds the logger. Flags win over the
// environment, which wins over the file.
func (a *App) load() error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}

	var (
		cfg *config.Config
		err error
	)
	if a.ConfigPath != "" {
		cfg, err = config.LoadFromPath(a.ConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	if a.Offline {
		cfg.OfflineMode = true
	}
	if a.Verbose {
		cfg.Logging.Level = "debug"
	} else if a.Quiet {
		cfg.Logging.Level = "error"
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

// components wires the engine from the loaded configuration.
func (a *App) components(ctx context.Context) (*engine.Components, error) {
	return a.build(ctx, a.cfg, a.Logger())
}

// =============================================================================
// ROOT COMMAND
// =============================================================================

// skipLoad marks commands that run without a loaded configuration.
const skipLoad = "synth/skip-load"

// NewRootCommand builds the synth command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(newApp())
}

func newRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "synth",
		Short: "Synth - local-first desktop copilot",
		Long: `Synth answers questions with local language models first.

It classifies each query, searches the web when the answer needs fresh
facts, picks a fast, balanced or smart local model, falls back to cloud
models when every local tier fails, and rewrites short answers in a
friendly tone. A local knowledge base adds your own notes to the prompt.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Annotations[skipLoad] != "" {
				return nil
			}
			return app.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app.logger != nil {
				_ = app.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&app.ConfigPath, "config", "", "config file (default ~/.synth/config.toml)")
	flags.BoolVar(&app.JSON, "json", false, "output JSON")
	flags.BoolVar(&app.Offline, "offline", false, "block cloud models and web search")
	flags.BoolVarP(&app.Verbose, "verbose", "v", false, "debug logging")
	flags.BoolVarP(&app.Quiet, "quiet", "q", false, "minimal output")
	root.MarkFlagsMutuallyExclusive("verbose", "quiet")

	root.AddCommand(
		newAskCommand(app),
		newChatCommand(app),
		newSearchCommand(app),
		newIngestCommand(app),
		newServeCommand(app),
		newStatusCommand(app),
		newConfigCommand(app),
		newVersionCommand(app),
	)
	return root
}

// Execute runs the command tree against the process arguments.
func Execute() error {
	return NewRootCommand().Execute()
}

// =============================================================================
// VERSION
// =============================================================================

// VersionData is the JSON form of the version command.
type VersionData struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

func newVersionCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Show version information",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipLoad: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			data := VersionData{
				Version:   Version,
				GitCommit: GitCommit,
				BuildDate: BuildDate,
				GoVersion: runtime.Version(),
				Platform:  runtime.GOOS + "/" + runtime.GOARCH,
			}
			if app.JSON {
				return NewJSONResponse("version", data).Print(cmd.OutOrStdout())
			}
			printVersion(cmd.OutOrStdout(), data)
			return nil
		},
	}
}

func printVersion(w io.Writer, d VersionData) {
	fmt.Fprintf(w, "synth %s\n", d.Version)
	fmt.Fprintf(w, "  commit:   %s\n", d.GitCommit)
	fmt.Fprintf(w, "  built:    %s\n", d.BuildDate)
	fmt.Fprintf(w, "  go:       %s\n", d.GoVersion)
	fmt.Fprintf(w, "  platform: %s\n", d.Platform)
}
